package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wellness_hub/server/hub/domain"
	"wellness_hub/server/hub/repository"
)

// Run exercises a compliance suite against a repository.Store implementation.
// makeStore must return a usable store; ids are randomized so a shared
// database can be reused across runs.
func Run(t *testing.T, makeStore func(t *testing.T) repository.Store) {
	t.Helper()

	s := makeStore(t)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	newUser := func(prefix string) string { return prefix + "-" + uuid.NewString() }

	t.Run("Ping", func(t *testing.T) {
		require.NoError(t, s.Ping(ctx))
	})

	t.Run("MessageReadAfterWrite", func(t *testing.T) {
		alice, bob := newUser("alice"), newUser("bob")
		m, err := s.AppendMessage(ctx, alice, bob, "hi")
		require.NoError(t, err)
		assert.NotZero(t, m.ID)
		assert.Equal(t, domain.MessageStatusSent, m.Status)
		assert.False(t, m.Timestamp.IsZero())

		// Either participant sees the same conversation.
		for _, pair := range [][2]string{{alice, bob}, {bob, alice}} {
			got, err := s.ListMessages(ctx, pair[0], pair[1], 1, 50)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, m.ID, got[0].ID)
			assert.Equal(t, "hi", got[0].Content)
		}

		delivered, err := s.MarkMessageDelivered(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.MessageStatusDelivered, delivered.Status)
	})

	t.Run("MessageValidation", func(t *testing.T) {
		_, err := s.AppendMessage(ctx, newUser("a"), newUser("b"), "   ")
		assert.ErrorIs(t, err, domain.ErrValidation)
		_, err = s.AppendMessage(ctx, "", newUser("b"), "hi")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("MessageOwnership", func(t *testing.T) {
		alice, bob := newUser("alice"), newUser("bob")
		m, err := s.AppendMessage(ctx, alice, bob, "original")
		require.NoError(t, err)

		_, err = s.UpdateMessage(ctx, m.ID, bob, "hijacked")
		assert.ErrorIs(t, err, domain.ErrAuthorization)
		_, err = s.DeleteMessage(ctx, m.ID, bob)
		assert.ErrorIs(t, err, domain.ErrAuthorization)

		got, err := s.ListMessages(ctx, alice, bob, 1, 50)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "original", got[0].Content)

		edited, err := s.UpdateMessage(ctx, m.ID, alice, "edited")
		require.NoError(t, err)
		assert.Equal(t, "edited", edited.Content)

		_, err = s.UpdateMessage(ctx, m.ID, alice, "")
		assert.ErrorIs(t, err, domain.ErrValidation)

		deleted, err := s.DeleteMessage(ctx, m.ID, alice)
		require.NoError(t, err)
		assert.Equal(t, bob, deleted.ReceiverID)

		_, err = s.DeleteMessage(ctx, m.ID, alice)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = s.UpdateMessage(ctx, m.ID, alice, "again")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("MessagePagination", func(t *testing.T) {
		alice, bob := newUser("alice"), newUser("bob")
		for i := 0; i < 5; i++ {
			from, to := alice, bob
			if i%2 == 1 {
				from, to = bob, alice
			}
			_, err := s.AppendMessage(ctx, from, to, fmt.Sprintf("m%d", i))
			require.NoError(t, err)
		}

		first, err := s.ListMessages(ctx, alice, bob, 1, 2)
		require.NoError(t, err)
		second, err := s.ListMessages(ctx, alice, bob, 2, 2)
		require.NoError(t, err)
		third, err := s.ListMessages(ctx, alice, bob, 3, 2)
		require.NoError(t, err)
		past, err := s.ListMessages(ctx, alice, bob, 4, 2)
		require.NoError(t, err)

		var contents []string
		for _, page := range [][]domain.Message{first, second, third} {
			for _, m := range page {
				contents = append(contents, m.Content)
			}
		}
		assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4"}, contents)
		assert.Empty(t, past)

		_, err = s.ListMessages(ctx, alice, bob, 0, 10)
		assert.ErrorIs(t, err, domain.ErrValidation)
		_, err = s.ListMessages(ctx, alice, bob, 1, repository.MaxPageSize+1)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("ForumPosts", func(t *testing.T) {
		alice, bob := newUser("alice"), newUser("bob")

		_, err := s.CreateForumPost(ctx, alice, " ", nil)
		assert.ErrorIs(t, err, domain.ErrValidation)

		ref := "forum/abc_photo.png"
		p, err := s.CreateForumPost(ctx, alice, "", &ref)
		require.NoError(t, err)
		require.NotNil(t, p.FileRef)
		assert.Equal(t, ref, *p.FileRef)

		text, err := s.CreateForumPost(ctx, alice, "hello forum", nil)
		require.NoError(t, err)
		assert.Nil(t, text.FileRef)

		_, _, err = s.UpdateForumPost(ctx, text.ID, bob, repository.ForumPostEdit{KeepFile: true})
		assert.ErrorIs(t, err, domain.ErrAuthorization)
		_, err = s.DeleteForumPost(ctx, text.ID, bob)
		assert.ErrorIs(t, err, domain.ErrAuthorization)
		_, _, err = s.UpdateForumPost(ctx, 1<<40, alice, repository.ForumPostEdit{KeepFile: true})
		assert.ErrorIs(t, err, domain.ErrNotFound)

		// A nil content keeps the old text; the file ref is replaced.
		updated, prev, err := s.UpdateForumPost(ctx, text.ID, alice, repository.ForumPostEdit{FileRef: &ref})
		require.NoError(t, err)
		assert.Equal(t, "hello forum", updated.Content)
		require.NotNil(t, updated.FileRef)
		assert.Nil(t, prev.FileRef)

		content := "rewritten"
		updated, prev, err = s.UpdateForumPost(ctx, text.ID, alice, repository.ForumPostEdit{Content: &content, KeepFile: true})
		require.NoError(t, err)
		assert.Equal(t, "rewritten", updated.Content)
		require.NotNil(t, updated.FileRef)
		assert.Equal(t, ref, *updated.FileRef)
		assert.Equal(t, "hello forum", prev.Content)

		updated, prev, err = s.UpdateForumPost(ctx, text.ID, alice, repository.ForumPostEdit{Content: &content})
		require.NoError(t, err)
		assert.Nil(t, updated.FileRef)
		require.NotNil(t, prev.FileRef)
		assert.Equal(t, ref, *prev.FileRef)

		// An edit may not leave a post with neither text nor file.
		blank := " "
		_, _, err = s.UpdateForumPost(ctx, text.ID, alice, repository.ForumPostEdit{Content: &blank})
		assert.ErrorIs(t, err, domain.ErrValidation)
		_, _, err = s.UpdateForumPost(ctx, p.ID, alice, repository.ForumPostEdit{})
		assert.ErrorIs(t, err, domain.ErrValidation)
		_, _, err = s.UpdateForumPost(ctx, p.ID, alice, repository.ForumPostEdit{Content: &blank, KeepFile: true})
		require.NoError(t, err)

		all, err := s.ListForumPosts(ctx)
		require.NoError(t, err)
		var mine []domain.ForumPost
		for _, post := range all {
			if post.AuthorID == alice {
				mine = append(mine, post)
			}
		}
		// Edits refresh the timestamp, and p was edited last.
		require.Len(t, mine, 2)
		assert.Equal(t, text.ID, mine[0].ID)
		assert.Equal(t, p.ID, mine[1].ID)

		_, err = s.DeleteForumPost(ctx, p.ID, alice)
		require.NoError(t, err)
		_, err = s.DeleteForumPost(ctx, p.ID, alice)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Todos", func(t *testing.T) {
		alice, bob := newUser("alice"), newUser("bob")
		day := time.Date(2025, 4, 10, 15, 30, 0, 0, time.UTC)
		other := day.AddDate(0, 0, 1)

		_, err := s.CreateTodo(ctx, alice, day, "", false)
		assert.ErrorIs(t, err, domain.ErrValidation)

		walk, err := s.CreateTodo(ctx, alice, day, "walk", false)
		require.NoError(t, err)
		assert.Equal(t, domain.Day(day), walk.Date)
		_, err = s.CreateTodo(ctx, alice, other, "stretch", true)
		require.NoError(t, err)
		_, err = s.CreateTodo(ctx, bob, day, "bob's task", false)
		require.NoError(t, err)

		all, err := s.ListTodos(ctx, alice, nil)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		filter := domain.Day(day)
		onDay, err := s.ListTodos(ctx, alice, &filter)
		require.NoError(t, err)
		require.Len(t, onDay, 1)
		assert.Equal(t, "walk", onDay[0].Task)

		_, err = s.UpdateTodo(ctx, walk.ID, bob, day, "stolen", true)
		assert.ErrorIs(t, err, domain.ErrAuthorization)
		_, err = s.DeleteTodo(ctx, walk.ID, bob)
		assert.ErrorIs(t, err, domain.ErrAuthorization)

		done, err := s.UpdateTodo(ctx, walk.ID, alice, other, "long walk", true)
		require.NoError(t, err)
		assert.Equal(t, "long walk", done.Task)
		assert.True(t, done.IsCompleted)
		assert.Equal(t, domain.Day(other), done.Date)

		_, err = s.DeleteTodo(ctx, walk.ID, alice)
		require.NoError(t, err)
		_, err = s.UpdateTodo(ctx, walk.ID, alice, day, "gone", false)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("ConcurrentEditsLastWriteWins", func(t *testing.T) {
		alice, bob := newUser("alice"), newUser("bob")
		m, err := s.AppendMessage(ctx, alice, bob, "v0")
		require.NoError(t, err)

		const writers = 8
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 1; i <= writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.UpdateMessage(ctx, m.ID, alice, fmt.Sprintf("v%d", i))
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := s.ListMessages(ctx, alice, bob, 1, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Regexp(t, `^v[1-8]$`, got[0].Content)
	})
}
