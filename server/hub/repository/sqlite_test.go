package repository_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wellness_hub/server/hub/repository"
	"wellness_hub/server/hub/repository/storetest"
)

func TestSQLiteStore_Compliance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store {
		s, err := repository.OpenSQLite(repository.MemoryPath)
		require.NoError(t, err)
		return s
	})
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "hub.db")
	ctx := context.Background()

	s, err := repository.OpenSQLite(path)
	require.NoError(t, err)
	m, err := s.AppendMessage(ctx, "alice", "bob", "hello")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := repository.OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.ListMessages(ctx, "bob", "alice", 1, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, m.ID, got[0].ID)
	assert.Equal(t, m.Timestamp, got[0].Timestamp)
}
