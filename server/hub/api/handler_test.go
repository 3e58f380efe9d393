package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonauth "wellness_hub/server/common/auth"
	commonlog "wellness_hub/server/common/log"
	"wellness_hub/server/hub/domain"
	"wellness_hub/server/hub/repository"
	"wellness_hub/server/hub/service"
)

type testEnv struct {
	router *gin.Engine
	hub    *service.Hub
	auth   *commonauth.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	restore := commonlog.SetOutput(io.Discard)
	t.Cleanup(restore)
	gin.SetMode(gin.TestMode)

	store, err := repository.OpenSQLite(repository.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	auth := commonauth.NewService("test-secret", 5)
	hub := service.NewHub(store, auth)
	r := gin.New()
	NewHandler(hub, auth, nil, service.DefaultWSConfig()).RegisterRoutes(r)
	return &testEnv{router: r, hub: hub, auth: auth}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.auth.GenerateToken(userID)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, w).Status)
}

func TestRESTRequiresBearerToken(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/forum/posts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMessagesOverREST(t *testing.T) {
	env := newTestEnv(t)
	for i, content := range []string{"one", "two", "three"} {
		from, to := "alice", "bob"
		if i == 1 {
			from, to = "bob", "alice"
		}
		w := env.do(t, http.MethodPost, "/api/v1/messages", from, map[string]string{"receiver_id": to, "content": content})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := env.do(t, http.MethodGet, "/api/v1/messages/bob?page=1&page_size=2", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[PageResponse[domain.Message]](t, w)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "one", page.Items[0].Content)
	assert.Equal(t, "two", page.Items[1].Content)

	w = env.do(t, http.MethodGet, "/api/v1/messages/alice?page=2&page_size=2", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[PageResponse[domain.Message]](t, w)
	require.Len(t, page.Items, 1)
	first := page.Items[0]
	assert.Equal(t, "three", first.Content)

	w = env.do(t, http.MethodGet, "/api/v1/messages/bob?page_size=500", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.CodeValidation, decode[ErrorResponse](t, w).Code)

	w = env.do(t, http.MethodPost, "/api/v1/messages", "mallory", map[string]string{"sender_id": "alice", "receiver_id": "bob", "content": "spoof"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodDelete, "/api/v1/messages/1", "bob", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = env.do(t, http.MethodPut, "/api/v1/messages/1", "alice", map[string]string{"content": "uno"})
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodDelete, "/api/v1/messages/1", "alice", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodDelete, "/api/v1/messages/1", "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodDelete, "/api/v1/messages/abc", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestForumOverREST(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/forum/posts", "alice", map[string]string{"content": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/forum/posts", "alice", map[string]string{"content": "hello"})
	require.Equal(t, http.StatusCreated, w.Code)
	post := decode[domain.ForumPostView](t, w)

	w = env.do(t, http.MethodPut, "/api/v1/forum/posts/"+itoa(post.ID), "bob", map[string]string{"content": "mine"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/forum/posts", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Items []domain.ForumPostView `json:"items"`
	}](t, w)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "hello", list.Items[0].Content)

	w = env.do(t, http.MethodDelete, "/api/v1/forum/posts/"+itoa(post.ID), "alice", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestForumEditOverRESTKeepsFileUnlessRemoved(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/forum/posts", "alice", map[string]string{"content": "", "file_ref": "forum/abc_run.png"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	post := decode[domain.ForumPostView](t, w)
	path := "/api/v1/forum/posts/" + itoa(post.ID)

	w = env.do(t, http.MethodPut, path, "alice", map[string]string{"content": "5k today"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	edited := decode[domain.ForumPostView](t, w)
	assert.Equal(t, "5k today", edited.Content)
	require.NotNil(t, edited.FileRef)
	assert.Equal(t, "forum/abc_run.png", *edited.FileRef)

	w = env.do(t, http.MethodPut, path, "alice", map[string]any{"content": "", "remove_file": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.CodeValidation, decode[ErrorResponse](t, w).Code)

	w = env.do(t, http.MethodPut, path, "alice", map[string]any{"remove_file": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode[domain.ForumPostView](t, w).FileRef)
}

func TestTodosOverREST(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/todos", "dave", map[string]any{"task": "walk", "date": "2025-04-10"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	todo := decode[domain.Todo](t, w)
	w = env.do(t, http.MethodPost, "/api/v1/todos", "dave", map[string]any{"task": "stretch", "date": "2025-04-11"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = env.do(t, http.MethodPost, "/api/v1/todos", "dave", map[string]any{"task": "", "date": "2025-04-11"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodPost, "/api/v1/todos", "dave", map[string]any{"task": "x", "date": "tomorrow"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/todos?date=2025-04-10", "dave", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Items []domain.Todo `json:"items"`
	}](t, w)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "walk", list.Items[0].Task)

	w = env.do(t, http.MethodGet, "/api/v1/todos", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[]}`, w.Body.String())

	w = env.do(t, http.MethodPut, "/api/v1/todos/"+itoa(todo.ID), "dave", map[string]any{"task": "long walk", "date": "2025-04-10", "is_completed": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[domain.Todo](t, w).IsCompleted)

	w = env.do(t, http.MethodDelete, "/api/v1/todos/"+itoa(todo.ID), "bob", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUploadDisabledWithoutObjectStore(t *testing.T) {
	env := newTestEnv(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "a.txt")
	require.NoError(t, err)
	_, _ = part.Write([]byte("hello"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/forum/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+env.token(t, "alice"))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com/"})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(req))
	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, check(req))
	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
