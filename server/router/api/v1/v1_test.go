package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpilot/leadpilot/chat/lock"
	"github.com/leadpilot/leadpilot/chat/queue"
	"github.com/leadpilot/leadpilot/internal/profile"
	"github.com/leadpilot/leadpilot/server/auth"
	"github.com/leadpilot/leadpilot/store"
	"github.com/leadpilot/leadpilot/store/teststore"
)

const testSecret = "test-secret"

// stubEngine only needs thread creation on the façade path.
type stubEngine struct {
	threads int
}

func (s *stubEngine) CreateThread(ctx context.Context) (string, error) {
	s.threads++
	return "thread-stub", nil
}

func (s *stubEngine) AddMessage(ctx context.Context, threadID, content string) (string, error) {
	return "msg-stub", nil
}

func (s *stubEngine) StartRun(ctx context.Context, threadID, assistantID string, maxPromptTokens, maxCompletionTokens int) (string, error) {
	return "run-stub", nil
}

func (s *stubEngine) WaitRun(ctx context.Context, threadID, runID string) error {
	return nil
}

func (s *stubEngine) CancelRun(ctx context.Context, threadID, runID string) error {
	return nil
}

func (s *stubEngine) LatestAssistantMessage(ctx context.Context, threadID string) (string, string, error) {
	return "msg-stub", "stub reply", nil
}

type testAPI struct {
	echo   *echo.Echo
	store  *store.Store
	locker *lock.ThreadLocker
	queue  *queue.Queue
	engine *stubEngine
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st := store.New(teststore.New(), &profile.Profile{Mode: "dev"})
	locker := lock.New(rdb, 0)
	q := queue.New(rdb, "test", queue.Options{})
	eng := &stubEngine{}

	e := echo.New()
	service := NewAPIV1Service(testSecret, &profile.Profile{Mode: "dev"}, st, locker, q, eng)
	service.RegisterRoutes(e)
	return &testAPI{echo: e, store: st, locker: locker, queue: q, engine: eng}
}

func (a *testAPI) request(method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	return rec
}

func createTestConversation(t *testing.T, a *testAPI) string {
	t.Helper()
	rec := a.request(http.MethodPost, "/api/v1/conversations",
		`{"leadId": 7, "assistantId": "asst-1"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp ConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.UID)
	return resp.UID
}

func TestCreateConversation(t *testing.T) {
	a := newTestAPI(t)

	rec := a.request(http.MethodPost, "/api/v1/conversations",
		`{"leadId": 7, "assistantId": "asst-1"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp ConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.UID)
	assert.Equal(t, int32(7), resp.LeadID)
	assert.Equal(t, "asst-1", resp.AssistantID)
	assert.Empty(t, resp.ThreadID)
}

func TestCreateConversationValidation(t *testing.T) {
	a := newTestAPI(t)
	rec := a.request(http.MethodPost, "/api/v1/conversations", `{"leadId": 7}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetConversationNotFound(t *testing.T) {
	a := newTestAPI(t)
	rec := a.request(http.MethodGet, "/api/v1/conversations/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostMessageEnqueuesJob(t *testing.T) {
	a := newTestAPI(t)
	uid := createTestConversation(t, a)

	rec := a.request(http.MethodPost, "/api/v1/conversations/"+uid+"/messages",
		`{"content": "hello"}`, "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp PostMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)
	assert.NotEmpty(t, resp.MessageUID)

	// The remote thread is created lazily on the first message.
	assert.Equal(t, 1, a.engine.threads)

	// The user turn is persisted and visible.
	msgRec := a.request(http.MethodGet, "/api/v1/conversations/"+uid+"/messages", "", "")
	require.Equal(t, http.StatusOK, msgRec.Code)
	var messages []*MessageResponse
	require.NoError(t, json.Unmarshal(msgRec.Body.Bytes(), &messages))
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "hello", messages[0].Content)

	// The job is queued and pollable.
	statusRec := a.request(http.MethodGet, "/api/v1/jobs/"+resp.JobID, "", "")
	require.Equal(t, http.StatusOK, statusRec.Code)
	var status queue.JobStatus
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &status))
	assert.Equal(t, queue.StateWaiting, status.State)

	// A second message reuses the existing thread.
	rec = a.request(http.MethodPost, "/api/v1/conversations/"+uid+"/messages",
		`{"content": "again"}`, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, a.engine.threads)
}

func TestPostMessageValidation(t *testing.T) {
	a := newTestAPI(t)
	uid := createTestConversation(t, a)

	rec := a.request(http.MethodPost, "/api/v1/conversations/"+uid+"/messages", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.request(http.MethodPost, "/api/v1/conversations/nope/messages",
		`{"content": "hello"}`, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJobStatusNotFound(t *testing.T) {
	a := newTestAPI(t)
	rec := a.request(http.MethodGet, "/api/v1/jobs/unknown", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRequiresToken(t *testing.T) {
	a := newTestAPI(t)

	rec := a.request(http.MethodGet, "/api/v1/admin/threads/t1/lock", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.request(http.MethodGet, "/api/v1/admin/threads/t1/lock", "", "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminLockStatus(t *testing.T) {
	ctx := context.Background()
	a := newTestAPI(t)
	token, err := auth.GenerateAccessToken("operator", testSecret)
	require.NoError(t, err)

	rec := a.request(http.MethodGet, "/api/v1/admin/threads/t1/lock", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ThreadLockResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Locked)
	assert.Equal(t, int64(-1), resp.TTLSeconds)

	ok, err := a.locker.Acquire(ctx, "t1", "holder")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, a.locker.SetActiveRun(ctx, "t1", "run-9"))

	rec = a.request(http.MethodGet, "/api/v1/admin/threads/t1/lock", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Locked)
	assert.Greater(t, resp.TTLSeconds, int64(0))
	assert.Equal(t, "run-9", resp.ActiveRun)
}

func TestAdminForceClear(t *testing.T) {
	ctx := context.Background()
	a := newTestAPI(t)
	token, err := auth.GenerateAccessToken("operator", testSecret)
	require.NoError(t, err)

	ok, err := a.locker.Acquire(ctx, "t1", "holder")
	require.NoError(t, err)
	require.True(t, ok)

	rec := a.request(http.MethodDelete, "/api/v1/admin/threads/t1/lock", "", token)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	locked, err := a.locker.IsLocked(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestTokenLifecycle(t *testing.T) {
	token, err := auth.GenerateAccessToken("operator", testSecret)
	require.NoError(t, err)

	subject, err := auth.ValidateAccessToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "operator", subject)

	_, err = auth.ValidateAccessToken(token, "other-secret")
	assert.Error(t, err)
}
