package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/gemini-chat/internal/llm"
	"github.com/zhouzirui/gemini-chat/internal/llm/llmtest"
	chatModel "github.com/zhouzirui/gemini-chat/internal/model/chat"
	"github.com/zhouzirui/gemini-chat/internal/model/profile"
	"github.com/zhouzirui/gemini-chat/internal/presenter"
	"github.com/zhouzirui/gemini-chat/internal/render/markdown"
	chatservice "github.com/zhouzirui/gemini-chat/internal/service/chat"
	"github.com/zhouzirui/gemini-chat/internal/service/transcript"
)

func setupRouter(t *testing.T) (*chi.Mux, *chatservice.Service, *llmtest.Provider) {
	t.Helper()
	provider := llmtest.New()
	chatSvc := chatservice.NewService(provider, profile.NewMemoryStore(profile.Seed()), llm.GenerationConfig{HistoryLimit: 10})
	t.Cleanup(chatSvc.Shutdown)
	handler := New(chatSvc, presenter.New(markdown.New()))

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, chatSvc, provider
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func createSession(t *testing.T, r http.Handler) chatModel.Session {
	t.Helper()
	resp := do(t, r, http.MethodPost, "/sessions", map[string]string{})
	require.Equal(t, http.StatusCreated, resp.Code)

	var session chatModel.Session
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &session))
	return session
}

func decodeView(t *testing.T, resp *httptest.ResponseRecorder) presenter.TranscriptView {
	t.Helper()
	var view presenter.TranscriptView
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &view))
	return view
}

func TestCreateSessionDefaultProfile(t *testing.T) {
	r, _, _ := setupRouter(t)

	session := createSession(t, r)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, profile.DefaultID, session.ProfileID)
}

func TestCreateSessionWithoutBody(t *testing.T) {
	r, _, _ := setupRouter(t)

	resp := do(t, r, http.MethodPost, "/sessions", nil)
	assert.Equal(t, http.StatusCreated, resp.Code)
}

func TestCreateSessionInvalidProfile(t *testing.T) {
	r, _, _ := setupRouter(t)

	resp := do(t, r, http.MethodPost, "/sessions", map[string]string{"profileId": "non-existent"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCreateSessionMalformedBody(t *testing.T) {
	r, _, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader([]byte(`{`)))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestUnknownSessionIs404(t *testing.T) {
	r, _, _ := setupRouter(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/sessions/missing"},
		{http.MethodDelete, "/sessions/missing"},
		{http.MethodPost, "/sessions/missing/messages"},
		{http.MethodPost, "/sessions/missing/reset"},
	} {
		resp := do(t, r, tc.method, tc.path, map[string]string{"text": "hi"})
		assert.Equal(t, http.StatusNotFound, resp.Code, "%s %s", tc.method, tc.path)
	}
}

func TestSubmitStreamsReplyIntoTranscript(t *testing.T) {
	r, chatSvc, provider := setupRouter(t)
	provider.QueueReply("**Hel", "lo**")
	session := createSession(t, r)

	resp := do(t, r, http.MethodPost, "/sessions/"+session.ID+"/messages", map[string]string{"text": "hi"})
	require.Equal(t, http.StatusAccepted, resp.Code)
	view := decodeView(t, resp)
	require.Len(t, view.Turns, 2)
	assert.Equal(t, chatModel.SenderUser, view.Turns[0].Sender)

	ctrl, err := chatSvc.Controller(session.ID)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ctrl.Wait(ctx))

	resp = do(t, r, http.MethodGet, "/sessions/"+session.ID, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	view = decodeView(t, resp)
	assert.Equal(t, transcript.PhaseDone, view.Phase)
	assert.False(t, view.Typing)
	require.Len(t, view.Turns, 2)
	assert.Equal(t, "**Hello**", view.Turns[1].Text)
	assert.Contains(t, view.Turns[1].HTML, "<strong>Hello</strong>")
}

func TestSubmitBlankIsAcceptedNoop(t *testing.T) {
	r, _, provider := setupRouter(t)
	session := createSession(t, r)

	resp := do(t, r, http.MethodPost, "/sessions/"+session.ID+"/messages", map[string]string{"text": "   "})
	require.Equal(t, http.StatusAccepted, resp.Code)
	assert.Empty(t, decodeView(t, resp).Turns)
	assert.Empty(t, provider.Sends())
}

func TestSubmitWhileGeneratingConflicts(t *testing.T) {
	r, _, _ := setupRouter(t)
	session := createSession(t, r)

	resp := do(t, r, http.MethodPost, "/sessions/"+session.ID+"/messages", map[string]string{"text": "one"})
	require.Equal(t, http.StatusAccepted, resp.Code)

	resp = do(t, r, http.MethodPost, "/sessions/"+session.ID+"/messages", map[string]string{"text": "two"})
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestResetClearsTranscript(t *testing.T) {
	r, _, _ := setupRouter(t)
	session := createSession(t, r)

	resp := do(t, r, http.MethodPost, "/sessions/"+session.ID+"/messages", map[string]string{"text": "one"})
	require.Equal(t, http.StatusAccepted, resp.Code)

	resp = do(t, r, http.MethodPost, "/sessions/"+session.ID+"/reset", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	view := decodeView(t, resp)
	assert.Empty(t, view.Turns)
	assert.Equal(t, transcript.PhaseIdle, view.Phase)
	assert.NotEmpty(t, view.HandleID)
}

func TestCloseSession(t *testing.T) {
	r, _, _ := setupRouter(t)
	session := createSession(t, r)

	resp := do(t, r, http.MethodDelete, "/sessions/"+session.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.Code)

	resp = do(t, r, http.MethodGet, "/sessions/"+session.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
