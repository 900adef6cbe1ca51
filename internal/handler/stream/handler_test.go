package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/gemini-chat/internal/llm"
	"github.com/zhouzirui/gemini-chat/internal/llm/llmtest"
	"github.com/zhouzirui/gemini-chat/internal/model/profile"
	"github.com/zhouzirui/gemini-chat/internal/presenter"
	"github.com/zhouzirui/gemini-chat/internal/render/markdown"
	chatservice "github.com/zhouzirui/gemini-chat/internal/service/chat"
	"github.com/zhouzirui/gemini-chat/internal/service/transcript"
)

func newServer(t *testing.T) (*httptest.Server, *chatservice.Service, *llmtest.Provider) {
	t.Helper()
	provider := llmtest.New()
	chatSvc := chatservice.NewService(provider, profile.NewMemoryStore(profile.Seed()), llm.GenerationConfig{HistoryLimit: 10})
	t.Cleanup(chatSvc.Shutdown)

	r := chi.NewRouter()
	New(chatSvc, presenter.New(markdown.New())).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, chatSvc, provider
}

// readEvents parses transcript events off an SSE body.
func readEvents(body *bufio.Reader, out chan<- presenter.TranscriptView) {
	defer close(out)
	var event string
	for {
		line, err := body.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && event == EventTranscript:
			var view presenter.TranscriptView
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &view) == nil {
				out <- view
			}
		}
	}
}

func TestEventsUnknownSession(t *testing.T) {
	srv, _, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/sessions/missing/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventsStreamTranscriptUntilDone(t *testing.T) {
	srv, chatSvc, provider := newServer(t)
	provider.QueueReply("Hi ", "there")

	ctx := context.Background()
	session, err := chatSvc.CreateSession(ctx, "")
	require.NoError(t, err)
	ctrl, err := chatSvc.Controller(session.ID)
	require.NoError(t, err)

	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, srv.URL+"/sessions/"+session.ID+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	views := make(chan presenter.TranscriptView, 16)
	go readEvents(bufio.NewReader(resp.Body), views)

	first := <-views
	assert.Equal(t, transcript.PhaseIdle, first.Phase)
	assert.Empty(t, first.Turns)

	require.NoError(t, ctrl.Submit(ctx, "hello"))

	for {
		select {
		case view, ok := <-views:
			require.True(t, ok, "stream ended before the reply completed")
			if view.Phase != transcript.PhaseDone {
				continue
			}
			require.Len(t, view.Turns, 2)
			assert.Equal(t, "hello", view.Turns[0].Text)
			assert.Equal(t, "Hi there", view.Turns[1].Text)
			assert.False(t, view.Typing)
			return
		case <-reqCtx.Done():
			t.Fatal("no done snapshot received")
		}
	}
}

func TestEventsEndWhenSessionCloses(t *testing.T) {
	srv, chatSvc, _ := newServer(t)

	ctx := context.Background()
	session, err := chatSvc.CreateSession(ctx, "")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/sessions/" + session.ID + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	views := make(chan presenter.TranscriptView, 4)
	go readEvents(bufio.NewReader(resp.Body), views)
	<-views

	require.NoError(t, chatSvc.CloseSession(ctx, session.ID))

	select {
	case _, ok := <-views:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("event stream stayed open after close")
	}
}
