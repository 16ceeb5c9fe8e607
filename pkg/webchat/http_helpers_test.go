package webchat_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/tablechat/pkg/answer"
	"github.com/go-go-golems/tablechat/pkg/events"
	"github.com/go-go-golems/tablechat/pkg/webchat"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeChat struct {
	lastSession  string
	lastQuestion string
	createErr    error
	flushErr     error
	flushed      bool
}

func (f *fakeChat) Ask(_ context.Context, sessionID, question string) (answer.Response, error) {
	f.lastSession, f.lastQuestion = sessionID, question
	return answer.Text("2 + 2 = 4"), nil
}

func (f *fakeChat) CreateChat(_ context.Context, sessionID string) (answer.Response, error) {
	f.lastSession = sessionID
	if f.createErr != nil {
		return answer.Response{}, f.createErr
	}
	return answer.Text("hello"), nil
}

func (f *fakeChat) FlushMemory(context.Context) error {
	f.flushed = true
	return f.flushErr
}

type fakeStream struct {
	evs []events.Event
	sid chan string
}

func (f *fakeStream) Subscribe(ctx context.Context, sessionID string) (<-chan events.Event, error) {
	if f.sid != nil {
		f.sid <- sessionID
	}
	out := make(chan events.Event, len(f.evs))
	for _, ev := range f.evs {
		out <- ev
	}
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}

func do(t *testing.T, h http.Handler, method, path, session, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "http://example.com"+path, strings.NewReader(body))
	if session != "" {
		req.Header.Set("session_id", session)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPing_NoSessionNeeded(t *testing.T) {
	h := webchat.NewHandler(&fakeChat{}, nil)
	rec := do(t, h, http.MethodGet, "/ping", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"message":"service is running"}`, rec.Body.String())
}

func TestRequireSession(t *testing.T) {
	h := webchat.NewHandler(&fakeChat{}, nil)

	rec := do(t, h, http.MethodPost, "/get-ai-resp", "", `{"user_query":"hi"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.JSONEq(t, `"Unauthorized"`, rec.Body.String())

	rec = do(t, h, http.MethodOptions, "/get-ai-resp", "", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAsk(t *testing.T) {
	svc := &fakeChat{}
	h := webchat.NewHandler(svc, nil)

	rec := do(t, h, http.MethodPost, "/get-ai-resp", "sess-1", `{"user_query":"what is 2 + 2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"msg":[{"type":"text","content":"2 + 2 = 4"}],"role":"AI"}`, rec.Body.String())
	require.Equal(t, "sess-1", svc.lastSession)
	require.Equal(t, "what is 2 + 2", svc.lastQuestion)

	rec = do(t, h, http.MethodPost, "/get-ai-resp", "sess-1", `{"user_query":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/get-ai-resp", "sess-1", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCreateChat(t *testing.T) {
	svc := &fakeChat{}
	h := webchat.NewHandler(svc, nil)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rec := do(t, h, method, "/create-chat", "sess-2", "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"msg":[{"type":"text","content":"hello"}],"role":"AI"}`, rec.Body.String())
	}
	require.Equal(t, "sess-2", svc.lastSession)

	svc.createErr = errors.New("db down")
	rec := do(t, h, http.MethodGet, "/create-chat", "sess-2", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"message":"Unable to create a chat at the moment"}`, rec.Body.String())
}

func TestFlush(t *testing.T) {
	svc := &fakeChat{}
	h := webchat.NewHandler(svc, nil)

	rec := do(t, h, http.MethodGet, "/flush-redis", "sess-3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, svc.flushed)
	require.JSONEq(t, `{"message":"redis cleaned sucessfully"}`, rec.Body.String())

	svc.flushErr = errors.New("redis down")
	rec = do(t, h, http.MethodGet, "/flush-redis", "sess-3", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"message":"unable to flush redis"}`, rec.Body.String())
}

func TestWS_StreamsEvents(t *testing.T) {
	stream := &fakeStream{
		evs: []events.Event{{Type: events.TurnStarted, SessionID: "sess-4", TurnID: "t1", Question: "hi"}},
		sid: make(chan string, 1),
	}
	srv := httptest.NewServer(webchat.NewHandler(&fakeChat{}, stream))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?session_id=sess-4"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	defer func() { _ = conn.Close() }()
	require.Equal(t, "sess-4", <-stream.sid)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, events.TurnStarted, ev.Type)
	require.Equal(t, "hi", ev.Question)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	var p map[string]any
	require.NoError(t, conn.ReadJSON(&p))
	require.Equal(t, "pong", p["type"])
}

func TestWS_Disabled(t *testing.T) {
	h := webchat.NewHandler(&fakeChat{}, nil)
	rec := do(t, h, http.MethodGet, "/ws", "sess-5", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_StopsOnContextCancel(t *testing.T) {
	s := webchat.NewServer("127.0.0.1:0", webchat.NewHandler(&fakeChat{}, nil), nil, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
