package webchat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-go-golems/tablechat/pkg/answer"
	"github.com/go-go-golems/tablechat/pkg/events"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	msgServiceRunning = "service is running"
	msgChatFailed     = "Unable to create a chat at the moment"
	msgFlushed        = "redis cleaned sucessfully"
	msgFlushFailed    = "unable to flush redis"
)

// ChatHTTPService describes the chat operations used by HTTP handlers.
// *chat.Service implements it.
type ChatHTTPService interface {
	Ask(ctx context.Context, sessionID, question string) (answer.Response, error)
	CreateChat(ctx context.Context, sessionID string) (answer.Response, error)
	FlushMemory(ctx context.Context) error
}

// EventStream describes the live event subscription used by /ws.
// *events.Bus implements it.
type EventStream interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan events.Event, error)
}

type messageBody struct {
	Message string `json:"message"`
}

type askRequest struct {
	UserQuery string `json:"user_query"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		log.Warn().Err(err).Msg("response write failed")
	}
}

func NewPingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, messageBody{Message: msgServiceRunning})
	}
}

func NewCreateChatHandler(svc ChatHTTPService) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet && req.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		sessionID := SessionID(req.Context())
		resp, err := svc.CreateChat(req.Context(), sessionID)
		if err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Msg("error in creating chat")
			writeJSON(w, http.StatusInternalServerError, messageBody{Message: msgChatFailed})
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func NewAskHandler(svc ChatHTTPService) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body askRequest
		dec := json.NewDecoder(io.LimitReader(req.Body, 1<<20))
		if err := dec.Decode(&body); err != nil || strings.TrimSpace(body.UserQuery) == "" {
			writeJSON(w, http.StatusBadRequest, messageBody{Message: "user_query is required"})
			return
		}
		resp, err := svc.Ask(req.Context(), SessionID(req.Context()), body.UserQuery)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, messageBody{Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func NewFlushHandler(svc ChatHTTPService) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := svc.FlushMemory(req.Context()); err != nil {
			log.Error().Err(err).Msg("error in flushing memory")
			writeJSON(w, http.StatusInternalServerError, messageBody{Message: msgFlushFailed})
			return
		}
		log.Info().Msg("memory flushed")
		writeJSON(w, http.StatusOK, messageBody{Message: msgFlushed})
	}
}

type pong struct {
	Type       string `json:"type"`
	ServerTime int64  `json:"server_time"`
}

// NewWSHandler streams the session's events as JSON text frames until the
// client goes away. A text frame "ping" is answered with a pong frame.
func NewWSHandler(stream EventStream, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if stream == nil {
			http.Error(w, "event stream not enabled", http.StatusServiceUnavailable)
			return
		}
		sessionID := SessionID(req.Context())
		logger := log.With().Str("component", "webchat").Str("session_id", sessionID).Logger()

		ctx, cancel := context.WithCancel(req.Context())
		defer cancel()
		evs, err := stream.Subscribe(ctx, sessionID)
		if err != nil {
			logger.Error().Err(err).Msg("subscribe failed")
			http.Error(w, "failed to subscribe", http.StatusInternalServerError)
			return
		}

		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		logger.Debug().Msg("websocket attached")

		// gorilla allows one concurrent writer
		out := make(chan any, 16)
		go func() {
			defer cancel()
			for {
				msgType, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				if msgType == websocket.TextMessage && strings.EqualFold(strings.TrimSpace(string(data)), "ping") {
					select {
					case out <- pong{Type: "pong", ServerTime: time.Now().UnixMilli()}:
					case <-ctx.Done():
						return
					}
				}
			}
		}()

		for {
			var frame any
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-evs:
				if !ok {
					_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
				frame = ev
			case p := <-out:
				frame = p
			}
			if err := conn.WriteJSON(frame); err != nil {
				logger.Warn().Err(err).Msg("ws send failed, dropping connection")
				return
			}
		}
	}
}
