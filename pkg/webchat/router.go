package webchat

import (
	"net/http"

	"github.com/gorilla/websocket"
)

type handlerOptions struct {
	origins  []string
	upgrader websocket.Upgrader
}

type HandlerOption func(*handlerOptions)

// WithAllowedOrigins sets the CORS origins; the default allows any origin.
func WithAllowedOrigins(origins ...string) HandlerOption {
	return func(o *handlerOptions) { o.origins = origins }
}

func WithWebSocketUpgrader(u websocket.Upgrader) HandlerOption {
	return func(o *handlerOptions) { o.upgrader = u }
}

// NewHandler mounts every route behind the session and CORS middlewares.
// A nil stream disables /ws.
func NewHandler(svc ChatHTTPService, stream EventStream, opts ...HandlerOption) http.Handler {
	o := handlerOptions{
		origins:  []string{"*"},
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	for _, opt := range opts {
		opt(&o)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", NewPingHandler())
	mux.HandleFunc("/create-chat", NewCreateChatHandler(svc))
	mux.HandleFunc("/get-ai-resp", NewAskHandler(svc))
	mux.HandleFunc("/flush-redis", NewFlushHandler(svc))
	mux.HandleFunc("/ws", NewWSHandler(stream, o.upgrader))

	return CORS(RequireSession(mux, "/ping"), o.origins)
}
