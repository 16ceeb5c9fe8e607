package webchat

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

const SessionHeader = "session_id"

type sessionKey struct{}

// SessionID returns the session attached by RequireSession.
func SessionID(ctx context.Context) string {
	s, _ := ctx.Value(sessionKey{}).(string)
	return s
}

func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// RequireSession rejects requests without a session_id header with 401,
// except OPTIONS and the paths in open. The websocket route may carry the
// session as a query parameter since browsers cannot set upgrade headers.
func RequireSession(next http.Handler, open ...string) http.Handler {
	skip := map[string]bool{}
	for _, p := range open {
		skip[p] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		log.Debug().Str("path", req.URL.Path).Str("method", req.Method).Msg("request received")
		if req.Method == http.MethodOptions || skip[req.URL.Path] {
			next.ServeHTTP(w, req)
			return
		}
		sessionID := strings.TrimSpace(req.Header.Get(SessionHeader))
		if sessionID == "" && websocketUpgrade(req) {
			sessionID = strings.TrimSpace(req.URL.Query().Get(SessionHeader))
		}
		if sessionID == "" {
			log.Warn().Str("path", req.URL.Path).Msg("missing session_id header")
			writeJSON(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, req.WithContext(WithSessionID(req.Context(), sessionID)))
	})
}

func websocketUpgrade(req *http.Request) bool {
	return strings.EqualFold(req.Header.Get("Upgrade"), "websocket")
}

// CORS answers preflight requests and sets the allow headers for origins.
// "*" allows any origin.
func CORS(next http.Handler, origins []string) http.Handler {
	allowed := map[string]bool{}
	for _, o := range origins {
		allowed[strings.TrimSpace(o)] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")
		switch {
		case allowed["*"]:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}
