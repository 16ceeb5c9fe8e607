// Package webchat is the HTTP surface of tablechat.
//
// Routes:
//   - GET /ping answers without a session.
//   - GET|POST /create-chat opens a thread and returns the greeting.
//   - POST /get-ai-resp runs one turn for {"user_query": ...}.
//   - GET /flush-redis drops conversational memory.
//   - GET /ws streams the session's turn lifecycle events.
//
// Every route except /ping requires a session_id header (the websocket also
// accepts a session_id query parameter).
package webchat
