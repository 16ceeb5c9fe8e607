package tools

import (
	"bytes"
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Observation wraps a tool result the way the model expects to see it.
// Tags such as <sql> are kept readable.
func Observation(content any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any{"Observation": content}); err != nil {
		log.Error().Err(err).Msg("failed to encode observation")
		return `{"Observation":"tool result could not be encoded"}`
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}
