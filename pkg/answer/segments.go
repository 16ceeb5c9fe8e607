package answer

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/go-go-golems/tablechat/pkg/chart"
	"github.com/go-go-golems/tablechat/pkg/turns"
	"github.com/rs/zerolog/log"
)

const (
	RoleAI = "AI"

	TypeText  = "text"
	TypeChart = "chart"

	ChartUnavailable = "Unable to display chart at the moment"
)

// Segment content is a string for text and a chart config (or
// ChartUnavailable) for charts.
type Segment struct {
	Type    string `json:"type"`
	Content any    `json:"content"`
}

type Response struct {
	Msg  []Segment `json:"msg"`
	Role string    `json:"role"`
}

// Text returns a response holding a single text segment.
func Text(content string) Response {
	return Response{Msg: []Segment{{Type: TypeText, Content: content}}, Role: RoleAI}
}

// Charts resolves chart keys. *scratch.Context implements it.
type Charts interface {
	Chart(key string) (*chart.Config, bool)
}

var segmentBlock = regexp.MustCompile(`(?s)<text>(.*?)</text>|<chart>(.*?)</chart>`)

// Segments builds the client response from the terminal assistant content.
// Content that is not a JSON object is passed through as one text segment;
// a JSON object without a string final_answer yields the apology.
func Segments(final string, charts Charts, apology string) Response {
	raw, err := turns.ExtractJSON(final)
	if err != nil {
		return Text(strings.TrimSpace(final))
	}
	var doc struct {
		FinalAnswer *string `json:"final_answer"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil || doc.FinalAnswer == nil {
		log.Warn().Msg("terminal message has no usable final_answer")
		return Text(apology)
	}

	resolved := Resolve(*doc.FinalAnswer)
	resp := Response{Msg: []Segment{}, Role: RoleAI}
	for _, m := range segmentBlock.FindAllStringSubmatchIndex(resolved, -1) {
		if m[2] >= 0 {
			resp.Msg = append(resp.Msg, Segment{Type: TypeText, Content: strings.TrimSpace(resolved[m[2]:m[3]])})
			continue
		}
		key := strings.TrimSpace(resolved[m[4]:m[5]])
		resp.Msg = append(resp.Msg, chartSegment(key, charts))
	}
	if len(resp.Msg) == 0 {
		// e.g. a bare <sql> block
		return Text(strings.TrimSpace(resolved))
	}
	return resp
}

func chartSegment(key string, charts Charts) Segment {
	if charts != nil {
		if cfg, ok := charts.Chart(key); ok {
			return Segment{Type: TypeChart, Content: cfg}
		}
	}
	log.Warn().Str("ref_key", key).Msg("chart reference not found")
	return Segment{Type: TypeChart, Content: ChartUnavailable}
}
