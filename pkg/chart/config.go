// Package chart builds Highcharts configuration documents from tables.
package chart

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-go-golems/tablechat/pkg/tabular"
	"github.com/pkg/errors"
)

const (
	DefaultKind  = "line"
	DefaultTitle = "Chart Generated"

	// categories beyond this count get a scrolling x axis window
	scrollThreshold = 10
)

type Input struct {
	X     string `json:"x"`
	Y     string `json:"y"`
	Kind  string `json:"chart_type"`
	Title string `json:"chart_title"`
}

type Toggle struct {
	Enabled bool `json:"enabled"`
}

type Text struct {
	Text string `json:"text"`
}

type Config struct {
	Chart       ChartOptions          `json:"chart"`
	Title       Text                  `json:"title"`
	XAxis       XAxis                 `json:"xAxis"`
	YAxis       YAxis                 `json:"yAxis"`
	Legend      Toggle                `json:"legend"`
	Tooltip     Tooltip               `json:"tooltip"`
	Series      []Series              `json:"series"`
	PlotOptions map[string]PlotOption `json:"plotOptions"`
	Credits     Toggle                `json:"credits"`
	Responsive  Responsive            `json:"responsive"`
}

type ChartOptions struct {
	Type     string `json:"type"`
	ZoomType string `json:"zoomType"`
}

type XAxis struct {
	Categories []string `json:"categories"`
	Max        *int     `json:"max"`
	Scrollbar  Toggle   `json:"scrollbar"`
	Title      Text     `json:"title"`
	Min        int      `json:"min"`
}

type YAxis struct {
	Title     Text   `json:"title"`
	Scrollbar Toggle `json:"scrollbar"`
}

type Tooltip struct {
	Shared        bool `json:"shared"`
	Crosshairs    bool `json:"crosshairs"`
	ValueDecimals int  `json:"valueDecimals"`
}

type Point struct {
	X int     `json:"x"`
	Y float64 `json:"y"`
}

type Series struct {
	Name   string  `json:"name"`
	Data   []Point `json:"data"`
	Marker Toggle  `json:"marker"`
}

type PlotOption struct {
	Marker     Toggle `json:"marker"`
	DataLabels Toggle `json:"dataLabels"`
}

type Responsive struct {
	Rules []ResponsiveRule `json:"rules"`
}

type ResponsiveRule struct {
	Condition    map[string]int            `json:"condition"`
	ChartOptions map[string]map[string]any `json:"chartOptions"`
}

// Build turns two columns of t into a single-series chart. The x column
// becomes the categories; every y value must be numeric.
func Build(t *tabular.Table, in Input) (*Config, error) {
	if t == nil {
		return nil, errors.New("Unable to access column data")
	}
	xs, okX := t.Column(in.X)
	ys, okY := t.Column(in.Y)
	if !okX || !okY {
		return nil, errors.New("Specified x or y column does not exist in the input data")
	}
	if len(xs) != len(ys) {
		return nil, errors.New("x and y columns must be of the same length")
	}

	kind := strings.TrimSpace(in.Kind)
	if kind == "" {
		kind = DefaultKind
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = DefaultTitle
	}

	data := make([]Point, len(ys))
	for i, v := range ys {
		f, err := toFloat(v)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d of %s", i, in.Y)
		}
		data[i] = Point{X: i, Y: f}
	}
	categories := make([]string, len(xs))
	for i, v := range xs {
		categories[i] = category(v)
	}

	var window *int
	if len(categories) > scrollThreshold {
		m := scrollThreshold - 1
		window = &m
	}

	return &Config{
		Chart: ChartOptions{Type: kind, ZoomType: "xy"},
		Title: Text{Text: title},
		XAxis: XAxis{
			Categories: categories,
			Max:        window,
			Scrollbar:  Toggle{Enabled: true},
			Title:      Text{Text: in.X},
		},
		YAxis:   YAxis{Title: Text{Text: in.Y}, Scrollbar: Toggle{Enabled: true}},
		Legend:  Toggle{Enabled: true},
		Tooltip: Tooltip{Shared: true, Crosshairs: true, ValueDecimals: 2},
		Series:  []Series{{Name: in.Y, Data: data, Marker: Toggle{Enabled: true}}},
		PlotOptions: map[string]PlotOption{
			kind: {Marker: Toggle{Enabled: true}},
		},
		Responsive: Responsive{Rules: []ResponsiveRule{{
			Condition: map[string]int{"maxWidth": 500},
			ChartOptions: map[string]map[string]any{
				"legend": {"layout": "horizontal", "align": "center", "verticalAlign": "bottom"},
			},
		}}},
	}, nil
}

func toFloat(v any) (float64, error) {
	switch x := tabular.Normalize(v).(type) {
	case int64:
		return float64(x), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, errors.Errorf("could not convert %v to float", x)
		}
		return x, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, errors.Errorf("could not convert string to float: '%s'", x)
		}
		return f, nil
	case nil:
		return 0, errors.New("could not convert null to float")
	default:
		return 0, errors.Errorf("could not convert %v to float", x)
	}
}

func category(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
