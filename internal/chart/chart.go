package chart

import (
	"strconv"
	"strings"
	"time"

	apperrors "etlpulse/internal/errors"
	"etlpulse/internal/table"
)

// Kind is a chart type
type Kind string

const (
	Line    Kind = "line"
	Bar     Kind = "bar"
	Area    Kind = "area"
	Pie     Kind = "pie"
	Scatter Kind = "scatter"
)

// AllKinds lists every supported chart type in display order
var AllKinds = []Kind{Line, Bar, Area, Pie, Scatter}

// ParseKind accepts a chart type name, case-insensitively
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case Line, Bar, Area, Pie, Scatter:
		return k, nil
	}
	return "", apperrors.NewInvalidChartError(s)
}

// Palette is the fixed series color order
var Palette = []string{"#00D4FF", "#0099CC", "#00FF88", "#FFB800", "#FF4444"}

// Series is one named data sequence. Line, bar, area and pie data hold
// numbers or nil; scatter data holds [x, y] pairs.
type Series struct {
	Name string        `json:"name"`
	Data []interface{} `json:"data"`
}

// Axis describes one chart axis
type Axis struct {
	Title      string   `json:"title,omitempty"`
	Type       string   `json:"type"`
	Categories []string `json:"categories,omitempty"`
}

// Style carries presentation settings shared by every chart
type Style struct {
	Height     int      `json:"height"`
	Background string   `json:"background"`
	ForeColor  string   `json:"fore_color"`
	Theme      string   `json:"theme"`
	Palette    string   `json:"palette"`
	Colors     []string `json:"colors"`
}

// Config is a rendering-ready chart description
type Config struct {
	Kind        Kind       `json:"kind"`
	Title       string     `json:"title"`
	Series      []Series   `json:"series"`
	XAxis       Axis       `json:"xaxis"`
	YAxis       Axis       `json:"yaxis"`
	Labels      []string   `json:"labels,omitempty"`
	Style       Style      `json:"style"`
	GeneratedAt *time.Time `json:"generated_at,omitempty"`
}

// DefaultStyle returns the dark theme used by every chart
func DefaultStyle() Style {
	colors := make([]string, len(Palette))
	copy(colors, Palette)
	return Style{
		Height:     350,
		Background: "transparent",
		ForeColor:  "#FFFFFF",
		Theme:      "dark",
		Palette:    "palette1",
		Colors:     colors,
	}
}

// Builder derives chart configs from a table
type Builder struct {
	// MaxPoints caps the rows used per chart; 0 means no cap
	MaxPoints int
	// GeneratedAt is copied into every config when set
	GeneratedAt *time.Time
}

// Build returns one config per requested kind. No kinds means all kinds.
func (b Builder) Build(t *table.Table, kinds []Kind) (map[Kind]Config, error) {
	if len(kinds) == 0 {
		kinds = AllKinds
	}
	for _, k := range kinds {
		if _, err := ParseKind(string(k)); err != nil {
			return nil, err
		}
	}

	rows := t.NumRows()
	if b.MaxPoints > 0 && rows > b.MaxPoints {
		rows = b.MaxPoints
	}
	x := xAxis(t, rows)
	numeric := t.ColumnsOfType(table.Numeric)

	out := make(map[Kind]Config, len(kinds))
	for _, k := range kinds {
		out[k] = b.build(t, k, x, numeric, rows)
	}
	return out, nil
}

// BuildOne returns the config for a single kind
func (b Builder) BuildOne(t *table.Table, kind Kind) (Config, error) {
	configs, err := b.Build(t, []Kind{kind})
	if err != nil {
		return Config{}, err
	}
	return configs[kind], nil
}

type axisData struct {
	title  string
	labels []string
}

// xAxis uses the first datetime or categorical column in table order, else
// the first text column. Without one, labels are 1-based row ordinals.
func xAxis(t *table.Table, rows int) axisData {
	var axis *table.Column
	for _, col := range t.Columns() {
		if col.Type == table.Datetime || col.Type == table.Categorical {
			axis = &col
			break
		}
		if col.Type == table.Text && axis == nil {
			axis = &col
		}
	}
	if axis != nil {
		labels := make([]string, rows)
		for i := 0; i < rows; i++ {
			labels[i] = axis.Values[i].String()
		}
		return axisData{title: axis.Name, labels: labels}
	}

	labels := make([]string, rows)
	for i := range labels {
		labels[i] = strconv.Itoa(i + 1)
	}
	return axisData{labels: labels}
}

func (b Builder) build(t *table.Table, kind Kind, x axisData, numeric []string, rows int) Config {
	cfg := Config{
		Kind:        kind,
		Title:       title(kind, numeric),
		Series:      []Series{},
		XAxis:       Axis{Title: x.title, Type: "category", Categories: x.labels},
		YAxis:       Axis{Type: "numeric"},
		Style:       DefaultStyle(),
		GeneratedAt: b.GeneratedAt,
	}
	if len(numeric) == 1 {
		cfg.YAxis.Title = numeric[0]
	}

	switch kind {
	case Line, Bar, Area:
		for _, name := range numeric {
			col, _ := t.Column(name)
			cfg.Series = append(cfg.Series, Series{Name: name, Data: points(col, rows)})
		}
	case Pie:
		cfg.XAxis = Axis{Type: "category"}
		cfg.YAxis = Axis{Type: "numeric"}
		cfg.Labels = x.labels
		if len(numeric) > 0 {
			col, _ := t.Column(numeric[0])
			cfg.Series = append(cfg.Series, Series{Name: numeric[0], Data: points(col, rows)})
		}
	case Scatter:
		cfg.XAxis = Axis{Type: "numeric"}
		if len(numeric) == 0 {
			break
		}
		ycol, _ := t.Column(numeric[len(numeric)-1])
		var xcol *table.Column
		if len(numeric) > 1 {
			c, _ := t.Column(numeric[0])
			xcol = &c
			ycol, _ = t.Column(numeric[1])
			cfg.XAxis.Title = numeric[0]
		} else {
			cfg.XAxis.Title = "row"
		}
		cfg.YAxis.Title = ycol.Name
		cfg.Series = append(cfg.Series, Series{Name: ycol.Name, Data: pairs(xcol, ycol, rows)})
	}
	return cfg
}

func title(kind Kind, numeric []string) string {
	name := strings.ToUpper(string(kind[:1])) + string(kind[1:]) + " Chart"
	if len(numeric) == 0 {
		return name
	}
	return numeric[0] + " - " + name
}

func points(col table.Column, rows int) []interface{} {
	data := make([]interface{}, rows)
	for i := 0; i < rows; i++ {
		if f, ok := col.Values[i].Float(); ok {
			data[i] = f
		}
	}
	return data
}

// pairs builds [x, y] points, skipping rows where either side is missing.
// A nil x column uses 1-based row ordinals.
func pairs(xcol *table.Column, ycol table.Column, rows int) []interface{} {
	data := make([]interface{}, 0, rows)
	for i := 0; i < rows; i++ {
		y, ok := ycol.Values[i].Float()
		if !ok {
			continue
		}
		x := float64(i + 1)
		if xcol != nil {
			if x, ok = xcol.Values[i].Float(); !ok {
				continue
			}
		}
		data = append(data, [2]float64{x, y})
	}
	return data
}
