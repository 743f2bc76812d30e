// Package chart defines the contract between series projections and the
// widgets that draw them.
package chart

import (
	"fmt"
	"math"
	"strings"

	"github.com/torosent/tankwatch/internal/store"
)

// Spec describes one chart: a named set of series and how to draw them.
type Spec struct {
	Name     string
	Series   []store.SeriesDescriptor
	Renderer store.RendererKind
	Width    int
	Height   int
}

// Renderer draws a Spec. Update replaces the data; Render draws it.
type Renderer interface {
	Render()
	Update(Spec)
}

// FromGroup builds a Spec from a projected chart group.
func FromGroup(g store.ChartGroup, width, height int) Spec {
	return Spec{
		Name:     g.Name,
		Series:   g.Series,
		Renderer: g.Renderer,
		Width:    width,
		Height:   height,
	}
}

// FromSeries builds a line Spec.
func FromSeries(name string, series []store.SeriesDescriptor, width, height int) Spec {
	return Spec{
		Name:     name,
		Series:   series,
		Renderer: store.RendererLine,
		Width:    width,
		Height:   height,
	}
}

// Values returns the y values of the last limit points of s. Missing
// readings become 0. A limit <= 0 keeps every point.
func Values(s store.SeriesDescriptor, limit int) []float64 {
	points := s.Data
	if limit > 0 && len(points) > limit {
		points = points[len(points)-limit:]
	}
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = finite(p.Y)
	}
	return out
}

// PlotData returns one row per series for a line plot. Rows hold at least
// two points since termui cannot draw a shorter line.
func PlotData(series []store.SeriesDescriptor, limit int) [][]float64 {
	rows := make([][]float64, 0, len(series))
	for _, s := range series {
		row := Values(s, limit)
		for len(row) < 2 {
			row = append(row, lastOr(row, 0))
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		rows = append(rows, []float64{0, 0})
	}
	return rows
}

// SparkData returns the values of s for a sparkline, never empty.
func SparkData(s store.SeriesDescriptor, limit int) []float64 {
	row := Values(s, limit)
	if len(row) == 0 {
		return []float64{0}
	}
	return row
}

// Latest returns the last finite y value of s.
func Latest(s store.SeriesDescriptor) (float64, bool) {
	for i := len(s.Data) - 1; i >= 0; i-- {
		y := s.Data[i].Y
		if !math.IsNaN(y) && !math.IsInf(y, 0) {
			return y, true
		}
	}
	return 0, false
}

// Labels returns the series names in order.
func Labels(series []store.SeriesDescriptor) []string {
	names := make([]string, len(series))
	for i, s := range series {
		names[i] = s.Name
	}
	return names
}

// Legend formats the latest value of every series, e.g. "99=12.5 50=3".
func Legend(series []store.SeriesDescriptor) string {
	parts := make([]string, 0, len(series))
	for _, s := range series {
		v, ok := Latest(s)
		if !ok {
			parts = append(parts, s.Name+"=-")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%s", s.Name, FormatValue(v)))
	}
	return strings.Join(parts, " ")
}

// FormatValue renders v compactly: integers without decimals, large
// values with k/M suffixes.
func FormatValue(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case abs >= 1e4:
		return fmt.Sprintf("%.1fk", v/1e3)
	case v == math.Trunc(v):
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func lastOr(row []float64, def float64) float64 {
	if len(row) == 0 {
		return def
	}
	return row[len(row)-1]
}
