package chart

import (
	"math"
	"reflect"
	"testing"

	"github.com/torosent/tankwatch/internal/store"
)

func series(name string, ys ...float64) store.SeriesDescriptor {
	s := store.SeriesDescriptor{Name: name}
	for i, y := range ys {
		s.Data = append(s.Data, store.Point{X: float64(i + 1), Y: y})
	}
	return s
}

func TestValues(t *testing.T) {
	s := series("rps", 1, math.NaN(), 3, math.Inf(1), 5)

	if got := Values(s, 0); !reflect.DeepEqual(got, []float64{1, 0, 3, 0, 5}) {
		t.Errorf("Values(all) = %v", got)
	}
	if got := Values(s, 2); !reflect.DeepEqual(got, []float64{0, 5}) {
		t.Errorf("Values(2) = %v", got)
	}
}

func TestPlotDataPadsShortRows(t *testing.T) {
	rows := PlotData([]store.SeriesDescriptor{series("a"), series("b", 7), series("c", 1, 2, 3)}, 0)

	want := [][]float64{{0, 0}, {7, 7}, {1, 2, 3}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("PlotData() = %v, want %v", rows, want)
	}
	if got := PlotData(nil, 0); !reflect.DeepEqual(got, [][]float64{{0, 0}}) {
		t.Errorf("PlotData(nil) = %v", got)
	}
}

func TestSparkDataNeverEmpty(t *testing.T) {
	if got := SparkData(series("cpu"), 10); !reflect.DeepEqual(got, []float64{0}) {
		t.Errorf("SparkData(empty) = %v", got)
	}
}

func TestLatestSkipsMissing(t *testing.T) {
	v, ok := Latest(series("p99", 4, 9, math.NaN()))
	if !ok || v != 9 {
		t.Errorf("Latest() = %v, %v; want 9, true", v, ok)
	}
	if _, ok := Latest(series("p99", math.NaN())); ok {
		t.Error("Latest() ok = true for all-missing series")
	}
}

func TestLegend(t *testing.T) {
	got := Legend([]store.SeriesDescriptor{series("99", 12.5), series("50", 3), series("25")})
	if got != "99=12.50 50=3 25=-" {
		t.Errorf("Legend() = %q", got)
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{42, "42"},
		{3.14159, "3.14"},
		{12345, "12.3k"},
		{2500000, "2.5M"},
	}
	for _, tt := range tests {
		if got := FormatValue(tt.in); got != tt.want {
			t.Errorf("FormatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFromGroup(t *testing.T) {
	g := store.ChartGroup{Name: "CPU", Renderer: store.RendererArea, Series: []store.SeriesDescriptor{series("user", 1)}}
	spec := FromGroup(g, 80, 20)
	if spec.Name != "CPU" || spec.Renderer != store.RendererArea || spec.Width != 80 || len(spec.Series) != 1 {
		t.Errorf("FromGroup() = %+v", spec)
	}
	if got := Labels(spec.Series); !reflect.DeepEqual(got, []string{"user"}) {
		t.Errorf("Labels() = %v", got)
	}
	if FromSeries("q", nil, 1, 1).Renderer != store.RendererLine {
		t.Error("FromSeries() should build a line chart")
	}
}
