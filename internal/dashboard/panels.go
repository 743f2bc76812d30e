package dashboard

import (
	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/tankwatch/internal/chart"
	"github.com/torosent/tankwatch/internal/store"
)

// defaultPoints is the history kept when a panel has no width yet.
const defaultPoints = 120

var seriesColors = []ui.Color{
	ui.ColorRed,
	ui.ColorYellow,
	ui.ColorGreen,
	ui.ColorCyan,
	ui.ColorBlue,
	ui.ColorMagenta,
	ui.ColorWhite,
}

// panel is a chart renderer backed by a termui widget.
type panel interface {
	chart.Renderer
	drawable() ui.Drawable
}

// newPanel picks the widget for a renderer kind: area groups draw as
// sparklines, everything else as a line plot.
func newPanel(kind store.RendererKind) panel {
	if kind == store.RendererArea {
		return newSparkPanel()
	}
	return newPlotPanel()
}

type plotPanel struct {
	plot *widgets.Plot
}

func newPlotPanel() *plotPanel {
	p := widgets.NewPlot()
	p.Marker = widgets.MarkerBraille
	p.PlotType = widgets.LineChart
	p.AxesColor = ui.ColorWhite
	p.BorderStyle.Fg = ui.ColorCyan
	p.Data = [][]float64{{0, 0}}
	p.LineColors = seriesColors
	return &plotPanel{plot: p}
}

func (p *plotPanel) Update(spec chart.Spec) {
	p.plot.Title = title(spec)
	p.plot.Data = chart.PlotData(spec.Series, pointLimit(spec.Width, 2))
	p.plot.DataLabels = chart.Labels(spec.Series)
	p.plot.MaxVal = 0
	if maxOf(p.plot.Data) == 0 {
		p.plot.MaxVal = 1
	}
}

func (p *plotPanel) Render() {
	ui.Render(p.plot)
}

func (p *plotPanel) drawable() ui.Drawable {
	return p.plot
}

type sparkPanel struct {
	group *widgets.SparklineGroup
}

func newSparkPanel() *sparkPanel {
	line := widgets.NewSparkline()
	line.Data = []float64{0}
	line.LineColor = seriesColors[0]
	g := widgets.NewSparklineGroup(line)
	g.BorderStyle.Fg = ui.ColorCyan
	return &sparkPanel{group: g}
}

func (p *sparkPanel) Update(spec chart.Spec) {
	p.group.Title = title(spec)
	if len(spec.Series) == 0 {
		p.group.Sparklines = p.group.Sparklines[:1]
		p.group.Sparklines[0].Title = ""
		p.group.Sparklines[0].Data = []float64{0}
		return
	}
	for len(p.group.Sparklines) < len(spec.Series) {
		line := widgets.NewSparkline()
		line.LineColor = seriesColors[len(p.group.Sparklines)%len(seriesColors)]
		p.group.Sparklines = append(p.group.Sparklines, line)
	}
	p.group.Sparklines = p.group.Sparklines[:len(spec.Series)]

	limit := pointLimit(spec.Width, 1)
	for i, s := range spec.Series {
		line := p.group.Sparklines[i]
		line.Data = chart.SparkData(s, limit)
		if v, ok := chart.Latest(s); ok {
			line.Title = s.Name + " " + chart.FormatValue(v)
		} else {
			line.Title = s.Name
		}
	}
}

func (p *sparkPanel) Render() {
	ui.Render(p.group)
}

func (p *sparkPanel) drawable() ui.Drawable {
	return p.group
}

func title(spec chart.Spec) string {
	if spec.Renderer == store.RendererArea || len(spec.Series) == 0 {
		return spec.Name
	}
	return spec.Name + " | " + chart.Legend(spec.Series)
}

// pointLimit converts a panel width into a point count. Braille plots fit
// two points per cell.
func pointLimit(width, perCell int) int {
	inner := width - 8
	if inner <= 0 {
		return defaultPoints
	}
	return inner * perCell
}

func maxOf(rows [][]float64) float64 {
	var m float64
	for _, row := range rows {
		for _, v := range row {
			if v > m {
				m = v
			}
		}
	}
	return m
}
