package store

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// RendererKind selects how a chart group is drawn.
type RendererKind string

const (
	RendererLine RendererKind = "line"
	RendererArea RendererKind = "area"
)

// Point is one chart coordinate: x is the sample timestamp.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// MarshalJSON encodes a missing reading (NaN) as null.
func (p Point) MarshalJSON() ([]byte, error) {
	if math.IsNaN(p.Y) || math.IsInf(p.Y, 0) {
		return json.Marshal(struct {
			X float64     `json:"x"`
			Y interface{} `json:"y"`
		}{X: p.X, Y: nil})
	}
	type plain Point
	return json.Marshal(plain(p))
}

// SeriesDescriptor is a named point list consumed by renderers.
type SeriesDescriptor struct {
	Name string  `json:"name"`
	Data []Point `json:"data"`
}

// ChartGroup is a set of series drawn on one chart.
type ChartGroup struct {
	Name     string             `json:"name"`
	Renderer RendererKind       `json:"renderer"`
	Series   []SeriesDescriptor `json:"series"`
}

// HostCharts holds the monitoring chart groups of one host.
type HostCharts struct {
	Hostname string       `json:"hostname"`
	Groups   []ChartGroup `json:"groups"`
}

const (
	SectionResponses  = "responses"
	SectionMonitoring = "monitoring"
)

// ProjectQuantiles returns one series per response-time quantile of
// responses.overall.quantiles, highest quantile first.
func (s *Store) ProjectQuantiles() []SeriesDescriptor {
	return projectQuantileNode(s.Node(SectionResponses, "overall", "quantiles"))
}

// ProjectCumulativeQuantiles does the same for responses.cumulative.quantiles.
func (s *Store) ProjectCumulativeQuantiles() []SeriesDescriptor {
	return projectQuantileNode(s.Node(SectionResponses, "cumulative", "quantiles"))
}

func projectQuantileNode(node *Node) []SeriesDescriptor {
	series := leafSeries(node)
	sort.SliceStable(series, func(i, j int) bool {
		return quantileRank(series[i].Name) > quantileRank(series[j].Name)
	})
	return series
}

// quantileRank parses the numeric part of a quantile name.
// Names without one sort after every numeric name.
func quantileRank(name string) float64 {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(name), "%"))
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(f) {
		return math.Inf(-1)
	}
	return f
}

// ProjectRPS returns the responses-per-second chart.
func (s *Store) ProjectRPS() ChartGroup {
	group := ChartGroup{Name: "Responses per second", Renderer: RendererLine}
	if n := s.Node(SectionResponses, "overall", "RPS"); n != nil && n.kind == KindLeaf {
		group.Series = append(group.Series, toDescriptor("RPS", n))
	}
	return group
}

// ProjectLoad returns planned requests and active threads when the server reports them.
func (s *Store) ProjectLoad() ChartGroup {
	group := ChartGroup{Name: "Load", Renderer: RendererLine}
	overall := s.Node(SectionResponses, "overall")
	for _, name := range []string{"planned_requests", "active_threads"} {
		if n := overall.Child(name); n != nil && n.kind == KindLeaf {
			group.Series = append(group.Series, toDescriptor(name, n))
		}
	}
	return group
}

// ProjectMonitoring returns one HostCharts per monitored host and one chart
// group per metric category within it.
func (s *Store) ProjectMonitoring() []HostCharts {
	mon := s.Node(SectionMonitoring)
	if mon == nil || mon.kind != KindSubtree {
		return nil
	}
	hosts := make([]HostCharts, 0, len(mon.keys))
	for _, hostname := range mon.keys {
		host := mon.children[hostname]
		hc := HostCharts{Hostname: hostname}
		if host.kind == KindLeaf {
			hc.Groups = append(hc.Groups, s.group(hostname, []SeriesDescriptor{toDescriptor(hostname, host)}))
			hosts = append(hosts, hc)
			continue
		}
		for _, groupName := range host.keys {
			node := host.children[groupName]
			var series []SeriesDescriptor
			if node.kind == KindLeaf {
				series = []SeriesDescriptor{toDescriptor(groupName, node)}
			} else {
				series = leafSeries(node)
			}
			hc.Groups = append(hc.Groups, s.group(groupName, series))
		}
		hosts = append(hosts, hc)
	}
	return hosts
}

// RendererFor returns the renderer used for a monitoring category.
func (s *Store) RendererFor(group string) RendererKind {
	if _, ok := s.areaGroups[group]; ok {
		return RendererArea
	}
	return RendererLine
}

func (s *Store) group(name string, series []SeriesDescriptor) ChartGroup {
	return ChartGroup{Name: name, Renderer: s.RendererFor(name), Series: series}
}

func leafSeries(node *Node) []SeriesDescriptor {
	if node == nil || node.kind != KindSubtree {
		return nil
	}
	series := make([]SeriesDescriptor, 0, len(node.keys))
	for _, name := range node.keys {
		child := node.children[name]
		if child.kind != KindLeaf {
			continue
		}
		series = append(series, toDescriptor(name, child))
	}
	return series
}

func toDescriptor(name string, leaf *Node) SeriesDescriptor {
	data := make([]Point, len(leaf.samples))
	for i, sample := range leaf.samples {
		data[i] = Point{X: float64(sample.Timestamp), Y: sample.Value}
	}
	return SeriesDescriptor{Name: name, Data: data}
}
