package output

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"math"
	"sort"
	"time"

	"github.com/torosent/tankwatch/internal/metrics"
	"github.com/torosent/tankwatch/internal/store"
)

// HTMLReport holds everything the offline report shows.
type HTMLReport struct {
	Server    string
	Version   string
	SessionID string
	Stats     metrics.Stats
	Quantiles []store.SeriesDescriptor
	RPS       store.ChartGroup
	Load      store.ChartGroup
	Hosts     []store.HostCharts
	PageState map[string]interface{}
}

// CaptureReport projects st into an HTMLReport. The caller fills in the
// session fields.
func CaptureReport(st *store.Store) HTMLReport {
	return HTMLReport{
		Quantiles: st.ProjectQuantiles(),
		RPS:       st.ProjectRPS(),
		Load:      st.ProjectLoad(),
		Hosts:     st.ProjectMonitoring(),
		PageState: pageState(st),
	}
}

// htmlChart is one uPlot chart. Data holds the x row followed by one row
// per series, aligned on the union of timestamps.
type htmlChart struct {
	ID       string             `json:"id"`
	Title    string             `json:"title"`
	Renderer store.RendererKind `json:"renderer"`
	Labels   []string           `json:"labels"`
	Data     [][]*float64       `json:"data"`
}

type htmlHost struct {
	Hostname string
	Charts   []htmlChart
}

type htmlReportData struct {
	GeneratedAt   string
	Report        HTMLReport
	Charts        []htmlChart
	Hosts         []htmlHost
	Errors        []metrics.ErrorBucket
	ChartsJSON    string
	PageStateJSON string
}

// GenerateHTMLReport writes a standalone HTML report with embedded charts
// and the page state they were drawn from.
func GenerateHTMLReport(w io.Writer, report HTMLReport) error {
	data := htmlReportData{
		GeneratedAt: time.Now().Format(time.RFC3339),
		Report:      report,
		Errors:      metrics.FlattenErrors(report.Stats.Errors),
	}

	all := make([]htmlChart, 0)
	add := func(title string, kind store.RendererKind, series []store.SeriesDescriptor) htmlChart {
		c := newHTMLChart(fmt.Sprintf("chart-%d", len(all)), title, kind, series)
		all = append(all, c)
		return c
	}

	if len(report.Quantiles) > 0 {
		data.Charts = append(data.Charts, add("Response time quantiles", store.RendererLine, report.Quantiles))
	}
	if len(report.RPS.Series) > 0 {
		data.Charts = append(data.Charts, add(report.RPS.Name, report.RPS.Renderer, report.RPS.Series))
	}
	if len(report.Load.Series) > 0 {
		data.Charts = append(data.Charts, add(report.Load.Name, report.Load.Renderer, report.Load.Series))
	}
	for _, host := range report.Hosts {
		h := htmlHost{Hostname: host.Hostname}
		for _, g := range host.Groups {
			h.Charts = append(h.Charts, add(g.Name, g.Renderer, g.Series))
		}
		data.Hosts = append(data.Hosts, h)
	}

	chartsJSON, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("failed to marshal charts: %w", err)
	}
	data.ChartsJSON = string(chartsJSON)

	state := map[string]interface{}{"uuid": report.Version, "data": report.PageState}
	if report.PageState == nil {
		state["data"] = map[string]interface{}{}
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal page state: %w", err)
	}
	data.PageStateJSON = string(stateJSON)

	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatDuration": func(d time.Duration) string {
			return d.String()
		},
		"formatFloat": func(f float64) string {
			return fmt.Sprintf("%.2f", f)
		},
	}).Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	return nil
}

func newHTMLChart(id, title string, kind store.RendererKind, series []store.SeriesDescriptor) htmlChart {
	c := htmlChart{ID: id, Title: title, Renderer: kind}

	seen := map[float64]struct{}{}
	for _, s := range series {
		for _, p := range s.Data {
			seen[p.X] = struct{}{}
		}
	}
	xs := make([]float64, 0, len(seen))
	for x := range seen {
		xs = append(xs, x)
	}
	sort.Float64s(xs)
	index := make(map[float64]int, len(xs))
	xrow := make([]*float64, len(xs))
	for i, x := range xs {
		index[x] = i
		xrow[i] = floatPtr(x)
	}
	c.Data = append(c.Data, xrow)

	for _, s := range series {
		c.Labels = append(c.Labels, s.Name)
		row := make([]*float64, len(xs))
		for _, p := range s.Data {
			// Repeated timestamps keep the last reading.
			row[index[p.X]] = floatPtr(p.Y)
		}
		c.Data = append(c.Data, row)
	}
	return c
}

func floatPtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// pageState rebuilds the {section: {...: [[ts, value]]}} tree served by
// /data.json. Missing readings become null.
func pageState(st *store.Store) map[string]interface{} {
	root := map[string]interface{}{}
	for _, path := range st.Paths() {
		samples, _ := st.Leaf(path...)
		pairs := make([][2]interface{}, len(samples))
		for i, s := range samples {
			var v interface{}
			if p := floatPtr(s.Value); p != nil {
				v = *p
			}
			pairs[i] = [2]interface{}{s.Timestamp, v}
		}

		node := root
		for _, key := range path[:len(path)-1] {
			child, ok := node[key].(map[string]interface{})
			if !ok {
				child = map[string]interface{}{}
				node[key] = child
			}
			node = child
		}
		node[path[len(path)-1]] = pairs
	}
	return root
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Tankwatch Report{{if .Report.Version}} {{.Report.Version}}{{end}}</title>
    <style>
        * {
            margin: 0;
            padding: 0;
            box-sizing: border-box;
        }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: #f5f7fa;
            color: #2c3e50;
            line-height: 1.6;
            padding: 20px;
        }
        .container {
            max-width: 1400px;
            margin: 0 auto;
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 8px rgba(0,0,0,0.1);
            overflow: hidden;
        }
        header {
            background: linear-gradient(135deg, #1f6f8b 0%, #2c3e50 100%);
            color: white;
            padding: 30px 40px;
        }
        header h1 {
            font-size: 2rem;
            margin-bottom: 10px;
        }
        header .meta {
            opacity: 0.9;
            font-size: 0.9rem;
        }
        .content {
            padding: 40px;
        }
        .grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(200px, 1fr));
            gap: 20px;
            margin-bottom: 40px;
        }
        .card {
            background: #f8f9fa;
            border-radius: 8px;
            padding: 20px;
            border-left: 4px solid #1f6f8b;
        }
        .card h3 {
            font-size: 0.9rem;
            color: #6c757d;
            text-transform: uppercase;
            letter-spacing: 0.5px;
            margin-bottom: 10px;
        }
        .card .value {
            font-size: 2rem;
            font-weight: bold;
        }
        .card.error {
            border-left-color: #ef4444;
        }
        .section {
            margin-bottom: 40px;
        }
        .section h2 {
            font-size: 1.5rem;
            margin-bottom: 20px;
            padding-bottom: 10px;
            border-bottom: 2px solid #e5e7eb;
        }
        .chart-container {
            border-radius: 8px;
            padding: 20px;
            margin-bottom: 30px;
            border: 1px solid #e5e7eb;
        }
        .chart-container h3 {
            font-size: 1.1rem;
            margin-bottom: 15px;
            color: #4b5563;
        }
        .chart {
            width: 100%;
            height: 300px;
        }
        table {
            width: 100%;
            border-collapse: collapse;
        }
        th, td {
            text-align: left;
            padding: 12px;
            border-bottom: 1px solid #e5e7eb;
        }
        th {
            background: #f8f9fa;
            font-weight: 600;
            color: #4b5563;
            font-size: 0.9rem;
            text-transform: uppercase;
        }
        .latency-grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(150px, 1fr));
            gap: 15px;
        }
        .latency-item {
            background: #f8f9fa;
            padding: 15px;
            border-radius: 6px;
            text-align: center;
        }
        .latency-item .label {
            font-size: 0.85rem;
            color: #6c757d;
        }
        .latency-item .value {
            font-size: 1.3rem;
            font-weight: bold;
        }
        .no-data {
            text-align: center;
            padding: 40px;
            color: #6c757d;
            font-style: italic;
        }
    </style>
    <script src="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.iife.min.js"></script>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.min.css">
</head>
<body>
    <div class="container">
        <header>
            <h1>Tankwatch Report</h1>
            {{if .Report.Server}}
            <div class="meta">Server: {{.Report.Server}}</div>
            {{end}}
            <div class="meta">Report: {{if .Report.Version}}{{.Report.Version}}{{else}}n/a{{end}}{{if .Report.SessionID}} | Session: {{.Report.SessionID}}{{end}}</div>
            <div class="meta">Generated: {{.GeneratedAt}} | Duration: {{formatDuration .Report.Stats.Duration}}</div>
        </header>

        <div class="content">
            <!-- Summary Cards -->
            <div class="grid">
                <div class="card">
                    <h3>Updates</h3>
                    <div class="value">{{.Report.Stats.Updates}}</div>
                </div>
                <div class="card">
                    <h3>Samples</h3>
                    <div class="value">{{.Report.Stats.Samples}}</div>
                </div>
                <div class="card">
                    <h3>Reloads</h3>
                    <div class="value">{{.Report.Stats.Reloads}}</div>
                </div>
                <div class="card error">
                    <h3>Dropped</h3>
                    <div class="value">{{.Report.Stats.Failures}}</div>
                </div>
            </div>

            <!-- Response Charts -->
            <div class="section">
                <h2>Responses</h2>
                {{if .Charts}}
                {{range .Charts}}
                <div class="chart-container">
                    <h3>{{.Title}}</h3>
                    <div id="{{.ID}}" class="chart"></div>
                </div>
                {{end}}
                {{else}}
                <div class="no-data">No response data</div>
                {{end}}
            </div>

            <!-- Monitoring -->
            {{range .Hosts}}
            <div class="section">
                <h2>Monitoring: {{.Hostname}}</h2>
                {{range .Charts}}
                <div class="chart-container">
                    <h3>{{.Title}}</h3>
                    <div id="{{.ID}}" class="chart"></div>
                </div>
                {{end}}
            </div>
            {{end}}

            <!-- Ingest -->
            <div class="section">
                <h2>Ingest</h2>
                <div class="latency-grid">
                    <div class="latency-item">
                        <div class="label">Messages</div>
                        <div class="value">{{.Report.Stats.Messages}}</div>
                    </div>
                    <div class="latency-item">
                        <div class="label">Updates/sec</div>
                        <div class="value">{{formatFloat .Report.Stats.UpdatesPerSec}}</div>
                    </div>
                    <div class="latency-item">
                        <div class="label">Apply P50</div>
                        <div class="value">{{formatDuration .Report.Stats.P50Latency}}</div>
                    </div>
                    <div class="latency-item">
                        <div class="label">Apply P99</div>
                        <div class="value">{{formatDuration .Report.Stats.P99Latency}}</div>
                    </div>
                    <div class="latency-item">
                        <div class="label">Apply Max</div>
                        <div class="value">{{formatDuration .Report.Stats.MaxLatency}}</div>
                    </div>
                </div>
            </div>

            {{if .Errors}}
            <div class="section">
                <h2>Dropped Updates</h2>
                <table>
                    <thead>
                        <tr>
                            <th>Reason</th>
                            <th>Count</th>
                        </tr>
                    </thead>
                    <tbody>
                        {{range .Errors}}
                        <tr>
                            <td>{{.Label}}</td>
                            <td>{{.Count}}</td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}
        </div>
    </div>

    <script>
        const pageState = JSON.parse({{.PageStateJSON}});
        const charts = JSON.parse({{.ChartsJSON}});
        const palette = ["#ef4444", "#f59e0b", "#10b981", "#06b6d4", "#3b82f6", "#8b5cf6", "#6b7280"];

        charts.forEach(function (chart) {
            const el = document.getElementById(chart.id);
            if (!el || !chart.data || chart.data[0].length === 0) {
                return;
            }
            const area = chart.renderer === "area";
            const series = [{ label: "Time" }];
            chart.labels.forEach(function (label, i) {
                const color = palette[i % palette.length];
                series.push({
                    label: label,
                    stroke: color,
                    fill: area ? color + "33" : undefined,
                    width: 2,
                    spanGaps: false
                });
            });
            new uPlot({
                width: el.offsetWidth,
                height: 300,
                scales: { x: { time: true } },
                series: series
            }, chart.data, el);
        });
    </script>
</body>
</html>
`
