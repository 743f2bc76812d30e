package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/tankwatch/internal/chart"
	"github.com/torosent/tankwatch/internal/live"
	"github.com/torosent/tankwatch/internal/metrics"
	"github.com/torosent/tankwatch/internal/store"
)

// SessionInfo holds session parameters for display.
type SessionInfo struct {
	Server     string // Report server or snapshot file
	Version    string // Report uuid of the current snapshot
	SessionID  string // Client session id
	Reloads    int    // Snapshot reloads so far
	ConfigFile string // Path to config file if used
}

// Dashboard renders a live terminal UI for a report.
type Dashboard struct {
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex
	dirty        chan struct{}

	channel   *live.Channel
	info      SessionInfo
	startTime time.Time

	// Widgets
	grid        *ui.Grid
	statusPara  *widgets.Paragraph
	ingestPara  *widgets.Paragraph
	errorList   *widgets.List
	monitorPara *widgets.Paragraph
	quantiles   panel
	rps         panel
	load        panel
	hostPanels  []panel
	hostLayout  string
	hostIdx     int
	zoom        int // index into charts(), -1 when the grid is shown
	width       int
	height      int
}

// New creates a new Dashboard.
func New(info SessionInfo, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	d := newDashboard(info, shutdownFunc)
	d.width, d.height = ui.TerminalDimensions()
	d.setupGrid()
	return d, nil
}

func newDashboard(info SessionInfo, shutdownFunc func()) *Dashboard {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dashboard{
		ctx:          ctx,
		cancel:       cancel,
		shutdownFunc: shutdownFunc,
		dirty:        make(chan struct{}, 1),
		info:         info,
		startTime:    time.Now(),
		zoom:         -1,
	}
	d.initWidgets()
	return d
}

// initWidgets initializes all dashboard widgets.
func (d *Dashboard) initWidgets() {
	d.statusPara = widgets.NewParagraph()
	d.statusPara.Title = "Report"
	d.statusPara.Text = "Connecting..."
	d.statusPara.BorderStyle.Fg = ui.ColorCyan

	d.ingestPara = widgets.NewParagraph()
	d.ingestPara.Title = "Ingest"
	d.ingestPara.Text = "Waiting for data..."
	d.ingestPara.BorderStyle.Fg = ui.ColorCyan

	d.errorList = widgets.NewList()
	d.errorList.Title = "Dropped updates"
	d.errorList.Rows = []string{"[No failures](fg:green)"}
	d.errorList.TextStyle = ui.NewStyle(ui.ColorYellow)
	d.errorList.BorderStyle.Fg = ui.ColorCyan

	d.monitorPara = widgets.NewParagraph()
	d.monitorPara.Title = "Monitoring"
	d.monitorPara.Text = "[No monitoring data](fg:green)"
	d.monitorPara.BorderStyle.Fg = ui.ColorCyan

	d.quantiles = newPlotPanel()
	d.quantiles.Update(chart.FromSeries(quantilesTitle, nil, 0, 0))
	d.rps = newPlotPanel()
	d.rps.Update(chart.FromSeries(rpsTitle, nil, 0, 0))
	d.load = newPlotPanel()
	d.load.Update(chart.FromSeries(loadTitle, nil, 0, 0))
}

const (
	quantilesTitle = "Response time quantiles"
	rpsTitle       = "Responses per second"
	loadTitle      = "Load"
)

// setupGrid configures the layout grid. The monitoring row holds one
// column per chart group of the selected host.
func (d *Dashboard) setupGrid() {
	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, d.width, d.height)

	var monitorRow ui.GridItem
	if len(d.hostPanels) == 0 {
		monitorRow = ui.NewRow(0.34, ui.NewCol(1.0, d.monitorPara))
	} else {
		cols := make([]interface{}, 0, len(d.hostPanels))
		ratio := 1.0 / float64(len(d.hostPanels))
		for _, p := range d.hostPanels {
			cols = append(cols, ui.NewCol(ratio, p.drawable()))
		}
		monitorRow = ui.NewRow(0.34, cols...)
	}

	d.grid.Set(
		ui.NewRow(0.14,
			ui.NewCol(0.6, d.statusPara),
			ui.NewCol(0.4, d.ingestPara),
		),
		ui.NewRow(0.40,
			ui.NewCol(0.5, d.quantiles.drawable()),
			ui.NewCol(0.25, d.rps.drawable()),
			ui.NewCol(0.25, d.load.drawable()),
		),
		monitorRow,
		ui.NewRow(0.12,
			ui.NewCol(1.0, d.errorList),
		),
	)
}

// Attach points the dashboard at a session's channel. The returned func
// detaches it; call it when the session ends.
func (d *Dashboard) Attach(ch *live.Channel, info SessionInfo) (detach func()) {
	d.mu.Lock()
	d.channel = ch
	d.info = info
	d.mu.Unlock()

	cancel := ch.Subscribe(func(n live.Notification) {
		if n.Kind == live.DataChanged || n.Kind == live.StatusChanged || n.Kind == live.ReloadRequired {
			d.markDirty()
		}
	})
	d.markDirty()
	return cancel
}

func (d *Dashboard) markDirty() {
	select {
	case d.dirty <- struct{}{}:
	default:
	}
}

// Start begins the dashboard update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop stops the dashboard and cleans up.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	ui.Close()
	// Give terminal time to restore
	time.Sleep(100 * time.Millisecond)
}

// run is the main dashboard update loop.
func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()

	d.refresh()
	d.render()

	for {
		select {
		case <-d.ctx.Done():
			// Drain any remaining events
			for len(uiEvents) > 0 {
				<-uiEvents
			}
			return
		case e := <-uiEvents:
			select {
			case <-d.ctx.Done():
				return
			default:
			}

			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
				// Do not return here; wait for Stop() to cancel context
			case "<Tab>":
				d.mu.Lock()
				d.hostIdx++
				d.mu.Unlock()
				d.refresh()
				ui.Clear()
				d.render()
			case "z":
				d.mu.Lock()
				d.zoom = nextZoom(d.zoom, len(d.charts()))
				d.mu.Unlock()
				ui.Clear()
				d.render()
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.mu.Lock()
				d.width, d.height = payload.Width, payload.Height
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				d.mu.Unlock()
				d.refresh()
				ui.Clear()
				d.render()
			}
		case <-d.dirty:
			d.refresh()
			d.render()
		case <-ticker.C:
			d.refresh()
			d.render()
		}
	}
}

// refresh recomputes projections from the attached channel and pushes them
// into the widgets.
func (d *Dashboard) refresh() {
	d.mu.Lock()
	ch := d.channel
	d.mu.Unlock()
	if ch == nil {
		return
	}

	var (
		quantiles []store.SeriesDescriptor
		rps, load store.ChartGroup
		hosts     []store.HostCharts
	)
	ch.View(func(st *store.Store) {
		quantiles = st.ProjectQuantiles()
		rps = st.ProjectRPS()
		load = st.ProjectLoad()
		hosts = st.ProjectMonitoring()
	})
	status, stale := ch.Status(), ch.Stale()
	stats := ch.Collector().Stats(time.Since(d.startTime))

	d.mu.Lock()
	defer d.mu.Unlock()
	d.applyView(quantiles, rps, load, hosts)
	d.statusPara.Text = formatStatus(d.info, status, stale, time.Since(d.startTime), hostLabel(hosts, d.hostIdx))
	d.ingestPara.Text = formatIngest(stats)
	d.errorList.Rows = formatErrorRows(stats.Errors)
}

// applyView updates chart panels. It must be called with d.mu held.
func (d *Dashboard) applyView(quantiles []store.SeriesDescriptor, rps, load store.ChartGroup, hosts []store.HostCharts) {
	w := d.width
	d.quantiles.Update(chart.FromSeries(quantilesTitle, quantiles, w/2, 0))
	d.rps.Update(chart.FromGroup(rps, w/4, 0))
	d.load.Update(chart.FromGroup(load, w/4, 0))

	var groups []store.ChartGroup
	hostname := ""
	if len(hosts) > 0 {
		d.hostIdx %= len(hosts)
		host := hosts[d.hostIdx]
		hostname = host.Hostname
		groups = host.Groups
	}

	if layout := layoutKey(hostname, groups); layout != d.hostLayout {
		d.hostPanels = d.hostPanels[:0]
		for _, g := range groups {
			d.hostPanels = append(d.hostPanels, newPanel(g.Renderer))
		}
		d.hostLayout = layout
		d.zoom = -1
		d.setupGrid()
	}

	colWidth := w
	if len(groups) > 0 {
		colWidth = w / len(groups)
	}
	for i, g := range groups {
		spec := chart.FromGroup(g, colWidth, 0)
		spec.Name = hostname + " / " + g.Name
		d.hostPanels[i].Update(spec)
	}
}

// charts lists the zoomable panels in display order.
func (d *Dashboard) charts() []panel {
	out := []panel{d.quantiles, d.rps, d.load}
	return append(out, d.hostPanels...)
}

// render draws all widgets to the screen, or the zoomed chart alone.
func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()

	charts := d.charts()
	if d.zoom >= 0 && d.zoom < len(charts) {
		p := charts[d.zoom]
		p.drawable().SetRect(0, 0, d.width, d.height)
		p.Render()
		return
	}
	ui.Render(d.grid)
}

func layoutKey(hostname string, groups []store.ChartGroup) string {
	var b strings.Builder
	b.WriteString(hostname)
	for _, g := range groups {
		b.WriteString("|")
		b.WriteString(g.Name)
		b.WriteString(":")
		b.WriteString(string(g.Renderer))
	}
	return b.String()
}

func nextZoom(current, n int) int {
	if n == 0 {
		return -1
	}
	current++
	if current >= n {
		return -1
	}
	return current
}

func hostLabel(hosts []store.HostCharts, idx int) string {
	if len(hosts) == 0 {
		return ""
	}
	idx %= len(hosts)
	if len(hosts) == 1 {
		return hosts[idx].Hostname
	}
	return fmt.Sprintf("%s (%d/%d, Tab to switch)", hosts[idx].Hostname, idx+1, len(hosts))
}

func formatStatus(info SessionInfo, status live.Status, stale bool, elapsed time.Duration, host string) string {
	state := "[" + status.String() + "](fg:red)"
	switch {
	case stale:
		state = "[Reloading](fg:yellow)"
	case status == live.StatusConnected:
		state = "[" + status.String() + "](fg:green)"
	}

	version := info.Version
	if version == "" {
		version = "n/a"
	}

	var params []string
	if info.SessionID != "" {
		params = append(params, fmt.Sprintf("Session: %s", info.SessionID))
	}
	if info.Reloads > 0 {
		params = append(params, fmt.Sprintf("Reloads: %d", info.Reloads))
	}
	if info.ConfigFile != "" {
		params = append(params, fmt.Sprintf("Config: %s", info.ConfigFile))
	}

	lines := []string{
		fmt.Sprintf("Server: %s | Report: %s", info.Server, version),
		fmt.Sprintf("Status: %s | Elapsed: %s", state, elapsed.Round(time.Second)),
	}
	if len(params) > 0 {
		lines = append(lines, strings.Join(params, " | "))
	}
	if host != "" {
		lines = append(lines, "Host: "+host)
	}
	return strings.Join(lines, "\n")
}

func formatIngest(stats metrics.Stats) string {
	return fmt.Sprintf(
		"Updates: %d | Samples: %d | New series: %d\nMessages: %d | Bytes: %s | Failures: %d\nApply P50/P99: %.2f / %.2f ms | %.1f updates/s",
		stats.Updates,
		stats.Samples,
		stats.Created,
		stats.Messages,
		chart.FormatValue(float64(stats.Bytes)),
		stats.Failures,
		stats.P50LatencyMs,
		stats.P99LatencyMs,
		stats.UpdatesPerSec,
	)
}

func formatErrorRows(errs map[string]int) []string {
	rows := metrics.FlattenErrors(errs)
	if len(rows) == 0 {
		return []string{"[No failures](fg:green)"}
	}
	maxRows := len(rows)
	if maxRows > 5 {
		maxRows = 5
	}
	formatted := make([]string, 0, maxRows)
	for _, row := range rows[:maxRows] {
		formatted = append(formatted, fmt.Sprintf("[%s](fg:red) %d", row.Label, row.Count))
	}
	return formatted
}
