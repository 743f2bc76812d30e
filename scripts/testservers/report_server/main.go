// Command report_server serves a synthetic online report so tankwatch can be
// tried without a running load generator.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/torosent/tankwatch/internal/logger"
)

var (
	quantiles = []string{"25", "50", "75", "90", "95", "99", "100"}
	hosts     = []string{"web-1", "db-1"}
)

func main() {
	port := flag.Int("port", 8080, "Listening port")
	interval := flag.Duration("interval", time.Second, "Interval between pushed batches")
	reloadEvery := flag.Duration("reload-every", 0, "Start a new report and ask clients to reload this often (0 disables)")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	log, err := logger.New(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync(log)

	if *port <= 0 {
		log.Fatal("port must be > 0")
	}

	rep := newReport(log)
	addr := fmt.Sprintf(":%d", *port)
	log.Infow("report server listening", "addr", addr, "report", rep.id)
	go rep.generate(*interval, *reloadEvery)
	if err := http.ListenAndServe(addr, rep.routes()); err != nil {
		log.Fatalw("server stopped", "error", err)
	}
}

func (r *report) routes() http.Handler {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(logRequests(r.log))
	router.Get("/data.json", func(w http.ResponseWriter, req *http.Request) {
		respondJSON(w, http.StatusOK, r.page())
	})
	router.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			r.log.Warnw("websocket upgrade failed", "error", err)
			return
		}
		go r.serve(conn)
	})
	router.Post("/reload", func(w http.ResponseWriter, req *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{"uuid": r.restart()})
	})
	return router
}

// logRequests logs one line per request. The wrapped writer keeps
// http.Hijacker so websocket upgrades pass through.
func logRequests(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Infow("request",
				"method", r.Method,
				"uri", r.RequestURI,
				"status", ww.Status(),
				"size", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		})
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type report struct {
	log     *zap.SugaredLogger
	mu      sync.Mutex
	id      string
	series  map[string][][2]float64
	clients map[chan []byte]struct{}
}

func newReport(log *zap.SugaredLogger) *report {
	return &report{
		log:     log,
		id:      uuid.NewString(),
		series:  make(map[string][][2]float64),
		clients: make(map[chan []byte]struct{}),
	}
}

// page is the /data.json payload: every stored series as [ts, value] pairs.
func (r *report) page() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := map[string]any{}
	for path, points := range r.series {
		nest(data, strings.Split(path, "/"), points)
	}
	return map[string]any{"uuid": r.id, "data": data}
}

// restart starts a fresh report and tells every client to reload.
func (r *report) restart() string {
	r.mu.Lock()
	r.id = uuid.NewString()
	r.series = make(map[string][][2]float64)
	id := r.id
	r.mu.Unlock()

	r.log.Infow("new report", "report", id)
	r.broadcast([]byte(`{"event":"reload"}`))
	return id
}

func (r *report) generate(interval, reloadEvery time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	started := time.Now()
	lastReload := started

	for now := range ticker.C {
		if reloadEvery > 0 && now.Sub(lastReload) >= reloadEvery {
			r.restart()
			lastReload = now
			continue
		}
		frame, err := r.tick(now, now.Sub(started))
		if err != nil {
			r.log.Errorw("encode batch failed", "error", err)
			continue
		}
		r.broadcast(frame)
	}
}

// tick records one synthetic sample per series and returns the matching
// update frame.
func (r *report) tick(now time.Time, elapsed time.Duration) ([]byte, error) {
	ts := now.Unix()
	phase := elapsed.Seconds() / 30
	rps := 200 + 150*math.Sin(phase) + rand.Float64()*20

	values := map[string]float64{
		"responses/overall/RPS":              rps,
		"responses/overall/planned_requests": 220 + 150*math.Sin(phase),
	}
	base := 20 + 10*math.Sin(phase*2)
	for i, q := range quantiles {
		values["responses/overall/quantiles/"+q] = base * (1 + float64(i)*0.4)
	}
	for _, h := range hosts {
		values["monitoring/"+h+"/CPU/user"] = 40 + 30*math.Sin(phase) + rand.Float64()*5
		values["monitoring/"+h+"/CPU/system"] = 10 + rand.Float64()*5
		values["monitoring/"+h+"/Net/rx"] = rps * 12
	}

	r.mu.Lock()
	id := r.id
	tree := map[string]any{}
	for path, v := range values {
		r.series[path] = append(r.series[path], [2]float64{float64(ts), v})
		nest(tree, strings.Split(path, "/"), v)
	}
	r.mu.Unlock()

	return json.Marshal(map[string]any{
		"uuid": id,
		"data": map[string]any{fmt.Sprint(ts): tree},
	})
}

func (r *report) broadcast(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for out := range r.clients {
		select {
		case out <- frame:
		default:
			// slow client, drop the frame
		}
	}
}

func (r *report) serve(conn *websocket.Conn) {
	defer conn.Close()
	out := make(chan []byte, 16)

	r.mu.Lock()
	r.clients[out] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.clients, out)
		r.mu.Unlock()
	}()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			// client heartbeats are read and discarded
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case frame := <-out:
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func nest(tree map[string]any, path []string, value any) {
	for _, key := range path[:len(path)-1] {
		child, ok := tree[key].(map[string]any)
		if !ok {
			child = map[string]any{}
			tree[key] = child
		}
		tree = child
	}
	tree[path[len(path)-1]] = value
}
