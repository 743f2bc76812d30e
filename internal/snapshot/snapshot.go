// Package snapshot obtains the initial page state of a report: the
// metrics tree the server has cached so far and the report version it
// belongs to.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/torosent/tankwatch/internal/store"
	"github.com/torosent/tankwatch/internal/tracing"
)

// ErrInvalid is returned for documents that are not a snapshot.
var ErrInvalid = errors.New("snapshot: invalid document")

// maxBody caps the snapshot body read from the server.
const maxBody = 256 << 20

// Page is the decoded page state.
type Page struct {
	Version    string
	HasVersion bool
	Data       gjson.Result
}

// Store builds a MetricsStore from the page data.
func (p Page) Store(opts ...store.Option) (*store.Store, error) {
	return store.FromResult(p.Data, opts...)
}

// Parse decodes either the {"uuid": ..., "data": {...}} wrapper served by
// /data.json or a bare legacy tree {"responses": ..., "monitoring": ...}.
func Parse(raw []byte) (Page, error) {
	if !gjson.ValidBytes(raw) {
		return Page{}, fmt.Errorf("%w: not JSON", ErrInvalid)
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return Page{}, fmt.Errorf("%w: expected object, got %s", ErrInvalid, doc.Type)
	}

	data := doc.Get("data")
	if !data.Exists() {
		return Page{Data: doc}, nil
	}
	if data.Type != gjson.Null && !data.IsObject() {
		return Page{}, fmt.Errorf("%w: data must be an object", ErrInvalid)
	}

	page := Page{Data: data}
	if v := doc.Get("uuid"); v.Exists() && v.Type != gjson.Null {
		page.Version = v.String()
		page.HasVersion = true
	}
	return page, nil
}

// Load reads a saved snapshot file.
func Load(path string) (Page, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Page{}, fmt.Errorf("read snapshot: %w", err)
	}
	return Parse(raw)
}

// HTTPError reports a non-2xx snapshot response.
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: %s", e.URL, e.Status)
}

// Fetcher downloads snapshots over HTTP.
type Fetcher struct {
	Client    *http.Client
	Headers   http.Header
	Tracer    trace.Tracer
	Propagate bool
}

// Fetch downloads and parses the snapshot at url.
func (f Fetcher) Fetch(ctx context.Context, url string) (page Page, err error) {
	tracer := f.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	ctx, span := tracing.StartFetch(ctx, tracer, url)
	defer func() {
		tracing.EndSpan(span, err, tracing.ReportKey.String(page.Version))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Page{}, fmt.Errorf("build request: %w", err)
	}
	for k, vals := range f.Headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if f.Propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Page{}, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, URL: url}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Page{}, fmt.Errorf("read snapshot: %w", err)
	}
	return Parse(raw)
}

// Fetch downloads the snapshot at url with a plain client.
func Fetch(ctx context.Context, client *http.Client, url string) (Page, error) {
	return Fetcher{Client: client}.Fetch(ctx, url)
}
