// Package metrics implements the small Prometheus-text registry the Solace
// binaries expose: counters, gauges, and fixed-bucket histograms. Label sets
// are carried in the metric name, so each labelled combination is its own
// series under a shared family header.
package metrics

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets cover request latencies from 5ms to 60s.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Counter only goes up.
type Counter struct{ n atomic.Int64 }

func (c *Counter) Inc()         { c.n.Add(1) }
func (c *Counter) Add(d int64)  { c.n.Add(d) }
func (c *Counter) Value() int64 { return c.n.Load() }

// Gauge holds a value that moves both ways.
type Gauge struct{ n atomic.Int64 }

func (g *Gauge) Set(v int64)  { g.n.Store(v) }
func (g *Gauge) Inc()         { g.n.Add(1) }
func (g *Gauge) Dec()         { g.n.Add(-1) }
func (g *Gauge) Value() int64 { return g.n.Load() }

// Histogram counts observations into fixed buckets. Buckets hold per-bucket
// hits; the cumulative form Prometheus expects is produced at render time.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	hits   []uint64
	sum    float64
	total  uint64
}

func newHistogram(bounds []float64) *Histogram {
	b := make([]float64, len(bounds))
	copy(b, bounds)
	sort.Float64s(b)
	return &Histogram{bounds: b, hits: make([]uint64, len(b))}
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	h.sum += v
	h.total++
	for i, bound := range h.bounds {
		if v <= bound {
			h.hits[i]++
			break
		}
	}
	h.mu.Unlock()
}

// Since observes the seconds elapsed since t.
func (h *Histogram) Since(t time.Time) {
	h.Observe(time.Since(t).Seconds())
}

func (h *Histogram) snapshot() ([]float64, []uint64, float64, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hits := make([]uint64, len(h.hits))
	copy(hits, h.hits)
	return h.bounds, hits, h.sum, h.total
}

type kind uint8

const (
	kindCounter kind = iota
	kindGauge
	kindHistogram
)

func (k kind) String() string {
	switch k {
	case kindGauge:
		return "gauge"
	case kindHistogram:
		return "histogram"
	default:
		return "counter"
	}
}

// series is one rendered line (or line group, for histograms): a full
// metric name including its labels, plus the matching instrument.
type series struct {
	name string
	c    *Counter
	g    *Gauge
	h    *Histogram
}

// family groups every labelled series that shares a base name, so HELP and
// TYPE headers are emitted once per base.
type family struct {
	base   string
	help   string
	kind   kind
	series []*series
	byName map[string]*series
}

// Registry holds named metrics and renders them in the Prometheus text
// exposition format. All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	families map[string]*family
	ordered  []*family
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{families: make(map[string]*family)}
}

// family returns the family for base, creating and ordering it on first
// sight. The first non-empty help wins.
func (r *Registry) family(base string, k kind, help string) *family {
	fam, ok := r.families[base]
	if !ok {
		fam = &family{base: base, kind: k, byName: make(map[string]*series)}
		r.families[base] = fam
		r.ordered = append(r.ordered, fam)
	}
	if fam.help == "" {
		fam.help = help
	}
	return fam
}

// Counter returns the counter registered under name, creating it if needed.
// name may carry labels from WithLabels. Reusing a base name with a
// different metric kind yields a detached instrument that is never rendered.
func (r *Registry) Counter(name, help string) *Counter {
	base, _ := splitName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	fam := r.family(base, kindCounter, help)
	if fam.kind != kindCounter {
		return &Counter{}
	}
	if s, ok := fam.byName[name]; ok {
		return s.c
	}
	s := &series{name: name, c: &Counter{}}
	fam.byName[name] = s
	fam.series = append(fam.series, s)
	return s.c
}

// Gauge returns the gauge registered under name, creating it if needed.
func (r *Registry) Gauge(name, help string) *Gauge {
	base, _ := splitName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	fam := r.family(base, kindGauge, help)
	if fam.kind != kindGauge {
		return &Gauge{}
	}
	if s, ok := fam.byName[name]; ok {
		return s.g
	}
	s := &series{name: name, g: &Gauge{}}
	fam.byName[name] = s
	fam.series = append(fam.series, s)
	return s.g
}

// Histogram returns the histogram registered under name, creating it with
// the given buckets if needed. nil buckets means DefaultBuckets.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	base, _ := splitName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	fam := r.family(base, kindHistogram, help)
	if fam.kind != kindHistogram {
		return newHistogram(buckets)
	}
	if s, ok := fam.byName[name]; ok {
		return s.h
	}
	s := &series{name: name, h: newHistogram(buckets)}
	fam.byName[name] = s
	fam.series = append(fam.series, s)
	return s.h
}

// WithLabels bakes label pairs into a metric name:
// WithLabels("hits_total", "path", "/x") returns `hits_total{path="/x"}`.
// An odd number of arguments leaves the name unchanged.
func WithLabels(name string, kvs ...string) string {
	if len(kvs) == 0 || len(kvs)%2 != 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i := 0; i < len(kvs); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(kvs[i])
		b.WriteString(`="`)
		b.WriteString(kvs[i+1])
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}

// splitName separates a metric name into its base and the raw label list,
// so `foo{k="v"}` becomes ("foo", `k="v"`).
func splitName(name string) (base, labels string) {
	i := strings.IndexByte(name, '{')
	if i == -1 {
		return name, ""
	}
	return name[:i], strings.TrimSuffix(name[i+1:], "}")
}

// Render produces the text exposition format: families in registration
// order, series within a family in lexical order.
func (r *Registry) Render() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, fam := range r.ordered {
		if fam.help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", fam.base, fam.help)
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", fam.base, fam.kind)

		rows := make([]*series, len(fam.series))
		copy(rows, fam.series)
		sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })

		for _, s := range rows {
			switch fam.kind {
			case kindCounter:
				fmt.Fprintf(&b, "%s %d\n", s.name, s.c.Value())
			case kindGauge:
				fmt.Fprintf(&b, "%s %d\n", s.name, s.g.Value())
			case kindHistogram:
				renderHistogram(&b, fam.base, s)
			}
		}
	}
	return b.String()
}

func renderHistogram(b *strings.Builder, base string, s *series) {
	bounds, hits, sum, total := s.h.snapshot()
	_, labels := splitName(s.name)

	extra := ""
	if labels != "" {
		extra = "," + labels
	}
	var cum uint64
	for i, bound := range bounds {
		cum += hits[i]
		fmt.Fprintf(b, "%s_bucket{le=\"%s\"%s} %d\n", base, strconv.FormatFloat(bound, 'g', -1, 64), extra, cum)
	}
	fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"%s} %d\n", base, extra, total)

	wrap := ""
	if labels != "" {
		wrap = "{" + labels + "}"
	}
	fmt.Fprintf(b, "%s_sum%s %g\n", base, wrap, sum)
	fmt.Fprintf(b, "%s_count%s %d\n", base, wrap, total)
}

// Handler serves the registry in scrape form.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(r.Render()))
	})
}

// Serve blocks serving /metrics on the given port.
func (r *Registry) Serve(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok\n"))
	})
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}

// ServeAsync starts Serve in a goroutine and logs a failure to bind.
func (r *Registry) ServeAsync(port int) {
	go func() {
		if err := r.Serve(port); err != nil {
			slog.Error("metrics server failed", "port", port, "error", err)
		}
	}()
}
