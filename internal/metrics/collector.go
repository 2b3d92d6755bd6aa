// Package metrics keeps the pipeline counters and serves them in the
// Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

// Registry holds metric families. Series are created on first use and live
// for the life of the process.
type Registry struct {
	mu       sync.Mutex
	families map[string]*family
	start    time.Time
}

type family struct {
	name   string
	help   string
	kind   kind
	series map[string]sample // rendered label set -> sample
}

type sample interface {
	write(w io.Writer, name, labels string)
}

func NewRegistry() *Registry {
	return &Registry{families: make(map[string]*family), start: time.Now()}
}

func (r *Registry) Uptime() time.Duration { return time.Since(r.start) }

// labelString renders key/value pairs in the order given. An odd trailing
// key is ignored.
func labelString(kv []string) string {
	var sb strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(kv[i])
		sb.WriteByte('=')
		sb.WriteString(strconv.Quote(kv[i+1]))
	}
	return sb.String()
}

// series returns the sample for name and labels, building it with mk when
// it does not exist yet. Registering one name under two kinds panics.
func (r *Registry) series(name, help string, k kind, labels []string, mk func() sample) sample {
	ls := labelString(labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[name]
	if !ok {
		f = &family{name: name, help: help, kind: k, series: make(map[string]sample)}
		r.families[name] = f
	} else if f.kind != k {
		panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", name, f.kind, k))
	}
	s, ok := f.series[ls]
	if !ok {
		s = mk()
		f.series[ls] = s
	}
	return s
}

type Counter struct{ v atomic.Int64 }

func (c *Counter) Inc()         { c.v.Add(1) }
func (c *Counter) Add(n int64)  { c.v.Add(n) }
func (c *Counter) Value() int64 { return c.v.Load() }

func (c *Counter) write(w io.Writer, name, labels string) { writeLine(w, name, labels, c.Value()) }

type Gauge struct{ v atomic.Int64 }

func (g *Gauge) Set(n int64)  { g.v.Store(n) }
func (g *Gauge) Inc()         { g.v.Add(1) }
func (g *Gauge) Dec()         { g.v.Add(-1) }
func (g *Gauge) Value() int64 { return g.v.Load() }

func (g *Gauge) write(w io.Writer, name, labels string) { writeLine(w, name, labels, g.Value()) }

// Histogram keeps cumulative bucket counts.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []int64
	count  int64
	sum    float64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.bounds {
		if v <= b {
			h.counts[i]++
		}
	}
}

func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) write(w io.Writer, name, labels string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	withLE := func(le string) string {
		if labels == "" {
			return `le="` + le + `"`
		}
		return labels + `,le="` + le + `"`
	}
	for i, b := range h.bounds {
		writeLine(w, name+"_bucket", withLE(strconv.FormatFloat(b, 'g', -1, 64)), h.counts[i])
	}
	writeLine(w, name+"_bucket", withLE("+Inf"), h.count)
	if labels == "" {
		fmt.Fprintf(w, "%s_sum %g\n", name, h.sum)
	} else {
		fmt.Fprintf(w, "%s_sum{%s} %g\n", name, labels, h.sum)
	}
	writeLine(w, name+"_count", labels, h.count)
}

// Counter returns the counter for name and the label pairs.
func (r *Registry) Counter(name, help string, labels ...string) *Counter {
	return r.series(name, help, kindCounter, labels, func() sample { return &Counter{} }).(*Counter)
}

func (r *Registry) Gauge(name, help string, labels ...string) *Gauge {
	return r.series(name, help, kindGauge, labels, func() sample { return &Gauge{} }).(*Gauge)
}

// Histogram returns the histogram for name. Bounds are only read when the
// series is first created; +Inf is implied.
func (r *Registry) Histogram(name, help string, bounds []float64, labels ...string) *Histogram {
	return r.series(name, help, kindHistogram, labels, func() sample {
		bs := make([]float64, 0, len(bounds))
		for _, b := range bounds {
			if !math.IsInf(b, 1) {
				bs = append(bs, b)
			}
		}
		sort.Float64s(bs)
		return &Histogram{bounds: bs, counts: make([]int64, len(bs))}
	}).(*Histogram)
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WriteTo(w)
	}
}

// WriteTo writes every family sorted by name, series sorted by labels.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	fmt.Fprintf(cw, "# HELP salesbot_uptime_seconds Seconds since the process started\n# TYPE salesbot_uptime_seconds gauge\nsalesbot_uptime_seconds %d\n",
		int64(r.Uptime().Seconds()))

	r.mu.Lock()
	names := make([]string, 0, len(r.families))
	for n := range r.families {
		names = append(names, n)
	}
	sort.Strings(names)
	type row struct {
		labels string
		s      sample
	}
	snapshot := make([][]row, len(names))
	fams := make([]*family, len(names))
	for i, n := range names {
		f := r.families[n]
		fams[i] = f
		for ls, s := range f.series {
			snapshot[i] = append(snapshot[i], row{ls, s})
		}
		sort.Slice(snapshot[i], func(a, b int) bool { return snapshot[i][a].labels < snapshot[i][b].labels })
	}
	r.mu.Unlock()

	for i, f := range fams {
		fmt.Fprintf(cw, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind)
		for _, rw := range snapshot[i] {
			rw.s.write(cw, f.name, rw.labels)
		}
	}
	return cw.n, cw.err
}

// Render returns the exposition text.
func (r *Registry) Render() string {
	var sb strings.Builder
	r.WriteTo(&sb)
	return sb.String()
}

func writeLine(w io.Writer, name, labels string, v int64) {
	if labels == "" {
		fmt.Fprintf(w, "%s %d\n", name, v)
		return
	}
	fmt.Fprintf(w, "%s{%s} %d\n", name, labels, v)
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}
