// Package datadog submits pipeline metrics to Datadog through the official
// API client.
//
// Observations are aggregated in memory per series (metric name plus tag
// set). A background loop submits and resets the aggregate every FlushEvery,
// and Close submits once more, so long runs show up as a time series instead
// of a single spike at exit. A process killed without Close loses the window
// that was not yet flushed.
package datadog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"tabload/internal/metrics"
)

// DefaultFlushEvery is used when Options.FlushEvery is not positive.
const DefaultFlushEvery = 60 * time.Second

// Options configures a Backend.
type Options struct {
	// JobName becomes tag "job:<name>"; "tabload" when empty.
	JobName string
	// Tags are extra tags added to every series ("team:data").
	Tags []string
	// FlushEvery is the submission period.
	FlushEvery time.Duration

	// test seams
	now       func() time.Time
	ticks     func(d time.Duration) (<-chan time.Time, func())
	submitter submitter
}

// submitter is the part of *datadogV2.MetricsApi the backend uses.
type submitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// def maps a metrics name to its Datadog name and the labels kept as tags.
type def struct {
	name   string
	labels []string
}

var defs = map[string]def{
	metrics.StepTotal:           {"tabload.step.total", []string{"step", "status"}},
	metrics.StepDurationSeconds: {"tabload.step.duration_seconds", []string{"step", "status"}},
	metrics.RecordsTotal:        {"tabload.records.total", []string{"kind"}},
	metrics.BatchesTotal:        {"tabload.batches.total", nil},
	metrics.FilesTotal:          {"tabload.files.total", []string{"status"}},
	metrics.FileDurationSeconds: {"tabload.file.duration_seconds", []string{"status"}},
}

// seriesKey identifies one aggregated series. tags is the sorted label tag
// list joined by commas.
type seriesKey struct {
	metric string
	tags   string
}

// Backend implements metrics.Backend and metrics.Flusher.
type Backend struct {
	api      submitter
	ctx      context.Context
	baseTags []string
	now      func() time.Time
	every    time.Duration

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	counts  map[seriesKey]float64
	samples map[seriesKey][]float64
}

var (
	_ metrics.Backend = (*Backend)(nil)
	_ metrics.Flusher = (*Backend)(nil)
)

// NewBackend starts a backend. Credentials come from DD_API_KEY (and
// optionally DD_APP_KEY, DD_SITE) via dd.NewDefaultContext; a missing API key
// is an init error so callers can fall back to another backend.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	if parent == nil {
		return nil, initErr(errors.New("nil context"))
	}

	api := opts.submitter
	if api == nil {
		if strings.TrimSpace(os.Getenv("DD_API_KEY")) == "" {
			return nil, initErr(errors.New("DD_API_KEY is not set"))
		}
		api = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	job := opts.JobName
	if job == "" {
		job = "tabload"
	}
	every := opts.FlushEvery
	if every <= 0 {
		every = DefaultFlushEvery
	}
	now := opts.now
	if now == nil {
		now = time.Now
	}
	ticks := opts.ticks
	if ticks == nil {
		ticks = func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		}
	}

	b := &Backend{
		api:      api,
		ctx:      dd.NewDefaultContext(parent),
		baseTags: append([]string{envTag(), "job:" + job}, opts.Tags...),
		now:      now,
		every:    every,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		counts:   map[seriesKey]float64{},
		samples:  map[seriesKey][]float64{},
	}

	c, stopTicks := ticks(every)
	go b.loop(c, stopTicks)
	return b, nil
}

// envTag prefers DD_ENV (unified service tagging), then ENV.
func envTag() string {
	for _, k := range []string{"DD_ENV", "ENV"} {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return "env:" + v
		}
	}
	return "env:unknown"
}

func (b *Backend) loop(c <-chan time.Time, stopTicks func()) {
	defer close(b.done)
	defer stopTicks()
	for {
		select {
		case <-c:
			_ = b.Flush()
		case <-b.stop:
			return
		}
	}
}

// Close stops the flush loop and submits what is buffered. Calling it again
// only flushes.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stop)
		<-b.done
	})
	return b.Flush()
}

// key resolves name and labels to a series. Unknown names are dropped;
// missing label values become "unknown".
func key(name string, labels metrics.Labels) (seriesKey, bool) {
	d, ok := defs[name]
	if !ok {
		return seriesKey{}, false
	}
	tags := make([]string, 0, len(d.labels))
	for _, l := range d.labels {
		v := labels[l]
		if v == "" {
			v = "unknown"
		}
		tags = append(tags, l+":"+v)
	}
	sort.Strings(tags)
	return seriesKey{metric: d.name, tags: strings.Join(tags, ",")}, true
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	k, ok := key(name, labels)
	if !ok {
		return
	}
	b.mu.Lock()
	b.counts[k] += delta
	b.mu.Unlock()
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || math.IsNaN(value) {
		return
	}
	k, ok := key(name, labels)
	if !ok {
		return
	}
	b.mu.Lock()
	b.samples[k] = append(b.samples[k], value)
	b.mu.Unlock()
}

// Flush submits and resets the aggregate. The aggregate is reset even when
// submission fails. Nothing is sent when nothing was observed.
func (b *Backend) Flush() error {
	b.mu.Lock()
	counts, samples := b.counts, b.samples
	b.counts, b.samples = map[seriesKey]float64{}, map[seriesKey][]float64{}
	b.mu.Unlock()

	if len(counts) == 0 && len(samples) == 0 {
		return nil
	}
	payload := datadogV2.MetricPayload{Series: b.series(counts, samples, b.now().Unix())}
	if _, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters()); err != nil {
		return fmt.Errorf("datadog submit: %w", err)
	}
	return nil
}

// quantiles are the gauges emitted per histogram series.
var quantiles = []struct {
	suffix string
	q      float64
}{
	{".p50", 0.50},
	{".p90", 0.90},
	{".p95", 0.95},
	{".p99", 0.99},
}

// series renders an aggregate as Datadog series ordered by metric then tags.
func (b *Backend) series(counts map[seriesKey]float64, samples map[seriesKey][]float64, ts int64) []datadogV2.MetricSeries {
	out := make([]datadogV2.MetricSeries, 0, len(counts)+6*len(samples))

	for _, k := range sortedKeys(counts) {
		out = append(out, point(k.metric, datadogV2.METRICINTAKETYPE_COUNT, counts[k], b.tags(k), ts))
	}
	for _, k := range sortedKeys(samples) {
		s := append([]float64(nil), samples[k]...)
		sort.Float64s(s)
		tags := b.tags(k)
		for _, q := range quantiles {
			out = append(out, point(k.metric+q.suffix, datadogV2.METRICINTAKETYPE_GAUGE, nearestRank(s, q.q), tags, ts))
		}
		out = append(out,
			point(k.metric+".max", datadogV2.METRICINTAKETYPE_GAUGE, s[len(s)-1], tags, ts),
			point(k.metric+".samples", datadogV2.METRICINTAKETYPE_GAUGE, float64(len(s)), tags, ts),
		)
	}
	return out
}

func (b *Backend) tags(k seriesKey) []string {
	out := append([]string(nil), b.baseTags...)
	if k.tags != "" {
		out = append(out, strings.Split(k.tags, ",")...)
	}
	return out
}

func sortedKeys[V any](m map[seriesKey]V) []seriesKey {
	keys := make([]seriesKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].metric != keys[j].metric {
			return keys[i].metric < keys[j].metric
		}
		return keys[i].tags < keys[j].tags
	})
	return keys
}

func point(metric string, typ datadogV2.MetricIntakeType, v float64, tags []string, ts int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{{Timestamp: dd.PtrInt64(ts), Value: dd.PtrFloat64(v)}},
		Tags:   tags,
	}
}

// nearestRank returns the q-quantile of sorted (non-empty) by the
// nearest-rank method.
func nearestRank(sorted []float64, q float64) float64 {
	i := int(math.Ceil(q*float64(len(sorted)))) - 1
	if i < 0 {
		i = 0
	}
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

// ParseTagsCSV splits "team:data, region:eu" into tags, dropping blanks.
func ParseTagsCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func initErr(err error) error {
	return fmt.Errorf("datadog metrics init: %w", err)
}
