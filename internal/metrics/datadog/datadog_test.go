package datadog

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"tabload/internal/metrics"
)

type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(_ context.Context, body datadogV2.MetricPayload, _ ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() datadogV2.MetricPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}
	}
	return f.payloads[len(f.payloads)-1]
}

// manualTicks hands the backend a channel the test drives.
type manualTicks struct {
	c       chan time.Time
	stopped chan struct{}
}

func newManualTicks() *manualTicks {
	return &manualTicks{c: make(chan time.Time), stopped: make(chan struct{})}
}

func (m *manualTicks) fn(time.Duration) (<-chan time.Time, func()) {
	return m.c, func() { close(m.stopped) }
}

func newTestBackend(t *testing.T, fs *fakeSubmitter, opts Options) (*Backend, *manualTicks) {
	t.Helper()
	m := newManualTicks()
	opts.submitter = fs
	opts.now = func() time.Time { return time.Unix(1700000000, 0) }
	opts.ticks = m.fn
	b, err := NewBackend(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	return b, m
}

// byName indexes a payload by "metric|tag,tag".
func byName(p datadogV2.MetricPayload) map[string]float64 {
	out := map[string]float64{}
	for _, s := range p.Series {
		var tags []string
		for _, tg := range s.Tags {
			if strings.HasPrefix(tg, "env:") || strings.HasPrefix(tg, "job:") {
				continue
			}
			tags = append(tags, tg)
		}
		out[s.Metric+"|"+strings.Join(tags, ",")] = s.Points[0].GetValue()
	}
	return out
}

func TestNewBackendDefaults(t *testing.T) {
	t.Setenv("DD_ENV", "")
	t.Setenv("ENV", "")

	b, _ := newTestBackend(t, &fakeSubmitter{}, Options{Tags: []string{"team:data"}})
	defer b.Close()

	if got := strings.Join(b.baseTags, ","); got != "env:unknown,job:tabload,team:data" {
		t.Fatalf("baseTags=%s", got)
	}
	if b.every != DefaultFlushEvery {
		t.Fatalf("every=%s", b.every)
	}
}

func TestEnvTagPrecedence(t *testing.T) {
	tests := []struct {
		ddEnv, env, want string
	}{
		{"prod", "dev", "env:prod"},
		{"  ", "dev", "env:dev"},
		{"", "", "env:unknown"},
	}
	for _, tc := range tests {
		t.Setenv("DD_ENV", tc.ddEnv)
		t.Setenv("ENV", tc.env)
		if got := envTag(); got != tc.want {
			t.Fatalf("DD_ENV=%q ENV=%q: got %q want %q", tc.ddEnv, tc.env, got, tc.want)
		}
	}
}

func TestNewBackendRequiresAPIKey(t *testing.T) {
	t.Setenv("DD_API_KEY", "")
	_, err := NewBackend(context.Background(), Options{})
	if err == nil || !strings.Contains(err.Error(), "DD_API_KEY") {
		t.Fatalf("err=%v", err)
	}
	if _, err := NewBackend(nil, Options{submitter: &fakeSubmitter{}}); err == nil {
		t.Fatalf("nil context accepted")
	}
}

func TestFlushAggregatesPerSeries(t *testing.T) {
	fs := &fakeSubmitter{}
	b, _ := newTestBackend(t, fs, Options{JobName: "orders"})
	defer b.Close()

	metrics.RecordRows(b, metrics.KindStaged, 3)
	metrics.RecordRows(b, metrics.KindStaged, 4)
	metrics.RecordRows(b, metrics.KindRowError, 1)
	metrics.RecordBatch(b)
	metrics.RecordBatch(b)
	metrics.RecordStep(b, "stage", "ok", 500*time.Millisecond)
	metrics.RecordStep(b, "stage", "ok", 1500*time.Millisecond)
	metrics.RecordFile(b, "succeeded", 2*time.Second)
	b.IncCounter(metrics.FilesTotal, 1, nil)
	b.IncCounter("not_a_metric", 1, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submissions=%d", fs.count())
	}

	got := byName(fs.last())
	want := []struct {
		series string
		value  float64
	}{
		{"tabload.records.total|kind:staged", 7},
		{"tabload.records.total|kind:row_error", 1},
		{"tabload.batches.total|", 2},
		{"tabload.step.total|status:ok,step:stage", 2},
		{"tabload.step.duration_seconds.p50|status:ok,step:stage", 0.5},
		{"tabload.step.duration_seconds.max|status:ok,step:stage", 1.5},
		{"tabload.step.duration_seconds.samples|status:ok,step:stage", 2},
		{"tabload.files.total|status:succeeded", 1},
		{"tabload.files.total|status:unknown", 1},
		{"tabload.file.duration_seconds.p99|status:succeeded", 2},
	}
	for _, w := range want {
		if got[w.series] != w.value {
			t.Fatalf("%s=%v want %v (payload %v)", w.series, got[w.series], w.value, got)
		}
	}
	for k := range got {
		if strings.HasPrefix(k, "not_a_metric") {
			t.Fatalf("unknown metric submitted: %s", k)
		}
	}

	// the aggregate was reset
	if err := b.Flush(); err != nil || fs.count() != 1 {
		t.Fatalf("second flush err=%v submissions=%d", err, fs.count())
	}
}

func TestSeriesAreOrderedAndTagged(t *testing.T) {
	fs := &fakeSubmitter{}
	b, _ := newTestBackend(t, fs, Options{JobName: "orders", Tags: []string{"team:data"}})
	defer b.Close()

	metrics.RecordRows(b, metrics.KindTransferred, 1)
	metrics.RecordBatch(b)
	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}
	s := fs.last().Series
	if len(s) != 2 || s[0].Metric != "tabload.batches.total" || s[1].Metric != "tabload.records.total" {
		t.Fatalf("series=%v", s)
	}
	tags := strings.Join(s[1].Tags, ",")
	if !strings.HasSuffix(tags, "job:orders,team:data,kind:transferred") {
		t.Fatalf("tags=%s", tags)
	}
	if s[1].GetType() != datadogV2.METRICINTAKETYPE_COUNT || *s[1].Points[0].Timestamp != 1700000000 {
		t.Fatalf("type=%v point=%v", s[1].GetType(), s[1].Points[0])
	}
}

func TestFlushErrorStillResets(t *testing.T) {
	fs := &fakeSubmitter{err: errors.New("intake unavailable")}
	b, _ := newTestBackend(t, fs, Options{})
	defer b.Close()

	metrics.RecordBatch(b)
	if err := b.Flush(); err == nil || !strings.Contains(err.Error(), "intake unavailable") {
		t.Fatalf("err=%v", err)
	}
	fs.err = nil
	if err := b.Flush(); err != nil || fs.count() != 1 {
		t.Fatalf("err=%v submissions=%d", err, fs.count())
	}
}

func TestIgnoredObservations(t *testing.T) {
	fs := &fakeSubmitter{}
	b, _ := newTestBackend(t, fs, Options{})
	defer b.Close()

	b.IncCounter(metrics.BatchesTotal, 0, nil)
	b.IncCounter(metrics.BatchesTotal, -1, nil)
	b.ObserveHistogram(metrics.FileDurationSeconds, -0.1, nil)
	metrics.RecordRows(b, metrics.KindRead, 0)

	if err := b.Flush(); err != nil || fs.count() != 0 {
		t.Fatalf("err=%v submissions=%d", err, fs.count())
	}
}

func TestTickFlushesAndCloseFlushesAgain(t *testing.T) {
	fs := &fakeSubmitter{}
	b, m := newTestBackend(t, fs, Options{})

	metrics.RecordBatch(b)
	m.c <- time.Now() // received by the loop, which then flushes
	metrics.RecordBatch(b)
	m.c <- time.Now() // the first flush completed before this send was received

	if fs.count() < 1 {
		t.Fatalf("no submission after ticks")
	}

	metrics.RecordBatch(b)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-m.stopped:
	default:
		t.Fatalf("ticker not stopped on Close")
	}
	if n := fs.count(); n < 2 {
		t.Fatalf("submissions=%d, want >= 2", n)
	}

	// second Close only flushes
	metrics.RecordBatch(b)
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestConcurrentObservations(t *testing.T) {
	fs := &fakeSubmitter{}
	b, _ := newTestBackend(t, fs, Options{})
	defer b.Close()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				metrics.RecordRows(b, metrics.KindStaged, 1)
				metrics.RecordFile(b, "succeeded", time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}
	got := byName(fs.last())
	if got["tabload.records.total|kind:staged"] != 800 || got["tabload.file.duration_seconds.samples|status:succeeded"] != 800 {
		t.Fatalf("payload=%v", got)
	}
}

func TestNearestRank(t *testing.T) {
	s := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	tests := []struct {
		q    float64
		want float64
	}{
		{0, 1},
		{0.5, 5},
		{0.9, 9},
		{0.95, 10},
		{1, 10},
	}
	for _, tc := range tests {
		if got := nearestRank(s, tc.q); got != tc.want {
			t.Fatalf("q=%v got %v want %v", tc.q, got, tc.want)
		}
	}
	if got := nearestRank([]float64{42}, 0.99); got != 42 {
		t.Fatalf("single sample: %v", got)
	}
}

func TestParseTagsCSV(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"env:prod", "env:prod"},
		{" team:data , ,region:eu", "team:data|region:eu"},
	}
	for _, tc := range tests {
		if got := strings.Join(ParseTagsCSV(tc.in), "|"); got != tc.want {
			t.Fatalf("ParseTagsCSV(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}
