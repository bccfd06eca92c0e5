package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type memStore struct {
	values map[string]map[string]map[string]float64
}

func newMemStore() *memStore {
	return &memStore{values: map[string]map[string]map[string]float64{}}
}

func (s *memStore) SaveMetric(ctx context.Context, name string, v float64) error {
	return s.SaveMetricWithLabels(ctx, name, "", "", v)
}

func (s *memStore) GetMetric(_ context.Context, name string) (float64, error) {
	return s.values[name][""][""], nil
}

func (s *memStore) SaveMetricWithLabels(_ context.Context, name, k, v string, value float64) error {
	if s.values[name] == nil {
		s.values[name] = map[string]map[string]float64{}
	}
	if s.values[name][k] == nil {
		s.values[name][k] = map[string]float64{}
	}
	s.values[name][k][v] = value
	return nil
}

func (s *memStore) GetMetricsWithLabels(_ context.Context, name string) (map[string]map[string]float64, error) {
	out := map[string]map[string]float64{}
	for k, byValue := range s.values[name] {
		if k == "" {
			continue
		}
		out[k] = byValue
	}
	return out, nil
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	m := New()
	m.Passes.WithLabelValues("routine", "ok").Add(3)
	m.Passes.WithLabelValues("digest", "skipped").Inc()
	m.GateDecisions.WithLabelValues("fired").Add(5)
	m.AnalyzerCalls.WithLabelValues("gpt-4o", "fallback").Inc()
	m.MessagesSent.Add(12)
	m.Instruments.Set(7)
	m.Save(ctx, store)

	restored := New()
	restored.Load(ctx, store)

	if v := testutil.ToFloat64(restored.Passes.WithLabelValues("routine", "ok")); v != 3 {
		t.Errorf("passes routine/ok = %v", v)
	}
	if v := testutil.ToFloat64(restored.Passes.WithLabelValues("digest", "skipped")); v != 1 {
		t.Errorf("passes digest/skipped = %v", v)
	}
	if v := testutil.ToFloat64(restored.GateDecisions.WithLabelValues("fired")); v != 5 {
		t.Errorf("gate fired = %v", v)
	}
	if v := testutil.ToFloat64(restored.AnalyzerCalls.WithLabelValues("gpt-4o", "fallback")); v != 1 {
		t.Errorf("analyzer = %v", v)
	}
	if v := testutil.ToFloat64(restored.MessagesSent); v != 12 {
		t.Errorf("messages = %v", v)
	}
	if v := testutil.ToFloat64(restored.Instruments); v != 7 {
		t.Errorf("instruments = %v", v)
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.Triggers.WithLabelValues("price_change").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), `market_oracle_pipeline_triggers_total{reason="price_change"} 1`) {
		t.Errorf("metrics output missing trigger counter:\n%s", rec.Body.String())
	}
}
