package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MarcoPoloResearchLab/habituals/internal/offlinequeue"
)

func TestRecordFunctionCountsAndLogs(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	registry := New(zap.New(core))

	registry.RecordFunction(FunctionSample{
		Function:  "claim",
		RequestID: "req-1",
		Status:    409,
		Duration:  25 * time.Millisecond,
		ErrorCode: "cap_exceeded",
		SLOTag:    "claim",
	})

	if value := counterValue(t, registry, "habituals_function_requests_total", map[string]string{"function": "claim", "status_code": "409", "error_code": "cap_exceeded"}); value != 1 {
		t.Fatalf("expected one counted request, got %v", value)
	}

	entries := logs.FilterMessage("function metrics").All()
	if len(entries) != 1 {
		t.Fatalf("expected one metrics log line, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["function_name"] != "claim" || fields["request_id"] != "req-1" || fields["duration_ms"] != int64(25) {
		t.Fatalf("unexpected log fields %+v", fields)
	}
}

func TestObserveQueueAndHandler(t *testing.T) {
	registry := New(nil)
	registry.ObserveQueue(offlinequeue.KindMarkDone, offlinequeue.OutcomeDelivered)
	registry.ObserveQueue(offlinequeue.KindMarkDone, offlinequeue.OutcomeDelivered)

	if value := counterValue(t, registry, "habituals_queue_operations_total", map[string]string{"kind": "markDone", "outcome": "delivered"}); value != 2 {
		t.Fatalf("expected two delivered ops, got %v", value)
	}

	server := httptest.NewServer(registry.Handler())
	defer server.Close()
	response, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer response.Body.Close()
	body, _ := io.ReadAll(response.Body)
	if !strings.Contains(string(body), "habituals_queue_operations_total") {
		t.Fatalf("exposition missing queue counter")
	}
}

func counterValue(t *testing.T, registry *Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := 0
			for _, pair := range metric.GetLabel() {
				if labels[pair.GetName()] == pair.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestWriteTextfileIncludesQueueCounters(t *testing.T) {
	registry := New(nil)
	registry.ObserveQueue(offlinequeue.KindUndoEvent, offlinequeue.OutcomeRetried)

	path := filepath.Join(t.TempDir(), "habituals_sync.prom")
	if err := registry.WriteTextfile(path); err != nil {
		t.Fatalf("write textfile: %v", err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(body), `habituals_queue_operations_total{kind="undoEvent",outcome="retried"} 1`) {
		t.Fatalf("expected queue counter in textfile, got %s", body)
	}
}
