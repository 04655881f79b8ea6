package statussync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbragio/kbrag/internal/conf"
	"github.com/kbragio/kbrag/internal/model"
)

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestClient_Sync_SkipsNonMilestoneStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(conf.StatusSyncConfig{
		Enabled: true, Timeout: time.Second, RetryAttempts: 1, RetryDelay: time.Millisecond,
		QueueCapacity: 10, Workers: 1,
	}, func(string) string { return srv.URL })

	c.Sync(context.Background(), "doc-1", model.StatusConverting, "req-1")
	time.Sleep(30 * time.Millisecond)

	if calls.Load() != 0 {
		t.Errorf("backend called %d times for a non-milestone status, want 0", calls.Load())
	}
}

func TestClient_Sync_PostsMappedExternalStatus(t *testing.T) {
	var received map[string]string
	var mu atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		mu.Store(true)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(conf.StatusSyncConfig{
		Enabled: true, Timeout: time.Second, RetryAttempts: 1, RetryDelay: time.Millisecond,
		QueueCapacity: 10, Workers: 1,
	}, func(string) string { return srv.URL })

	c.Sync(context.Background(), "doc-1", model.StatusSplited, "req-1")

	waitForCondition(t, time.Second, mu.Load)
	if received["doc_id"] != "doc-1" || received["status"] != "fully_processed" || received["request_id"] != "req-1" {
		t.Errorf("posted payload = %v, want doc_id=doc-1 status=fully_processed request_id=req-1", received)
	}
}

func TestClient_Sync_DisabledNeverCallsBackend(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := New(conf.StatusSyncConfig{
		Enabled: false, Timeout: time.Second, RetryAttempts: 1, RetryDelay: time.Millisecond,
		QueueCapacity: 10, Workers: 1,
	}, func(string) string { return srv.URL })

	c.Sync(context.Background(), "doc-1", model.StatusSplited, "req-1")
	time.Sleep(30 * time.Millisecond)

	if calls.Load() != 0 {
		t.Errorf("backend called %d times while sync disabled, want 0", calls.Load())
	}
}

func TestClient_Sync_RetriesOnFailureThenGivesUpWithoutPanicking(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(conf.StatusSyncConfig{
		Enabled: true, Timeout: time.Second, RetryAttempts: 3, RetryDelay: time.Millisecond,
		QueueCapacity: 10, Workers: 1,
	}, func(string) string { return srv.URL })

	c.Sync(context.Background(), "doc-1", model.StatusSplitFailed, "req-1")

	waitForCondition(t, time.Second, func() bool { return calls.Load() == 3 })
}
