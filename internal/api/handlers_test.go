package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	stdsync "sync"
	"testing"
	"time"

	"github.com/hyperengineering/watchsync/internal/model"
	"github.com/hyperengineering/watchsync/internal/remote"
	"github.com/hyperengineering/watchsync/internal/sync"
)

type fakeStore struct {
	mu        stdsync.Mutex
	graph     *model.Collections
	lastSync  *time.Time
	exclusive chan struct{}
}

func newFakeStore(lists ...model.List) *fakeStore {
	return &fakeStore{graph: model.Flatten(lists), exclusive: make(chan struct{}, 1)}
}

func (f *fakeStore) ReplicaID(ctx context.Context) (string, error) { return "replica-a", nil }

func (f *fakeStore) LastSyncAt(ctx context.Context) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSync, nil
}

func (f *fakeStore) SetLastSyncAt(ctx context.Context, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSync = &t
	return nil
}

func (f *fakeStore) PresentKinds(ctx context.Context) ([]model.Kind, error) {
	return model.Kinds, nil
}

func (f *fakeStore) ReadGraph(ctx context.Context) (*model.Collections, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.graph, nil
}

func (f *fakeStore) ReplaceGraph(ctx context.Context, c *model.Collections) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.graph = c
	return nil
}

func (f *fakeStore) AcquireExclusive(ctx context.Context) (func(), error) {
	select {
	case f.exclusive <- struct{}{}:
		return func() { <-f.exclusive }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeStore) Close() error { return nil }

func newTestServer(t *testing.T, local *fakeStore, cfg sync.Config) *httptest.Server {
	t.Helper()
	orch := sync.New(local, remote.NewMemoryStore(), cfg)
	srv := httptest.NewServer(NewRouter(NewHandler(orch, local, "test")))
	t.Cleanup(srv.Close)
	return srv
}

func fastConfig() sync.Config {
	return sync.Config{
		FetchRetries: 1,
		FetchBackoff: time.Millisecond,
		MinInterval:  time.Nanosecond,
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, newFakeStore(), fastConfig())

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "healthy" || body.ReplicaID != "replica-a" {
		t.Errorf("body = %+v", body)
	}
	if body.LastSyncAt != nil {
		t.Error("never-synced replica should omit last sync time")
	}
}

func TestStatus_IdleBeforeFirstSync(t *testing.T) {
	srv := newTestServer(t, newFakeStore(), fastConfig())

	resp, err := http.Get(srv.URL + "/api/v1/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var st sync.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.State != sync.StateIdle {
		t.Errorf("state = %q, want idle", st.State)
	}
	if st.ReadOnly {
		t.Error("fresh replica should not be read-only")
	}
}

func TestTriggerSync(t *testing.T) {
	srv := newTestServer(t, newFakeStore(), fastConfig())

	resp, err := http.Post(srv.URL+"/api/v1/sync", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var st sync.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.LastSyncAt == nil {
		t.Error("successful sync should stamp last sync time")
	}
}

func TestTriggerSync_ThrottledIsTooManyRequests(t *testing.T) {
	cfg := fastConfig()
	cfg.MinInterval = time.Hour
	srv := newTestServer(t, newFakeStore(), cfg)

	first, err := http.Post(srv.URL+"/api/v1/sync", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first sync status = %d", first.StatusCode)
	}

	second, err := http.Post(srv.URL+"/api/v1/sync", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("throttled sync status = %d, want 429", second.StatusCode)
	}
	if ct := second.Header.Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("content type = %q, want application/problem+json", ct)
	}

	var p Problem
	if err := json.NewDecoder(second.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.Status != http.StatusTooManyRequests || p.Instance != "/api/v1/sync" {
		t.Errorf("problem = %+v", p)
	}

	// force=true bypasses the throttle.
	forced, err := http.Post(srv.URL+"/api/v1/sync?force=true", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	forced.Body.Close()
	if forced.StatusCode != http.StatusOK {
		t.Errorf("forced sync status = %d, want 200", forced.StatusCode)
	}
}

func TestDiagnostics_ReturnsEvents(t *testing.T) {
	srv := newTestServer(t, newFakeStore(), fastConfig())

	// One cycle to populate the ring.
	resp, err := http.Post(srv.URL+"/api/v1/sync", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	diag, err := http.Get(srv.URL + "/api/v1/diagnostics")
	if err != nil {
		t.Fatal(err)
	}
	defer diag.Body.Close()

	var events []sync.Event
	if err := json.NewDecoder(diag.Body).Decode(&events); err != nil {
		t.Fatal(err)
	}
	if len(events) == 0 {
		t.Error("sync cycle should leave diagnostics events")
	}
}
