// Package sync runs the replica's sync cycle against the shared remote
// snapshot: fetch, merge with local state, apply locally, publish back.
// One cycle is single-flight; overlapping triggers are refused rather
// than queued. Local apply always precedes publish, so a replica that
// loses write access degrades to read-only consumption instead of
// failing the cycle.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/hyperengineering/watchsync/internal/integrity"
	"github.com/hyperengineering/watchsync/internal/merge"
	"github.com/hyperengineering/watchsync/internal/model"
	"github.com/hyperengineering/watchsync/internal/remote"
	"github.com/hyperengineering/watchsync/internal/snapshot"
	"github.com/hyperengineering/watchsync/internal/store"
)

// State names the phase a sync cycle is in.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateMerging    State = "merging"
	StateApplying   State = "applying"
	StatePublishing State = "publishing"
	StateError      State = "error"
)

var (
	// ErrSyncInFlight: a cycle is already running.
	ErrSyncInFlight = errors.New("sync already in flight")

	// ErrThrottled: the previous cycle finished too recently. Forced
	// syncs bypass the throttle.
	ErrThrottled = errors.New("sync attempted too soon after previous cycle")
)

// Status is the orchestrator's externally visible condition.
type Status struct {
	State      State      `json:"state"`
	ReadOnly   bool       `json:"read_only"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// Config tunes one orchestrator.
type Config struct {
	// ObjectKey is the remote key the shared snapshot lives under.
	ObjectKey string

	// MinInterval throttles back-to-back cycles. Zero disables.
	MinInterval time.Duration

	// FetchRetries bounds the extra fetch attempts made while the remote
	// object is absent or unreachable; a new shared object may take a
	// moment to become visible after another replica creates it.
	FetchRetries uint64

	// FetchBackoff is the base of the exponential fetch backoff.
	FetchBackoff time.Duration

	// PublishRetries bounds the re-fetch-and-merge rounds after a
	// conditional publish loses a race.
	PublishRetries int

	// DiagnosticsSize is the event ring capacity.
	DiagnosticsSize int
}

func (c Config) withDefaults() Config {
	if c.ObjectKey == "" {
		c.ObjectKey = "shared/watchlist.json"
	}
	if c.MinInterval == 0 {
		c.MinInterval = 30 * time.Second
	}
	if c.FetchRetries == 0 {
		c.FetchRetries = 3
	}
	if c.FetchBackoff == 0 {
		c.FetchBackoff = 500 * time.Millisecond
	}
	if c.PublishRetries == 0 {
		c.PublishRetries = 3
	}
	if c.DiagnosticsSize == 0 {
		c.DiagnosticsSize = 64
	}
	return c
}

// Orchestrator drives sync cycles between the local store and the remote
// snapshot object.
type Orchestrator struct {
	local  store.Store
	remote remote.Store
	cfg    Config
	now    func() time.Time

	inFlight stdsync.Mutex

	mu          stdsync.Mutex
	state       State
	readOnly    bool
	lastErr     string
	lastAttempt time.Time
	lastSync    *time.Time

	diag *ring
}

// New creates an orchestrator. Zero-valued Config fields get defaults.
func New(local store.Store, rem remote.Store, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		local:  local,
		remote: rem,
		cfg:    cfg,
		now:    time.Now,
		state:  StateIdle,
		diag:   newRing(cfg.DiagnosticsSize),
	}
}

// Status reports the current phase, read-only condition, and last outcome.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		State:      o.state,
		ReadOnly:   o.readOnly,
		LastSyncAt: o.lastSync,
		LastError:  o.lastErr,
	}
}

// Diagnostics returns the buffered diagnostics events, oldest first.
func (o *Orchestrator) Diagnostics() []Event {
	return o.diag.snapshot()
}

// Sync runs one full cycle. Only one cycle runs at a time; a concurrent
// call returns ErrSyncInFlight immediately. Unforced cycles within
// MinInterval of the previous attempt return ErrThrottled.
func (o *Orchestrator) Sync(ctx context.Context, force bool) error {
	if !o.inFlight.TryLock() {
		return ErrSyncInFlight
	}
	defer o.inFlight.Unlock()

	o.mu.Lock()
	if !force && !o.lastAttempt.IsZero() && o.now().Sub(o.lastAttempt) < o.cfg.MinInterval {
		o.mu.Unlock()
		return ErrThrottled
	}
	o.lastAttempt = o.now()
	o.mu.Unlock()

	err := o.cycle(ctx)

	o.mu.Lock()
	if err != nil {
		o.state = StateError
		o.lastErr = err.Error()
	} else {
		o.state = StateIdle
		o.lastErr = ""
	}
	o.mu.Unlock()

	if err != nil {
		o.record("cycle", "error", err.Error())
		slog.Error("sync cycle failed",
			"component", "sync",
			"action", "cycle_failed",
			"error", err,
		)
	}
	return err
}

func (o *Orchestrator) cycle(ctx context.Context) error {
	replica, err := o.local.ReplicaID(ctx)
	if err != nil {
		return fmt.Errorf("resolve replica id: %w", err)
	}

	o.setState(StateFetching)
	rec, err := o.fetchRemote(ctx)
	if err != nil {
		return err
	}

	// Hold the exclusive window across read, merge, and apply so local
	// writes cannot interleave with a cycle and get silently dropped.
	release, err := o.local.AcquireExclusive(ctx)
	if err != nil {
		return fmt.Errorf("acquire local store: %w", err)
	}
	defer release()

	localSnap, err := o.loadLocal(ctx, replica)
	if err != nil {
		return err
	}

	var remoteSnap *snapshot.Snapshot
	if rec == nil {
		// Nothing published yet. Apply the normalized local state and
		// create the shared object.
		o.setState(StateApplying)
		if err := o.apply(ctx, localSnap); err != nil {
			return err
		}
		rec, remoteSnap, err = o.initialPublish(ctx, localSnap, replica)
		if err != nil || remoteSnap == nil {
			return err
		}
		// Lost the create race: rec and remoteSnap now carry the other
		// replica's object and the cycle continues as a normal merge.
	} else {
		remoteSnap, err = snapshot.Decode(rec.Payload)
		if err != nil {
			return fmt.Errorf("decode remote snapshot: %w", err)
		}
	}

	scanner := integrity.NewScanner(replica)
	for attempt := 0; ; attempt++ {
		o.setState(StateMerging)
		merged := merge.Merge(localSnap, remoteSnap, o.now().UTC(), replica)
		lists, report, err := scanner.RepairTree(merged.Lists)
		if err != nil {
			return fmt.Errorf("merged snapshot integrity: %w", err)
		}
		if !report.Clean() {
			o.record("merge", "warning", report.Summary())
		}
		merged = snapshot.New(lists, merged.ProducedAt, replica)

		o.setState(StateApplying)
		if err := o.apply(ctx, merged); err != nil {
			return err
		}

		if snapshot.Equivalent(merged, remoteSnap) {
			o.record("publish", "info", "remote already reflects merged state, publish skipped")
			return o.finish(ctx)
		}

		o.setState(StatePublishing)
		payload, err := snapshot.Encode(merged)
		if err != nil {
			return fmt.Errorf("encode merged snapshot: %w", err)
		}
		_, err = o.remote.Put(ctx, o.cfg.ObjectKey, payload, replica, rec.Version)
		switch {
		case err == nil:
			o.setReadOnly(false)
			o.record("publish", "info", "merged snapshot published")
			return o.finish(ctx)

		case errors.Is(err, remote.ErrPermissionDenied):
			// The merged state is already applied locally; losing write
			// access degrades the replica to read-only, it does not fail
			// the cycle.
			o.setReadOnly(true)
			o.record("publish", "warning", "write access denied, replica degraded to read-only")
			slog.Warn("publish denied, continuing read-only",
				"component", "sync",
				"action", "publish_denied",
			)
			return o.finish(ctx)

		case errors.Is(err, remote.ErrConflict):
			if attempt >= o.cfg.PublishRetries {
				return fmt.Errorf("publish after %d conflict retries: %w", attempt, err)
			}
			o.record("publish", "warning", "publish lost a race, re-fetching and re-merging")
			slog.Info("publish conflict, re-merging",
				"component", "sync",
				"action", "publish_conflict",
				"attempt", attempt+1,
			)
			rec, err = o.remote.Get(ctx, o.cfg.ObjectKey)
			if err != nil {
				return fmt.Errorf("re-fetch after conflict: %w", err)
			}
			remoteSnap, err = snapshot.Decode(rec.Payload)
			if err != nil {
				return fmt.Errorf("decode re-fetched snapshot: %w", err)
			}
			localSnap = merged

		default:
			return fmt.Errorf("publish snapshot: %w", err)
		}
	}
}

// fetchRemote gets the shared object, retrying with exponential backoff
// while it is absent or the store is unreachable. A nil record with nil
// error means the object genuinely does not exist yet.
func (o *Orchestrator) fetchRemote(ctx context.Context) (*remote.Record, error) {
	backoff := retry.WithMaxRetries(o.cfg.FetchRetries, retry.NewExponential(o.cfg.FetchBackoff))
	var rec *remote.Record
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := o.remote.Get(ctx, o.cfg.ObjectKey)
		if err != nil {
			if errors.Is(err, remote.ErrNotFound) || errors.Is(err, remote.ErrUnavailable) {
				return retry.RetryableError(err)
			}
			return err
		}
		rec = r
		return nil
	})
	if errors.Is(err, remote.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch remote snapshot: %w", err)
	}
	return rec, nil
}

// loadLocal reads the local graph, normalizes it through the integrity
// scanner, and wraps it in a snapshot envelope.
func (o *Orchestrator) loadLocal(ctx context.Context, replica string) (*snapshot.Snapshot, error) {
	graph, err := o.local.ReadGraph(ctx)
	if err != nil {
		return nil, fmt.Errorf("read local graph: %w", err)
	}
	present, err := o.local.PresentKinds(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspect local schema: %w", err)
	}

	scanner := integrity.NewScanner(replica)
	report, err := scanner.Repair(graph, present)
	if err != nil {
		return nil, fmt.Errorf("local graph integrity: %w", err)
	}
	if !report.Clean() {
		o.record("fetch", "warning", "local graph repaired: "+report.Summary())
	}
	return snapshot.New(graph.Tree(), o.now().UTC(), replica), nil
}

// initialPublish creates the shared object from local state. When another
// replica wins the create race it returns that replica's record and
// decoded snapshot so the caller can merge instead.
func (o *Orchestrator) initialPublish(ctx context.Context, local *snapshot.Snapshot, replica string) (*remote.Record, *snapshot.Snapshot, error) {
	o.setState(StatePublishing)
	payload, err := snapshot.Encode(local)
	if err != nil {
		return nil, nil, fmt.Errorf("encode initial snapshot: %w", err)
	}

	_, err = o.remote.Put(ctx, o.cfg.ObjectKey, payload, replica, "")
	switch {
	case err == nil:
		o.setReadOnly(false)
		o.record("publish", "info", "initial snapshot published")
		slog.Info("initial snapshot published",
			"component", "sync",
			"action", "initial_publish",
		)
		return nil, nil, o.finish(ctx)

	case errors.Is(err, remote.ErrPermissionDenied):
		o.setReadOnly(true)
		o.record("publish", "warning", "write access denied, replica degraded to read-only")
		return nil, nil, o.finish(ctx)

	case errors.Is(err, remote.ErrConflict):
		rec, err := o.remote.Get(ctx, o.cfg.ObjectKey)
		if err != nil {
			return nil, nil, fmt.Errorf("re-fetch after lost create race: %w", err)
		}
		snap, err := snapshot.Decode(rec.Payload)
		if err != nil {
			return nil, nil, fmt.Errorf("decode re-fetched snapshot: %w", err)
		}
		return rec, snap, nil

	default:
		return nil, nil, fmt.Errorf("publish initial snapshot: %w", err)
	}
}

func (o *Orchestrator) apply(ctx context.Context, snap *snapshot.Snapshot) error {
	if err := o.local.ReplaceGraph(ctx, model.Flatten(snap.Lists)); err != nil {
		return fmt.Errorf("apply snapshot locally: %w", err)
	}
	return nil
}

// finish stamps the successful completion time.
func (o *Orchestrator) finish(ctx context.Context) error {
	done := o.now().UTC()
	if err := o.local.SetLastSyncAt(ctx, done); err != nil {
		return fmt.Errorf("record sync completion: %w", err)
	}
	o.mu.Lock()
	o.lastSync = &done
	o.mu.Unlock()
	o.record("cycle", "info", "sync cycle completed")
	return nil
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) setReadOnly(v bool) {
	o.mu.Lock()
	o.readOnly = v
	o.mu.Unlock()
}

func (o *Orchestrator) record(stage, level, msg string) {
	o.diag.append(Event{At: o.now().UTC(), Stage: stage, Level: level, Message: msg})
}
