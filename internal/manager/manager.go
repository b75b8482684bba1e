// Package manager owns the single in-flight prediction slot: the state
// machine from Idle through Starting/Processing to a terminal status, the
// named-prediction rendezvous that lets multiple callers await the same
// result, and cancellation.
//
// The state-machine-behind-a-mutex shape is grounded on
// jobserver/locks.go's JobServer.doLock (a single mutex guarding a shared
// tree, expired and mutated under lock before release) and on
// cache/lru.go's RWMutex discipline (readers use RLock, the rare mutating
// call takes the full Lock). Unlike the teacher's lock tree, which manages
// an arbitrary hierarchy of named locks, there is exactly one slot here —
// the spec allows only one prediction in flight at a time — so the tree
// collapses to a single guarded struct.
package manager

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/benbjohnson/clock"
	uuid "github.com/satori/go.uuid"

	"github.com/diffeo/cogrunner/internal/runtime"
	"github.com/diffeo/cogrunner/internal/validator"
	"github.com/diffeo/cogrunner/internal/worker"
)

// Predictor is the subset of *worker.Worker the Manager depends on,
// narrowed so tests can supply a fake.
type Predictor interface {
	Predict(ctx context.Context, input json.RawMessage, cancel <-chan struct{}, uploadPrefix string) (output json.RawMessage, canceled bool, err error)
}

// Notifier receives lifecycle events for a prediction. *webhook.Dispatcher
// implements this; tests may supply a no-op or recording fake.
type Notifier interface {
	NotifyStart(ctx context.Context, req *runtime.PredictionRequest, resp *runtime.PredictionResponse)
	NotifyCompleted(ctx context.Context, req *runtime.PredictionRequest, resp *runtime.PredictionResponse)
}

// Manager serializes access to the single prediction slot. The zero value
// is not usable; construct with New.
type Manager struct {
	worker    Predictor
	validator *validator.Validator
	notifier  Notifier
	clock     clock.Clock

	mu       sync.RWMutex
	id       string
	request  *runtime.PredictionRequest
	response *runtime.PredictionResponse
	cancel   chan struct{}
	done     chan struct{}
	canceled sync.Once
}

// New builds a Manager around a predictor and an input validator. notifier
// may be nil, in which case webhook delivery is skipped entirely.
func New(w Predictor, v *validator.Validator, notifier Notifier) *Manager {
	return &Manager{
		worker:    w,
		validator: v,
		notifier:  notifier,
		clock:     clock.New(),
	}
}

// Init starts a new prediction. It returns runtime.ErrAlreadyRunning if
// the slot is occupied by a prediction that hasn't reached a terminal
// status, and a *runtime.ValidationErrorSet — synchronously, without
// ever occupying the slot or touching the worker — if req.Input fails
// schema validation. On success it returns the synthetic "starting"
// response immediately; the prediction itself runs on its own goroutine.
func (m *Manager) Init(ctx context.Context, req *runtime.PredictionRequest) (*runtime.PredictionResponse, error) {
	if m.validator != nil {
		if err := m.validator.Validate(req.Input); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	if m.response != nil && !m.response.Status.Terminal() {
		m.mu.Unlock()
		return nil, runtime.ErrAlreadyRunning
	}

	id := req.ID
	if id == "" {
		id = uuid.NewV4().String()
	}
	req.ID = id

	m.id = id
	m.request = req
	m.response = runtime.Starting(id, req)
	m.cancel = make(chan struct{})
	m.done = make(chan struct{})
	m.canceled = sync.Once{}

	cancel := m.cancel
	done := m.done
	snapshot := *m.response
	m.mu.Unlock()

	go m.run(context.WithoutCancel(ctx), id, req, cancel, done)

	return &snapshot, nil
}

// run executes one prediction to completion and records its result. It
// never returns an error; all failures are recorded as a Failed (or
// Canceled) terminal PredictionResponse. Input validation has already
// happened synchronously in Init by the time run starts.
func (m *Manager) run(ctx context.Context, id string, req *runtime.PredictionRequest, cancel chan struct{}, done chan struct{}) {
	defer close(done)

	m.setProcessing(id, req)

	output, canceled, err := m.worker.Predict(ctx, req.Input, cancel, req.OutputFilePrefix)
	switch {
	case canceled:
		m.finish(id, req, runtime.StatusCanceled, nil, "")
	case err != nil:
		m.finish(id, req, runtime.StatusFailed, nil, err.Error())
	default:
		m.finish(id, req, runtime.StatusSucceeded, output, "")
	}
}

func (m *Manager) setProcessing(id string, req *runtime.PredictionRequest) {
	m.mu.Lock()
	if m.id == id {
		now := m.clock.Now().UTC()
		m.response.Status = runtime.StatusProcessing
		m.response.StartedAt = &now
	}
	m.mu.Unlock()

	if m.notifier != nil && req.WantsWebhook(runtime.WebhookEventStart) {
		m.notifier.NotifyStart(context.Background(), req, m.snapshotLocked(id))
	}
}

func (m *Manager) finish(id string, req *runtime.PredictionRequest, status runtime.Status, output json.RawMessage, errMsg string) {
	m.mu.Lock()
	if m.id == id {
		now := m.clock.Now().UTC()
		m.response.Status = status
		m.response.Output = output
		m.response.Error = errMsg
		m.response.CompletedAt = &now
	}
	m.mu.Unlock()

	if m.notifier != nil && req.WantsWebhook(runtime.WebhookEventCompleted) {
		m.notifier.NotifyCompleted(context.Background(), req, m.snapshotLocked(id))
	}
}

// snapshotLocked takes a fresh read-locked copy of the response for id,
// or nil if id is no longer the current prediction.
func (m *Manager) snapshotLocked(id string) *runtime.PredictionResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.id != id || m.response == nil {
		return nil
	}
	snap := *m.response
	return &snap
}

// Current returns a snapshot of whatever prediction currently occupies
// the slot, or nil if the slot has never been used.
func (m *Manager) Current() *runtime.PredictionResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.response == nil {
		return nil
	}
	snap := *m.response
	return &snap
}

// Result returns the current snapshot for id, or runtime.ErrUnknown if id
// isn't the prediction occupying the slot.
func (m *Manager) Result(id string) (*runtime.PredictionResponse, error) {
	snap := m.snapshotLocked(id)
	if snap == nil {
		return nil, runtime.ErrUnknown
	}
	return snap, nil
}

// Wait blocks until id's prediction reaches a terminal status or ctx is
// canceled, then returns its final snapshot. Multiple callers may Wait on
// the same id concurrently — this is the named-prediction rendezvous: the
// completion channel is a single value that every waiter reads from, so
// all of them observe the same completion event exactly once each.
func (m *Manager) Wait(ctx context.Context, id string) (*runtime.PredictionResponse, error) {
	m.mu.RLock()
	if m.id != id {
		m.mu.RUnlock()
		return nil, runtime.ErrUnknown
	}
	done := m.done
	m.mu.RUnlock()

	select {
	case <-done:
		return m.Result(id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitWithCancelOnAbort is Wait, except that if ctx is canceled before
// completion, it also cancels the underlying prediction — the guard
// pattern a synchronous HTTP handler uses: it holds this call for the
// duration of the request, and if the client disconnects (or the request
// context otherwise ends) while the worker is still busy, that's treated
// as an implicit cancel rather than leaving an orphaned prediction
// running with nobody left to deliver its result to.
func (m *Manager) WaitWithCancelOnAbort(ctx context.Context, id string) (*runtime.PredictionResponse, error) {
	resp, err := m.Wait(ctx, id)
	if err != nil && ctx.Err() != nil {
		_ = m.Cancel(id)
	}
	return resp, err
}

// Cancel signals id's prediction to stop. It is a no-op, returning
// runtime.ErrUnknown, if id isn't the current prediction; it is
// idempotent if called more than once for the same prediction.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	if m.id != id {
		m.mu.Unlock()
		return runtime.ErrUnknown
	}
	if m.response.Status.Terminal() {
		m.mu.Unlock()
		return nil
	}
	cancel := m.cancel
	m.mu.Unlock()

	m.canceled.Do(func() { close(cancel) })
	return nil
}

// Reset clears the slot back to idle if, and only if, it currently holds
// a terminal prediction. Init does not depend on it: Init admits a new
// prediction over a terminal one directly.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.response != nil && m.response.Status.Terminal() {
		m.id = ""
		m.request = nil
		m.response = nil
		m.cancel = nil
		m.done = nil
	}
}
