// Package worker owns the single hosted model instance: one-time setup
// under a deadline, the process-wide Health value, and a capacity-one
// admission channel that serializes every prediction through exactly one
// goroutine at a time.
//
// This is grounded on worker/worker.go's Worker type: an exported,
// doc-commented struct with injectable Clock and ErrorHandler fields,
// default values filled in by a setDefaults-style step, and a
// goroutine-plus-channel run loop. The teacher's Worker polls a backend
// for arbitrary work and fans out across many children; this one has a
// single child (the model) and the concurrency problem is the opposite —
// keeping callers OUT rather than getting more of them IN — so the run
// loop here is a linear receive-from-channel-and-dispatch loop rather than
// the teacher's getIdleChild/returnIdleChild pool.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/diffeo/cogrunner/internal/model"
	"github.com/diffeo/cogrunner/internal/runtime"
)

// DefaultSetupDeadline bounds how long Model.Setup is allowed to run
// before the worker gives up and reports SETUP_FAILED.
const DefaultSetupDeadline = 300 * time.Second

// DefaultReadinessFile is where a Kubernetes readiness probe is expected
// to look, matching the original system's /var/run/cog/ready.
const DefaultReadinessFile = "/var/run/cog/ready"

// Worker wraps a single model.Model instance and is the only component
// permitted to call its Setup and Predict methods.
type Worker struct {
	// Model is the hosted prediction model. Required.
	Model model.Model

	// Clock is the time source used for setup timestamps. The setup
	// deadline itself is a context timeout on the real clock. Only
	// test code should need to set this. If unset, uses a real
	// wall-clock source.
	Clock clock.Clock

	// SetupDeadline bounds Model.Setup. If unset, DefaultSetupDeadline
	// applies.
	SetupDeadline time.Duration

	// ErrorHandler is called with readiness-file write failures during
	// Setup, in addition to Setup returning them as its error.
	ErrorHandler func(error)

	// ReadinessFilePath is written once setup succeeds, but only when
	// the KUBERNETES_SERVICE_HOST environment variable is set. If
	// unset, DefaultReadinessFile applies.
	ReadinessFilePath string

	// DefaultUploadURL is the upload endpoint used for file outputs
	// when a request doesn't supply its own output_file_prefix. Read
	// from the --upload-url flag / UPLOAD_URL environment variable at
	// process start; empty means "embed as data: URIs".
	DefaultUploadURL string

	// Logger receives structured setup/predict lifecycle events. If
	// unset, logging is skipped.
	Logger *logrus.Logger

	once   sync.Once
	jobs   chan *job
	health healthHolder

	summaryMu sync.RWMutex
	summary   runtime.SetupSummary
}

// job is one admitted prediction, handed from Predict to the run loop.
type job struct {
	ctx          context.Context
	input        json.RawMessage
	cancel       <-chan struct{}
	uploadPrefix string
	result       chan<- jobResult
}

type jobResult struct {
	output   json.RawMessage
	err      error
	canceled bool
}

func (w *Worker) setDefaults() {
	if w.Clock == nil {
		w.Clock = clock.New()
	}
	if w.SetupDeadline == 0 {
		w.SetupDeadline = DefaultSetupDeadline
	}
	if w.ReadinessFilePath == "" {
		w.ReadinessFilePath = DefaultReadinessFile
	}
	w.jobs = make(chan *job, 1)
	w.health.set(runtime.HealthUnknown)
}

// Setup runs the model's one-time initialization under SetupDeadline.
// If it succeeds, Setup then writes the Kubernetes readiness file (a
// no-op outside Kubernetes); only once that also succeeds does it
// publish HealthReady and start the serialized predict loop. A failure
// at either step publishes HealthSetupFailed instead. Setup must be
// called exactly once before Predict.
func (w *Worker) Setup(ctx context.Context) error {
	w.once.Do(w.setDefaults)

	w.health.set(runtime.HealthStarting)
	started := w.Clock.Now().UTC()
	w.summaryMu.Lock()
	w.summary.StartedAt = &started
	w.summaryMu.Unlock()

	setupCtx, cancel := context.WithTimeout(ctx, w.SetupDeadline)
	defer cancel()

	err := w.Model.Setup(setupCtx)

	completed := w.Clock.Now().UTC()
	w.summaryMu.Lock()
	w.summary.CompletedAt = &completed
	w.summaryMu.Unlock()

	if err != nil {
		w.health.set(runtime.HealthSetupFailed)
		w.logf(logrus.Fields{"error": err}, "model setup failed")
		return fmt.Errorf("worker: setup: %w", err)
	}

	// Writing the readiness file happens before Health is published as
	// Ready: a failure here is equivalent to setup itself failing, since
	// nothing downstream (Kubernetes, a load balancer) can tell the
	// worker is usable without it.
	if err := w.writeReadinessFile(); err != nil {
		w.health.set(runtime.HealthSetupFailed)
		w.handleError(err)
		w.logf(logrus.Fields{"error": err}, "readiness file write failed, treating as setup failure")
		return fmt.Errorf("worker: setup: %w", err)
	}

	w.health.set(runtime.HealthReady)
	w.logf(nil, "model setup complete")

	go w.run()
	return nil
}

// Health returns the current process-wide health value.
func (w *Worker) Health() runtime.Health {
	return w.health.get()
}

// SetupSummary returns a snapshot of the setup timing and outcome, for
// the health-check endpoint.
func (w *Worker) SetupSummary() runtime.SetupSummary {
	w.summaryMu.RLock()
	defer w.summaryMu.RUnlock()
	s := w.summary
	s.Status = w.Health()
	return s
}

// Predict submits one prediction for execution. It blocks until the
// prediction completes, the cancel channel closes, or ctx is canceled. A
// prediction already running when Predict is called returns
// runtime.ErrBusy immediately without blocking — Predict only admits a
// job while Health is Ready, and the admission channel has capacity
// exactly one.
//
// If cancel fires before the model returns, Predict returns with
// canceled set to true. The model call is not interrupted: its result,
// when it eventually arrives, is discarded. This mirrors the original
// system's behavior, since a blocking model call cannot generally be
// preempted safely.
//
// uploadPrefix, if non-empty, overrides DefaultUploadURL for this
// prediction's file-typed outputs (the per-request output_file_prefix
// taking precedence over the process-wide default), and is only
// consulted when Model also implements model.FileAware.
func (w *Worker) Predict(ctx context.Context, input json.RawMessage, cancel <-chan struct{}, uploadPrefix string) (output json.RawMessage, canceled bool, err error) {
	if w.health.get() != runtime.HealthReady {
		return nil, false, runtime.ErrBusy
	}
	resultCh := make(chan jobResult, 1)
	select {
	case w.jobs <- &job{ctx: ctx, input: input, cancel: cancel, uploadPrefix: uploadPrefix, result: resultCh}:
	default:
		return nil, false, runtime.ErrBusy
	}

	select {
	case res := <-resultCh:
		return res.output, res.canceled, res.err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// run is the serialized predict loop: exactly one goroutine reads from
// w.jobs, so jobs are taken and answered one at a time. A canceled job's
// model.Predict call may still be running in the background when the
// next job starts.
func (w *Worker) run() {
	for j := range w.jobs {
		w.health.set(runtime.HealthBusy)
		w.runOne(j)
	}
}

func (w *Worker) runOne(j *job) {
	modelResult := make(chan jobResult, 1)
	go func() {
		out, err := w.Model.Predict(j.ctx, j.input)
		if err == nil {
			out, err = w.convertOutput(j.ctx, out, j.uploadPrefix)
		}
		modelResult <- jobResult{output: out, err: err}
	}()

	// Health goes back to Ready before the result is handed over, so a
	// caller that submits again right after Predict returns is admitted.
	select {
	case res := <-modelResult:
		w.health.set(runtime.HealthReady)
		j.result <- res
	case <-j.cancel:
		w.health.set(runtime.HealthReady)
		j.result <- jobResult{canceled: true}
		// The model call keeps running in the background; its
		// result is no longer wanted, but something must still
		// receive it so that goroutine can exit.
		go func() { <-modelResult }()
	}
}

// convertOutput runs the Response Adapter step for models that embed
// PathValue-style file references in their output: it resolves the
// upload prefix (per-request override, else DefaultUploadURL) and lets
// the model serialize those references into upload URLs or data: URIs.
// Models that don't implement model.FileAware return their output
// unchanged.
func (w *Worker) convertOutput(ctx context.Context, out json.RawMessage, uploadPrefix string) (json.RawMessage, error) {
	fa, ok := w.Model.(model.FileAware)
	if !ok {
		return out, nil
	}
	prefix := uploadPrefix
	if prefix == "" {
		prefix = w.DefaultUploadURL
	}
	return fa.ConvertOutput(ctx, out, prefix)
}

// writeReadinessFile creates and touches w.ReadinessFilePath when
// running under Kubernetes (KUBERNETES_SERVICE_HOST is set); it is a
// no-op otherwise. Any error here is fatal to Setup.
func (w *Worker) writeReadinessFile() error {
	if os.Getenv("KUBERNETES_SERVICE_HOST") == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(w.ReadinessFilePath), 0o755); err != nil {
		return fmt.Errorf("worker: create readiness file directory: %w", err)
	}
	if err := os.WriteFile(w.ReadinessFilePath, nil, 0o644); err != nil {
		return fmt.Errorf("worker: write readiness file: %w", err)
	}
	return nil
}

func (w *Worker) handleError(err error) {
	if w.ErrorHandler != nil {
		w.ErrorHandler(err)
	}
}

func (w *Worker) logf(fields logrus.Fields, msg string) {
	if w.Logger == nil {
		return
	}
	if fields == nil {
		w.Logger.Info(msg)
		return
	}
	w.Logger.WithFields(fields).Info(msg)
}
