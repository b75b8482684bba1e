// Package runtime defines the data model shared across the prediction
// pipeline: the wire request and response shapes, the prediction and
// health status enumerations, and the error taxonomy that the HTTP
// surface maps onto status codes.
//
// In general, objects here carry a small amount of data and very
// little behavior; the packages that own the state machines
// (internal/manager, internal/worker) import this package rather than
// the reverse.
package runtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Status describes where a single prediction is in its lifecycle.
// StatusIdle is never serialized to the wire; the
// HTTP surface only ever sees a Status once a prediction has at least
// reached StatusStarting.
type Status string

// The full set of prediction statuses. StatusSucceeded, StatusFailed,
// and StatusCanceled are terminal; once a prediction reaches one of
// them it will never transition again.
const (
	StatusIdle       Status = "idle"
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether s is one of the three terminal statuses.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Health is the process-wide readiness state published by the
// Worker. It is held in an atomic.Value-backed holder (see
// internal/worker) rather than here, because only one process-wide
// instance should ever exist.
type Health string

// The full set of health values. SetupFailed is absorbing: once
// published, the worker never leaves it and a shutdown is initiated.
const (
	HealthUnknown     Health = "UNKNOWN"
	HealthStarting    Health = "STARTING"
	HealthReady       Health = "READY"
	HealthBusy        Health = "BUSY"
	HealthSetupFailed Health = "SETUP_FAILED"
)

// SetupSummary is the setup half of a health check response: when
// setup started and finished, and the Health it left the worker in.
// It lives here, rather than in internal/worker, so internal/httpapi
// can depend on its shape without importing internal/worker itself.
type SetupSummary struct {
	Status      Health     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// WebhookEvent names one of the lifecycle events a caller can
// subscribe a webhook to via PredictionRequest.WebhookEventFilters.
type WebhookEvent string

// The two events the dispatcher knows how to fire. The original
// system also named "output" and "logs" events for streaming
// intermediate results; this runtime does not stream, so those
// filter values are accepted (for client compatibility) but never
// fired.
const (
	WebhookEventStart     WebhookEvent = "start"
	WebhookEventOutput    WebhookEvent = "output"
	WebhookEventLogs      WebhookEvent = "logs"
	WebhookEventCompleted WebhookEvent = "completed"
)

// PredictionRequest is the body of POST /predictions and PUT
// /predictions/{id}. Input must validate against the schema compiled
// from the model's request type before it is handed to the Worker.
type PredictionRequest struct {
	ID                 string         `json:"id,omitempty"`
	Input              json.RawMessage `json:"input"`
	Webhook            string         `json:"webhook,omitempty"`
	WebhookEventFilters []WebhookEvent `json:"webhook_event_filters,omitempty"`
	OutputFilePrefix   string         `json:"output_file_prefix,omitempty"`
}

// WantsWebhook reports whether event should be delivered to this
// request's webhook, honoring WebhookEventFilters when present.
func (r *PredictionRequest) WantsWebhook(event WebhookEvent) bool {
	if r == nil || r.Webhook == "" {
		return false
	}
	if len(r.WebhookEventFilters) == 0 {
		return true
	}
	for _, f := range r.WebhookEventFilters {
		if f == event {
			return true
		}
	}
	return false
}

// PredictionResponse is the wire and in-memory representation of a
// single prediction's result. It is built and updated by the Manager
// (internal/manager) and is what every terminal HTTP response, webhook body,
// and wait_for() rendezvous ultimately hands back to a caller.
type PredictionResponse struct {
	ID          string                 `json:"id,omitempty"`
	Input       json.RawMessage        `json:"input,omitempty"`
	Output      json.RawMessage        `json:"output,omitempty"`
	Status      Status                 `json:"status"`
	Error       string                 `json:"error,omitempty"`
	Logs        string                 `json:"logs"`
	CreatedAt   *time.Time             `json:"created_at,omitempty"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Metrics     map[string]interface{} `json:"metrics,omitempty"`
	Version     string                 `json:"version,omitempty"`
}

// Starting builds the synthetic response returned immediately from
// an async create-prediction call, before the Worker has produced a
// real result.
func Starting(id string, req *PredictionRequest) *PredictionResponse {
	now := time.Now().UTC()
	resp := &PredictionResponse{
		ID:        id,
		Status:    StatusStarting,
		Logs:      "",
		CreatedAt: &now,
	}
	if req != nil {
		resp.Input = req.Input
	}
	return resp
}

// ValidationError is one field-level failure from the Validator,
// rooted at a JSON pointer-like location such as
// ["body", "input", "text"].
type ValidationError struct {
	Loc []string `json:"loc"`
	Msg string   `json:"msg"`
}

// ValidationErrorSet is a batch of ValidationErrors. The Validator
// collects every failure rather than stopping at the first, matching
// the original system's "detail" array of per-field errors.
type ValidationErrorSet struct {
	Errors []ValidationError
}

func (e *ValidationErrorSet) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", e.Errors[0].Msg)
}

// HTTPStatus satisfies the same informal ErrorStatus contract the
// teacher's restdata package uses: any error that knows its own HTTP
// status code can report it here, and the HTTP surface uses it
// without a big type switch.
func (e *ValidationErrorSet) HTTPStatus() int {
	return http.StatusUnprocessableEntity
}

// ErrorStatus is implemented by errors that carry their own HTTP
// status code. The HTTP surface checks for this first before falling
// back to 500 Internal Server Error.
type ErrorStatus interface {
	error
	HTTPStatus() int
}

// Sentinel errors making up the taxonomy from the design's §7 Error
// Handling section. Each is a distinct value so callers can compare
// with errors.Is.
var (
	// ErrBusy is returned by the Worker when a prediction is
	// submitted while one is already in flight.
	ErrBusy = &statusError{msg: "Runner is busy", status: http.StatusConflict}

	// ErrAlreadyRunning is returned by the Manager when Init is
	// called while the single slot is not Idle.
	ErrAlreadyRunning = &statusError{msg: "Already running a prediction", status: http.StatusConflict}

	// ErrUnknown is returned when a caller references a
	// prediction id the Manager does not recognize.
	ErrUnknown = &statusError{msg: "no such prediction", status: http.StatusNotFound}

	// ErrNotComplete names a result read before a terminal status has
	// been recorded. internal/manager does not return it: its Result
	// reports the current snapshot whatever the status.
	ErrNotComplete = &statusError{msg: "prediction is not yet complete", status: http.StatusInternalServerError}

	// ErrCanceled marks a prediction that lost the cancel-vs-predict
	// race. It is a successful terminal status at the HTTP layer,
	// not a transport error (see design §7). The Worker and Manager
	// report cancellation through Predict's canceled result instead.
	ErrCanceled = &statusError{msg: "prediction canceled", status: http.StatusOK}
)

// statusError is a fixed message bound to a fixed HTTP status code,
// the same shape as the teacher's restdata.ErrUnsupportedMediaType /
// ErrNotFound family.
type statusError struct {
	msg    string
	status int
}

func (e *statusError) Error() string    { return e.msg }
func (e *statusError) HTTPStatus() int  { return e.status }

// PredictionError wraps an error coming out of the model's predict()
// call. It is not a transport failure: per §7, the HTTP layer
// responds 200 with Status = Failed and Error = the message.
type PredictionError struct {
	Err error
}

func (e *PredictionError) Error() string { return e.Err.Error() }
func (e *PredictionError) Unwrap() error { return e.Err }
