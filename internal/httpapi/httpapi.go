// Package httpapi is the HTTP surface: routing, request decoding,
// content-negotiation-free JSON responses (the system has exactly one
// wire format, so the teacher's multi-type negotiation collapses to
// "always JSON"), and status-code mapping from the error taxonomy in
// internal/runtime.
//
// Grounded on restserver/rest.go's resourceHandler: a single ServeHTTP
// entry point per resource that recovers from panics, decodes a request
// body, dispatches to a Get/Put/Post/Delete function, and maps the
// returned error to an HTTP status via the same ErrorStatus interface
// check. Because this system has one representation (JSON) instead of
// the teacher's negotiated set, the per-resource struct collapses into
// plain http.HandlerFunc-shaped methods on API, and content negotiation
// disappears — but the panic recovery and error-to-status mapping are
// carried over directly.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/urfave/negroni"

	"github.com/diffeo/cogrunner/internal/manager"
	"github.com/diffeo/cogrunner/internal/metrics"
	"github.com/diffeo/cogrunner/internal/runtime"
)

// Predictions is the subset of *manager.Manager the HTTP surface needs.
type Predictions interface {
	Init(ctx context.Context, req *runtime.PredictionRequest) (*runtime.PredictionResponse, error)
	Result(id string) (*runtime.PredictionResponse, error)
	Wait(ctx context.Context, id string) (*runtime.PredictionResponse, error)
	WaitWithCancelOnAbort(ctx context.Context, id string) (*runtime.PredictionResponse, error)
	Cancel(id string) error
	Current() *runtime.PredictionResponse
}

// HealthReporter is the subset of *worker.Worker the health-check
// endpoint needs.
type HealthReporter interface {
	Health() runtime.Health
	SetupSummary() runtime.SetupSummary
}

// ShutdownTrigger starts the shutdown sequence; *shutdown.Coordinator
// implements it.
type ShutdownTrigger interface {
	Start()
}

// API holds the dependencies every handler needs and builds the router.
type API struct {
	Manager  Predictions
	Health   HealthReporter
	Shutdown ShutdownTrigger
	Logger   *logrus.Logger

	// OpenAPIDoc is the document assembled by internal/openapi.Builder,
	// served verbatim (as JSON) from GET /openapi.json. Nil is treated
	// as "not available yet" and reported as 503.
	OpenAPIDoc interface{}

	router *mux.Router
}

// NewRouter builds the complete gorilla/mux router for the service,
// wrapped in a negroni chain that logs each request and recovers from
// handler panics — the teacher imports negroni in go.mod but never
// wires it; this is where it actually gets exercised.
func NewRouter(api *API) http.Handler {
	r := mux.NewRouter()
	api.router = r

	r.HandleFunc("/", api.root).Methods(http.MethodGet).Name("root")
	r.HandleFunc("/openapi.json", api.openapiDoc).Methods(http.MethodGet).Name("openapi")
	r.HandleFunc("/health-check", api.healthCheck).Methods(http.MethodGet).Name("health-check")
	r.HandleFunc("/shutdown", api.shutdown).Methods(http.MethodPost).Name("shutdown")
	r.HandleFunc("/predictions", api.createPrediction).Methods(http.MethodPost).Name("predictions")
	r.HandleFunc("/predictions/{id}", api.createNamedPrediction).Methods(http.MethodPut).Name("prediction")
	r.HandleFunc("/predictions/{id}/cancel", api.cancelPrediction).Methods(http.MethodPost).Name("prediction-cancel")

	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.Use(&requestLogger{logger: api.Logger})
	n.UseHandler(r)
	return n
}

// requestLogger is a negroni middleware that logs method, path, status,
// and latency for every request via logrus, and records the latency in
// internal/metrics.
type requestLogger struct {
	logger *logrus.Logger
}

func (l *requestLogger) ServeHTTP(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	started := time.Now()
	rw := negroni.NewResponseWriter(w)
	next(rw, r)
	elapsed := time.Since(started)

	metrics.ObserveRequest(r.URL.Path, elapsed)
	if l.logger != nil {
		l.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rw.Status(),
			"duration": elapsed.String(),
		}).Info("handled request")
	}
}

func (api *API) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rootResponse{
		DocsURL:    "/docs",
		OpenAPIURL: "/openapi.json",
	})
}

type rootResponse struct {
	DocsURL    string `json:"docs_url"`
	OpenAPIURL string `json:"openapi_url"`
}

func (api *API) openapiDoc(w http.ResponseWriter, r *http.Request) {
	if api.OpenAPIDoc == nil {
		writeError(w, errOpenAPIUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, api.OpenAPIDoc)
}

// errOpenAPIUnavailable is returned when API.OpenAPIDoc is nil.
var errOpenAPIUnavailable = &statusError{msg: "openapi document not yet available", status: http.StatusServiceUnavailable}

type statusError struct {
	msg    string
	status int
}

func (e *statusError) Error() string   { return e.msg }
func (e *statusError) HTTPStatus() int { return e.status }

// healthCheck reports the worker's current Health plus a setup-summary
// block (when setup started and finished), the two pieces the original
// system's health check bundles together.
func (api *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthCheckResponse{
		Status: api.Health.Health(),
		Setup:  api.Health.SetupSummary(),
	})
}

type healthCheckResponse struct {
	Status runtime.Health       `json:"status"`
	Setup  runtime.SetupSummary `json:"setup"`
}

func (api *API) shutdown(w http.ResponseWriter, r *http.Request) {
	if api.Shutdown != nil {
		api.Shutdown.Start()
	}
	w.WriteHeader(http.StatusOK)
}

// createPrediction handles POST /predictions: synchronous by default,
// asynchronous if the caller sends "Prefer: respond-async".
func (api *API) createPrediction(w http.ResponseWriter, r *http.Request) {
	var req runtime.PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &decodeError{err})
		return
	}
	api.runPrediction(w, r, &req)
}

// createNamedPrediction handles PUT /predictions/{id}, which behaves
// like createPrediction except the id comes from the URL rather than
// being generated, and a complete-but-not-reset prediction for that id
// returns its cached response under 202 rather than starting a new one
// (the design's recorded Open Question decision).
func (api *API) createNamedPrediction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req runtime.PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &decodeError{err})
		return
	}
	req.ID = id

	if current := api.Manager.Current(); current != nil && current.ID == id {
		writeJSON(w, http.StatusAccepted, current)
		return
	}

	api.runPrediction(w, r, &req)
}

func (api *API) runPrediction(w http.ResponseWriter, r *http.Request, req *runtime.PredictionRequest) {
	prefer := ParsePrefer(r.Header.Get("Prefer"))

	resp, err := api.Manager.Init(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	if prefer.RespondAsync() {
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	final, err := api.Manager.WaitWithCancelOnAbort(r.Context(), resp.ID)
	if err != nil {
		// The client's own context ended (e.g. it disconnected);
		// there's nobody left to write a response to.
		return
	}
	writeJSON(w, http.StatusOK, final)
}

func (api *API) cancelPrediction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := api.Manager.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decodeError reports a malformed request body as a 400, the same
// status the teacher's resourceHandler defaults to before any more
// specific error is known.
type decodeError struct {
	err error
}

func (e *decodeError) Error() string   { return "invalid request body: " + e.err.Error() }
func (e *decodeError) HTTPStatus() int { return http.StatusBadRequest }

// writeError maps an error to an HTTP status the same way
// restserver/rest.go does: check for a type satisfying ErrorStatus
// first, then fall back to 500. A *runtime.ValidationErrorSet gets its
// own wire shape — detail is the array of per-field errors, matching
// the original system's validation error document, rather than the
// flat string every other error reports.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if es, ok := err.(runtime.ErrorStatus); ok {
		status = es.HTTPStatus()
	}

	if set, ok := err.(*runtime.ValidationErrorSet); ok {
		writeJSON(w, status, validationErrorResponse{Detail: set.Errors})
		return
	}
	writeJSON(w, status, errorResponse{Detail: err.Error()})
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// validationErrorResponse is the wire shape for a failed schema
// validation: detail is an array of {loc, msg} objects, one per
// violated field, rather than the flat string other errors use.
type validationErrorResponse struct {
	Detail []runtime.ValidationError `json:"detail"`
}
