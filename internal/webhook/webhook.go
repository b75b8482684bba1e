// Package webhook delivers best-effort POST notifications about a
// prediction's lifecycle to the URL a caller supplied in
// PredictionRequest.Webhook.
//
// The request-building shape (build a *http.Request, set headers, do it,
// check the status, clean up the body) is grounded on
// restclient/rest.go's resource.Do, simplified to the one fixed method
// and content type this system actually needs: POST, application/json.
// The bearer-token auth and best-effort "log and move on" failure policy
// are grounded on original_source/lib/src/webhooks.rs's WebhookSender.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/diffeo/cogrunner/internal/runtime"
)

// Dispatcher sends webhook notifications. The zero value has no auth
// token and a default http.Client; construct with New, passing the
// WEBHOOK_AUTH_TOKEN value read once at startup the way the original
// system does.
type Dispatcher struct {
	Client    *http.Client
	AuthToken string
	Logger    *logrus.Logger
}

// New builds a Dispatcher with the given bearer token (read by the
// caller from the WEBHOOK_AUTH_TOKEN environment variable once at
// process start, per the design's open-question decision not to re-read
// it per request).
func New(authToken string, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		Client:    http.DefaultClient,
		AuthToken: authToken,
		Logger:    logger,
	}
}

// NotifyStart sends the "start" lifecycle event. It implements
// manager.Notifier.
func (d *Dispatcher) NotifyStart(ctx context.Context, req *runtime.PredictionRequest, resp *runtime.PredictionResponse) {
	d.send(ctx, req, resp, runtime.WebhookEventStart)
}

// NotifyCompleted sends the "completed" lifecycle event. It implements
// manager.Notifier.
func (d *Dispatcher) NotifyCompleted(ctx context.Context, req *runtime.PredictionRequest, resp *runtime.PredictionResponse) {
	d.send(ctx, req, resp, runtime.WebhookEventCompleted)
}

func (d *Dispatcher) send(ctx context.Context, req *runtime.PredictionRequest, resp *runtime.PredictionResponse, event runtime.WebhookEvent) {
	if req == nil || resp == nil || !req.WantsWebhook(event) {
		return
	}

	traceID := uuid.New().String()
	body, err := json.Marshal(resp)
	if err != nil {
		d.logf(traceID, logrus.Fields{"error": err}, "failed to encode webhook body")
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Webhook, bytes.NewReader(body))
	if err != nil {
		d.logf(traceID, logrus.Fields{"error": err, "url": req.Webhook}, "failed to build webhook request")
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if d.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.AuthToken)
	}

	d.logf(traceID, logrus.Fields{"url": req.Webhook, "event": event}, "sending webhook")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	httpResp, err := client.Do(httpReq)
	if err != nil {
		d.logf(traceID, logrus.Fields{"error": err, "url": req.Webhook}, "webhook delivery failed")
		return
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 300 {
		d.logf(traceID, logrus.Fields{"url": req.Webhook, "status": httpResp.StatusCode}, "webhook endpoint rejected delivery")
		return
	}
	d.logf(traceID, nil, "webhook delivered")
}

func (d *Dispatcher) logf(traceID string, fields logrus.Fields, msg string) {
	if d.Logger == nil {
		return
	}
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["trace_id"] = traceID
	d.Logger.WithFields(fields).Debug(msg)
}
