package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diffeo/cogrunner/internal/runtime"
)

func TestNotifyStartRespectsEventFilter(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New("", nil)
	req := &runtime.PredictionRequest{
		ID:                  "abc",
		Webhook:             srv.URL,
		WebhookEventFilters: []runtime.WebhookEvent{runtime.WebhookEventCompleted},
	}
	d.NotifyStart(context.Background(), req, &runtime.PredictionResponse{ID: "abc", Status: runtime.StatusStarting})
	assert.False(t, called, "start event is filtered out, so no request should be sent")
}

func TestNotifyCompletedSendsAuthorizedPOST(t *testing.T) {
	var gotAuth string
	var gotBody runtime.PredictionResponse
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New("s3cr3t", nil)
	req := &runtime.PredictionRequest{ID: "abc", Webhook: srv.URL}
	d.NotifyCompleted(context.Background(), req, &runtime.PredictionResponse{ID: "abc", Status: runtime.StatusSucceeded})

	assert.Equal(t, "Bearer s3cr3t", gotAuth)
	assert.Equal(t, "abc", gotBody.ID)
	assert.Equal(t, runtime.StatusSucceeded, gotBody.Status)
}

func TestNotifyWithoutWebhookIsNoop(t *testing.T) {
	d := New("", nil)
	// No webhook URL set; must not panic or attempt any network call.
	d.NotifyCompleted(context.Background(), &runtime.PredictionRequest{ID: "abc"}, &runtime.PredictionResponse{ID: "abc"})
}
