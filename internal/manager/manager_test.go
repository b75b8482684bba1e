package manager

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diffeo/cogrunner/internal/runtime"
	"github.com/diffeo/cogrunner/internal/validator"
)

// fakePredictor is a Predictor test double standing in for
// *worker.Worker, so Manager tests don't need a real model.
type fakePredictor struct {
	delay      time.Duration
	err        error
	canceled   bool
	seenPrefix string
}

func (f *fakePredictor) Predict(ctx context.Context, input json.RawMessage, cancel <-chan struct{}, uploadPrefix string) (json.RawMessage, bool, error) {
	f.seenPrefix = uploadPrefix
	select {
	case <-time.After(f.delay):
	case <-cancel:
		return nil, true, nil
	}
	if f.err != nil {
		return nil, false, f.err
	}
	return input, false, nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	starts    []string
	completed []string
}

func (n *recordingNotifier) NotifyStart(ctx context.Context, req *runtime.PredictionRequest, resp *runtime.PredictionResponse) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.starts = append(n.starts, req.ID)
}

func (n *recordingNotifier) NotifyCompleted(ctx context.Context, req *runtime.PredictionRequest, resp *runtime.PredictionResponse) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, req.ID)
}

const textSchema = `{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`

func TestInitThenWaitSucceeds(t *testing.T) {
	v, err := validator.New([]byte(textSchema))
	require.NoError(t, err)
	m := New(&fakePredictor{}, v, nil)

	resp, err := m.Init(context.Background(), &runtime.PredictionRequest{Input: json.RawMessage(`{"text":"hi"}`)})
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusStarting, resp.Status)

	final, err := m.Wait(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusSucceeded, final.Status)
	assert.Equal(t, `{"text":"hi"}`, string(final.Output))
}

func TestInitPassesOutputFilePrefixToWorker(t *testing.T) {
	v, err := validator.New([]byte(textSchema))
	require.NoError(t, err)
	fp := &fakePredictor{}
	m := New(fp, v, nil)

	resp, err := m.Init(context.Background(), &runtime.PredictionRequest{
		Input:            json.RawMessage(`{"text":"hi"}`),
		OutputFilePrefix: "https://uploads.example/out",
	})
	require.NoError(t, err)

	_, err = m.Wait(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://uploads.example/out", fp.seenPrefix)
}

func TestInitRejectsWhileBusy(t *testing.T) {
	m := New(&fakePredictor{delay: 100 * time.Millisecond}, nil, nil)

	resp, err := m.Init(context.Background(), &runtime.PredictionRequest{Input: json.RawMessage(`{}`)})
	require.NoError(t, err)

	_, err = m.Init(context.Background(), &runtime.PredictionRequest{Input: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, runtime.ErrAlreadyRunning)

	_, err = m.Wait(context.Background(), resp.ID)
	require.NoError(t, err)
}

func TestInvalidInputFailsWithoutCallingWorker(t *testing.T) {
	v, err := validator.New([]byte(textSchema))
	require.NoError(t, err)
	fp := &fakePredictor{}
	m := New(fp, v, nil)

	_, err = m.Init(context.Background(), &runtime.PredictionRequest{Input: json.RawMessage(`{"text": 5}`)})
	require.Error(t, err)

	var set *runtime.ValidationErrorSet
	require.ErrorAs(t, err, &set)
	require.NotEmpty(t, set.Errors)
	assert.Equal(t, []string{"body", "input", "text"}, set.Errors[0].Loc)

	assert.Nil(t, m.Current(), "a rejected prediction must never occupy the slot")
}

func TestCancelMarksCanceled(t *testing.T) {
	m := New(&fakePredictor{delay: time.Hour}, nil, nil)

	resp, err := m.Init(context.Background(), &runtime.PredictionRequest{Input: json.RawMessage(`{}`)})
	require.NoError(t, err)

	require.NoError(t, m.Cancel(resp.ID))

	final, err := m.Wait(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusCanceled, final.Status)

	// Canceling twice is a no-op, not an error.
	assert.NoError(t, m.Cancel(resp.ID))
}

func TestMultipleWaitersRendezvousOnSameCompletion(t *testing.T) {
	m := New(&fakePredictor{delay: 50 * time.Millisecond}, nil, nil)
	resp, err := m.Init(context.Background(), &runtime.PredictionRequest{Input: json.RawMessage(`{}`)})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]runtime.Status, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			final, err := m.Wait(context.Background(), resp.ID)
			require.NoError(t, err)
			results[i] = final.Status
		}(i)
	}
	wg.Wait()

	for _, s := range results {
		assert.Equal(t, runtime.StatusSucceeded, s)
	}
}

func TestWaitUnknownID(t *testing.T) {
	m := New(&fakePredictor{}, nil, nil)
	_, err := m.Wait(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, runtime.ErrUnknown)
}

func TestNotifierReceivesStartAndCompleted(t *testing.T) {
	n := &recordingNotifier{}
	m := New(&fakePredictor{}, nil, n)

	resp, err := m.Init(context.Background(), &runtime.PredictionRequest{
		Input:               json.RawMessage(`{}`),
		Webhook:             "http://example.invalid/hook",
		WebhookEventFilters: []runtime.WebhookEvent{runtime.WebhookEventStart, runtime.WebhookEventCompleted},
	})
	require.NoError(t, err)

	_, err = m.Wait(context.Background(), resp.ID)
	require.NoError(t, err)

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Equal(t, []string{resp.ID}, n.starts)
	assert.Equal(t, []string{resp.ID}, n.completed)
}

func TestWaitWithCancelOnAbortCancelsOnContextDone(t *testing.T) {
	m := New(&fakePredictor{delay: time.Hour}, nil, nil)
	resp, err := m.Init(context.Background(), &runtime.PredictionRequest{Input: json.RawMessage(`{}`)})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.WaitWithCancelOnAbort(ctx, resp.ID)
	assert.Error(t, err)

	final, err := m.Wait(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusCanceled, final.Status)
}
