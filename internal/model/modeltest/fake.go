// Package modeltest provides reusable model.Model fakes for exercising
// the worker, manager, and HTTP layers without a real prediction
// backend. This mirrors the teacher's coordinatetest package, which is
// a black-box conformance and fixture suite reused across multiple
// Coordinate backend implementations; here the "backends" are the
// different prediction behaviors a test wants (echo, slow, failing).
package modeltest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/diffeo/cogrunner/internal/pathvalue"
)

// Echo is a model.Model that returns its "text" input field
// unchanged, as a bare JSON string. It's the model used by
// scenarios 1, 2, and 4 of the specification's testable properties.
type Echo struct {
	// SetupDelay, if non-zero, is slept through during Setup.
	SetupDelay time.Duration

	// SetupErr, if non-nil, is returned from Setup instead of
	// succeeding.
	SetupErr error
}

const echoSchema = `{
	"type": "object",
	"properties": {
		"text": {"type": "string"}
	},
	"required": ["text"]
}`

// Setup implements model.Model.
func (e *Echo) Setup(ctx context.Context) error {
	if e.SetupDelay > 0 {
		select {
		case <-time.After(e.SetupDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return e.SetupErr
}

// Predict implements model.Model.
func (e *Echo) Predict(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return json.Marshal(req.Text)
}

// RequestSchema implements model.Model.
func (e *Echo) RequestSchema() (json.RawMessage, error) {
	return json.RawMessage(echoSchema), nil
}

// Slow is a model.Model whose Predict blocks for Delay (or until
// ctx is canceled) before returning its input unchanged. It's the model used by
// scenario 3, which exercises cancellation of an in-flight async
// prediction.
type Slow struct {
	Delay time.Duration
}

// Setup implements model.Model.
func (s *Slow) Setup(context.Context) error { return nil }

// Predict implements model.Model.
func (s *Slow) Predict(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	select {
	case <-time.After(s.Delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return input, nil
}

// RequestSchema implements model.Model.
func (s *Slow) RequestSchema() (json.RawMessage, error) {
	return json.RawMessage(`{"type": "object"}`), nil
}

// Failing is a model.Model whose Predict always returns an error,
// used by scenario 6 to exercise the Failed terminal status.
type Failing struct {
	Message string
}

// Setup implements model.Model.
func (f *Failing) Setup(context.Context) error { return nil }

// Predict implements model.Model.
func (f *Failing) Predict(context.Context, json.RawMessage) (json.RawMessage, error) {
	msg := f.Message
	if msg == "" {
		msg = "prediction failed"
	}
	return nil, errors.New(msg)
}

// RequestSchema implements model.Model.
func (f *Failing) RequestSchema() (json.RawMessage, error) {
	return json.RawMessage(`{"type": "object"}`), nil
}

// FileEmitting is a model.Model that also implements model.FileAware,
// for exercising the Response Adapter's file-output conversion step
// end to end: Predict really writes a temp file to disk, and
// ConvertOutput really hands it to internal/pathvalue to be
// serialized (uploaded, or embedded as a data: URI) and cleaned up.
type FileEmitting struct {
	// Content is written to the temp file Predict produces. Defaults
	// to a short fixed string if unset.
	Content []byte

	// SeenPrefix records the last uploadPrefix ConvertOutput was
	// called with.
	SeenPrefix string
}

// Setup implements model.Model.
func (f *FileEmitting) Setup(context.Context) error { return nil }

// Predict implements model.Model. It materializes Content to a fresh
// temp file and returns that file's path as its raw JSON output —
// standing in for a real model writing e.g. a generated image to
// disk — leaving ConvertOutput to turn it into a wire-safe value.
func (f *FileEmitting) Predict(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	content := f.Content
	if content == nil {
		content = []byte("synthetic model output")
	}

	tmp, err := os.CreateTemp("", "cogrunner-modeltest-*")
	if err != nil {
		return nil, fmt.Errorf("modeltest: create temp output file: %w", err)
	}
	defer tmp.Close()
	if _, err := tmp.Write(content); err != nil {
		return nil, fmt.Errorf("modeltest: write temp output file: %w", err)
	}

	return json.Marshal(tmp.Name())
}

// RequestSchema implements model.Model.
func (f *FileEmitting) RequestSchema() (json.RawMessage, error) {
	return json.RawMessage(`{"type": "object"}`), nil
}

// ConvertOutput implements model.FileAware. It wraps the local path
// Predict produced as a pathvalue.PathValue, serializes it (uploading
// to uploadPrefix if set, else embedding as a data: URI), and removes
// the backing temp file once serialization is done.
func (f *FileEmitting) ConvertOutput(ctx context.Context, output json.RawMessage, uploadPrefix string) (json.RawMessage, error) {
	f.SeenPrefix = uploadPrefix

	var localPath string
	if err := json.Unmarshal(output, &localPath); err != nil {
		return nil, fmt.Errorf("modeltest: decode predict output: %w", err)
	}

	pv := pathvalue.FromLocalFile(localPath)
	defer pv.Close()

	serialized, err := pv.Serialize(ctx, uploadPrefix)
	if err != nil {
		return nil, fmt.Errorf("modeltest: serialize output: %w", err)
	}
	return json.Marshal(serialized)
}
