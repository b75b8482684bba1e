package pathvalue

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDownloadsAndRemovesOnClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello, world"))
	}))
	defer srv.Close()

	pv, err := New(context.Background(), srv.URL+"/README.md")
	require.NoError(t, err)

	raw, err := os.ReadFile(pv.LocalPath())
	require.NoError(t, err)
	assert.Equal(t, "hello, world", string(raw))

	require.NoError(t, pv.Close())
	_, err = os.Stat(pv.LocalPath())
	assert.True(t, os.IsNotExist(err))

	// Close is idempotent.
	assert.NoError(t, pv.Close())
}

func TestFromDataURLDecodesAndSniffs(t *testing.T) {
	// "hi" base64-encoded, tagged as plain text.
	pv, err := FromDataURL("data:text/plain;base64,aGk=")
	require.NoError(t, err)
	defer pv.Close()

	raw, err := os.ReadFile(pv.LocalPath())
	require.NoError(t, err)
	assert.Equal(t, "hi", string(raw))
}

func TestToDataURLRoundTrips(t *testing.T) {
	pv, err := FromDataURL("data:text/plain;base64,aGVsbG8=")
	require.NoError(t, err)
	defer pv.Close()

	dataURL, err := pv.ToDataURL()
	require.NoError(t, err)
	assert.Contains(t, dataURL, ";base64,")

	roundTripped, err := FromDataURL(dataURL)
	require.NoError(t, err)
	defer roundTripped.Close()

	raw, err := os.ReadFile(roundTripped.LocalPath())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(raw))
}

func TestUploadPutPostsBytesAndParsesURL(t *testing.T) {
	var gotContentType string
	var gotBody []byte
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url": "` + srv.URL + `/out.txt?sig=abc"}`))
	})

	pv, err := FromDataURL("data:text/plain;base64,b3V0cHV0") // "output"
	require.NoError(t, err)
	defer pv.Close()

	uploaded, err := pv.UploadPut(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.NotContains(t, uploaded, "sig=abc", "query string must be stripped")
	assert.NotEmpty(t, gotContentType)
	assert.Equal(t, "output", string(gotBody))
}

func TestSerializePrefersUploadOverDataURL(t *testing.T) {
	var uploaded bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploaded = true
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url": "http://example.invalid/f.txt"}`))
	}))
	defer srv.Close()

	pv, err := FromDataURL("data:text/plain;base64,aGk=")
	require.NoError(t, err)
	defer pv.Close()

	out, err := pv.Serialize(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, uploaded)
	assert.Equal(t, "http://example.invalid/f.txt", out)

	out2, err := pv.Serialize(context.Background(), "")
	require.NoError(t, err)
	assert.Contains(t, out2, "data:")
}
