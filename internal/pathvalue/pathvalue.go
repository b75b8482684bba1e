// Package pathvalue implements the PathValue file-reference type used by
// prediction input and output: a value on the wire is a URL (http(s):// or
// data:), and a value in memory is a temporary file on local disk that owns
// its own cleanup.
//
// This mirrors original_source/lib/src/spec.rs's Path type: deserializing
// downloads or decodes to a temp file, and serializing uploads (or falls
// back to a data: URI) and removes the temp file once the caller is done
// with it. The teacher has no direct equivalent — restdata/url.go only
// handles name-safe URL segments — so the download/upload behavior here is
// new, built in the teacher's small-helper-functions-plus-method style and
// enriched with github.com/gabriel-vasile/mimetype for content sniffing in
// place of the original's tree_magic_mini/mime_guess pair.
package pathvalue

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	uuid "github.com/satori/go.uuid"
)

// PathValue is an in-memory handle to a file backing one input or output
// field. The zero value is not usable; construct with New or FromDataURL.
type PathValue struct {
	localPath string
	removed   bool
}

// uploadResponse is the shape the upload endpoint is expected to answer
// with, matching original_source/lib/src/spec.rs's UploadResponse.
type uploadResponse struct {
	URL string `json:"url"`
}

// New resolves rawURL — either an http(s) URL to download, or a data: URI
// to decode — into a PathValue backed by a fresh temporary file.
func New(ctx context.Context, rawURL string) (*PathValue, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("pathvalue: parse %q: %w", rawURL, err)
	}
	if u.Scheme == "data" {
		return FromDataURL(rawURL)
	}
	return download(ctx, u)
}

// download fetches a remote URL to a temp file named after the URL's final
// path segment, the same naming scheme as Path::new in spec.rs.
func download(ctx context.Context, u *url.URL) (*PathValue, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("pathvalue: build request for %s: %w", u, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pathvalue: download %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("pathvalue: download %s: got status %d", u, resp.StatusCode)
	}

	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		name = uuid.NewV4().String()
	}
	localPath := filepath.Join(os.TempDir(), name)

	f, err := os.Create(localPath)
	if err != nil {
		return nil, fmt.Errorf("pathvalue: create temp file %s: %w", localPath, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return nil, fmt.Errorf("pathvalue: write temp file %s: %w", localPath, err)
	}
	return &PathValue{localPath: localPath}, nil
}

// FromDataURL decodes a data: URI into a PathValue backed by a new
// randomly-named temp file, sniffing the MIME type to pick a file
// extension the way spec.rs's from_dataurl does with tree_magic_mini.
func FromDataURL(rawURL string) (*PathValue, error) {
	_, data, found := strings.Cut(rawURL, ",")
	if !found {
		return nil, fmt.Errorf("pathvalue: malformed data URI")
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		// Some encoders omit padding; retry with the raw encoding.
		raw, err = base64.RawStdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("pathvalue: decode base64 payload: %w", err)
		}
	}

	mtype := mimetype.Detect(raw)
	localPath := filepath.Join(os.TempDir(), uuid.NewV4().String()+mtype.Extension())

	if err := os.WriteFile(localPath, raw, 0o600); err != nil {
		return nil, fmt.Errorf("pathvalue: write temp file %s: %w", localPath, err)
	}
	return &PathValue{localPath: localPath}, nil
}

// FromLocalFile wraps an already-materialized file (for example, one a
// model wrote directly to disk as its output) as a PathValue that will be
// removed on Close like any other.
func FromLocalFile(localPath string) *PathValue {
	return &PathValue{localPath: localPath}
}

// LocalPath returns the on-disk path backing this value.
func (p *PathValue) LocalPath() string {
	return p.localPath
}

// ToDataURL reads the backing file and returns it as a base64 data: URI,
// the fallback serialization used when no upload endpoint is configured.
func (p *PathValue) ToDataURL() (string, error) {
	raw, err := os.ReadFile(p.localPath)
	if err != nil {
		return "", fmt.Errorf("pathvalue: read %s: %w", p.localPath, err)
	}
	mtype := mimetype.Detect(raw)
	return fmt.Sprintf("data:%s;base64,%s", mtype.String(), base64.StdEncoding.EncodeToString(raw)), nil
}

// UploadPut PUTs the backing file to uploadURL/<filename> with a sniffed
// Content-Type, expects a JSON {"url": "..."} response, strips any query
// string from the returned URL, and returns it. Mirrors spec.rs's
// upload_put.
func (p *PathValue) UploadPut(ctx context.Context, uploadURL string) (string, error) {
	raw, err := os.ReadFile(p.localPath)
	if err != nil {
		return "", fmt.Errorf("pathvalue: read %s: %w", p.localPath, err)
	}
	mtype := mimetype.Detect(raw)

	dest := strings.TrimRight(uploadURL, "/") + "/" + filepath.Base(p.localPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, dest, bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("pathvalue: build upload request to %s: %w", dest, err)
	}
	req.Header.Set("Content-Type", mtype.String())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("pathvalue: upload to %s: %w", dest, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("pathvalue: upload to %s: got status %d: %s", dest, resp.StatusCode, body)
	}

	var parsed uploadResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("pathvalue: parse upload response from %s: %w", dest, err)
	}
	u, err := url.Parse(parsed.URL)
	if err != nil {
		return "", fmt.Errorf("pathvalue: parse uploaded url %q: %w", parsed.URL, err)
	}
	u.RawQuery = ""
	return u.String(), nil
}

// Serialize resolves this value to its wire form, preferring an upload to
// uploadURL when one is configured and falling back to a data: URI
// otherwise — the same precedence as spec.rs's custom Serialize impl,
// which checks the UPLOAD_URL environment variable.
func (p *PathValue) Serialize(ctx context.Context, uploadURL string) (string, error) {
	if uploadURL == "" {
		return p.ToDataURL()
	}
	return p.UploadPut(ctx, uploadURL)
}

// Close removes the backing temporary file. It is idempotent and safe to
// call multiple times, matching spec.rs's Drop impl but without a panic on
// a missing file (a caller may have already moved it).
func (p *PathValue) Close() error {
	if p.removed {
		return nil
	}
	p.removed = true
	if err := os.Remove(p.localPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("pathvalue: remove %s: %w", p.localPath, err)
	}
	return nil
}
