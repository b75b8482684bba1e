package httpapi

import (
	"net/url"
	"strings"
)

// Prefer is a parsed RFC 7240-style Prefer header: a set of
// comma-separated key[=value] tokens, with percent-decoded values.
//
// Grounded directly on original_source/lib/src/helpers/headers.rs's
// decode(), including its test case of
// "wait=10, timeout=5, respond-async" parsing into three tokens, the
// last with an empty value.
type Prefer map[string]string

// ParsePrefer decodes the value of a Prefer header.
func ParsePrefer(header string) Prefer {
	p := Prefer{}
	if header == "" {
		return p
	}
	for _, token := range strings.Split(header, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		key, value, _ := strings.Cut(token, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if decoded, err := url.PathUnescape(value); err == nil {
			value = decoded
		}
		p[key] = value
	}
	return p
}

// Has reports whether key was present in the header, valued or not —
// "respond-async" is valueless but its presence still matters.
func (p Prefer) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// RespondAsync reports whether the client asked for asynchronous
// handling of the request via "Prefer: respond-async".
func (p Prefer) RespondAsync() bool {
	return p.Has("respond-async")
}
