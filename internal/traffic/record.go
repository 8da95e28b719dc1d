// Package traffic defines the captured request/response record consumed by the
// aggregation and scoring layers, together with a schema-tolerant accessor
// layer: capture files disagree on field names and header shapes, so every
// accessor resolves absent or malformed data to a documented default and never
// returns an error.
package traffic

import (
	"strings"
)

// Defaults used when a capture omits a field.
const (
	DefaultMethod = "GET"
	DefaultMime   = "x-unknown"
)

// Record is one captured request/response pair. All fields are optional:
// zero values mean "not captured".
type Record struct {
	Method string `json:"method,omitempty"`
	URL    string `json:"url,omitempty"`
	Host   string `json:"host,omitempty"`
	Path   string `json:"path,omitempty"`
	Query  string `json:"query,omitempty"`

	// Header fields accept a map, a HAR-style pair list, or a JSON string of
	// either; see HeaderBag.
	ReqHeaders  HeaderBag `json:"req_headers,omitempty"`
	RespHeaders HeaderBag `json:"resp_headers,omitempty"`

	ReqBody  string `json:"req_body,omitempty"`
	RespBody string `json:"resp_body,omitempty"`

	// Status 0 means "no response captured" and is excluded from status
	// aggregates.
	Status    int     `json:"status,omitempty"`
	Mime      string  `json:"mime,omitempty"`
	RespBytes int64   `json:"resp_bytes,omitempty"`
	TimeMS    float64 `json:"time_ms,omitempty"`
}

// EffectiveMethod returns the uppercased request method, defaulting to GET.
func (r *Record) EffectiveMethod() string {
	m := strings.TrimSpace(r.Method)
	if m == "" {
		return DefaultMethod
	}
	return strings.ToUpper(m)
}

// EffectiveHost returns the lowercased host.
func (r *Record) EffectiveHost() string {
	return strings.ToLower(strings.TrimSpace(r.Host))
}

// EffectivePath returns the request path, defaulting to "/".
func (r *Record) EffectivePath() string {
	if r.Path == "" {
		return "/"
	}
	return r.Path
}

// EffectiveStatus returns the response status and whether one was captured.
// Status 0 is treated as "no response", common in truncated captures.
func (r *Record) EffectiveStatus() (int, bool) {
	if r.Status == 0 {
		return 0, false
	}
	return r.Status, true
}

// EffectiveMime returns the response mime type, defaulting to "x-unknown".
func (r *Record) EffectiveMime() string {
	m := strings.TrimSpace(r.Mime)
	if m == "" {
		return DefaultMime
	}
	return m
}

// EffectiveRespBytes returns the response byte count. When no counter was
// captured it falls back to the stored response body length, else 0.
func (r *Record) EffectiveRespBytes() int64 {
	if r.RespBytes > 0 {
		return r.RespBytes
	}
	if r.RespBody != "" {
		return int64(len(r.RespBody))
	}
	return 0
}

// HasReqBody reports whether a request body was captured.
func (r *Record) HasReqBody() bool {
	return len(r.ReqBody) > 0
}

// SampleURL returns the stored full URL when present, else reconstructs one
// from host/path/query. Scheme is unknown in captures; https is assumed for
// display. Returns "" when no host is known.
func (r *Record) SampleURL() string {
	if r.URL != "" {
		return r.URL
	}

	host := r.EffectiveHost()
	if host == "" {
		return ""
	}

	var b strings.Builder
	b.WriteString("https://")
	b.WriteString(host)
	b.WriteString(r.EffectivePath())
	if r.Query != "" {
		b.WriteString("?")
		b.WriteString(r.Query)
	}
	return b.String()
}
