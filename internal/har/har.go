// Package har parses HTTP Archive (HAR) capture files into traffic records.
// Captures come from real browsers and proxies, so parsing is tolerant:
// missing fields resolve to record defaults and sensitive header values are
// redacted before anything is stored.
package har

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/trafficlens/trafficlens/internal/traffic"
)

// DefaultMaxBytes caps how much of a capture file is read into memory.
const DefaultMaxBytes = 256 << 20 // 256 MiB

// ErrTooLarge is returned when a capture exceeds the configured byte cap.
var ErrTooLarge = fmt.Errorf("capture file exceeds size limit")

const redactedValue = "<redacted>"

// Header names whose values are redacted on import.
var sensitiveHeaders = map[string]struct{}{
	"authorization": {},
	"cookie":        {},
	"set-cookie":    {},
	"x-api-key":     {},
}

var assetMimePrefixes = []string{"image/", "video/"}

var assetMimeExact = map[string]struct{}{
	"text/css":                 {},
	"application/x-javascript": {},
	"text/javascript":          {},
	"application/javascript":   {},
	"application/font-woff2":   {},
	"application/x-font-ttf":   {},
}

// IsAssetMime reports whether a mime type describes a static asset
// (image, font, stylesheet, script, video) rather than application traffic.
func IsAssetMime(mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	for _, p := range assetMimePrefixes {
		if strings.HasPrefix(mime, p) {
			return true
		}
	}
	if _, ok := assetMimeExact[mime]; ok {
		return true
	}
	return strings.Contains(mime, "font") || strings.Contains(mime, "woff") || strings.Contains(mime, "ttf")
}

// Wire shapes of a HAR document; only the fields the importer needs.

type harFile struct {
	Log harLog `json:"log"`
}

type harLog struct {
	Entries []harEntry `json:"entries"`
}

type harEntry struct {
	Request  harRequest  `json:"request"`
	Response harResponse `json:"response"`
	Time     float64     `json:"time"`
}

type harRequest struct {
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Headers  []harHeader `json:"headers"`
	PostData *harPost    `json:"postData"`
}

type harResponse struct {
	Status   int         `json:"status"`
	Headers  []harHeader `json:"headers"`
	Content  harContent  `json:"content"`
	BodySize int64       `json:"bodySize"`
}

type harHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type harPost struct {
	Text string `json:"text"`
}

type harContent struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// Parse decodes a HAR document into traffic records.
func Parse(data []byte) ([]*traffic.Record, error) {
	var doc harFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode har: %w", err)
	}

	out := make([]*traffic.Record, 0, len(doc.Log.Entries))
	for _, e := range doc.Log.Entries {
		out = append(out, entryToRecord(e))
	}
	return out, nil
}

// ParseReader reads at most maxBytes from r and parses the result.
// maxBytes <= 0 applies DefaultMaxBytes.
func ParseReader(r io.Reader, maxBytes int64) ([]*traffic.Record, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read capture: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (limit %d bytes)", ErrTooLarge, maxBytes)
	}
	return Parse(data)
}

func entryToRecord(e harEntry) *traffic.Record {
	u, _ := url.Parse(e.Request.URL)

	rec := &traffic.Record{
		Method: e.Request.Method,
		URL:    e.Request.URL,
		Status: e.Response.Status,
		Mime:   safeMime(e.Response.Content.MimeType),
		TimeMS: e.Time,
	}
	if u != nil {
		rec.Host = u.Host
		rec.Path = u.Path
		rec.Query = u.RawQuery
	}

	if e.Response.BodySize > 0 {
		rec.RespBytes = e.Response.BodySize
	}

	if e.Request.PostData != nil {
		rec.ReqBody = e.Request.PostData.Text
	}
	rec.RespBody = e.Response.Content.Text

	rec.ReqHeaders = sanitizeHeaders(e.Request.Headers)
	rec.RespHeaders = sanitizeHeaders(e.Response.Headers)

	return rec
}

func safeMime(mime string) string {
	mime = strings.SplitN(mime, ";", 2)[0]
	return strings.ToLower(strings.TrimSpace(mime))
}

// sanitizeHeaders converts HAR headers to a normalized bag with sensitive
// values redacted. Real-world captures routinely carry live credentials.
func sanitizeHeaders(headers []harHeader) traffic.HeaderBag {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		name := strings.ToLower(strings.TrimSpace(h.Name))
		if name == "" {
			continue
		}
		if _, sensitive := sensitiveHeaders[name]; sensitive {
			m[name] = redactedValue
		} else {
			m[name] = h.Value
		}
	}
	return traffic.NewHeaderBag(m)
}
