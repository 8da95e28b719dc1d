// Package pathtmpl classifies request path segments into typed placeholders
// so that parameterized paths collapse into a single template.
package pathtmpl

import (
	"regexp"
	"strings"
)

// Placeholder values produced by Segment.
const (
	PlaceholderDate  = "{date}"
	PlaceholderVer   = "{ver}"
	PlaceholderInt   = "{int}"
	PlaceholderUUID  = "{uuid}"
	PlaceholderULID  = "{ulid}"
	PlaceholderJWT   = "{jwt}"
	PlaceholderHex   = "{hex}"
	PlaceholderToken = "{token}"
)

var (
	reUUID = regexp.MustCompile(`^(?i)[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	reHex  = regexp.MustCompile(`^(?i)[0-9a-f]{16,}$`)
	reInt  = regexp.MustCompile(`^\d+$`)

	// JWT shape: three dot-separated base64url parts.
	reJWT = regexp.MustCompile(`^[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+$`)

	// ULID: 26 chars of Crockford base32.
	reULID = regexp.MustCompile(`^(?i)[0-9A-HJKMNP-TV-Z]{26}$`)

	// Long base64url-ish opaque strings (not necessarily valid base64).
	reB64URLish = regexp.MustCompile(`^[A-Za-z0-9_\-]{18,}={0,2}$`)

	reDateYYYYMMDD = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	reDateYYYYMM   = regexp.MustCompile(`^\d{4}-\d{2}$`)
)

// Segment turns a path segment into a template placeholder when it looks like
// an identifier or token. The cascade is ordered; the first match wins.
// Short pure-digit segments are treated as versions ({ver}) rather than IDs
// ({int}) so /v1/x and /v2/x stay distinct from /items/12345.
func Segment(seg string) string {
	if seg == "" {
		return seg
	}

	// Dates first (common in API paths and logging endpoints).
	if reDateYYYYMMDD.MatchString(seg) || reDateYYYYMM.MatchString(seg) {
		return PlaceholderDate
	}

	if reInt.MatchString(seg) {
		if len(seg) <= 2 {
			return PlaceholderVer
		}
		return PlaceholderInt
	}

	if reUUID.MatchString(seg) {
		return PlaceholderUUID
	}

	if reULID.MatchString(seg) {
		return PlaceholderULID
	}

	if reJWT.MatchString(seg) {
		return PlaceholderJWT
	}

	if reHex.MatchString(seg) {
		return PlaceholderHex
	}

	if reB64URLish.MatchString(seg) {
		return PlaceholderToken
	}

	return seg
}

// Path normalizes a full request path into a template: empty segments are
// dropped (collapsing repeated slashes), each segment is classified, and the
// result carries a single leading slash. Empty input maps to "/".
func Path(path string) string {
	if path == "" {
		return "/"
	}

	parts := strings.Split(path, "/")
	norm := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		norm = append(norm, Segment(p))
	}
	return "/" + strings.Join(norm, "/")
}

// Depth returns the number of non-empty segments in a template.
// "/" has depth 0, "/a/b" has depth 2.
func Depth(template string) int {
	if template == "" || template == "/" {
		return 0
	}
	n := 0
	for _, p := range strings.Split(template, "/") {
		if p != "" {
			n++
		}
	}
	return n
}

// IdentifierPlaceholders lists the placeholders that stand for record
// identifiers embedded in a path.
var IdentifierPlaceholders = []string{PlaceholderUUID, PlaceholderULID, PlaceholderInt, PlaceholderHex}

// TokenPlaceholders lists the placeholders that stand for credentials or
// opaque tokens embedded in a path.
var TokenPlaceholders = []string{PlaceholderToken, PlaceholderJWT}
