// Package scope provides host scope resolution for triage scoring: a project
// carries allow and deny host-pattern lists, and every aggregated action is
// classified as in-scope, denylisted, or third-party.
package scope

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Tags emitted by Resolve.
const (
	TagScopeUnset     = "scope_unset"
	TagDenylistedHost = "denylisted_host"
	TagOutOfScope     = "out_of_scope"
)

// Matcher resolves hosts against normalized allow/deny patterns. Patterns are
// exact hosts or "*."-prefixed globs; deny always wins over allow.
type Matcher struct {
	Allow []string
	Deny  []string
}

// NewMatcher builds a matcher from already-normalized pattern lists.
func NewMatcher(allow, deny []string) *Matcher {
	return &Matcher{Allow: allow, Deny: deny}
}

// Resolution is the outcome of a scope check.
type Resolution struct {
	Allowed    bool
	ThirdParty bool
	Tags       []string
}

// Resolve classifies a host:
//   - empty host is allowed; tagged scope_unset only when both lists are empty
//   - both lists empty means scope is globally unset: allowed, scope_unset
//   - a deny match takes precedence over everything: denied, denylisted_host
//   - with only a deny list configured, hosts are allowed unless denied
//   - with an allow list, the host must match at least one allow pattern,
//     else denied with out_of_scope
func (m *Matcher) Resolve(host string) Resolution {
	host = strings.ToLower(strings.TrimSpace(host))

	unset := len(m.Allow) == 0 && len(m.Deny) == 0

	if host == "" {
		res := Resolution{Allowed: true}
		if unset {
			res.Tags = append(res.Tags, TagScopeUnset)
		}
		return res
	}

	if unset {
		return Resolution{Allowed: true, Tags: []string{TagScopeUnset}}
	}

	if matchesAny(host, m.Deny) {
		return Resolution{
			Allowed:    false,
			ThirdParty: m.IsThirdParty(host),
			Tags:       []string{TagDenylistedHost},
		}
	}

	if len(m.Allow) == 0 {
		return Resolution{Allowed: true}
	}

	if matchesAny(host, m.Allow) {
		return Resolution{Allowed: true}
	}

	return Resolution{Allowed: false, ThirdParty: true, Tags: []string{TagOutOfScope}}
}

// IsThirdParty reports whether an allow list exists and the host matches none
// of its patterns.
func (m *Matcher) IsThirdParty(host string) bool {
	if len(m.Allow) == 0 {
		return false
	}
	return !matchesAny(strings.ToLower(strings.TrimSpace(host)), m.Allow)
}

// HostMatches checks one host against one pattern. "*."-prefixed patterns
// match any subdomain but not the apex itself; anything else is an exact
// match.
func HostMatches(host, pattern string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if host == "" || pattern == "" {
		return false
	}

	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(host, pattern[1:])
	}
	return host == pattern
}

func matchesAny(host string, patterns []string) bool {
	for _, p := range patterns {
		if HostMatches(host, p) {
			return true
		}
	}
	return false
}

// NormalizePattern turns one raw scope line into a host pattern. Accepted
// inputs: bare hosts, "*."-globs, full URLs, host:port, userinfo@host.
// Returns "" when the line carries no usable host.
func NormalizePattern(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	var host string
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil {
			host = strings.TrimSpace(u.Host)
		} else {
			host = s
		}
	} else {
		host = s
		for _, sep := range []string{"/", "?", "#"} {
			if i := strings.Index(host, sep); i >= 0 {
				host = host[:i]
			}
		}
	}

	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return ""
	}

	if i := strings.LastIndex(host, "@"); i >= 0 {
		host = host[i+1:]
	}

	// Strip a port, careful not to mangle bare IPv6.
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	return strings.TrimSpace(host)
}

// ParseLines converts newline-separated scope text into normalized host
// patterns. Bare registrable hosts are expanded into themselves plus a
// "*."-glob for their subdomains; wildcards pass through; localhost, IP
// literals, dot-less names and bare public suffixes are never expanded.
// The result is deduplicated preserving first-seen order.
func ParseLines(text string) []string {
	var out []string
	for _, raw := range strings.Split(text, "\n") {
		p := NormalizePattern(raw)
		if p == "" {
			continue
		}

		if strings.Contains(p, "*") {
			out = append(out, p)
			continue
		}

		out = append(out, p)
		if expandable(p) {
			out = append(out, "*."+p)
		}
	}

	seen := make(map[string]struct{}, len(out))
	deduped := out[:0]
	for _, x := range out {
		if _, ok := seen[x]; ok {
			continue
		}
		seen[x] = struct{}{}
		deduped = append(deduped, x)
	}
	return deduped
}

// expandable reports whether a bare host should also cover its subdomains.
func expandable(host string) bool {
	if host == "localhost" || !strings.Contains(host, ".") || strings.HasPrefix(host, ".") {
		return false
	}
	if net.ParseIP(host) != nil {
		return false
	}
	// A bare public suffix ("com", "co.uk") would swallow the whole TLD.
	if suffix, _ := publicsuffix.PublicSuffix(host); suffix == host {
		return false
	}
	return true
}
