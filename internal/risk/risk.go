// Package risk scores aggregated actions for triage priority. The model is a
// flat, explainable set of additive signals: every point of score is traceable
// to a tag, and the final value is clamped to [0,100]. Scoring is pure — no
// I/O and no mutation outside AttachRisk's in-place decoration.
package risk

import (
	"regexp"
	"sort"
	"strings"

	"github.com/trafficlens/trafficlens/internal/actions"
	"github.com/trafficlens/trafficlens/internal/pathtmpl"
	"github.com/trafficlens/trafficlens/internal/scope"
)

// Tags emitted by Score, beyond the scope tags.
const (
	TagWrites             = "writes"
	TagDestructive        = "destructive"
	TagHasBody            = "has_body"
	TagSensitivePath      = "sensitive_path"
	TagIDInPath           = "id_in_path"
	TagTokenInPath        = "token_in_path"
	TagUUIDLike           = "uuid_like"
	TagAuthzBoundary      = "authz_boundary"
	Tag5xxSeen            = "5xx_seen"
	TagRedirectSeen       = "redirect_seen"
	TagVeryLargeResp      = "very_large_resp"
	TagLargeResp          = "large_resp"
	TagMediumResp         = "medium_resp"
	TagSlow               = "slow"
	TagIDQuery            = "id_query"
	TagRedirectParam      = "redirect_param"
	TagFileParam          = "file_param"
	TagQueryProbe         = "query_probe"
	TagPagination         = "pagination"
	TagDebugParam         = "debug_param"
	TagAssetLike          = "asset_like"
	TagAPILike            = "api_like"
	TagHighFrequency      = "high_frequency"
	TagAuthHeadersPresent = "auth_headers_present"
	TagTokenWordInPath    = "token_word_in_path"
	TagMultiSignal        = "multi_signal"
)

var sensitivePathHints = []string{
	"admin", "internal", "manage", "settings",
	"oauth", "sso", "token", "jwt", "key", "secret",
	"billing", "payment", "invoice", "subscription",
	"user", "users", "account", "accounts", "profile",
	"role", "permission", "acl",
	"order", "orders", "cart", "checkout",
	"debug", "config",
}

var idQueryHints = map[string]struct{}{
	"id": {}, "uid": {}, "user": {}, "user_id": {}, "userid": {},
	"account": {}, "account_id": {}, "accountid": {},
	"org": {}, "org_id": {}, "orgid": {}, "tenant": {}, "tenant_id": {},
	"customer": {}, "customer_id": {},
	"project": {}, "project_id": {},
}

var redirectQueryHints = map[string]struct{}{
	"redirect": {}, "redirect_uri": {}, "redirect_url": {}, "return": {},
	"return_url": {}, "return_to": {}, "next": {}, "url": {}, "callback": {},
	"continue": {}, "dest": {}, "destination": {},
}

var fileQueryHints = map[string]struct{}{
	"file": {}, "filename": {}, "path": {}, "filepath": {}, "dir": {},
	"folder": {}, "template": {}, "include": {}, "doc": {}, "document": {},
}

var probeQueryHints = map[string]struct{}{
	"q": {}, "query": {}, "search": {}, "filter": {}, "sort": {},
	"order_by": {}, "where": {}, "sql": {},
}

var paginationQueryHints = map[string]struct{}{
	"page": {}, "per_page": {}, "limit": {}, "offset": {}, "cursor": {}, "size": {},
}

var debugQueryHints = map[string]struct{}{
	"debug": {}, "test": {}, "verbose": {}, "trace": {}, "preview": {}, "beta": {},
}

var tokenPathWords = []string{"token", "jwt", "apikey", "api_key", "api-key", "bearer", "secret"}

var assetMimePrefixes = []string{"image/", "font/"}

var assetMimeExact = map[string]struct{}{
	"text/css":                 {},
	"text/javascript":          {},
	"application/javascript":   {},
	"application/x-javascript": {},
}

var rawUUID = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}`)

// strongEvidence is the subset of tags counted toward the multi-signal
// confidence bonus.
var strongEvidence = map[string]struct{}{
	TagWrites:             {},
	TagDestructive:        {},
	TagSensitivePath:      {},
	TagTokenInPath:        {},
	TagIDInPath:           {},
	TagAuthzBoundary:      {},
	TagAuthHeadersPresent: {},
	TagRedirectParam:      {},
	TagFileParam:          {},
}

// Score maps one action plus the project's host scope to a triage score in
// [0,100] and a sorted, deduplicated tag set.
func Score(a *actions.Action, allowHosts, denyHosts []string) (int, []string) {
	var tags []string
	score := 0

	method := strings.ToUpper(a.Method)
	path := strings.ToLower(a.PathTemplate)
	mime := strings.ToLower(a.TopMime)

	// Method weight.
	switch method {
	case "GET":
		score += 5
	case "HEAD", "OPTIONS":
		score += 2
	case "POST":
		score += 22
		tags = append(tags, TagWrites)
	case "PUT", "PATCH":
		score += 28
		tags = append(tags, TagWrites)
	case "DELETE":
		score += 34
		tags = append(tags, TagDestructive)
	default:
		score += 8
	}

	if a.HasBody {
		score += 10
		tags = append(tags, TagHasBody)
	}

	// Path sensitivity hints.
	if hits := containsAny(path, sensitivePathHints); hits > 0 {
		score += capped(25, 5+3*hits)
		tags = append(tags, TagSensitivePath)
	}

	// Placeholder density.
	if n := countPlaceholders(path, pathtmpl.IdentifierPlaceholders); n > 0 {
		score += capped(14, 4+3*n)
		tags = append(tags, TagIDInPath)
	}
	if n := countPlaceholders(path, pathtmpl.TokenPlaceholders); n > 0 {
		score += capped(18, 6+4*n)
		tags = append(tags, TagTokenInPath)
	}
	if rawUUID.MatchString(path) {
		score += 4
		tags = append(tags, TagUUIDLike)
	}

	// Status signals.
	var saw401403, saw5xx, saw3xx bool
	for _, st := range a.StatusCodes {
		switch {
		case st == 401 || st == 403:
			saw401403 = true
		case st >= 500 && st <= 599:
			saw5xx = true
		case st >= 300 && st <= 399:
			saw3xx = true
		}
	}
	if saw401403 {
		score += 12
		tags = append(tags, TagAuthzBoundary)
	}
	if saw5xx {
		score += 10
		tags = append(tags, Tag5xxSeen)
	}
	if saw3xx {
		score += 3
		tags = append(tags, TagRedirectSeen)
	}

	// Response size tiers, highest wins.
	switch {
	case a.AvgRespBytes >= 400_000:
		score += 12
		tags = append(tags, TagVeryLargeResp)
	case a.AvgRespBytes >= 200_000:
		score += 10
		tags = append(tags, TagLargeResp)
	case a.AvgRespBytes >= 50_000:
		score += 6
		tags = append(tags, TagMediumResp)
	}

	// Latency tiers, highest wins.
	switch {
	case a.AvgTimeMS >= 2000:
		score += 9
		tags = append(tags, TagSlow)
	case a.AvgTimeMS >= 1200:
		score += 7
		tags = append(tags, TagSlow)
	case a.AvgTimeMS >= 600:
		score += 4
		tags = append(tags, TagSlow)
	}

	// Query-key vocabulary signals.
	qkeys := make([]string, 0, len(a.QueryKeys))
	for _, k := range a.QueryKeys {
		qkeys = append(qkeys, strings.ToLower(k))
	}
	score += vocabBonus(&tags, qkeys, idQueryHints, 12, 4, 2, TagIDQuery)
	score += vocabBonus(&tags, qkeys, redirectQueryHints, 10, 6, 2, TagRedirectParam)
	score += vocabBonus(&tags, qkeys, fileQueryHints, 12, 6, 3, TagFileParam)
	score += vocabBonus(&tags, qkeys, probeQueryHints, 8, 3, 2, TagQueryProbe)
	score += vocabBonus(&tags, qkeys, paginationQueryHints, 4, 1, 1, TagPagination)
	score += vocabBonus(&tags, qkeys, debugQueryHints, 10, 5, 2, TagDebugParam)

	// Mime signals.
	apiLike := false
	switch {
	case isAssetMime(mime):
		score -= 25
		tags = append(tags, TagAssetLike)
	case strings.Contains(mime, "json") || strings.Contains(mime, "xml"):
		score += 3
		apiLike = true
		tags = append(tags, TagAPILike)
	case mime == "text/html":
		score -= 2
	}

	// High frequency.
	if a.Count >= 25 {
		tags = append(tags, TagHighFrequency)
		if apiLike || saw401403 || method == "POST" || method == "PUT" || method == "PATCH" {
			score += 3
		} else {
			score += 1
		}
	}

	// Header-derived hint.
	if len(a.AuthHeaderNames) > 0 {
		score += 4
		tags = append(tags, TagAuthHeadersPresent)
	}

	// Token-ish word literally in path text.
	if containsAny(stripPlaceholders(path), tokenPathWords) > 0 {
		score += 2
		tags = append(tags, TagTokenWordInPath)
	}

	// Scope penalties.
	m := scope.NewMatcher(allowHosts, denyHosts)
	res := m.Resolve(a.Host)
	tags = append(tags, res.Tags...)
	if !res.Allowed {
		score -= 22
	}
	if res.ThirdParty {
		score -= 10
	}

	// Confidence bonus.
	strong := 0
	for _, t := range tags {
		if _, ok := strongEvidence[t]; ok {
			strong++
		}
	}
	switch {
	case strong >= 3:
		score += 3
		tags = append(tags, TagMultiSignal)
	case strong == 2:
		score += 1
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return score, dedupSorted(tags)
}

// AttachRisk decorates each action in place with risk_score and risk_tags.
func AttachRisk(acts []*actions.Action, allowHosts, denyHosts []string) {
	for _, a := range acts {
		s, tags := Score(a, allowHosts, denyHosts)
		sc := s
		a.RiskScore = &sc
		a.RiskTags = tags
	}
}

func capped(limit, v int) int {
	if v > limit {
		return limit
	}
	return v
}

func containsAny(haystack string, needles []string) int {
	hits := 0
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			hits++
		}
	}
	return hits
}

func countPlaceholders(path string, placeholders []string) int {
	n := 0
	for _, p := range placeholders {
		n += strings.Count(path, p)
	}
	return n
}

// stripPlaceholders removes template placeholders so that "{token}" itself
// does not count as a literal token word.
func stripPlaceholders(path string) string {
	for _, p := range append(append([]string{}, pathtmpl.IdentifierPlaceholders...), pathtmpl.TokenPlaceholders...) {
		path = strings.ReplaceAll(path, p, "")
	}
	return path
}

func vocabBonus(tags *[]string, keys []string, vocab map[string]struct{}, limit, base, per int, tag string) int {
	hits := 0
	for _, k := range keys {
		if _, ok := vocab[k]; ok {
			hits++
		}
	}
	if hits == 0 {
		return 0
	}
	*tags = append(*tags, tag)
	return capped(limit, base+per*hits)
}

func isAssetMime(mime string) bool {
	for _, p := range assetMimePrefixes {
		if strings.HasPrefix(mime, p) {
			return true
		}
	}
	if _, ok := assetMimeExact[mime]; ok {
		return true
	}
	return false
}

func dedupSorted(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
