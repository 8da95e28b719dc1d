// Package actions collapses raw traffic records into deduplicated behavioral
// buckets ("actions") keyed by method, host, and templated path. An action is
// a query-time view: it is rebuilt from the full record set on every call and
// never persisted.
package actions

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/trafficlens/trafficlens/internal/pathtmpl"
	"github.com/trafficlens/trafficlens/internal/traffic"
)

// DefaultSampleLimit bounds the number of distinct sample URLs kept per action.
const DefaultSampleLimit = 3

// Top-k truncation sizes.
const (
	topKStatuses     = 5
	topKMimes        = 5
	topKContentTypes = 5
	topKQueryKeys    = 8
)

// Auth-related header names tracked as a surface signal.
var authHeaderNames = []string{"authorization", "cookie", "set-cookie", "x-api-key", "x-auth", "x-session"}

// StatusCount is one entry of a status frequency summary.
type StatusCount struct {
	Value int `json:"value"`
	Count int `json:"count"`
}

// KeyCount is one entry of a string frequency summary.
type KeyCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Action is one aggregation bucket. Identity is (method, host, path_template);
// Key joins the triple with "|".
type Action struct {
	Key          string `json:"key"`
	Method       string `json:"method"`
	Host         string `json:"host"`
	PathTemplate string `json:"path_template"`
	Count        int    `json:"count"`

	StatusCodes  []int    `json:"status_codes"`
	TopMime      string   `json:"top_mime"`
	AvgRespBytes int64    `json:"avg_resp_bytes"`
	QueryKeys    []string `json:"query_keys"`

	AvgTimeMS  float64  `json:"avg_time_ms"`
	HasBody    bool     `json:"has_body"`
	SampleURLs []string `json:"sample_urls"`

	TopStatuses  []StatusCount `json:"top_statuses"`
	TopMimes     []KeyCount    `json:"top_mimes"`
	TopQueryKeys []KeyCount    `json:"top_query_keys"`

	PathDepth     int     `json:"path_depth"`
	QueryKeyCount int     `json:"query_key_count"`
	AvgQueryKeys  float64 `json:"avg_query_keys"`

	HasAuthHeader      bool       `json:"has_auth_header"`
	HasCookieHeader    bool       `json:"has_cookie_header"`
	SetsCookie         bool       `json:"sets_cookie"`
	AuthHeaderNames    []string   `json:"auth_header_names,omitempty"`
	ReqContentType     string     `json:"req_content_type"`
	TopReqContentTypes []KeyCount `json:"top_req_content_types"`

	// Set by the risk scorer when actions are decorated.
	RiskScore *int     `json:"risk_score,omitempty"`
	RiskTags  []string `json:"risk_tags,omitempty"`
}

// BuildKey joins an action identity triple.
func BuildKey(method, host, pathTemplate string) string {
	return fmt.Sprintf("%s|%s|%s", method, host, pathTemplate)
}

// counter tracks frequencies with first-seen insertion order so top-k
// tie-breaks are deterministic regardless of map iteration.
type counter[K comparable] struct {
	counts map[K]int
	order  map[K]int
	next   int
}

func newCounter[K comparable]() *counter[K] {
	return &counter[K]{counts: make(map[K]int), order: make(map[K]int)}
}

func (c *counter[K]) inc(k K) {
	if _, ok := c.counts[k]; !ok {
		c.order[k] = c.next
		c.next++
	}
	c.counts[k]++
}

// keys returns all keys sorted by count descending, ties by first-seen order.
func (c *counter[K]) keys() []K {
	out := make([]K, 0, len(c.counts))
	for k := range c.counts {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := c.counts[out[i]], c.counts[out[j]]
		if ci != cj {
			return ci > cj
		}
		return c.order[out[i]] < c.order[out[j]]
	})
	return out
}

// top returns the most frequent key, or the zero value when empty.
func (c *counter[K]) top() (K, bool) {
	var zero K
	ks := c.keys()
	if len(ks) == 0 {
		return zero, false
	}
	return ks[0], true
}

type bucket struct {
	method       string
	host         string
	pathTemplate string

	count int

	statuses *counter[int]
	mimes    *counter[string]
	queryKey *counter[string]
	reqCT    *counter[string]

	respBytesSum int64
	respBytesN   int
	timeSum      float64
	timeN        int

	queryKeysSum int

	hasBody         bool
	hasAuthHeader   bool
	hasCookieHeader bool
	setsCookie      bool
	authHeaders     map[string]struct{}

	sampleURLs []string
}

func newBucket(method, host, pathTemplate string) *bucket {
	return &bucket{
		method:       method,
		host:         host,
		pathTemplate: pathTemplate,
		statuses:     newCounter[int](),
		mimes:        newCounter[string](),
		queryKey:     newCounter[string](),
		reqCT:        newCounter[string](),
		authHeaders:  make(map[string]struct{}),
	}
}

// Build aggregates records into actions in a single pass. The output is
// sorted by count descending (stable) and, apart from top-k tie-breaks that
// use first-seen order, independent of input record order.
func Build(records []*traffic.Record, sampleLimit int) []*Action {
	if sampleLimit <= 0 {
		sampleLimit = DefaultSampleLimit
	}

	buckets := make(map[string]*bucket)
	var order []string

	for _, r := range records {
		if r == nil {
			continue
		}

		method := r.EffectiveMethod()
		host := r.EffectiveHost()
		tmpl := pathtmpl.Path(r.EffectivePath())
		key := BuildKey(method, host, tmpl)

		b, ok := buckets[key]
		if !ok {
			b = newBucket(method, host, tmpl)
			buckets[key] = b
			order = append(order, key)
		}

		b.count++

		qKeys := queryKeys(r.Query)
		b.queryKeysSum += len(qKeys)
		for _, qk := range qKeys {
			b.queryKey.inc(qk)
		}

		if st, ok := r.EffectiveStatus(); ok {
			b.statuses.inc(st)
		}

		b.mimes.inc(r.EffectiveMime())

		// Only records reporting a positive value enter the averages.
		if rb := r.EffectiveRespBytes(); rb > 0 {
			b.respBytesSum += rb
			b.respBytesN++
		}
		if r.TimeMS > 0 {
			b.timeSum += r.TimeMS
			b.timeN++
		}

		if r.HasReqBody() {
			b.hasBody = true
		}

		if r.ReqHeaders.Len() > 0 {
			if r.ReqHeaders.Has("authorization") {
				b.hasAuthHeader = true
			}
			if r.ReqHeaders.Has("cookie") {
				b.hasCookieHeader = true
			}
			if ct := r.ReqHeaders.ContentType(); ct != "" {
				b.reqCT.inc(ct)
			}
		}
		if r.RespHeaders.Has("set-cookie") {
			b.setsCookie = true
		}
		for _, name := range authHeaderNames {
			if r.ReqHeaders.Has(name) || r.RespHeaders.Has(name) {
				b.authHeaders[name] = struct{}{}
			}
		}

		if len(b.sampleURLs) < sampleLimit {
			if su := r.SampleURL(); su != "" && !contains(b.sampleURLs, su) {
				b.sampleURLs = append(b.sampleURLs, su)
			}
		}
	}

	out := make([]*Action, 0, len(order))
	for _, key := range order {
		out = append(out, buckets[key].finalize(key))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	return out
}

func (b *bucket) finalize(key string) *Action {
	a := &Action{
		Key:          key,
		Method:       b.method,
		Host:         b.host,
		PathTemplate: b.pathTemplate,
		Count:        b.count,

		HasBody:         b.hasBody,
		HasAuthHeader:   b.hasAuthHeader,
		HasCookieHeader: b.hasCookieHeader,
		SetsCookie:      b.setsCookie,
		SampleURLs:      b.sampleURLs,

		PathDepth: pathtmpl.Depth(b.pathTemplate),
	}

	statusKeys := b.statuses.keys()
	a.StatusCodes = append([]int{}, statusKeys...)
	sort.Ints(a.StatusCodes)
	a.TopStatuses = topStatusCounts(b.statuses, topKStatuses)

	if top, ok := b.mimes.top(); ok {
		a.TopMime = top
	} else {
		a.TopMime = traffic.DefaultMime
	}
	a.TopMimes = topKeyCounts(b.mimes, topKMimes)

	if b.respBytesN > 0 {
		a.AvgRespBytes = b.respBytesSum / int64(b.respBytesN)
	}
	if b.timeN > 0 {
		a.AvgTimeMS = b.timeSum / float64(b.timeN)
	}

	qk := b.queryKey.keys()
	sort.Strings(qk)
	a.QueryKeys = qk
	a.QueryKeyCount = len(qk)
	if b.count > 0 {
		a.AvgQueryKeys = float64(b.queryKeysSum) / float64(b.count)
	}
	a.TopQueryKeys = topKeyCounts(b.queryKey, topKQueryKeys)

	if top, ok := b.reqCT.top(); ok {
		a.ReqContentType = top
	}
	a.TopReqContentTypes = topKeyCounts(b.reqCT, topKContentTypes)

	if len(b.authHeaders) > 0 {
		names := make([]string, 0, len(b.authHeaders))
		for n := range b.authHeaders {
			names = append(names, n)
		}
		sort.Strings(names)
		a.AuthHeaderNames = names
	}

	return a
}

func topStatusCounts(c *counter[int], k int) []StatusCount {
	keys := c.keys()
	if len(keys) > k {
		keys = keys[:k]
	}
	out := make([]StatusCount, 0, len(keys))
	for _, key := range keys {
		out = append(out, StatusCount{Value: key, Count: c.counts[key]})
	}
	return out
}

func topKeyCounts(c *counter[string], k int) []KeyCount {
	keys := c.keys()
	if len(keys) > k {
		keys = keys[:k]
	}
	out := make([]KeyCount, 0, len(keys))
	for _, key := range keys {
		out = append(out, KeyCount{Value: key, Count: c.counts[key]})
	}
	return out
}

// queryKeys extracts sorted parameter names from a raw query string.
// Malformed input is tolerated; whatever parses contributes.
func queryKeys(query string) []string {
	if query == "" {
		return nil
	}
	values, _ := url.ParseQuery(query)
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "" {
			continue
		}
		keys = append(keys, strings.ToLower(k))
	}
	sort.Strings(keys)
	return keys
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
