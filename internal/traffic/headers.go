package traffic

import (
	"encoding/json"
	"strings"
)

// HeaderBag is a schema-tolerant header container. Captures store headers as a
// name→value map, as a HAR-style list of {name,value} pairs, or as a JSON
// string encoding either shape. A HeaderBag normalizes all three to
// lowercase-keyed values; malformed JSON resolves to an empty bag, never an
// error.
type HeaderBag struct {
	values map[string]string
}

// NewHeaderBag builds a bag from an already-normalized map.
func NewHeaderBag(m map[string]string) HeaderBag {
	out := make(map[string]string, len(m))
	for k, v := range m {
		kk := strings.ToLower(strings.TrimSpace(k))
		if kk == "" {
			continue
		}
		out[kk] = v
	}
	return HeaderBag{values: out}
}

// ParseHeaders accepts any of the supported header representations and
// returns a normalized bag.
func ParseHeaders(x interface{}) HeaderBag {
	switch v := x.(type) {
	case nil:
		return HeaderBag{}
	case HeaderBag:
		return v
	case map[string]string:
		return NewHeaderBag(v)
	case map[string]interface{}:
		out := make(map[string]string, len(v))
		for k, val := range v {
			out[k] = toString(val)
		}
		return NewHeaderBag(out)
	case []interface{}:
		return fromPairList(v)
	case []byte:
		return parseJSONHeaders(string(v))
	case string:
		return parseJSONHeaders(v)
	default:
		return HeaderBag{}
	}
}

// fromPairList handles HAR-style []{name,value} lists. Pairs missing a name
// are skipped.
func fromPairList(items []interface{}) HeaderBag {
	out := make(map[string]string, len(items))
	for _, it := range items {
		m, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		name := toString(m["name"])
		if name == "" {
			name = toString(m["key"])
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		out[name] = toString(m["value"])
	}
	return HeaderBag{values: out}
}

func parseJSONHeaders(s string) HeaderBag {
	s = strings.TrimSpace(s)
	if s == "" {
		return HeaderBag{}
	}

	var obj interface{}
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		// Malformed header JSON is tolerated, not surfaced.
		return HeaderBag{}
	}
	return ParseHeaders(obj)
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return strings.Trim(string(b), `"`)
	}
}

// Len returns the number of headers in the bag.
func (h HeaderBag) Len() int {
	return len(h.values)
}

// Has reports whether a header is present (name compared case-insensitively).
func (h HeaderBag) Has(name string) bool {
	if h.values == nil {
		return false
	}
	_, ok := h.values[strings.ToLower(name)]
	return ok
}

// Get returns a header value, or "" when absent.
func (h HeaderBag) Get(name string) string {
	if h.values == nil {
		return ""
	}
	return h.values[strings.ToLower(name)]
}

// Names returns all header names in the bag.
func (h HeaderBag) Names() []string {
	out := make([]string, 0, len(h.values))
	for k := range h.values {
		out = append(out, k)
	}
	return out
}

// ContentType returns the media type of the content-type header, lowercased
// and stripped of parameters, or "".
func (h HeaderBag) ContentType() string {
	ct := h.Get("content-type")
	if ct == "" {
		return ""
	}
	ct = strings.SplitN(ct, ";", 2)[0]
	return strings.ToLower(strings.TrimSpace(ct))
}

// MarshalJSON encodes the bag as a plain object.
func (h HeaderBag) MarshalJSON() ([]byte, error) {
	if h.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(h.values)
}

// UnmarshalJSON accepts an object, a HAR-style pair list, or a JSON string of
// either. Decoding never fails on shape mismatches; unusable input yields an
// empty bag.
func (h *HeaderBag) UnmarshalJSON(data []byte) error {
	var obj interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		*h = HeaderBag{}
		return nil
	}
	*h = ParseHeaders(obj)
	return nil
}
