package har

import (
	"strings"
	"testing"
)

const sampleHAR = `{
  "log": {
    "entries": [
      {
        "request": {
          "method": "POST",
          "url": "https://api.example.com/v1/login?next=%2Fhome",
          "headers": [
            {"name": "Authorization", "value": "Bearer live-token"},
            {"name": "Content-Type", "value": "application/json"}
          ],
          "postData": {"text": "{\"user\":\"a\"}"}
        },
        "response": {
          "status": 200,
          "headers": [{"name": "Set-Cookie", "value": "sid=abc"}],
          "content": {"mimeType": "application/json; charset=utf-8", "text": "{}"},
          "bodySize": 42
        },
        "time": 123.4
      },
      {
        "request": {"method": "GET", "url": "https://cdn.example.com/app.css", "headers": []},
        "response": {
          "status": 200,
          "headers": [],
          "content": {"mimeType": "text/css"},
          "bodySize": 9000
        },
        "time": 10
      }
    ]
  }
}`

// =============================================================================
// Parse Tests
// =============================================================================

func TestParse(t *testing.T) {
	records, err := Parse([]byte(sampleHAR))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	r := records[0]
	if r.Method != "POST" {
		t.Errorf("Method = %q", r.Method)
	}
	if r.Host != "api.example.com" {
		t.Errorf("Host = %q", r.Host)
	}
	if r.Path != "/v1/login" {
		t.Errorf("Path = %q", r.Path)
	}
	if r.Query != "next=%2Fhome" {
		t.Errorf("Query = %q", r.Query)
	}
	if r.Status != 200 || r.Mime != "application/json" || r.RespBytes != 42 {
		t.Errorf("response fields = %v %q %v", r.Status, r.Mime, r.RespBytes)
	}
	if r.TimeMS != 123.4 {
		t.Errorf("TimeMS = %v", r.TimeMS)
	}
	if !r.HasReqBody() {
		t.Error("HasReqBody() = false")
	}
}

func TestParse_RedactsSensitiveHeaders(t *testing.T) {
	records, err := Parse([]byte(sampleHAR))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	r := records[0]
	if got := r.ReqHeaders.Get("authorization"); got != "<redacted>" {
		t.Errorf("authorization = %q, want redacted", got)
	}
	if got := r.ReqHeaders.Get("content-type"); got != "application/json" {
		t.Errorf("content-type = %q, must not be redacted", got)
	}
	if got := r.RespHeaders.Get("set-cookie"); got != "<redacted>" {
		t.Errorf("set-cookie = %q, want redacted", got)
	}
}

func TestParse_Malformed(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Error("Parse() of garbage should fail")
	}

	// An empty log is valid, just empty.
	records, err := Parse([]byte(`{"log": {}}`))
	if err != nil || len(records) != 0 {
		t.Errorf("Parse(empty log) = %v, %v", records, err)
	}
}

func TestParseReader_SizeLimit(t *testing.T) {
	if _, err := ParseReader(strings.NewReader(sampleHAR), 10); err == nil {
		t.Error("ParseReader() should reject oversized input")
	}

	records, err := ParseReader(strings.NewReader(sampleHAR), 0)
	if err != nil {
		t.Fatalf("ParseReader() error = %v", err)
	}
	if len(records) != 2 {
		t.Errorf("got %d records, want 2", len(records))
	}
}

// =============================================================================
// Asset Mime Tests
// =============================================================================

func TestIsAssetMime(t *testing.T) {
	tests := []struct {
		mime string
		want bool
	}{
		{"image/png", true},
		{"font/woff2", true},
		{"text/css", true},
		{"application/javascript", true},
		{"video/mp4", true},
		{"application/font-woff2", true},
		{"application/json", false},
		{"text/html", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			if got := IsAssetMime(tt.mime); got != tt.want {
				t.Errorf("IsAssetMime(%q) = %v, want %v", tt.mime, got, tt.want)
			}
		})
	}
}
