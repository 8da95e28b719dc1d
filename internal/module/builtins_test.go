package module

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ysmood/gson"

	"github.com/trafficlens/trafficlens/internal/actions"
	"github.com/trafficlens/trafficlens/internal/traffic"
)

func actionWithScore(key string, score int) *actions.Action {
	s := score
	return &actions.Action{
		Key: key, Method: "GET", Host: "api.example.com", PathTemplate: "/x",
		Count: 1, RiskScore: &s, RiskTags: []string{"api_like"},
	}
}

// =============================================================================
// risk_digest
// =============================================================================

func TestRiskDigest_FlagsAboveThreshold(t *testing.T) {
	ctx := &Context{
		Params: gson.New(map[string]interface{}{}),
		Actions: func() ([]*actions.Action, error) {
			return []*actions.Action{
				actionWithScore("a", 90),
				actionWithScore("b", 72),
				actionWithScore("c", 40),
			}, nil
		},
	}

	res, err := riskDigest{}.Run(ctx)
	require.NoError(t, err)
	require.Len(t, res.Findings, 2)

	assert.Equal(t, "high", res.Findings[0]["severity"])
	assert.Equal(t, "med", res.Findings[1]["severity"])
	assert.Equal(t, []string{"a"}, res.Findings[0]["action_keys"])

	summary, ok := res.Summary.Val().(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 3, summary["actions_total"])
	assert.EqualValues(t, 2, summary["actions_flagged"])
	assert.EqualValues(t, 70, summary["min_risk"])
}

func TestRiskDigest_ThresholdParamClamped(t *testing.T) {
	ctx := &Context{
		Params: gson.New(map[string]interface{}{"min_risk": float64(-5)}),
		Actions: func() ([]*actions.Action, error) {
			return []*actions.Action{actionWithScore("a", 0)}, nil
		},
	}

	res, err := riskDigest{}.Run(ctx)
	require.NoError(t, err)
	// Clamped to 0, so even a zero-score action is flagged.
	assert.Len(t, res.Findings, 1)
	assert.Equal(t, "low", res.Findings[0]["severity"])
}

func TestRiskDigest_SkipsUnscoredActions(t *testing.T) {
	ctx := &Context{
		Params: gson.New(map[string]interface{}{}),
		Actions: func() ([]*actions.Action, error) {
			return []*actions.Action{{Key: "no-score", Method: "GET"}}, nil
		},
	}

	res, err := riskDigest{}.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Findings)
}

func TestRiskDigest_NoActionsCallback(t *testing.T) {
	_, err := riskDigest{}.Run(&Context{Params: gson.New(map[string]interface{}{})})
	assert.Error(t, err)
}

// =============================================================================
// html_form_surface
// =============================================================================

const loginPage = `<html><body>
<form method="post" action="/login">
  <input type="text" name="user">
  <input type="password" name="pass">
</form>
</body></html>`

const safeLoginPage = `<html><body>
<form method="post" action="/login">
  <input type="hidden" name="csrf_token" value="x">
  <input type="password" name="pass">
</form>
</body></html>`

const uploadPage = `<html><body>
<form method="post" action="/upload" enctype="multipart/form-data">
  <input type="file" name="doc">
</form>
</body></html>`

func htmlRecord(host, path, body string) *traffic.Record {
	return &traffic.Record{
		Method: "GET", Host: host, Path: path,
		Status: 200, Mime: "text/html", RespBody: body,
	}
}

func formsContext(recs ...*traffic.Record) *Context {
	return &Context{
		Params:  gson.New(map[string]interface{}{}),
		Records: func() ([]*traffic.Record, error) { return recs, nil },
	}
}

func TestHTMLFormSurface_PasswordFormWithoutCSRF(t *testing.T) {
	res, err := htmlFormSurface{}.Run(formsContext(htmlRecord("app.example.com", "/login", loginPage)))
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)

	f := res.Findings[0]
	assert.Equal(t, "med", f["severity"])
	assert.Contains(t, f["title"], "app.example.com/login")

	evidence, ok := f["evidence"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "POST", evidence["form_method"])
	assert.Equal(t, "/login", evidence["form_action"])
}

func TestHTMLFormSurface_CSRFTokenSuppressesFinding(t *testing.T) {
	res, err := htmlFormSurface{}.Run(formsContext(htmlRecord("app.example.com", "/login", safeLoginPage)))
	require.NoError(t, err)
	assert.Empty(t, res.Findings)
}

func TestHTMLFormSurface_FileUpload(t *testing.T) {
	res, err := htmlFormSurface{}.Run(formsContext(htmlRecord("app.example.com", "/files", uploadPage)))
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "low", res.Findings[0]["severity"])
}

func TestHTMLFormSurface_DeduplicatesRepeatCaptures(t *testing.T) {
	rec := htmlRecord("app.example.com", "/login", loginPage)
	res, err := htmlFormSurface{}.Run(formsContext(rec, rec))
	require.NoError(t, err)
	assert.Len(t, res.Findings, 1)

	summary, ok := res.Summary.Val().(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 2, summary["pages_scanned"])
	assert.EqualValues(t, 2, summary["forms_seen"])
}

func TestHTMLFormSurface_IgnoresNonHTML(t *testing.T) {
	rec := &traffic.Record{Method: "GET", Host: "h", Path: "/api", Status: 200,
		Mime: "application/json", RespBody: `{"a":1}`}
	res, err := htmlFormSurface{}.Run(formsContext(rec))
	require.NoError(t, err)
	assert.Empty(t, res.Findings)

	summary, ok := res.Summary.Val().(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 0, summary["pages_scanned"])
}
