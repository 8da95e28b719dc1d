package module

import (
	"fmt"

	engerr "github.com/trafficlens/trafficlens/internal/errors"
)

// riskDigest flags actions whose risk score clears a threshold. It is the
// default triage pass over a freshly imported capture.
type riskDigest struct{}

func (riskDigest) Metadata() Metadata {
	return Metadata{
		ID:          "risk_digest",
		Name:        "Risk Digest",
		Version:     "1.0.0",
		Description: "Flags aggregated actions at or above a minimum risk score.",
		Source:      SourceBuiltin,
		Params: []Param{
			{
				Name:        "min_risk",
				Type:        "int",
				Default:     70,
				Description: "Minimum risk score an action needs to be flagged, clamped to [0,100].",
			},
		},
	}
}

func (riskDigest) Run(ctx *Context) (*Result, error) {
	if ctx.Actions == nil {
		return nil, engerr.NewModuleContract("risk_digest", "actions callback missing")
	}

	minRisk := ParamInt(ctx.Params, "min_risk", 70)
	if minRisk < 0 {
		minRisk = 0
	}
	if minRisk > 100 {
		minRisk = 100
	}

	acts, err := ctx.Actions()
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, a := range acts {
		if a.RiskScore == nil || *a.RiskScore < minRisk {
			continue
		}
		score := *a.RiskScore

		severity := "low"
		switch {
		case score >= 85:
			severity = "high"
		case score >= 70:
			severity = "med"
		}

		res.Findings = append(res.Findings, map[string]interface{}{
			"title":       fmt.Sprintf("High-risk action: %s %s%s", a.Method, a.Host, a.PathTemplate),
			"severity":    severity,
			"description": fmt.Sprintf("Scored %d (threshold %d) across %d observations.", score, minRisk, a.Count),
			"evidence": map[string]interface{}{
				"risk_score":  score,
				"risk_tags":   a.RiskTags,
				"count":       a.Count,
				"sample_urls": a.SampleURLs,
			},
			"tags":        a.RiskTags,
			"action_keys": []string{a.Key},
		})
	}

	res.Summary = NormalizeJSON(map[string]interface{}{
		"actions_total":   len(acts),
		"actions_flagged": len(res.Findings),
		"min_risk":        minRisk,
	})
	return res, nil
}
