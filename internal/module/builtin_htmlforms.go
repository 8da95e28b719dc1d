package module

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	engerr "github.com/trafficlens/trafficlens/internal/errors"
)

// htmlFormSurface walks captured HTML response bodies and reports the form
// attack surface: password forms missing CSRF tokens and file upload forms.
type htmlFormSurface struct{}

// Hidden input names that look like an anti-CSRF token.
var csrfHints = []string{"csrf", "xsrf", "token", "authenticity", "nonce"}

func (htmlFormSurface) Metadata() Metadata {
	return Metadata{
		ID:          "html_form_surface",
		Name:        "HTML Form Surface",
		Version:     "1.0.0",
		Description: "Inspects captured HTML pages for risky form constructs.",
		Source:      SourceBuiltin,
	}
}

func (htmlFormSurface) Run(ctx *Context) (*Result, error) {
	if ctx.Records == nil {
		return nil, engerr.NewModuleContract("html_form_surface", "records callback missing")
	}

	recs, err := ctx.Records()
	if err != nil {
		return nil, err
	}

	res := &Result{}
	pagesScanned := 0
	formsSeen := 0
	seen := make(map[string]struct{})

	for _, rec := range recs {
		if rec.EffectiveMime() != "text/html" || rec.RespBody == "" {
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(rec.RespBody))
		if err != nil {
			continue
		}
		pagesScanned++

		page := rec.EffectiveHost() + rec.EffectivePath()
		doc.Find("form").Each(func(_ int, form *goquery.Selection) {
			formsSeen++
			f := inspectForm(form)

			if f.hasPassword && !f.hasCSRFToken {
				addFormFinding(res, seen, "password_no_csrf", page, f,
					"med", "Password form without CSRF token",
					"A form collecting credentials posts without any recognizable anti-CSRF token.")
			}
			if f.hasFileUpload {
				addFormFinding(res, seen, "file_upload", page, f,
					"low", "File upload form",
					"A form accepts file uploads; upload handling is a common injection surface.")
			}
		})
	}

	res.Summary = NormalizeJSON(map[string]interface{}{
		"pages_scanned": pagesScanned,
		"forms_seen":    formsSeen,
		"forms_flagged": len(res.Findings),
	})
	return res, nil
}

type formFacts struct {
	method        string
	action        string
	inputs        int
	hasPassword   bool
	hasFileUpload bool
	hasCSRFToken  bool
}

func inspectForm(form *goquery.Selection) formFacts {
	f := formFacts{method: "GET"}
	if m, ok := form.Attr("method"); ok && m != "" {
		f.method = strings.ToUpper(strings.TrimSpace(m))
	}
	if a, ok := form.Attr("action"); ok {
		f.action = strings.TrimSpace(a)
	}

	form.Find("input, textarea, select").Each(func(_ int, input *goquery.Selection) {
		f.inputs++
		typ, _ := input.Attr("type")
		typ = strings.ToLower(typ)
		name, _ := input.Attr("name")
		name = strings.ToLower(name)

		switch typ {
		case "password":
			f.hasPassword = true
		case "file":
			f.hasFileUpload = true
		case "hidden":
			for _, hint := range csrfHints {
				if strings.Contains(name, hint) {
					f.hasCSRFToken = true
					break
				}
			}
		}
	})
	return f
}

func addFormFinding(res *Result, seen map[string]struct{}, kind, page string, f formFacts, severity, title, description string) {
	key := kind + "|" + page + "|" + f.action
	if _, dup := seen[key]; dup {
		return
	}
	seen[key] = struct{}{}

	res.Findings = append(res.Findings, map[string]interface{}{
		"title":       fmt.Sprintf("%s on %s", title, page),
		"severity":    severity,
		"description": description,
		"evidence": map[string]interface{}{
			"page":        page,
			"form_method": f.method,
			"form_action": f.action,
			"inputs":      f.inputs,
		},
		"tags": []string{"form_surface", kind},
	})
}
