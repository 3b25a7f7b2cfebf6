// Package compose builds the deletion-request email for one user and
// website, picks its recipients, and decodes the loosely typed inputs that
// upstream callers hand to the composer.
package compose

import (
	"bytes"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"
)

// Defaults used when a Context leaves them empty.
const (
	DefaultPrivacyLaw   = "GDPR and CCPA"
	DefaultResponseDays = 30
)

// Context carries everything the template needs.
type Context struct {
	UserName     string `json:"user_name"`
	UserEmail    string `json:"user_email"`
	UserLocation string `json:"user_location,omitempty"`
	Website      string `json:"website"`
	PrivacyLaw   string `json:"privacy_law,omitempty"`
	ResponseDays int    `json:"response_days,omitempty"`
	// Instructions is curated per-domain guidance appended to the request.
	Instructions string    `json:"instructions,omitempty"`
	Date         time.Time `json:"date"`
}

// Validate reports the first missing required field.
func (c Context) Validate() error {
	switch {
	case strings.TrimSpace(c.UserName) == "":
		return errors.New("missing required field: user_name")
	case strings.TrimSpace(c.UserEmail) == "":
		return errors.New("missing required field: user_email")
	case strings.TrimSpace(c.Website) == "":
		return errors.New("missing required field: website")
	}
	return nil
}

func (c Context) withDefaults() Context {
	if c.PrivacyLaw == "" {
		c.PrivacyLaw = DefaultPrivacyLaw
	}
	if c.ResponseDays <= 0 {
		c.ResponseDays = DefaultResponseDays
	}
	if c.Date.IsZero() {
		c.Date = time.Now().UTC()
	}
	return c
}

// Request is a rendered deletion request.
type Request struct {
	Subject    string `json:"subject"`
	Text       string `json:"body"`
	HTML       string `json:"html_version,omitempty"`
	LegalBasis string `json:"legal_basis"`
}

const subjectTemplate = `Personal Data Deletion Request - {{.Website}}`

const textTemplate = `Dear {{.Website}} Data Protection Team,

I am writing to formally request the deletion of all my personal data from your systems and records, in accordance with {{.PrivacyLaw}}.

Personal Information:
- Name: {{.UserName}}
- Email: {{.UserEmail}}
{{- if .UserLocation}}
- Location: {{.UserLocation}}
{{- end}}

Specific Requests:
1. Complete deletion of all my personal data from your active systems
2. Removal of my information from any backup systems
3. Confirmation of deletion once completed

Please provide confirmation of receipt of this request and an expected timeframe for completion. According to {{.PrivacyLaw}}, I expect to receive a response within {{.ResponseDays}} days.
{{- if .Instructions}}

{{.Instructions}}
{{- end}}

If you require any additional information to verify my identity or process this request, please let me know.

Thank you for your attention to this matter.

Best regards,
{{.UserName}}
{{.Date.Format "2006-01-02"}}
`

const htmlTemplate = `<html><body>
<p>Dear {{.Website}} Data Protection Team,</p>
<p>I am writing to formally request the deletion of all my personal data from your systems and records, in accordance with {{.PrivacyLaw}}.</p>
<p><strong>Personal Information:</strong></p>
<ul>
<li>Name: {{.UserName}}</li>
<li>Email: {{.UserEmail}}</li>
{{- if .UserLocation}}
<li>Location: {{.UserLocation}}</li>
{{- end}}
</ul>
<p><strong>Specific Requests:</strong></p>
<ol>
<li>Complete deletion of all my personal data from your active systems</li>
<li>Removal of my information from any backup systems</li>
<li>Confirmation of deletion once completed</li>
</ol>
<p>Please provide confirmation of receipt of this request and an expected timeframe for completion. According to {{.PrivacyLaw}}, I expect to receive a response within {{.ResponseDays}} days.</p>
{{- if .Instructions}}
<p>{{.Instructions}}</p>
{{- end}}
<p>If you require any additional information to verify my identity or process this request, please let me know.</p>
<p>Thank you for your attention to this matter.</p>
<p>Best regards,<br>{{.UserName}}</p>
</body></html>
`

var (
	subjectTmpl = texttemplate.Must(texttemplate.New("subject").Parse(subjectTemplate))
	textTmpl    = texttemplate.Must(texttemplate.New("text").Parse(textTemplate))
	htmlTmpl    = htmltemplate.Must(htmltemplate.New("html").Parse(htmlTemplate))
)

// Render validates c and renders the subject and both bodies.
func Render(c Context) (Request, error) {
	if err := c.Validate(); err != nil {
		return Request{}, err
	}
	c = c.withDefaults()

	var subject, text, html bytes.Buffer
	if err := subjectTmpl.Execute(&subject, c); err != nil {
		return Request{}, fmt.Errorf("render subject: %w", err)
	}
	if err := textTmpl.Execute(&text, c); err != nil {
		return Request{}, fmt.Errorf("render text body: %w", err)
	}
	if err := htmlTmpl.Execute(&html, c); err != nil {
		return Request{}, fmt.Errorf("render html body: %w", err)
	}
	return Request{
		Subject:    subject.String(),
		Text:       text.String(),
		HTML:       html.String(),
		LegalBasis: c.PrivacyLaw,
	}, nil
}
