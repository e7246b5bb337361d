// Package mailer delivers transactional email outside the request cycle.
//
// Handlers never send mail themselves. They hand a rendered Message to a
// Queue, which returns immediately; a small worker pool delivers it through
// a Sender and retries with exponential backoff. In production the Sender
// publishes to an AMQP queue consumed by the mail relay; without a broker it
// just logs.
package mailer

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

// Message is one rendered email.
type Message struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Composer renders the transactional emails.
type Composer struct {
	from        string
	frontendURL string
	linkTTL     time.Duration
	tmpl        *template.Template
}

// NewComposer parses the embedded templates. frontendURL is the base of the
// links placed in emails.
func NewComposer(from, frontendURL string, linkTTL time.Duration) (*Composer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("mailer: parsing templates: %w", err)
	}
	return &Composer{
		from:        from,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		linkTTL:     linkTTL,
		tmpl:        tmpl,
	}, nil
}

// Onboarding is the "finish your signup" email.
func (c *Composer) Onboarding(to, token string) (Message, error) {
	return c.render(to, "Complete your Pikoshi signup", "onboarding.html", c.link("/onboarding", token))
}

// PasswordReset is the "choose a new password" email.
func (c *Composer) PasswordReset(to, token string) (Message, error) {
	return c.render(to, "Reset your Pikoshi password", "password_reset.html", c.link("/change-password", token))
}

func (c *Composer) link(path, token string) string {
	return c.frontendURL + path + "?token=" + url.QueryEscape(token)
}

func (c *Composer) render(to, subject, name, link string) (Message, error) {
	var buf bytes.Buffer
	err := c.tmpl.ExecuteTemplate(&buf, name, map[string]string{
		"Email":     to,
		"Link":      link,
		"ExpiresIn": c.linkTTL.String(),
	})
	if err != nil {
		return Message{}, fmt.Errorf("mailer: rendering %s: %w", name, err)
	}
	return Message{From: c.from, To: to, Subject: subject, HTML: buf.String()}, nil
}
