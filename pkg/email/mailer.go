package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/platinummonkey/warden/pkg/observability"
)

//go:embed templates/*.html
var templateFS embed.FS

// Template names
const (
	TemplatePasswordReset = "password_reset"
)

const passwordResetSubject = "Password Reset OTP"

// Mailer renders templates and hands the result to a Sender. It implements
// auth.Mailer.
type Mailer struct {
	sender    Sender
	appName   string
	templates map[string]*template.Template
	metrics   *observability.Metrics
}

// NewMailer parses the embedded templates
func NewMailer(sender Sender, appName string, metrics *observability.Metrics) (*Mailer, error) {
	m := &Mailer{
		sender:    sender,
		appName:   appName,
		templates: make(map[string]*template.Template),
		metrics:   metrics,
	}
	for _, name := range []string{TemplatePasswordReset} {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		m.templates[name] = t
	}
	return m, nil
}

// Render executes a template inside the layout
func (m *Mailer) Render(name, subject string, data map[string]interface{}) (string, error) {
	t, ok := m.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown email template %q", name)
	}
	vars := map[string]interface{}{"AppName": m.appName, "Subject": subject}
	for k, v := range data {
		vars[k] = v
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", vars); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.String(), nil
}

// Send renders and delivers one templated email
func (m *Mailer) Send(ctx context.Context, to, subject, name string, data map[string]interface{}) error {
	html, err := m.Render(name, subject, data)
	if err == nil {
		err = m.sender.Send(ctx, Message{To: to, Subject: subject, HTML: html})
	}
	m.metrics.RecordEmail(name, err)
	return err
}

// SendPasswordReset mails a password reset OTP
func (m *Mailer) SendPasswordReset(ctx context.Context, to, otp string, ttl time.Duration) error {
	return m.Send(ctx, to, passwordResetSubject, TemplatePasswordReset, map[string]interface{}{
		"OTP":            otp,
		"ExpiresMinutes": int(ttl.Minutes()),
	})
}
