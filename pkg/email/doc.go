// Package email renders HTML templates and sends them over SMTP.
//
// Templates live in templates/ and are embedded at build time; each one
// defines a "content" block wrapped by layout.html. When WARDEN_SMTP_HOST
// is empty NewSender returns a LogSender that only logs recipient and
// subject, which keeps local development free of a mail server.
package email
