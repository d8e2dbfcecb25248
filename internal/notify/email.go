package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"ltvsync/internal/config"
	"ltvsync/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"deref": func(s *string) string {
		if s == nil || *s == "" {
			return "-"
		}
		return *s
	},
}).ParseFS(templateFS, "templates/*.html"))

// ErrSMTPNotConfigured is returned by SendTest when host or recipient is missing.
var ErrSMTPNotConfigured = errors.New("SMTP is not configured")

const (
	dayLayout   = "2006-01-02"
	stampLayout = "2006-01-02 15:04:05 UTC"
	dialTimeout = 30 * time.Second
)

// Message is a rendered email.
type Message struct {
	Subject string
	HTML    string
}

type emailView struct {
	Run     *models.SyncRun
	Summary Summary
	At      string
	Error   string
}

func render(name string, view interface{}) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, view); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// SuccessMessage renders the notification for a successful run.
func SuccessMessage(run *models.SyncRun) (Message, error) {
	at := run.StartedAt
	if run.CompletedAt != nil {
		at = *run.CompletedAt
	}
	at = at.UTC()
	body, err := render("success.html", emailView{Run: run, Summary: Summarize(run), At: at.Format(stampLayout)})
	if err != nil {
		return Message{}, err
	}
	return Message{Subject: "GHL Meta Sync Successful - " + at.Format(dayLayout), HTML: body}, nil
}

// FailureMessage renders the notification for a failed run.
func FailureMessage(run *models.SyncRun, errMsg string) (Message, error) {
	at := run.StartedAt.UTC()
	body, err := render("failure.html", emailView{Run: run, At: at.Format(stampLayout), Error: errMsg})
	if err != nil {
		return Message{}, err
	}
	return Message{Subject: "GHL Meta Sync Failed - " + at.Format(dayLayout), HTML: body}, nil
}

// TestMessage renders the SMTP verification email.
func TestMessage() (Message, error) {
	body, err := render("test.html", nil)
	if err != nil {
		return Message{}, err
	}
	return Message{Subject: "GHL Meta Sync - Test Email", HTML: body}, nil
}

type sendFunc func(ctx context.Context, cfg config.SMTPConfig, raw []byte) error

// Email delivers run notifications over SMTP.
type Email struct {
	cfg    config.SMTPConfig
	send   sendFunc
	logger *zap.Logger
}

func NewEmail(cfg config.SMTPConfig, logger *zap.Logger) *Email {
	return &Email{cfg: cfg, send: sendSMTP, logger: logger}
}

// Enabled reports whether the email channel can deliver.
func (e *Email) Enabled() bool { return e.cfg.Enabled() }

func (e *Email) RunSucceeded(ctx context.Context, run *models.SyncRun) error {
	msg, err := SuccessMessage(run)
	if err != nil {
		return err
	}
	return e.deliver(ctx, msg)
}

func (e *Email) RunFailed(ctx context.Context, run *models.SyncRun, errMsg string) error {
	msg, err := FailureMessage(run, errMsg)
	if err != nil {
		return err
	}
	return e.deliver(ctx, msg)
}

// SendTest sends the verification email. Unlike run notifications it fails
// when SMTP is not configured.
func (e *Email) SendTest(ctx context.Context) error {
	if !e.Enabled() {
		return ErrSMTPNotConfigured
	}
	msg, err := TestMessage()
	if err != nil {
		return err
	}
	return e.deliver(ctx, msg)
}

func (e *Email) deliver(ctx context.Context, msg Message) error {
	if !e.Enabled() {
		e.logger.Warn("SMTP not configured, skipping email", zap.String("subject", msg.Subject))
		return nil
	}
	if err := e.send(ctx, e.cfg, buildMIME(e.cfg.From, e.cfg.To, msg)); err != nil {
		e.logger.Error("Failed to send email", zap.String("subject", msg.Subject), zap.Error(err))
		return fmt.Errorf("send email: %w", err)
	}
	e.logger.Info("Email sent", zap.String("subject", msg.Subject))
	return nil
}

func buildMIME(from, to string, msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	return []byte(b.String())
}

func recipients(to string) []string {
	var out []string
	for _, r := range strings.Split(to, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// sendSMTP upgrades with STARTTLS unless talking to port 25, and logs in when
// a username is configured.
func sendSMTP(ctx context.Context, cfg config.SMTPConfig, raw []byte) error {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()

	if cfg.Port != 25 {
		if err := c.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.Mail(cfg.From); err != nil {
		return err
	}
	for _, rcpt := range recipients(cfg.To) {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
