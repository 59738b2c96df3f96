package smtp

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"time"

	"github.com/go-calendar-nosql/internal/config"
	"github.com/go-calendar-nosql/internal/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Notifier renders and sends the emails that carry approval tokens.
type Notifier struct {
	mailer      Mailer
	baseURL     string
	verifyTTL   time.Duration
	calendarTTL time.Duration
	eventTTL    time.Duration
}

func NewNotifier(mailer Mailer, cfg *config.Config) *Notifier {
	return &Notifier{
		mailer:      mailer,
		baseURL:     cfg.FrontendBaseURL,
		verifyTTL:   cfg.EmailVerifyTTL,
		calendarTTL: cfg.CalendarInviteTTL,
		eventTTL:    cfg.EventInviteTTL,
	}
}

type mailData struct {
	Link       string
	TTLMinutes int
	Inviter    string
	Name       string
	Role       domain.Role
}

func (n *Notifier) SendEmailVerification(ctx context.Context, toEmail, rawToken string) error {
	return n.send(ctx, toEmail, "Verify your email", "verify_email.html", mailData{
		Link:       n.link("/verify-email", rawToken),
		TTLMinutes: minutes(n.verifyTTL),
	})
}

func (n *Notifier) SendCalendarInvite(ctx context.Context, toEmail, rawToken string, info domain.CalendarInviteInfo) error {
	return n.send(ctx, toEmail, fmt.Sprintf("%s shared a calendar with you", info.InvitedBy), "calendar_invite.html", mailData{
		Link:       n.link("/calendar-invite/accept", rawToken),
		TTLMinutes: minutes(n.calendarTTL),
		Inviter:    info.InvitedBy,
		Name:       info.CalendarName,
		Role:       info.Role,
	})
}

func (n *Notifier) SendEventInvite(ctx context.Context, toEmail, rawToken string, info domain.EventInviteInfo) error {
	return n.send(ctx, toEmail, fmt.Sprintf("%s invited you to an event", info.InvitedBy), "event_invite.html", mailData{
		Link:       n.link("/event-invite/accept", rawToken),
		TTLMinutes: minutes(n.eventTTL),
		Inviter:    info.InvitedBy,
		Name:       info.EventTitle,
	})
}

func (n *Notifier) send(ctx context.Context, to, subject, tmpl string, data mailData) error {
	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, tmpl, data); err != nil {
		return fmt.Errorf("render %s: %w", tmpl, err)
	}
	// net/smtp has no context support; bail out early if the request is gone.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.mailer.SendEmail(to, subject, body.String()); err != nil {
		return fmt.Errorf("send %s to %s: %w", tmpl, to, err)
	}
	return nil
}

func (n *Notifier) link(path, rawToken string) string {
	return n.baseURL + path + "?token=" + url.QueryEscape(rawToken)
}

func minutes(d time.Duration) int {
	return int(d / time.Minute)
}
