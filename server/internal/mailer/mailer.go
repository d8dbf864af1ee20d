// Package mailer sends transactional email such as purchase receipts.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"

	"github.com/mrz1836/postmark"

	"github.com/sitesmith/sitesmith/server/internal/config"
)

var (
	ErrSendFailed    = errors.New("failed to send email")
	ErrInvalidConfig = errors.New("invalid mail config")
	ErrInvalidInput  = errors.New("invalid email message")
)

// Message is a single outgoing email.
type Message struct {
	To      string
	Subject string
	Tag     string
	HTML    string
}

func (m Message) validate() error {
	if _, err := mail.ParseAddress(m.To); err != nil {
		return fmt.Errorf("%w: recipient %q", ErrInvalidInput, m.To)
	}
	if m.Subject == "" || m.HTML == "" {
		return fmt.Errorf("%w: subject and body are required", ErrInvalidInput)
	}
	return nil
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// New returns the Sender selected by cfg.Provider.
func New(cfg config.MailConfig, logger *slog.Logger) (Sender, error) {
	switch cfg.Provider {
	case "postmark":
		return NewPostmarkSender(cfg)
	case "log", "":
		return NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// PostmarkSender sends email through the Postmark transactional API.
type PostmarkSender struct {
	client  *postmark.Client
	from    string
	replyTo string
}

// NewPostmarkSender creates a Postmark-backed sender.
func NewPostmarkSender(cfg config.MailConfig) (*PostmarkSender, error) {
	if cfg.PostmarkServerToken == "" {
		return nil, fmt.Errorf("%w: postmark server token is required", ErrInvalidConfig)
	}
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("%w: from address %q", ErrInvalidConfig, cfg.From)
	}
	replyTo := cfg.ReplyTo
	if replyTo == "" {
		replyTo = cfg.From
	}
	return &PostmarkSender{
		client:  postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		from:    cfg.From,
		replyTo: replyTo,
	}, nil
}

// Send delivers msg. Opens and HTML link clicks are tracked.
func (p *PostmarkSender) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}

	resp, err := p.client.SendEmail(ctx, postmark.Email{
		From:       p.from,
		ReplyTo:    p.replyTo,
		To:         msg.To,
		Subject:    msg.Subject,
		Tag:        msg.Tag,
		HTMLBody:   msg.HTML,
		TrackOpens: true,
		TrackLinks: "HtmlOnly",
	})
	if err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrSendFailed, fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return nil
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a sender for development setups without a mail provider.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger.With("component", "mailer")}
}

func (l *LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	l.logger.Info("email not delivered (log provider)",
		"to", msg.To, "subject", msg.Subject, "tag", msg.Tag, "bytes", len(msg.HTML))
	return nil
}
