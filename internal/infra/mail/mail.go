package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/Builder-Lawyers/church-provisioner/internal/application/errs"
	gomail "github.com/emersion/go-message/mail"
)

type Message struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

func NewSender(cfg *MailConfig) (Sender, error) {
	switch cfg.Sender {
	case SenderSMTP:
		if cfg.SMTPHost == "" {
			return nil, errors.New("MAIL_HOST is required for the smtp sender")
		}
		return NewMailServer(cfg), nil
	case SenderLog, "":
		return LogSender{}, nil
	}
	return nil, fmt.Errorf("unknown mail sender %q", cfg.Sender)
}

type MailServer struct {
	cfg  *MailConfig
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewMailServer(cfg *MailConfig) *MailServer {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPHost)
	}
	return &MailServer{
		cfg:  cfg,
		auth: auth,
		send: smtp.SendMail,
	}
}

func (m *MailServer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := Compose(m.cfg.FromName, m.cfg.From, msg, time.Now())
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(m.cfg.SMTPHost, m.cfg.SMTPPort)
	if err = m.send(addr, m.auth, m.cfg.From, msg.To, body); err != nil {
		var protoErr *textproto.Error
		// 4xx replies are transient by definition
		if errors.As(err, &protoErr) && protoErr.Code >= 400 && protoErr.Code < 500 {
			return errs.RetryableError{Err: fmt.Errorf("failed to send mail: %w", err)}
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return errs.RetryableError{Err: fmt.Errorf("failed to send mail: %w", err)}
		}
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}

// Compose builds a multipart/alternative message with a plain text and an
// HTML body.
func Compose(fromName, from string, msg Message, date time.Time) ([]byte, error) {
	var h gomail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*gomail.Address{{Name: fromName, Address: from}})
	to := make([]*gomail.Address, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, &gomail.Address{Address: addr})
	}
	h.SetAddressList("To", to)
	h.SetSubject(msg.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw, err := gomail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	tw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}
	if err = writePart(tw, "text/plain", msg.Text); err != nil {
		return nil, err
	}
	if err = writePart(tw, "text/html", msg.HTML); err != nil {
		return nil, err
	}
	if err = tw.Close(); err != nil {
		return nil, err
	}
	if err = mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writePart(tw *gomail.InlineWriter, contentType, body string) error {
	var h gomail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err = io.WriteString(w, body); err != nil {
		return err
	}
	return w.Close()
}

// LogSender only logs envelopes. Bodies may carry passwords and are never logged.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg Message) error {
	slog.Info("mail not sent, log sender configured", "to", msg.To, "subject", msg.Subject)
	return nil
}
