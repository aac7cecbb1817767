package mail

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	texttemplate "text/template"
	"time"

	"github.com/Builder-Lawyers/church-provisioner/internal/application/interfaces"
)

//go:embed templates
var templateFS embed.FS

type Notifier struct {
	sender Sender
	html   *htmltemplate.Template
	text   *texttemplate.Template
	now    func() time.Time
}

func NewNotifier(sender Sender) *Notifier {
	return &Notifier{
		sender: sender,
		html:   htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/*.html")),
		text:   texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/*.txt")),
		now:    time.Now,
	}
}

func (n *Notifier) Notify(ctx context.Context, notification interfaces.Notification) error {
	if notification.Recipient == "" {
		return errors.New("notification has no recipient")
	}
	data, err := mapToMailData(notification.Template, notification.Context, n.now().Year())
	if err != nil {
		return err
	}

	var htmlBody, textBody bytes.Buffer
	name := string(data.GetMailType())
	if err = n.html.ExecuteTemplate(&htmlBody, name+".html", data); err != nil {
		return fmt.Errorf("error rendering html, %v", err)
	}
	if err = n.text.ExecuteTemplate(&textBody, name+".txt", data); err != nil {
		return fmt.Errorf("error rendering text, %v", err)
	}

	err = n.sender.Send(ctx, Message{
		To:      []string{notification.Recipient},
		Subject: data.GetSubject(),
		Text:    textBody.String(),
		HTML:    htmlBody.String(),
	})
	if err != nil {
		return err
	}
	slog.Info("mail sent", "queueID", notification.QueueID, "template", notification.Template)
	return nil
}

var _ interfaces.Notifier = (*Notifier)(nil)
