package mail

import (
	"os"

	"github.com/Builder-Lawyers/church-provisioner/pkg/env"
)

const (
	SenderSMTP = "smtp"
	SenderLog  = "log"
)

type MailConfig struct {
	Sender   string
	SMTPHost string
	SMTPPort string
	Username string
	Password string
	From     string
	FromName string
}

func NewMailConfig() *MailConfig {
	return &MailConfig{
		Sender:   env.GetEnv("MAIL_SENDER", SenderLog),
		SMTPHost: os.Getenv("MAIL_HOST"),
		SMTPPort: env.GetEnv("MAIL_PORT", "587"),
		Username: os.Getenv("MAIL_USERNAME"),
		Password: os.Getenv("MAIL_PASSWORD"),
		From:     env.GetEnv("MAIL_FROM", "no-reply@orthodoxmetrics.com"),
		FromName: env.GetEnv("MAIL_FROM_NAME", "Orthodox Metrics"),
	}
}
