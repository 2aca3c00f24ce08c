package mailer

import (
	"bytes"
	"fmt"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog"

	"github.com/venueops/email-worker/internal/store"
)

// Sender submits built messages over SMTP using the account's submission
// credentials.
type Sender struct {
	log zerolog.Logger
}

func NewSender(log zerolog.Logger) *Sender {
	return &Sender{log: log.With().Str("component", "smtp-sender").Logger()}
}

// Send connects, authenticates, and submits raw to the given recipients.
// Port 465 gets implicit TLS, anything else STARTTLS.
func (s *Sender) Send(account *store.IMAPAccount, from string, to []string, raw []byte) error {
	addr := fmt.Sprintf("%s:%d", account.SMTPHost, account.SMTPPort)

	var (
		cli *smtp.Client
		err error
	)
	if account.SMTPPort == 465 {
		cli, err = smtp.DialTLS(addr, nil)
	} else {
		cli, err = smtp.DialStartTLS(addr, nil)
	}
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", addr, err)
	}
	defer cli.Close()

	auth := sasl.NewPlainClient("", account.SMTPUsername, account.SMTPSecret)
	if err := cli.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}

	if err := cli.SendMail(from, to, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("smtp submit: %w", err)
	}

	s.log.Info().Str("host", account.SMTPHost).Strs("to", to).Msg("mail submitted")
	return cli.Quit()
}
