package demo

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"dispatch-rpc/message"
	"dispatch-rpc/server"
	"dispatch-rpc/value"
)

const mailSendDoc = `mail.send(recipient, subject, text, sender, cc, bcc, mimetype)
recipient, cc, and bcc are strings, comma-separated lists of email addresses.
subject is a string, the subject of the message.
sender is a string, the email address of the person sending the message. It must contain a single email address only.
text is a string, it contains the body of the message.
mimetype, a string, is a standard MIME type, for example, text/plain.`

// Mail is one message handed to a Mailer. To, Cc and Bcc are
// comma-separated address lists.
type Mail struct {
	To       string
	Subject  string
	Body     string
	From     string
	Cc       string
	Bcc      string
	MimeType string
}

// Recipients lists every envelope recipient: To, Cc and Bcc.
func (m Mail) Recipients() []string {
	var out []string
	for _, list := range []string{m.To, m.Cc, m.Bcc} {
		for _, addr := range strings.Split(list, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				out = append(out, addr)
			}
		}
	}
	return out
}

// ErrHeaderBreak is returned for header fields containing line breaks, which
// would let a caller add headers of their own.
var ErrHeaderBreak = errors.New("mail: line break in header field")

// Validate checks every field that ends up in a header or the envelope.
func (m Mail) Validate() error {
	fields := []struct{ name, v string }{
		{"To", m.To}, {"Subject", m.Subject}, {"From", m.From},
		{"Cc", m.Cc}, {"Bcc", m.Bcc}, {"Content-Type", m.MimeType},
	}
	for _, f := range fields {
		if strings.ContainsAny(f.v, "\r\n") {
			return fmt.Errorf("%w: %s", ErrHeaderBreak, f.name)
		}
	}
	return nil
}

// Bytes renders the message with its headers. Bcc is left out. Callers
// check Validate first.
func (m Mail) Bytes() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	if m.Cc != "" {
		fmt.Fprintf(&b, "Cc: %s\r\n", m.Cc)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	if m.MimeType != "" {
		fmt.Fprintf(&b, "Content-Type: %s\r\n", m.MimeType)
	}
	fmt.Fprintf(&b, "X-Mailer: %s mailer %s\r\n\r\n", ToolkitName, ToolkitVersion)
	b.WriteString(m.Body)
	return []byte(b.String())
}

// Mailer delivers mail. Implementations may block.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// LogMailer only logs what it would send.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (l *LogMailer) Send(ctx context.Context, m Mail) error {
	l.logger.Info("mail not sent, logging only",
		zap.String("from", m.From),
		zap.Strings("to", m.Recipients()),
		zap.String("subject", m.Subject),
		zap.Int("bytes", len(m.Body)))
	return nil
}

// SMTPMailer relays through an SMTP server.
type SMTPMailer struct {
	Addr string // host:port
	Auth smtp.Auth
}

func (s *SMTPMailer) Send(ctx context.Context, m Mail) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return err
	}
	return smtp.SendMail(s.Addr, s.Auth, m.From, m.Recipients(), m.Bytes())
}

func mailMethod(mailer Mailer, logger *zap.Logger) server.Method {
	return server.Method{
		Name:       "mail.send",
		Signatures: sigs("boolean", "string", "string", "string", "string", "string", "string", "string"),
		Doc:        mailSendDoc,
		Handler: func(ctx context.Context, req *message.Request) (message.Response, error) {
			var f [7]string
			for i := range f {
				f[i], _ = value.AsString(req.Params[i])
			}
			m := Mail{To: f[0], Subject: f[1], Body: f[2], From: f[3], Cc: f[4], Bcc: f[5], MimeType: f[6]}

			switch {
			case m.From == "":
				return userFault("Error, no 'From' field specified")
			case m.To == "":
				return userFault("Error, no 'To' field specified")
			case strings.Contains(m.From, ","):
				return userFault("Error, 'From' must be a single address")
			}
			if err := m.Validate(); err != nil {
				return userFault("Error, %v", err)
			}
			if err := mailer.Send(ctx, m); err != nil {
				logger.Error("mail.send", zap.Error(err))
				return userFault("Error, could not send the mail.")
			}
			return success(value.Boolean(true))
		},
	}
}
