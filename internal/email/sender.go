package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"os"

	"go.uber.org/zap"
)

type Sender interface {
	Send(to, subject, htmlBody string) error
}

type SMTPSender struct {
	host string
	port string
	from string
	auth smtp.Auth // nil for local dev (MailHog)
}

// NewSMTPSender reads SMTP_HOST, SMTP_PORT, SMTP_FROM and, when SMTP_USER is
// set, uses PLAIN auth with SMTP_PASSWORD.
func NewSMTPSender() *SMTPSender {
	s := &SMTPSender{
		host: getenv("SMTP_HOST", "localhost"),
		port: getenv("SMTP_PORT", "1025"),
		from: getenv("SMTP_FROM", "no-reply@example.local"),
	}
	if user := os.Getenv("SMTP_USER"); user != "" {
		s.auth = smtp.PlainAuth("", user, os.Getenv("SMTP_PASSWORD"), s.host)
	}
	return s
}

func (s *SMTPSender) Send(to, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	msg := buildRFC822(s.from, to, subject, htmlBody)
	return smtp.SendMail(addr, s.auth, s.from, []string{to}, msg)
}

func buildRFC822(from, to, subject, html string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&buf, "\r\n%s\r\n", html)
	return buf.Bytes()
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

// Receipt is the data rendered into a payment receipt.
type Receipt struct {
	Reference       string
	UserID          string
	BundleID        string
	ProviderName    string
	RecipientNumber string
	Price           float64
	PaymentNetwork  string
}

var receiptTpl = template.Must(template.New("receipt").Parse(`
<h2>Payment received</h2>
<p>Reference: <b>{{.Reference}}</b></p>
{{if .UserID}}<p>Customer: <b>{{.UserID}}</b></p>
{{end}}<p>Bundle: <b>{{.BundleID}}</b>{{if .ProviderName}} ({{.ProviderName}}){{end}}</p>
<p>Recipient: <b>{{.RecipientNumber}}</b></p>
<p>Amount: <b>{{printf "%.2f" .Price}}</b> via {{.PaymentNetwork}}</p>
`))

func RenderReceiptEmail(r Receipt) (string, error) {
	var buf bytes.Buffer
	if err := receiptTpl.Execute(&buf, r); err != nil {
		return "", fmt.Errorf("render receipt: %w", err)
	}
	return buf.String(), nil
}

// LogSender writes emails to the logger instead of sending them (dev without SMTP).
type LogSender struct {
	Logger *zap.Logger
}

func (s LogSender) Send(to, subject, htmlBody string) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("email", zap.String("to", to), zap.String("subject", subject), zap.Int("body_bytes", len(htmlBody)))
	return nil
}
