package mailer

import (
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/common"
)

// Attachment is one file carried by an outbound message
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Service sends mail through the statically configured SMTP endpoint.
// Bodies and attachments are base64-encoded with RFC 2045 line breaks so
// long HTML survives every relay.
type Service struct {
	cfg    *common.SMTPConfig
	logger arbor.ILogger
}

// NewService creates a mailer bound to the SMTP config.
func NewService(cfg *common.SMTPConfig, logger arbor.ILogger) *Service {
	return &Service{
		cfg:    cfg,
		logger: logger,
	}
}

// IsConfigured reports whether the mailer has enough settings to send.
func (s *Service) IsConfigured() bool {
	return s.cfg.Host != "" && s.cfg.Username != "" && s.cfg.Password != "" && s.cfg.From != ""
}

// DefaultRecipient returns the configured notification recipient
func (s *Service) DefaultRecipient() string {
	return s.cfg.To
}

// SendHTMLEmail sends a message with HTML and plain text alternatives.
func (s *Service) SendHTMLEmail(to, subject, htmlBody, textBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("SMTP not configured")
	}

	var msg strings.Builder
	s.writeEnvelopeHeaders(&msg, to, subject)

	if htmlBody != "" {
		boundary := generateBoundary()
		msg.WriteString("MIME-Version: 1.0\r\n")
		msg.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
		msg.WriteString("\r\n")
		writeAlternativeParts(&msg, boundary, htmlBody, textBody)
		msg.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	} else {
		msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
		msg.WriteString("\r\n")
		msg.WriteString(textBody)
	}

	return s.send(to, msg.String())
}

// SendWithAttachments sends a message with HTML/text alternatives plus
// file attachments.
func (s *Service) SendWithAttachments(to, subject, htmlBody, textBody string, attachments []Attachment) error {
	if len(attachments) == 0 {
		return s.SendHTMLEmail(to, subject, htmlBody, textBody)
	}
	if !s.IsConfigured() {
		return fmt.Errorf("SMTP not configured")
	}

	mixedBoundary := generateBoundary()
	altBoundary := generateBoundary()

	var msg strings.Builder
	s.writeEnvelopeHeaders(&msg, to, subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=\"%s\"\r\n", mixedBoundary))
	msg.WriteString("\r\n")

	msg.WriteString(fmt.Sprintf("--%s\r\n", mixedBoundary))
	msg.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", altBoundary))
	msg.WriteString("\r\n")
	writeAlternativeParts(&msg, altBoundary, htmlBody, textBody)
	msg.WriteString(fmt.Sprintf("--%s--\r\n", altBoundary))

	for _, att := range attachments {
		msg.WriteString(fmt.Sprintf("--%s\r\n", mixedBoundary))
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		msg.WriteString(fmt.Sprintf("Content-Type: %s; name=\"%s\"\r\n", contentType, att.Filename))
		msg.WriteString("Content-Transfer-Encoding: base64\r\n")
		msg.WriteString(fmt.Sprintf("Content-Disposition: attachment; filename=\"%s\"\r\n", att.Filename))
		msg.WriteString("\r\n")
		msg.WriteString(encodeBase64WithLineBreaks(string(att.Content)))
		msg.WriteString("\r\n")
	}

	msg.WriteString(fmt.Sprintf("--%s--\r\n", mixedBoundary))

	return s.send(to, msg.String())
}

func (s *Service) writeEnvelopeHeaders(msg *strings.Builder, to, subject string) {
	fromName := s.cfg.FromName
	if fromName == "" {
		fromName = "Peto"
	}
	msg.WriteString(fmt.Sprintf("From: %s <%s>\r\n", fromName, s.cfg.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
}

func (s *Service) send(to, msg string) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)

	var err error
	if s.cfg.UseTLS {
		err = s.sendWithTLS(addr, auth, s.cfg.From, to, msg)
	} else {
		err = smtp.SendMail(addr, auth, s.cfg.From, []string{to}, []byte(msg))
	}
	if err != nil {
		s.logger.Error().Err(err).
			Str("to", to).
			Str("host", s.cfg.Host).
			Msg("Failed to send mail")
		return err
	}

	s.logger.Info().
		Str("to", to).
		Int("size", len(msg)).
		Msg("Mail sent")
	return nil
}

// sendWithTLS connects over implicit TLS, falling back to STARTTLS when
// the direct handshake is refused.
func (s *Service) sendWithTLS(addr string, auth smtp.Auth, from, to, msg string) error {
	host := strings.Split(addr, ":")[0]

	conn, err := tls.Dial("tcp", addr, &tls.Config{
		ServerName: host,
	})
	if err != nil {
		return s.sendWithSTARTTLS(addr, auth, from, to, msg)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	return deliver(client, auth, from, to, msg)
}

// sendWithSTARTTLS connects in plaintext and upgrades the session.
func (s *Service) sendWithSTARTTLS(addr string, auth smtp.Auth, from, to, msg string) error {
	host := strings.Split(addr, ":")[0]

	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
		return fmt.Errorf("failed to start TLS: %w", err)
	}

	return deliver(client, auth, from, to, msg)
}

func deliver(client *smtp.Client, auth smtp.Auth, from, to, msg string) error {
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP authentication failed: %w", err)
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("failed to set mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set mail recipient: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	return client.Quit()
}

// generateBoundary creates a unique MIME boundary so body content can
// never collide with the separator.
func generateBoundary() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "peto_boundary_fallback"
	}
	return fmt.Sprintf("peto_%x", b)
}

// writeAlternativeParts writes base64-encoded text and HTML parts into
// an open multipart/alternative section.
func writeAlternativeParts(msg *strings.Builder, boundary, htmlBody, textBody string) {
	if textBody != "" {
		msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
		msg.WriteString("Content-Transfer-Encoding: base64\r\n")
		msg.WriteString("\r\n")
		msg.WriteString(encodeBase64WithLineBreaks(textBody))
		msg.WriteString("\r\n")
	}
	if htmlBody != "" {
		msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
		msg.WriteString("Content-Transfer-Encoding: base64\r\n")
		msg.WriteString("\r\n")
		msg.WriteString(encodeBase64WithLineBreaks(htmlBody))
		msg.WriteString("\r\n")
	}
}

// encodeBase64WithLineBreaks encodes content as base64 with 76-char
// line breaks per RFC 2045, keeping every line inside the RFC 5322
// length limit.
func encodeBase64WithLineBreaks(content string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(content))

	var result strings.Builder
	const lineLen = 76

	for i := 0; i < len(encoded); i += lineLen {
		end := i + lineLen
		if end > len(encoded) {
			end = len(encoded)
		}
		result.WriteString(encoded[i:end])
		if end < len(encoded) {
			result.WriteString("\r\n")
		}
	}

	return result.String()
}
