package services

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"storefront_pay_echo/internal/models"
)

type EmailService struct {
	host     string
	port     string
	user     string
	password string
	from     string

	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailService(host, port, user, password, from string) *EmailService {
	return &EmailService{
		host:     host,
		port:     port,
		user:     user,
		password: password,
		from:     from,
		sendMail: smtp.SendMail,
	}
}

// Configured reports whether SMTP credentials are present
func (s *EmailService) Configured() bool {
	return s.host != "" && s.port != "" && s.user != "" && s.password != ""
}

func (s *EmailService) SendEmail(to []string, subject, body string) error {
	if !s.Configured() {
		return fmt.Errorf("SMTP credentials not fully configured")
	}
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}

	auth := smtp.PlainAuth("", s.user, s.password, s.host)

	message := []byte(fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n"+
		"\r\n"+
		"%s\r\n", s.from, strings.Join(to, ", "), subject, body))

	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	if err := s.sendMail(addr, auth, s.from, to, message); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// SendPaymentReceipt mails the payer a plain-text receipt
func (s *EmailService) SendPaymentReceipt(to, name string, p *models.Payment) error {
	confirmed := p.UpdatedAt
	if p.ConfirmedAt != nil {
		confirmed = *p.ConfirmedAt
	}

	var b strings.Builder
	if name != "" {
		fmt.Fprintf(&b, "Hi %s,\r\n\r\n", name)
	}
	fmt.Fprintf(&b, "We received your payment for order %s.\r\n\r\n", p.OrderID)
	fmt.Fprintf(&b, "Amount:    %s %s\r\n", FormatMinorUnits(p.Amount), p.Currency)
	fmt.Fprintf(&b, "Reference: %s\r\n", p.Ref3)
	fmt.Fprintf(&b, "Paid at:   %s\r\n", confirmed.Format(time.RFC1123))

	return s.SendEmail([]string{to}, fmt.Sprintf("Payment receipt for order %s", p.OrderID), b.String())
}
