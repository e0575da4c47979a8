package notification

import (
	"fmt"
	"log/slog"
	"net/smtp"
)

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string
}

// Sender delivers a rendered message. Implemented by smtpSender in
// production and by fakes in tests.
type Sender interface {
	Send(to, subject, body string) error
}

type smtpSender struct {
	config EmailConfig
}

func (s *smtpSender) Send(to, subject, body string) error {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		from, to, subject, body)

	auth := smtp.PlainAuth("", s.config.User, s.config.Password, s.config.Host)
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	return smtp.SendMail(addr, auth, s.config.From, []string{to}, []byte(msg))
}

// EmailService renders and sends transactional email. Delivery runs
// asynchronously; failures are logged, never surfaced to the request
// that triggered them.
type EmailService struct {
	sender Sender
	logger *slog.Logger
}

func NewEmailService(config EmailConfig, logger *slog.Logger) *EmailService {
	return &EmailService{
		sender: &smtpSender{config: config},
		logger: logger,
	}
}

// NewEmailServiceWithSender creates an EmailService with a custom Sender.
func NewEmailServiceWithSender(sender Sender, logger *slog.Logger) *EmailService {
	return &EmailService{sender: sender, logger: logger}
}

// sendAsync dispatches delivery on its own goroutine.
func (s *EmailService) sendAsync(to, subject, body, kind string) {
	go func() {
		if err := s.sender.Send(to, subject, body); err != nil {
			s.logger.Error("failed to send email", "kind", kind, "error", err)
			return
		}
		s.logger.Info("email sent", "kind", kind)
	}()
}

// SendVerificationEmail sends an email verification link.
func (s *EmailService) SendVerificationEmail(to, verifyURL string) {
	subject := "Verify Your Email Address"
	body := fmt.Sprintf(`<html><body>
		<h2>Verify Your Email Address</h2>
		<p>Thank you for registering! Please verify your email address to complete your registration.</p>
		<p><a href="%s">Click here to verify your email</a></p>
		<p>Or copy this link to your browser: %s</p>
		<p>This link will expire in 1 hour.</p>
	</body></html>`, verifyURL, verifyURL)
	s.sendAsync(to, subject, body, "email_verification")
}

// SendPasswordResetEmail sends a password reset link.
func (s *EmailService) SendPasswordResetEmail(to, resetURL string) {
	subject := "Reset Your Password"
	body := fmt.Sprintf(`<html><body>
		<h2>Reset Your Password</h2>
		<p>A password reset has been requested for your account.</p>
		<p><a href="%s">Click here to reset your password</a></p>
		<p>Or copy this link to your browser: %s</p>
		<p>This link will expire in 30 minutes.</p>
		<p>If you did not request this password reset, please ignore this email.</p>
	</body></html>`, resetURL, resetURL)
	s.sendAsync(to, subject, body, "password_reset")
}

// SendEmailChangeEmail sends a confirmation link to the new address.
func (s *EmailService) SendEmailChangeEmail(to, confirmURL string) {
	subject := "Confirm Your New Email Address"
	body := fmt.Sprintf(`<html><body>
		<h2>Confirm Your New Email Address</h2>
		<p>A request was made to change your account email to this address.</p>
		<p><a href="%s">Click here to confirm the change</a></p>
		<p>Or copy this link to your browser: %s</p>
		<p>This link will expire in 1 hour.</p>
		<p>If you did not request this change, you can safely ignore this email.</p>
	</body></html>`, confirmURL, confirmURL)
	s.sendAsync(to, subject, body, "email_change")
}

// SendAccountDeletionEmail sends a deletion confirmation link.
func (s *EmailService) SendAccountDeletionEmail(to, confirmURL string) {
	subject := "Confirm Account Deletion"
	body := fmt.Sprintf(`<html><body>
		<h2>Confirm Account Deletion</h2>
		<p>A request was made to permanently delete your account. This cannot be undone.</p>
		<p><a href="%s">Click here to confirm deletion</a></p>
		<p>Or copy this link to your browser: %s</p>
		<p>This link will expire in 15 minutes.</p>
		<p>If you did not request this, change your password immediately.</p>
	</body></html>`, confirmURL, confirmURL)
	s.sendAsync(to, subject, body, "account_deletion")
}
