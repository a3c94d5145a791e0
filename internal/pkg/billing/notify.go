package billing

import (
	"fmt"
	"log"

	"github.com/squadbasehq/squadbase/app/models"
	"github.com/squadbasehq/squadbase/internal/pkg/mail"
)

// Notifier sends billing emails to organization owners. Implementations
// are fire-and-forget: delivery failures are logged, never propagated.
type Notifier interface {
	SendPaymentApprovedEmail(org *models.Organization, planCode string)
	SendPaymentFailedDunningEmail(org *models.Organization, planCode string)
}

// SMTPNotifier sends owner emails through the shared SMTP mailer.
type SMTPNotifier struct{}

func NewSMTPNotifier() SMTPNotifier {
	return SMTPNotifier{}
}

func (SMTPNotifier) SendPaymentApprovedEmail(org *models.Organization, planCode string) {
	if org == nil || org.OwnerEmail == "" {
		return
	}
	to := org.OwnerEmail
	subject := "Payment confirmed"
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>Your payment for the <strong>%s</strong> plan of %s was confirmed. Thanks!</p>",
		org.OwnerName, planCode, org.Name,
	)
	go func() {
		if err := mail.SendMail(to, subject, body); err != nil {
			log.Printf("Failed to send payment approved email to %s: %v", to, err)
		}
	}()
}

func (SMTPNotifier) SendPaymentFailedDunningEmail(org *models.Organization, planCode string) {
	if org == nil || org.OwnerEmail == "" {
		return
	}
	to := org.OwnerEmail
	subject := "Payment problem - action needed"
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>The latest payment for the <strong>%s</strong> plan of %s failed. "+
			"Paid features stay active during the grace period; please update your payment to keep them.</p>",
		org.OwnerName, planCode, org.Name,
	)
	go func() {
		if err := mail.SendMail(to, subject, body); err != nil {
			log.Printf("Failed to send dunning email to %s: %v", to, err)
		}
	}()
}
