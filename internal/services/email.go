package services

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/nurture-app/nurture-backend/internal/logger"
	"github.com/nurture-app/nurture-backend/internal/utils"
)

type EmailService interface {
	SendEmail(ctx context.Context, toEmail string, subject string, plainText string, htmlContent string) error
}

type emailService struct {
	log       *logger.Logger
	client    *sendgrid.Client
	fromEmail string
	fromName  string
}

func NewEmailService(log *logger.Logger) (EmailService, error) {
	serviceLog := log.With("service", "EmailService")
	apiKey := utils.GetEnv("SENDGRID_API_KEY", "", serviceLog)
	if apiKey == "" {
		return nil, fmt.Errorf("missing SENDGRID_API_KEY environment variable")
	}
	fromEmail := utils.GetEnv("SENDGRID_FROM_EMAIL", "reminders@nurture.app", serviceLog)
	fromName := utils.GetEnv("SENDGRID_FROM_NAME", "Nurture", serviceLog)

	return &emailService{
		log:       serviceLog,
		client:    sendgrid.NewSendClient(apiKey),
		fromEmail: fromEmail,
		fromName:  fromName,
	}, nil
}

func (es *emailService) SendEmail(ctx context.Context, toEmail string, subject string, plainText string, htmlContent string) error {
	from := mail.NewEmail(es.fromName, es.fromEmail)
	to := mail.NewEmail("", toEmail)
	message := mail.NewSingleEmail(from, subject, to, plainText, htmlContent)
	response, err := es.client.SendWithContext(ctx, message)
	if err != nil {
		es.log.Warn("Sendgrid email send failed", "error", err)
		return err
	}
	if response.StatusCode >= 300 {
		es.log.Warn("Sendgrid rejected email", "statusCode", response.StatusCode, "body", response.Body)
		return fmt.Errorf("sendgrid HTTP %d", response.StatusCode)
	}
	es.log.Info("Email sent", "to", toEmail, "statusCode", response.StatusCode)
	return nil
}
