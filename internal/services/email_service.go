package services

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html"

	"essay-grader/internal/config"
	"essay-grader/internal/models"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	log "github.com/sirupsen/logrus"
)

// MailSender is the part of the SendGrid client the email service uses
type MailSender interface {
	Send(email *mail.SGMailV3) (*rest.Response, error)
}

// EmailService handles email sending via SendGrid
type EmailService struct {
	fromEmail string
	fromName  string
	client    MailSender
}

// NewEmailService creates a new email service. It returns nil when no API key is configured;
// a nil *EmailService is a valid no-op notifier.
func NewEmailService(cfg config.EmailConfig) *EmailService {
	if cfg.APIKey == "" {
		return nil
	}
	return NewEmailServiceWithClient(cfg, sendgrid.NewSendClient(cfg.APIKey))
}

// NewEmailServiceWithClient wires an explicit sender, mainly for tests
func NewEmailServiceWithClient(cfg config.EmailConfig, client MailSender) *EmailService {
	return &EmailService{
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		client:    client,
	}
}

// SendReportReady mails the annotated essay with the PDF report attached
func (s *EmailService) SendReportReady(toEmail, taskID string, report *models.EssayReport, pdfData []byte) error {
	if s == nil || toEmail == "" {
		return nil
	}
	if report == nil {
		return fmt.Errorf("invalid report data")
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail("", toEmail)
	subject := "Your essay report is ready"
	if score := report.OverallEvaluation.TotalScore; score != "" {
		subject = fmt.Sprintf("Your essay report is ready (score %s)", score)
	}

	message := mail.NewSingleEmail(from, subject, to, s.buildReportText(taskID, report), s.buildReportHTML(taskID, report))

	if len(pdfData) > 0 {
		attachment := mail.NewAttachment()
		attachment.SetContent(base64.StdEncoding.EncodeToString(pdfData))
		attachment.SetType("application/pdf")
		attachment.SetFilename(fmt.Sprintf("essay_report_%s.pdf", taskID))
		attachment.SetDisposition("attachment")
		message.AddAttachment(attachment)
	}

	response, err := s.client.Send(message)
	if err != nil {
		return fmt.Errorf("failed to send email via SendGrid: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("SendGrid API error: status %d, body: %s", response.StatusCode, response.Body)
	}

	log.WithFields(log.Fields{"task_id": taskID, "to": toEmail}).Info("[EMAIL] report sent")
	return nil
}

func (s *EmailService) buildReportHTML(taskID string, report *models.EssayReport) string {
	var b bytes.Buffer

	b.WriteString(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 640px; margin: 0 auto; padding: 20px; }
        .header { background-color: #0066cc; color: white; padding: 20px; border-radius: 8px 8px 0 0; }
        .content { background-color: #f8f9fa; padding: 20px; border-radius: 0 0 8px 8px; }
        .summary-box { background-color: white; padding: 15px; border-radius: 5px; margin: 15px 0; border-left: 4px solid #0066cc; }
        .error { color: #c0392b; text-decoration: underline; }
        .footer { text-align: center; color: #666; font-size: 12px; margin-top: 30px; }
    </style>
</head>
<body>
    <div class="header">
        <h1 style="margin: 0;">Essay Report</h1>
    </div>
    <div class="content">`)

	eval := report.OverallEvaluation
	if eval.Tier != "" || eval.TotalScore != "" || eval.BriefComment != "" {
		b.WriteString(`
        <div class="summary-box">`)
		if eval.Tier != "" || eval.TotalScore != "" {
			fmt.Fprintf(&b, "\n            <h3 style=\"margin-top: 0;\">%s %s</h3>", html.EscapeString(eval.Tier), html.EscapeString(eval.TotalScore))
		}
		if eval.BriefComment != "" {
			fmt.Fprintf(&b, "\n            <p>%s</p>", html.EscapeString(eval.BriefComment))
		}
		b.WriteString(`
        </div>`)
	}

	if report.OriginalText != "" {
		b.WriteString("\n        <h3>Your essay</h3>\n        ")
		b.WriteString(AnnotateHTML(report.OriginalText, ErrorSpansFromReport(report)))
	}

	b.WriteString(`
        <p>The complete report is attached as a PDF document.</p>
    </div>
    <div class="footer">
        <p>Task ` + html.EscapeString(taskID) + `. This is an automated email. Please do not reply.</p>
    </div>
</body>
</html>`)

	return b.String()
}

func (s *EmailService) buildReportText(taskID string, report *models.EssayReport) string {
	var b bytes.Buffer
	eval := report.OverallEvaluation
	fmt.Fprintf(&b, "Essay Report\n\n")
	if eval.Tier != "" || eval.TotalScore != "" {
		fmt.Fprintf(&b, "Result: %s %s\n", eval.Tier, eval.TotalScore)
	}
	if eval.BriefComment != "" {
		fmt.Fprintf(&b, "%s\n", eval.BriefComment)
	}
	fmt.Fprintf(&b, "\nThe complete report is attached as a PDF document.\n\n---\nTask %s. This is an automated email. Please do not reply.", taskID)
	return b.String()
}
