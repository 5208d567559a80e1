package services

import (
	"errors"
	"testing"

	"essay-grader/internal/config"
	"essay-grader/internal/models"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent   []*mail.SGMailV3
	status int
	err    error
}

func (f *fakeSender) Send(m *mail.SGMailV3) (*rest.Response, error) {
	f.sent = append(f.sent, m)
	if f.err != nil {
		return nil, f.err
	}
	return &rest.Response{StatusCode: f.status, Body: "body"}, nil
}

func TestEmailService_NoKeyIsNoop(t *testing.T) {
	svc := NewEmailService(config.EmailConfig{})
	assert.Nil(t, svc)
	assert.NoError(t, svc.SendReportReady("a@b.c", "t1", &models.EssayReport{}, nil))
}

func TestEmailService_SendReportReady(t *testing.T) {
	sender := &fakeSender{status: 202}
	svc := NewEmailServiceWithClient(config.EmailConfig{FromEmail: "noreply@example.com", FromName: "Essay Grader"}, sender)

	report := sampleReport()
	require.NoError(t, svc.SendReportReady("student@example.com", "task-1", report, []byte("%PDF-1.4")))
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "essay_report_task-1.pdf", msg.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", msg.Attachments[0].Type)

	var htmlBody string
	for _, c := range msg.Content {
		if c.Type == "text/html" {
			htmlBody = c.Value
		}
	}
	assert.Contains(t, htmlBody, "<span class='error'>")
	assert.Contains(t, htmlBody, report.OverallEvaluation.BriefComment)
}

func TestEmailService_StatusErrors(t *testing.T) {
	sender := &fakeSender{status: 401}
	svc := NewEmailServiceWithClient(config.EmailConfig{FromEmail: "noreply@example.com"}, sender)
	err := svc.SendReportReady("student@example.com", "task-1", sampleReport(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")

	sender.err = errors.New("network down")
	err = svc.SendReportReady("student@example.com", "task-1", sampleReport(), nil)
	assert.ErrorContains(t, err, "network down")
}

func TestEmailService_EmptyRecipientSkipped(t *testing.T) {
	sender := &fakeSender{status: 202}
	svc := NewEmailServiceWithClient(config.EmailConfig{}, sender)
	require.NoError(t, svc.SendReportReady("", "task-1", sampleReport(), nil))
	assert.Empty(t, sender.sent)
}
