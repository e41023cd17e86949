// Package notify e-mails statement reports.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/resend/resend-go/v2"

	"github.com/FACorreiaa/statement-ledger/internal/domain/report"
)

// DefaultFrom is the sender used when none is configured.
const DefaultFrom = "Statement Ledger <relatorios@statement-ledger.app>"

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var (
	ErrMailerDisabled = errors.New("report mailer not configured")
	ErrInvalidAddress = errors.New("invalid e-mail address")
)

// sender is the part of the resend client the mailer uses.
type sender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ReportMailer sends an analysis summary with the workbook attached.
type ReportMailer struct {
	emails sender
	from   string
	logger *slog.Logger
}

// NewReportMailer creates a mailer. Without an API key the mailer is
// disabled and Send returns ErrMailerDisabled.
func NewReportMailer(apiKey, from string, logger *slog.Logger) *ReportMailer {
	var emails sender
	if apiKey != "" {
		emails = resend.NewClient(apiKey).Emails
	}
	return newReportMailer(emails, from, logger)
}

func newReportMailer(emails sender, from string, logger *slog.Logger) *ReportMailer {
	if from == "" {
		from = DefaultFrom
	}
	return &ReportMailer{emails: emails, from: from, logger: logger}
}

// Enabled reports whether an e-mail provider is configured.
func (m *ReportMailer) Enabled() bool {
	return m != nil && m.emails != nil
}

// ValidateAddress checks that to is a single bare e-mail address.
func ValidateAddress(to string) error {
	addr, err := mail.ParseAddress(strings.TrimSpace(to))
	if err != nil || addr.Name != "" {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, to)
	}
	return nil
}

// Send mails the summary of fileName to the given address. xlsx is attached
// when not empty. It returns the provider message id.
func (m *ReportMailer) Send(ctx context.Context, to, fileName string, summary report.Summary, xlsx []byte) (string, error) {
	if !m.Enabled() {
		return "", ErrMailerDisabled
	}
	if err := ValidateAddress(to); err != nil {
		return "", err
	}

	html, err := renderSummary(fileName, summary)
	if err != nil {
		return "", err
	}

	req := &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{strings.TrimSpace(to)},
		Subject: fmt.Sprintf("Resumo do extrato %s", fileName),
		Html:    html,
	}
	if len(xlsx) > 0 {
		req.Attachments = []*resend.Attachment{{
			Content:     xlsx,
			Filename:    attachmentName(fileName),
			ContentType: xlsxContentType,
		}}
	}

	resp, err := m.emails.SendWithContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to send report e-mail: %w", err)
	}

	m.logger.Info("report e-mail sent",
		slog.String("to", to),
		slog.String("file_name", fileName),
		slog.String("message_id", resp.Id),
	)
	return resp.Id, nil
}

func attachmentName(fileName string) string {
	base := strings.TrimSuffix(fileName, ".pdf")
	base = strings.TrimSuffix(base, ".PDF")
	if base == "" {
		base = "extrato"
	}
	return base + ".xlsx"
}

var summaryTemplate = template.Must(template.New("summary").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1f2937;">
  <h2>Resumo do extrato {{.FileName}}</h2>
  <table cellpadding="6" style="border-collapse: collapse;">
    <tr><td>Total de créditos</td><td><strong>{{.Credit}}</strong></td><td>{{.CreditCount}} transações</td></tr>
    <tr><td>Total de débitos</td><td><strong>{{.Debit}}</strong></td><td>{{.DebitCount}} transações</td></tr>
    <tr><td>Saldo líquido</td><td><strong>{{.Net}}</strong></td><td></td></tr>
  </table>
  {{if .TopCredit}}<p>Quem mais enviou dinheiro: <strong>{{.TopCredit}}</strong> ({{.TopCreditTotal}})</p>{{end}}
  {{if .TopDebit}}<p>Para quem mais foi enviado dinheiro: <strong>{{.TopDebit}}</strong> ({{.TopDebitTotal}})</p>{{end}}
</body>
</html>
`))

func renderSummary(fileName string, s report.Summary) (string, error) {
	data := struct {
		FileName                  string
		Credit, Debit, Net        string
		CreditCount, DebitCount   int
		TopCredit, TopCreditTotal string
		TopDebit, TopDebitTotal   string
	}{
		FileName:       fileName,
		Credit:         s.Credit.Total.Display(),
		Debit:          s.Debit.Total.Display(),
		Net:            s.Net.Display(),
		CreditCount:    s.Credit.Count,
		DebitCount:     s.Debit.Count,
		TopCredit:      s.Credit.TopOrigin,
		TopCreditTotal: s.Credit.TopOriginTotal.Display(),
		TopDebit:       s.Debit.TopOrigin,
		TopDebitTotal:  s.Debit.TopOriginTotal.Display(),
	}

	var buf bytes.Buffer
	if err := summaryTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render summary e-mail: %w", err)
	}
	return buf.String(), nil
}
