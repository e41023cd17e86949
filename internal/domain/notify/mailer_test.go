package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/resend/resend-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/statement-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/statement-ledger/internal/domain/report"
	"github.com/FACorreiaa/statement-ledger/pkg/money"
)

type fakeSender struct {
	sent []*resend.SendEmailRequest
	err  error
}

func (f *fakeSender) SendWithContext(_ context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, params)
	return &resend.SendEmailResponse{Id: "msg-1"}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func summary() report.Summary {
	return report.NewLedger(money.BRL, []parser.ParsedRow{
		{Type: parser.Credit, Amount: money.New(150000, money.BRL), Origin: "Ana <Souza>"},
		{Type: parser.Debit, Amount: money.New(2297, money.BRL), Origin: "IFOOD.COM"},
	}).Summary()
}

func TestReportMailer_Send(t *testing.T) {
	fake := &fakeSender{}
	m := newReportMailer(fake, "", testLogger())
	require.True(t, m.Enabled())

	id, err := m.Send(context.Background(), "ana@example.com", "marco.pdf", summary(), []byte("xlsx"))
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)

	require.Len(t, fake.sent, 1)
	req := fake.sent[0]
	assert.Equal(t, DefaultFrom, req.From)
	assert.Equal(t, []string{"ana@example.com"}, req.To)
	assert.Contains(t, req.Subject, "marco.pdf")
	assert.Contains(t, req.Html, "R$ 1.500,00")
	assert.Contains(t, req.Html, "Ana &lt;Souza&gt;", "origins are escaped")
	assert.Contains(t, req.Html, "IFOOD.COM")

	require.Len(t, req.Attachments, 1)
	assert.Equal(t, "marco.xlsx", req.Attachments[0].Filename)
	assert.Equal(t, []byte("xlsx"), req.Attachments[0].Content)
}

func TestReportMailer_SendWithoutAttachment(t *testing.T) {
	fake := &fakeSender{}
	m := newReportMailer(fake, "Relatórios <r@example.com>", testLogger())

	_, err := m.Send(context.Background(), "ana@example.com", "x.pdf", summary(), nil)
	require.NoError(t, err)
	assert.Empty(t, fake.sent[0].Attachments)
	assert.Equal(t, "Relatórios <r@example.com>", fake.sent[0].From)
}

func TestReportMailer_Errors(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		m := NewReportMailer("", "", testLogger())
		assert.False(t, m.Enabled())
		_, err := m.Send(context.Background(), "ana@example.com", "x.pdf", summary(), nil)
		assert.ErrorIs(t, err, ErrMailerDisabled)
	})

	t.Run("nil mailer", func(t *testing.T) {
		var m *ReportMailer
		assert.False(t, m.Enabled())
	})

	t.Run("invalid address", func(t *testing.T) {
		fake := &fakeSender{}
		m := newReportMailer(fake, "", testLogger())
		_, err := m.Send(context.Background(), "not-an-address", "x.pdf", summary(), nil)
		assert.ErrorIs(t, err, ErrInvalidAddress)
		assert.Empty(t, fake.sent)
	})

	t.Run("provider failure", func(t *testing.T) {
		m := newReportMailer(&fakeSender{err: errors.New("boom")}, "", testLogger())
		_, err := m.Send(context.Background(), "ana@example.com", "x.pdf", summary(), nil)
		assert.ErrorContains(t, err, "boom")
	})
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"ana@example.com", true},
		{"  ana@example.com ", true},
		{"Ana <ana@example.com>", false},
		{"", false},
		{"ana", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			err := ValidateAddress(tt.in)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidAddress)
			}
		})
	}
}

func TestAttachmentName(t *testing.T) {
	assert.Equal(t, "extrato.xlsx", attachmentName(""))
	assert.Equal(t, "marco.xlsx", attachmentName("marco.PDF"))
	assert.Equal(t, "notes.txt.xlsx", attachmentName("notes.txt"))
}
