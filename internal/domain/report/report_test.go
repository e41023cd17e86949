package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/statement-ledger/internal/domain/import/normalizer"
	"github.com/FACorreiaa/statement-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/statement-ledger/pkg/money"
)

func row(t parser.TransactionType, cents int64, origin string) parser.ParsedRow {
	return parser.ParsedRow{Page: 1, Type: t, Amount: money.New(cents, money.BRL), Origin: origin}
}

func sampleLedger() *Ledger {
	return NewLedger(money.BRL, []parser.ParsedRow{
		row(parser.Debit, 2297, "IFOOD.COM A27/03"),
		row(parser.Debit, 2511, "SHPP BRASIL"),
		row(parser.Credit, 1219, "SHPP  BRASIL"),
		row(parser.Debit, 1000, "ifood.com a27/03"),
		row(parser.Debit, 500, ""),
		row(parser.Credit, 50000, "Ana Souza"),
		row(parser.Credit, 25000, "Ana Sousa"),
	})
}

func TestLedger_ApplyMapping(t *testing.T) {
	l := sampleLedger()
	mapping := normalizer.NewClusterer().Canonicalize(l.RawOrigins())
	l.ApplyMapping(mapping)

	txs := l.Transactions()
	assert.Equal(t, "IFOOD.COM A27/03", txs[3].Origin)
	assert.Equal(t, "ifood.com a27/03", txs[3].RawOrigin)
	assert.Equal(t, "SHPP BRASIL", txs[2].Origin)
	assert.Equal(t, "", txs[4].Origin, "blank origin passes through")
	assert.Equal(t, "Ana Souza", txs[6].Origin)
}

func TestLedger_Summary(t *testing.T) {
	l := sampleLedger()
	l.ApplyMapping(normalizer.NewClusterer().Canonicalize(l.RawOrigins()))

	s := l.Summary()
	assert.Equal(t, 7, s.Transactions)

	assert.Equal(t, 4, s.Debit.Count)
	assert.Equal(t, int64(2297+2511+1000+500), s.Debit.Total.Amount())
	assert.Equal(t, "IFOOD.COM A27/03", s.Debit.TopOrigin)
	assert.Equal(t, 2, s.Debit.TopOriginCount)
	assert.Equal(t, int64(3297), s.Debit.TopOriginTotal.Amount())

	assert.Equal(t, 3, s.Credit.Count)
	assert.Equal(t, int64(76219), s.Credit.Total.Amount())
	assert.Equal(t, "Ana Souza", s.Credit.TopOrigin)
	assert.Equal(t, int64(75000), s.Credit.TopOriginTotal.Amount())

	assert.Equal(t, int64(76219-6308), s.Net.Amount())
}

func TestLedger_SummaryWithoutMapping(t *testing.T) {
	// Unmapped ties resolve to the alphabetically first origin.
	l := NewLedger(money.BRL, []parser.ParsedRow{
		row(parser.Debit, 100, "Zeta"),
		row(parser.Debit, 200, "Alfa"),
	})
	s := l.Summary()
	assert.Equal(t, "Alfa", s.Debit.TopOrigin)
	assert.Equal(t, int64(200), s.Debit.TopOriginTotal.Amount())
}

func TestLedger_SummaryEmpty(t *testing.T) {
	s := NewLedger("", nil).Summary()
	assert.Zero(t, s.Transactions)
	assert.True(t, s.Net.IsZero())
	assert.Equal(t, "", s.Credit.TopOrigin)
	assert.True(t, s.Credit.TopOriginTotal.IsZero())
	assert.Equal(t, money.BRL, s.Debit.Total.Currency())
}

func TestLedger_SummaryOnlyBlankOrigins(t *testing.T) {
	l := NewLedger(money.BRL, []parser.ParsedRow{row(parser.Credit, 300, ""), row(parser.Credit, 200, " ")})
	s := l.Summary()
	assert.Equal(t, int64(500), s.Credit.Total.Amount())
	assert.Equal(t, "", s.Credit.TopOrigin)
	assert.Zero(t, s.Credit.TopOriginCount)
}

func TestLedger_CreditsDebits(t *testing.T) {
	l := sampleLedger()
	assert.Len(t, l.Credits(), 3)
	assert.Len(t, l.Debits(), 4)
	for _, tx := range l.Credits() {
		assert.Equal(t, parser.Credit, tx.Type)
	}
}

func TestLedger_Search(t *testing.T) {
	l := sampleLedger()
	l.ApplyMapping(normalizer.NewClusterer().Canonicalize(l.RawOrigins()))

	assert.Len(t, l.Search("ifood"), 2)
	assert.Len(t, l.Search("shpp"), 2)
	assert.Len(t, l.Search("ana"), 2)
	assert.Len(t, l.Search(""), l.Len())
	assert.Empty(t, l.Search("netflix"))
}

func TestLedger_TopOrigins(t *testing.T) {
	l := sampleLedger()
	l.ApplyMapping(normalizer.NewClusterer().Canonicalize(l.RawOrigins()))

	top := l.TopOrigins(parser.Debit, 0)
	require.Len(t, top, 2)
	assert.Equal(t, "IFOOD.COM A27/03", top[0].Origin)
	assert.Equal(t, int64(3297), top[0].Total.Amount())
	assert.Equal(t, 2, top[0].Count)

	assert.Len(t, l.TopOrigins(parser.Debit, 1), 1)
}

func TestNewLedger_PostedAt(t *testing.T) {
	posted := time.Date(2025, 3, 28, 0, 0, 0, 0, time.UTC)
	l := NewLedger(money.BRL, []parser.ParsedRow{
		{Type: parser.Debit, Amount: money.New(1, money.BRL), PostedAt: posted},
		{Type: parser.Debit},
	})
	txs := l.Transactions()
	require.NotNil(t, txs[0].PostedAt)
	assert.Equal(t, posted, *txs[0].PostedAt)
	assert.Nil(t, txs[1].PostedAt)
	assert.True(t, txs[1].Amount.IsZero())
}

func TestLedger_ExportXLSX(t *testing.T) {
	l := sampleLedger()
	l.ApplyMapping(normalizer.NewClusterer().Canonicalize(l.RawOrigins()))

	var buf bytes.Buffer
	require.NoError(t, l.ExportXLSX(&buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetSummary, SheetCredits, SheetDebits}, f.GetSheetList())

	credits, err := f.GetRows(SheetCredits)
	require.NoError(t, err)
	require.Len(t, credits, 4)
	assert.Equal(t, "Origem", credits[0][0])
	assert.Equal(t, "SHPP BRASIL", credits[1][0])

	debits, err := f.GetRows(SheetDebits)
	require.NoError(t, err)
	assert.Len(t, debits, 5)

	label, err := f.GetCellValue(SheetSummary, "A2")
	require.NoError(t, err)
	assert.Equal(t, "Total créditos", label)
}
