package journals

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

func amount(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func validInput() CreateInput {
	return CreateInput{
		Date: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		Type: TypeGeneral,
		Lines: []LineInput{
			{AccountID: 1, Debit: amount(1000), Description: "cash sale"},
			{AccountID: 2, Credit: amount(1000)},
		},
	}
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusDraft.CanTransition(StatusPosted))
	assert.True(t, StatusPosted.CanTransition(StatusVoided))
	assert.False(t, StatusPosted.CanTransition(StatusDraft))
	assert.False(t, StatusVoided.CanTransition(StatusDraft))
	assert.False(t, StatusVoided.CanTransition(StatusPosted))
	assert.False(t, StatusDraft.CanTransition(StatusVoided))
	assert.False(t, Status("ARCHIVED").CanTransition(StatusPosted))

	_, err := ParseStatus("void")
	assert.Error(t, err)
}

func TestValidateRejectsSubMinorAmounts(t *testing.T) {
	in := CreateInput{
		Date: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		Type: TypeGeneral,
		Lines: []LineInput{
			{AccountID: 1, Debit: decimal.RequireFromString("1.005")},
			{AccountID: 1, Debit: decimal.RequireFromString("1.005")},
			{AccountID: 2, Credit: decimal.RequireFromString("2.01")},
		},
	}
	in.Normalize()
	err := in.Validate()
	var verr *shared.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, "lines[0]", verr.Field)

	in.Lines[0].Debit = decimal.RequireFromString("1.50")
	in.Lines[1].Debit = decimal.RequireFromString("0.510")
	require.NoError(t, in.Validate())

	yen := validInput()
	yen.Currency = "JPY"
	yen.Lines[0].Debit = decimal.RequireFromString("100.5")
	yen.Lines[1].Credit = decimal.RequireFromString("100.5")
	yen.Normalize()
	assert.ErrorIs(t, yen.Validate(), shared.ErrValidation)

	rate := validInput()
	rate.ExchangeRate = decimal.RequireFromString("15500.1234567")
	rate.Normalize()
	assert.ErrorIs(t, rate.Validate(), shared.ErrValidation)
}

func TestTypePrefixes(t *testing.T) {
	typ, err := ParseType("sales")
	require.NoError(t, err)
	assert.Equal(t, "SJ", typ.Prefix())
	assert.Equal(t, "RJ", TypeReversal.Prefix())
	_, err = ParseType("memo")
	assert.Error(t, err)
	assert.Equal(t, "JV-2024-00042", FormatReference("JV", 2024, 42))
}

func TestValidate(t *testing.T) {
	in := validInput()
	in.Normalize()
	require.NoError(t, in.Validate())
	assert.Equal(t, DefaultCurrency, in.Currency)
	assert.True(t, in.ExchangeRate.Equal(decimal.NewFromInt(1)))

	cases := map[string]func(*CreateInput){
		"currency":      func(in *CreateInput) { in.Currency = "ZZZ" },
		"exchange_rate": func(in *CreateInput) { in.ExchangeRate = amount(-1) },
		"lines":         func(in *CreateInput) { in.Lines = in.Lines[:1] },
		"lines[0]":      func(in *CreateInput) { in.Lines[0].Credit = amount(5) },
		"lines[1]":      func(in *CreateInput) { in.Lines[1].Credit = amount(-5) },
		"source":        func(in *CreateInput) { in.SourceModule = "AR" },
		"type":          func(in *CreateInput) { in.Type = "MEMO" },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			in := validInput()
			in.Normalize()
			mutate(&in)
			err := in.Validate()
			var verr *shared.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, field, verr.Field)
		})
	}

	unbalanced := validInput()
	unbalanced.Lines[1].Credit = amount(500)
	unbalanced.Normalize()
	assert.NoError(t, unbalanced.Validate(), "balance is enforced at posting, not creation")
}

func TestDraftComputesTotals(t *testing.T) {
	in := validInput()
	in.Normalize()
	src := uuid.New()
	in.SourceModule, in.SourceID = "AR", &src
	branch := int64(3)
	j := in.Draft(7, &branch, 11, "JV-2024-00001", 5)

	assert.Equal(t, StatusDraft, j.Status)
	assert.True(t, j.TotalDebit.Equal(amount(1000)))
	assert.True(t, j.TotalCredit.Equal(amount(1000)))
	assert.True(t, j.Balanced())
	require.Len(t, j.Lines, 2)
	assert.Equal(t, 1, j.Lines[0].LineNo)
	assert.Equal(t, 2, j.Lines[1].LineNo)
	assert.Equal(t, []int64{1, 2}, j.AccountIDs())
}

func TestReversalSwapsEveryLine(t *testing.T) {
	in := validInput()
	in.Normalize()
	original := in.Draft(1, nil, 1, "JV-2024-00001", 1)
	at := time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)

	rev := ReversalInput(original, at)
	assert.Equal(t, TypeReversal, rev.Type)
	assert.Equal(t, at, rev.Date)
	assert.Equal(t, "Reversal: JV-2024-00001", rev.Description)
	require.Len(t, rev.Lines, 2)
	assert.True(t, rev.Lines[0].Credit.Equal(amount(1000)))
	assert.True(t, rev.Lines[0].Debit.IsZero())
	assert.True(t, rev.Lines[1].Debit.Equal(amount(1000)))
	assert.Equal(t, "Reversal: cash sale", rev.Lines[0].Description)
	rev.Normalize()
	require.NoError(t, rev.Validate())
}
