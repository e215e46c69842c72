package agreement

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatusStrings(t *testing.T) {
	cases := map[string]Status{
		"INITIALIZED": StatusInitialized,
		"ready":       StatusReady,
		" Active ":    StatusActive,
		"PAID":        StatusPaid,
		"completed":   StatusCompleted,
		"DEFAULTED":   StatusDefaulted,
	}
	for input, want := range cases {
		assert.Equal(t, want, ParseStatus(input), "input %q", input)
	}
}

func TestParseStatusNumericCodes(t *testing.T) {
	// The ledger reports numeric codes at some call sites.
	assert.Equal(t, StatusInitialized, ParseStatus(0))
	assert.Equal(t, StatusReady, ParseStatus(int64(1)))
	assert.Equal(t, StatusActive, ParseStatus(float64(2)))
	assert.Equal(t, StatusPaid, ParseStatus(json.Number("3")))
	assert.Equal(t, StatusCompleted, ParseStatus("4"))
	assert.Equal(t, StatusDefaulted, ParseStatus(5))
}

func TestParseStatusUnparseable(t *testing.T) {
	// Unparseable input is a distinct UNKNOWN, never coerced to a default.
	for _, input := range []any{"", "BOGUS", 42, -1, 2.5, nil, true, []string{"ACTIVE"}} {
		assert.Equal(t, StatusUnknown, ParseStatus(input), "input %v", input)
	}
}

func TestStatusJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(StatusActive)
	require.NoError(t, err)
	assert.Equal(t, `"ACTIVE"`, string(data))

	var s Status
	require.NoError(t, json.Unmarshal([]byte(`"PAID"`), &s))
	assert.Equal(t, StatusPaid, s)

	require.NoError(t, json.Unmarshal([]byte(`3`), &s))
	assert.Equal(t, StatusPaid, s)

	require.NoError(t, json.Unmarshal([]byte(`"whatever"`), &s))
	assert.Equal(t, StatusUnknown, s)
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusDefaulted.Terminal())
	assert.False(t, StatusActive.Terminal())
	assert.False(t, StatusPaid.Terminal())
}

func TestCanTransitionLifecycle(t *testing.T) {
	assert.True(t, CanTransition(StatusInitialized, StatusReady))
	assert.True(t, CanTransition(StatusReady, StatusActive))
	assert.True(t, CanTransition(StatusActive, StatusPaid))
	assert.True(t, CanTransition(StatusPaid, StatusActive), "PAID and ACTIVE cycle per payment period")
	assert.True(t, CanTransition(StatusPaid, StatusCompleted))
	assert.True(t, CanTransition(StatusActive, StatusDefaulted))
	assert.True(t, CanTransition(StatusPaid, StatusDefaulted))
}

func TestCanTransitionTerminal(t *testing.T) {
	for _, terminal := range []Status{StatusCompleted, StatusDefaulted} {
		for _, next := range []Status{StatusInitialized, StatusReady, StatusActive, StatusPaid} {
			assert.False(t, CanTransition(terminal, next), "%s -> %s", terminal, next)
		}
		assert.True(t, CanTransition(terminal, terminal), "self transition is a no-op")
	}
}

func TestCanTransitionSkipsRejected(t *testing.T) {
	assert.False(t, CanTransition(StatusInitialized, StatusCompleted))
	assert.False(t, CanTransition(StatusReady, StatusDefaulted))
	assert.False(t, CanTransition(StatusActive, StatusInitialized))
}

func TestTermsValidate(t *testing.T) {
	valid := Terms{Principal: 1000, AnnualRatePercent: 5, DurationMonths: 12, GraceMonths: 2}
	assert.NoError(t, valid.Validate())

	cases := []Terms{
		{Principal: 0, AnnualRatePercent: 5, DurationMonths: 12},
		{Principal: -1, AnnualRatePercent: 5, DurationMonths: 12},
		{Principal: 1000, AnnualRatePercent: -0.1, DurationMonths: 12},
		{Principal: 1000, AnnualRatePercent: 5, DurationMonths: 0},
		{Principal: 1000, AnnualRatePercent: 5, DurationMonths: 12, GraceMonths: -1},
	}
	for _, terms := range cases {
		err := terms.Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidation)
	}
}

func TestViewNextUnpaid(t *testing.T) {
	view := ReconciledView{Schedule: []ScheduledPayment{
		{Month: 1, State: PaymentPaid},
		{Month: 2, State: PaymentPaid},
		{Month: 3, State: PaymentDue},
		{Month: 4, State: PaymentFuture},
	}}
	assert.Equal(t, 3, view.NextUnpaid())

	settled := ReconciledView{Schedule: []ScheduledPayment{
		{Month: 1, State: PaymentPaid},
		{Month: 2, State: PaymentPaid},
	}}
	assert.Equal(t, 0, settled.NextUnpaid())
}
