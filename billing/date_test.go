package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth/billing-engine/billing"
)

func TestInclusiveDays(t *testing.T) {
	assert.Equal(t, 1, billing.InclusiveDays(date(t, "2024-01-10"), date(t, "2024-01-10")))
	assert.Equal(t, 3, billing.InclusiveDays(date(t, "2024-01-15"), date(t, "2024-01-17")))
	assert.Equal(t, 31, billing.InclusiveDays(date(t, "2024-01-01"), date(t, "2024-01-31")))
}

func TestParseMonth(t *testing.T) {
	m, err := billing.ParseMonth("2024-01")
	require.NoError(t, err)
	assert.Equal(t, "2024-01", m.String())
	assert.Equal(t, 31, m.Days())
	assert.Equal(t, "2024-01-01", m.Start().String())
	assert.Equal(t, "2024-01-31", m.End().String())

	// month keys may also arrive as first-of-month dates
	m2, err := billing.ParseMonth("2024-02-01")
	require.NoError(t, err)
	assert.Equal(t, 29, m2.Days())

	_, err = billing.ParseMonth("2024-02-15")
	assert.Error(t, err, "non-first-day date is not a month key")

	_, err = billing.ParseMonth("garbage")
	assert.Error(t, err)
}

func TestParseDate_Invalid(t *testing.T) {
	_, err := billing.ParseDate("01/15/2024")
	assert.Error(t, err)
}

func TestMonth_JSONRoundTrip(t *testing.T) {
	m := billing.NewMonth(2024, 3)

	data, err := m.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"2024-03"`, string(data))

	var out billing.Month
	require.NoError(t, out.UnmarshalJSON(data))
	assert.Equal(t, m, out)
}
