package report_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/hearth/billing-engine/billing"
	"github.com/hearth/billing-engine/report"
)

func TestWriteStatement(t *testing.T) {
	alice := billing.TenantID("alice")
	run := billing.BillRun{
		ID:         "run-1",
		PropertyID: "flat-1",
		Month:      billing.NewMonth(2024, time.January),
		Status:     billing.BillRunClosed,
	}
	lines := []billing.BillLine{
		{ID: "l1", BillRunID: "run-1", TenantID: &alice, Utility: "internet",
			Amount: billing.MustParseDecimal("25.00"), Detail: billing.EqualShareDetail{Headcount: 2}},
		{ID: "l2", BillRunID: "run-1", TenantID: nil, Utility: "gas",
			Amount: billing.MustParseDecimal("80.00"), Detail: billing.HouseAccountDetail{Method: billing.MethodByDays, Reason: "no_days"}},
	}

	var buf bytes.Buffer
	require.NoError(t, report.WriteStatement(&buf, run, lines))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	title, err := f.GetCellValue("Statement", "A1")
	require.NoError(t, err)
	assert.Contains(t, title, "run-1")

	tenant, err := f.GetCellValue("Statement", "A5")
	require.NoError(t, err)
	assert.Equal(t, "alice", tenant)

	house, err := f.GetCellValue("Statement", "A6")
	require.NoError(t, err)
	assert.Equal(t, "house account", house)

	method, err := f.GetCellValue("Statement", "D5")
	require.NoError(t, err)
	assert.Equal(t, "equalshare", method)
}
