package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"safeworks.org/ptw/internal/permit"
)

func TestRegister(t *testing.T) {
	start := time.Date(2026, 5, 4, 7, 0, 0, 0, time.UTC)
	permits := []permit.Permit{
		{
			Serial: "PTW-20260504-AAAAAA", Type: permit.TypeHotWork, Status: permit.StatusActive,
			SiteID: 2, Location: "Boiler house", StartTime: start, EndTime: start.Add(6 * time.Hour),
			ReceiverName: "Sam", CreatedBy: 7, CreatedAt: start.Add(-time.Hour),
		},
		{
			Serial: "PTW-20260504-BBBBBB", Type: permit.TypeHeight, Status: permit.StatusRejected,
			SiteID: 1, StartTime: start, EndTime: start.Add(time.Hour), RejectionReason: "no harness",
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Register(&buf, permits))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Serial", rows[0][0])
	assert.Equal(t, "Rejection Reason", rows[0][len(columns)-1])

	assert.Equal(t, "PTW-20260504-AAAAAA", rows[1][0])
	assert.Equal(t, "Hot_Work", rows[1][1])
	assert.Equal(t, "2026-05-04 07:00", rows[1][6])
	assert.Equal(t, "6", rows[1][8])
	assert.Equal(t, "no harness", rows[2][len(columns)-1])
}

func TestRegisterEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Register(&buf, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
