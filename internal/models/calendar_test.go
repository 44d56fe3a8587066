package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	valid := map[string]TimeOfDay{
		"08:00":    NewTimeOfDay(8, 0),
		"8:30":     NewTimeOfDay(8, 30),
		"19:59:00": NewTimeOfDay(19, 59),
		"24:00":    MinutesPerDay,
		"00:00":    0,
	}
	for raw, want := range valid {
		got, err := ParseTimeOfDay(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	for _, raw := range []string{"", "8", "08:60", "25:00", "24:01", "08:00:30", "aa:bb", "-1:00", "008:00"} {
		_, err := ParseTimeOfDay(raw)
		assert.Error(t, err, raw)
	}
}

func TestTimeOfDayArithmetic(t *testing.T) {
	start := NewTimeOfDay(9, 0)
	end := start.Add(90 * time.Minute)
	assert.Equal(t, "10:30", end.String())
	assert.Equal(t, 90*time.Minute, end.Sub(start))
}

func TestTimeOfDayScan(t *testing.T) {
	var tod TimeOfDay
	require.NoError(t, tod.Scan("09:15:00"))
	assert.Equal(t, NewTimeOfDay(9, 15), tod)

	require.NoError(t, tod.Scan([]byte("10:00:00.000000")))
	assert.Equal(t, NewTimeOfDay(10, 0), tod)

	require.NoError(t, tod.Scan(time.Date(0, 1, 1, 11, 45, 0, 0, time.UTC)))
	assert.Equal(t, NewTimeOfDay(11, 45), tod)

	assert.Error(t, tod.Scan(42))
}

func TestTimeOfDayEndOfDayRoundTrip(t *testing.T) {
	end, err := ParseTimeOfDay("24:00")
	require.NoError(t, err)
	v, err := end.Value()
	require.NoError(t, err)
	assert.Equal(t, "24:00:00", v)

	var scanned TimeOfDay
	require.NoError(t, scanned.Scan(time.Date(0, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, MinutesPerDay, scanned)
	require.NoError(t, scanned.Scan([]byte("24:00:00")))
	assert.Equal(t, MinutesPerDay, scanned)

	require.NoError(t, scanned.Scan(time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, TimeOfDay(0), scanned)

	reloaded := Booking{Status: BookingApproved, StartTime: NewTimeOfDay(23, 0), EndTime: MinutesPerDay}
	assert.True(t, reloaded.ConflictsWith(NewTimeOfDay(23, 30), MinutesPerDay))
}

func TestTimeOfDayValue(t *testing.T) {
	v, err := NewTimeOfDay(8, 5).Value()
	require.NoError(t, err)
	assert.Equal(t, "08:05:00", v)
}

func TestDateScanAndJSON(t *testing.T) {
	var d Date
	require.NoError(t, d.Scan(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-01-10", d.String())

	require.NoError(t, d.Scan("2024-02-29T00:00:00Z"))
	assert.Equal(t, Date{Year: 2024, Month: time.February, Day: 29}, d)

	payload, err := json.Marshal(struct {
		Day Date      `json:"day"`
		At  TimeOfDay `json:"at"`
	}{Day: d, At: NewTimeOfDay(13, 0)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"day":"2024-02-29","at":"13:00"}`, string(payload))

	var decoded CreateBookingRequest
	require.NoError(t, json.Unmarshal([]byte(`{"resource_id":"r1","booking_date":"2024-01-10","start_time":"09:00","end_time":"11:00"}`), &decoded))
	assert.Equal(t, "2024-01-10", decoded.BookingDate.String())
	assert.Equal(t, 2*time.Hour, decoded.EndTime.Sub(decoded.StartTime))

	_, err = ParseDate("2024-13-01")
	assert.Error(t, err)
}

func TestOverlapsHalfOpen(t *testing.T) {
	nine, ten, eleven := NewTimeOfDay(9, 0), NewTimeOfDay(10, 0), NewTimeOfDay(11, 0)
	assert.True(t, Overlaps(nine, eleven, ten, eleven))
	assert.False(t, Overlaps(nine, ten, ten, eleven), "touching endpoints")
	assert.False(t, Overlaps(ten, eleven, nine, ten), "touching endpoints")

	b := Booking{StartTime: nine, EndTime: eleven, Status: BookingPending}
	assert.False(t, b.ConflictsWith(ten, eleven), "pending bookings never conflict")
	b.Status = BookingApproved
	assert.True(t, b.ConflictsWith(ten, eleven))
}

func TestBookingStatusRules(t *testing.T) {
	assert.False(t, BookingPending.Terminal())
	assert.False(t, BookingApproved.Terminal())
	assert.True(t, BookingRejected.Terminal())
	assert.True(t, BookingOverridden.Terminal())
	assert.True(t, BookingCancelled.Terminal())

	assert.True(t, BookingOverridden.CountsTowardDailyLimit())
	assert.False(t, BookingRejected.CountsTowardDailyLimit())
	assert.False(t, BookingCancelled.CountsTowardDailyLimit())
}
