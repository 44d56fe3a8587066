package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/noah-isme/campus-booking-api/internal/models"
)

func TestDefaultDayWindowPartition(t *testing.T) {
	slots := DefaultDayWindow().Slots(nil)
	require.Len(t, slots, 12)
	assert.Equal(t, hm(8, 0), slots[0].Start)
	assert.Equal(t, hm(20, 0), slots[11].End)
	for i := range slots {
		assert.True(t, slots[i].Available)
		if i > 0 {
			assert.Equal(t, slots[i-1].End, slots[i].Start)
		}
	}
}

func TestDayWindowIgnoresNonApprovedBookings(t *testing.T) {
	bookings := []models.Booking{
		{ID: "p", StartTime: hm(8, 0), EndTime: hm(20, 0), Status: models.BookingPending},
		{ID: "r", StartTime: hm(8, 0), EndTime: hm(20, 0), Status: models.BookingRejected},
		{ID: "o", StartTime: hm(8, 0), EndTime: hm(20, 0), Status: models.BookingOverridden},
		{ID: "a", StartTime: hm(12, 0), EndTime: hm(13, 0), Status: models.BookingApproved},
	}
	slots := DefaultDayWindow().Slots(bookings)
	for _, slot := range slots {
		assert.Equal(t, slot.Start != hm(12, 0), slot.Available, slot.Start.String())
	}
}

func TestDayWindowClipsLastSlot(t *testing.T) {
	window, err := NewDayWindow("08:00", "09:45", 30*time.Minute)
	require.NoError(t, err)

	slots := window.Slots(nil)
	require.Len(t, slots, 4)
	assert.Equal(t, hm(9, 30), slots[3].Start)
	assert.Equal(t, hm(9, 45), slots[3].End)
}

func TestNewDayWindowRejectsBadBounds(t *testing.T) {
	_, err := NewDayWindow("20:00", "08:00", time.Hour)
	assert.Error(t, err)
	_, err = NewDayWindow("08:00", "20:00", time.Second)
	assert.Error(t, err)
	_, err = NewDayWindow("8am", "20:00", time.Hour)
	assert.Error(t, err)
}

func TestDayWindowSlotsAreOrderIndependent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 8).Draw(t, "n")
		bookings := make([]models.Booking, n)
		for i := range bookings {
			start := rapid.IntRange(6*60, 21*60).Draw(t, "start")
			length := rapid.IntRange(1, 180).Draw(t, "length")
			bookings[i] = models.Booking{
				StartTime: models.TimeOfDay(start),
				EndTime:   models.TimeOfDay(start + length),
				Status:    rapid.SampledFrom([]models.BookingStatus{models.BookingApproved, models.BookingPending, models.BookingCancelled}).Draw(t, "status"),
			}
		}
		perm := rapid.Permutation(bookings).Draw(t, "perm")

		window := DefaultDayWindow()
		slots := window.Slots(bookings)
		if len(slots) != 12 {
			t.Fatalf("expected 12 slots, got %d", len(slots))
		}
		shuffled := window.Slots(perm)
		for i := range slots {
			if slots[i] != shuffled[i] {
				t.Fatalf("slot %d differs after reordering: %+v vs %+v", i, slots[i], shuffled[i])
			}
			busy := false
			for _, b := range bookings {
				if b.Status == models.BookingApproved && models.Overlaps(slots[i].Start, slots[i].End, b.StartTime, b.EndTime) {
					busy = true
				}
			}
			if busy == slots[i].Available {
				t.Fatalf("slot %s-%s availability %v disagrees with bookings", slots[i].Start, slots[i].End, slots[i].Available)
			}
		}
	})
}

// Any sequence of creates, approvals and cancellations leaves the APPROVED
// bookings of a resource pairwise disjoint.
func TestApprovedBookingsNeverOverlap(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newBookingFixture(t)
		ctx := context.Background()
		actors := []string{"admin", "staff", "student", "student2"}

		steps := rapid.IntRange(1, 25).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0:
				start := rapid.IntRange(8*60, 19*60).Draw(rt, "start")
				length := rapid.IntRange(15, 120).Draw(rt, "length")
				actor := rapid.SampledFrom(actors).Draw(rt, "actor")
				_, _ = f.svc.Create(ctx, claimsFor(actor), request("r1", models.TimeOfDay(start), models.TimeOfDay(start+length)))
			case 1:
				if id := pickBooking(rt, f); id != "" {
					_, _ = f.svc.Approve(ctx, claimsFor("admin"), id)
				}
			case 2:
				if id := pickBooking(rt, f); id != "" {
					_, _ = f.svc.Cancel(ctx, claimsFor("admin"), id)
				}
			}
		}

		approved := models.BookingApproved
		all, err := f.bookings.FindAll(ctx, models.BookingFilter{Status: &approved})
		if err != nil {
			rt.Fatalf("list: %v", err)
		}
		for i := range all {
			for j := i + 1; j < len(all); j++ {
				if models.Overlaps(all[i].StartTime, all[i].EndTime, all[j].StartTime, all[j].EndTime) {
					rt.Fatalf("approved bookings %s and %s overlap", all[i].ID, all[j].ID)
				}
			}
		}
	})
}

func pickBooking(rt *rapid.T, f *bookingFixture) string {
	all, _ := f.bookings.FindAll(context.Background(), models.BookingFilter{})
	if len(all) == 0 {
		return ""
	}
	return all[rapid.IntRange(0, len(all)-1).Draw(rt, "index")].ID
}
