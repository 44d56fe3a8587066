package service

import (
	"fmt"
	"time"

	"github.com/noah-isme/campus-booking-api/internal/models"
)

// DayWindow is the bookable part of a day, partitioned into fixed-length slots.
type DayWindow struct {
	Start models.TimeOfDay
	End   models.TimeOfDay
	Slot  time.Duration
}

// DefaultDayWindow is 08:00 to 20:00 in one hour slots.
func DefaultDayWindow() DayWindow {
	return DayWindow{Start: models.NewTimeOfDay(8, 0), End: models.NewTimeOfDay(20, 0), Slot: time.Hour}
}

// NewDayWindow parses "HH:MM" bounds.
func NewDayWindow(start, end string, slot time.Duration) (DayWindow, error) {
	from, err := models.ParseTimeOfDay(start)
	if err != nil {
		return DayWindow{}, fmt.Errorf("day start: %w", err)
	}
	to, err := models.ParseTimeOfDay(end)
	if err != nil {
		return DayWindow{}, fmt.Errorf("day end: %w", err)
	}
	if from >= to {
		return DayWindow{}, fmt.Errorf("day window %s-%s is empty", from, to)
	}
	if slot < time.Minute {
		return DayWindow{}, fmt.Errorf("slot length %s is below one minute", slot)
	}
	return DayWindow{Start: from, End: to, Slot: slot}, nil
}

// Slots partitions the window into consecutive slots and marks each one
// unavailable when it overlaps an APPROVED booking. The last slot is clipped
// to End. The result depends only on its inputs, never on booking order.
func (w DayWindow) Slots(bookings []models.Booking) []models.TimeSlot {
	step := w.Slot
	if step < time.Minute {
		step = time.Hour
	}

	var slots []models.TimeSlot
	for start := w.Start; start < w.End; {
		end := start.Add(step)
		if end > w.End {
			end = w.End
		}
		available := true
		for _, b := range bookings {
			if b.ConflictsWith(start, end) {
				available = false
				break
			}
		}
		slots = append(slots, models.TimeSlot{Start: start, End: end, Available: available})
		start = end
	}
	return slots
}
