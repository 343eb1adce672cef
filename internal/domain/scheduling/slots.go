package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OtotaO/hipaa-voice-agent/internal/platform/fhirclient"
)

const (
	slotStep           = 30 * time.Minute
	longestVisit       = 60 * time.Minute
	alternativeDays    = 7
	alternativesPerDay = 2
	maxAlternatives    = 3
	defaultDaySlots    = 5
)

var clockLayouts = []string{"15:04", "3:04 PM", "3:04PM", "3 PM", "3PM"}

func parseDay(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return d, nil
}

// parseClock returns minutes after midnight.
func parseClock(s string) (int, error) {
	s = strings.ToUpper(strings.Join(strings.Fields(s), " "))
	s = strings.NewReplacer("A.M.", "AM", "P.M.", "PM").Replace(s)
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour()*60 + t.Minute(), nil
		}
	}
	return 0, ErrInvalidTime
}

type interval struct {
	start, end time.Time
}

// busy returns the held intervals that could overlap [from, to). The search
// window is widened by the longest visit so earlier appointments running
// into the window are caught.
func (s *Service) busy(ctx context.Context, from, to time.Time, providerID string) ([]interval, error) {
	appts, err := s.calendar.SearchAppointments(ctx, fhirclient.AppointmentQuery{
		Start:        from.Add(-longestVisit),
		End:          to,
		Statuses:     fhirclient.AppointmentOpenStatuses,
		Practitioner: providerID,
	})
	if err != nil {
		return nil, fmt.Errorf("scheduling: search appointments: %w", err)
	}
	out := make([]interval, 0, len(appts))
	for _, a := range appts {
		st, err1 := time.Parse(time.RFC3339, a.Start)
		en, err2 := time.Parse(time.RFC3339, a.End)
		if err1 != nil || err2 != nil {
			// Unreadable times block the whole window.
			out = append(out, interval{from.Add(-longestVisit), to})
			continue
		}
		out = append(out, interval{st, en})
	}
	return out, nil
}

func free(start, end time.Time, held []interval) bool {
	for _, h := range held {
		if h.start.Before(end) && h.end.After(start) {
			return false
		}
	}
	return true
}

func (s *Service) newSlot(start time.Time, typ AppointmentType, providerID string) AvailableSlot {
	return AvailableSlot{
		Date:            start.Format("2006-01-02"),
		Time:            start.Format("15:04"),
		DayName:         start.Weekday().String(),
		Start:           start,
		End:             start.Add(time.Duration(typ.Duration) * time.Minute),
		Duration:        typ.Duration,
		AppointmentType: typ.Code,
		ProviderID:      providerID,
	}
}

// daySlots walks the day in 30 minute steps and returns up to limit openings
// that end by closing time and start in the future.
func (s *Service) daySlots(ctx context.Context, day time.Time, typ AppointmentType, providerID string, limit int) ([]AvailableSlot, error) {
	if !s.hours.openOn(day.Weekday()) {
		return nil, nil
	}
	open := s.at(day, s.hours.Open)
	closing := s.at(day, s.hours.Close)
	held, err := s.busy(ctx, open, closing, providerID)
	if err != nil {
		return nil, err
	}
	dur := time.Duration(typ.Duration) * time.Minute
	now := s.now()
	var out []AvailableSlot
	for t := open; !t.Add(dur).After(closing) && len(out) < limit; t = t.Add(slotStep) {
		if t.Before(now) {
			continue
		}
		if free(t, t.Add(dur), held) {
			out = append(out, s.newSlot(t, typ, providerID))
		}
	}
	return out, nil
}

// FindSlots lists openings on one day.
func (s *Service) FindSlots(ctx context.Context, p SlotSearchParams) ([]AvailableSlot, error) {
	typ, err := lookupType(p.AppointmentType)
	if err != nil {
		return nil, err
	}
	day, err := parseDay(p.Date, s.loc)
	if err != nil {
		return nil, err
	}
	limit := p.Max
	if limit <= 0 {
		limit = defaultDaySlots
	}
	slots, err := s.daySlots(ctx, day, typ, p.ProviderID, limit)
	if err != nil {
		return nil, err
	}
	if slots == nil {
		slots = []AvailableSlot{}
	}
	return slots, nil
}

// findSlot resolves a booking request to one opening. A nil slot with a nil
// error means the request is well-formed but cannot be met.
func (s *Service) findSlot(ctx context.Context, req BookingRequest, typ AppointmentType) (*AvailableSlot, error) {
	day, err := parseDay(req.PreferredDate, s.loc)
	if err != nil {
		return nil, err
	}
	today := s.today()
	if day.Before(today) {
		return nil, ErrPastDate
	}
	if !s.hours.openOn(day.Weekday()) {
		return nil, nil
	}

	if strings.TrimSpace(req.PreferredTime) == "" {
		slots, err := s.daySlots(ctx, day, typ, req.ProviderID, 1)
		if err != nil || len(slots) == 0 {
			return nil, err
		}
		return &slots[0], nil
	}

	mins, err := parseClock(req.PreferredTime)
	if err != nil {
		return nil, err
	}
	if mins < s.hours.Open || mins+typ.Duration > s.hours.Close {
		return nil, nil
	}
	start := s.at(day, mins)
	if start.Before(s.now()) {
		return nil, nil
	}
	end := start.Add(time.Duration(typ.Duration) * time.Minute)
	held, err := s.busy(ctx, start, end, req.ProviderID)
	if err != nil {
		return nil, err
	}
	if !free(start, end, held) {
		return nil, nil
	}
	slot := s.newSlot(start, typ, req.ProviderID)
	return &slot, nil
}

// alternatives offers up to three openings over the following week.
func (s *Service) alternatives(ctx context.Context, from time.Time, typ AppointmentType, providerID string) ([]AvailableSlot, error) {
	out := []AvailableSlot{}
	for offset := 1; offset <= alternativeDays && len(out) < maxAlternatives; offset++ {
		day := from.AddDate(0, 0, offset)
		slots, err := s.daySlots(ctx, day, typ, providerID, alternativesPerDay)
		if err != nil {
			return nil, err
		}
		out = append(out, slots...)
	}
	if len(out) > maxAlternatives {
		out = out[:maxAlternatives]
	}
	return out, nil
}

// at is the wall-clock time mins after midnight on day.
func (s *Service) at(day time.Time, mins int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, mins, 0, 0, s.loc)
}

func (s *Service) today() time.Time {
	y, m, d := s.now().In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}
