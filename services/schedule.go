package services

import (
	"strings"
	"time"

	"turnsync/config"
	"turnsync/models"
)

// ScheduleResolver turns derived flags plus configured service windows
// into a concrete service timestamp and description. Window precedence:
// explicit override, then same-day turnover, then owner-arriving, then
// long-term guest, then the standard default.
type ScheduleResolver struct{}

func NewScheduleResolver() *ScheduleResolver {
	return &ScheduleResolver{}
}

// Resolve computes the service time and description for a record whose
// check-out is known.
func (s *ScheduleResolver) Resolve(rc *RunContext, rec *models.ReservationRecord) (time.Time, string) {
	windows := rc.Cfg.Windows
	prop := rc.Cfg.Property(rec.PropertyID)

	when := s.resolveTime(rec, prop, windows)
	desc := s.describe(rec, prop, windows)
	return when, desc
}

func (s *ScheduleResolver) resolveTime(rec *models.ReservationRecord, prop *config.PropertyConfig, windows config.WindowConfig) time.Time {
	if rec.OverrideServiceTime != nil {
		return *rec.OverrideServiceTime
	}

	day := models.Day(*rec.CheckOut)

	start := windows.DefaultStart
	if prop != nil && prop.DefaultStart != "" {
		start = prop.DefaultStart
	}
	if rec.SameDayTurnover {
		start = windows.SameDayStart
		if prop != nil && prop.SameDayStart != "" {
			start = prop.SameDayStart
		}
	}

	return day.Add(clockOffset(start))
}

// describe assembles the job description in fixed component order:
// custom instructions, owner-arrival marker, long-term-guest marker, base
// service descriptor. Downstream systems parse this ordering; do not
// reorder.
func (s *ScheduleResolver) describe(rec *models.ReservationRecord, prop *config.PropertyConfig, windows config.WindowConfig) string {
	var parts []string

	instructions := rec.CustomInstructions
	if instructions == "" && prop != nil {
		instructions = prop.CustomInstructions
	}
	if instructions != "" {
		parts = append(parts, instructions)
	}
	if rec.OwnerArriving {
		parts = append(parts, "OWNER ARRIVAL")
	}
	if rec.LongTermGuest {
		parts = append(parts, "LONG STAY")
	}
	parts = append(parts, s.baseDescriptor(rec, prop, windows))

	return strings.Join(parts, " | ")
}

func (s *ScheduleResolver) baseDescriptor(rec *models.ReservationRecord, prop *config.PropertyConfig, windows config.WindowConfig) string {
	label := "Turnover clean"
	switch rec.ServiceType {
	case models.ServiceInspection:
		label = "Inspection"
	case models.ServiceReturnLaundry:
		label = "Return laundry"
	}
	if rec.SameDayTurnover {
		label = "SAME DAY " + label
	}

	dur := s.duration(rec, prop, windows)
	return label + " (" + dur.String() + ")"
}

// duration applies the window modifiers in precedence order: the
// same-day window is tighter, an owner arrival extends it, a long stay
// adds buffer.
func (s *ScheduleResolver) duration(rec *models.ReservationRecord, prop *config.PropertyConfig, windows config.WindowConfig) time.Duration {
	dur := windows.DefaultDuration
	if prop != nil && prop.DefaultDuration > 0 {
		dur = prop.DefaultDuration
	}
	if rec.SameDayTurnover {
		dur = windows.SameDayDuration
	}
	if rec.OwnerArriving {
		dur += windows.OwnerExtraTime
	}
	if rec.LongTermGuest {
		dur += windows.LongTermBuffer
	}
	return dur
}

// clockOffset parses an "HH:MM" clock string into an offset from
// midnight. Malformed values fall back to 11:00.
func clockOffset(clock string) time.Duration {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 11 * time.Hour
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
}
