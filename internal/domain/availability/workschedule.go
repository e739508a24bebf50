package availability

import "time"

// WorkPeriod is a raw wall-clock range as authored on a schedule.
type WorkPeriod struct {
	Start string `json:"start" validate:"required,clock"`
	End   string `json:"end" validate:"required,clock"`
}

// Clocks parses both ends of the period.
func (wp WorkPeriod) Clocks() (Clock, Clock, error) {
	start, err := ParseClock(wp.Start)
	if err != nil {
		return Clock{}, Clock{}, err
	}
	end, err := ParseClock(wp.End)
	if err != nil {
		return Clock{}, Clock{}, err
	}
	return start, end, nil
}

// Minutes returns end - start in minutes, or 0 when the period is malformed
// or inverted.
func (wp WorkPeriod) Minutes() int {
	start, end, err := wp.Clocks()
	if err != nil || end.Minutes() <= start.Minutes() {
		return 0
	}
	return end.Minutes() - start.Minutes()
}

// On materializes the period on day in loc.
func (wp WorkPeriod) On(day time.Time, loc *time.Location) (TimePeriod, error) {
	start, end, err := wp.Clocks()
	if err != nil {
		return TimePeriod{}, err
	}
	return TimePeriod{Start: start.On(day, loc), End: end.On(day, loc)}, nil
}

// WorkSchedule is the read-only snapshot of one weekday's schedule.
type WorkSchedule struct {
	DayOfWeek           time.Weekday
	WorkPeriods         []WorkPeriod
	SlotDurationMinutes int
	SlotBufferMinutes   int
	IsActive            bool
}

func (s WorkSchedule) SlotDuration() time.Duration {
	return time.Duration(s.SlotDurationMinutes) * time.Minute
}

func (s WorkSchedule) SlotBuffer() time.Duration {
	return time.Duration(s.SlotBufferMinutes) * time.Minute
}

func (s WorkSchedule) TotalWorkMinutes() int {
	return TotalWorkMinutes(s.WorkPeriods)
}

func (s WorkSchedule) MaxAppointmentsPerDay() int {
	return MaxAppointmentsPerDay(s.TotalWorkMinutes(), s.SlotDurationMinutes, s.SlotBufferMinutes)
}

// TotalWorkMinutes sums the length of every period.
func TotalWorkMinutes(periods []WorkPeriod) int {
	total := 0
	for _, p := range periods {
		total += p.Minutes()
	}
	return total
}

// MaxAppointmentsPerDay is floor(total / (duration + buffer)), or 0 when
// either the total or the divisor is not positive.
func MaxAppointmentsPerDay(totalMinutes, slotDurationMinutes, slotBufferMinutes int) int {
	step := slotDurationMinutes + slotBufferMinutes
	if totalMinutes <= 0 || step <= 0 {
		return 0
	}
	return totalMinutes / step
}

// Appointment is the busy-interval view of a booked appointment.
type Appointment struct {
	StartTime       time.Time
	DurationMinutes int
	Status          AppointmentStatus
}

func (a Appointment) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

func (a Appointment) Period() TimePeriod {
	return TimePeriod{Start: a.StartTime, End: a.EndTime()}
}
