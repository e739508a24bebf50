package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Loader supplies the read-only inputs of a weekly calculation.
// Implementations return ErrNotFound (possibly wrapped) for unknown keys.
type Loader interface {
	OfficeTimezone(ctx context.Context, officeID uuid.UUID) (string, error)
	ActiveWorkSchedules(ctx context.Context, officeID, providerID uuid.UUID, days []time.Weekday) ([]WorkSchedule, error)
	// Appointments returns appointments whose interval overlaps [from, to).
	Appointments(ctx context.Context, officeID, providerID uuid.UUID, from, to time.Time) ([]Appointment, error)
}

type WeekRequest struct {
	OfficeID   uuid.UUID
	ProviderID uuid.UUID
	// WeekStart is read as a calendar date in the office timezone. The zero
	// value selects the first day of the current week.
	WeekStart time.Time
}

type DayAvailability struct {
	Date        string          `json:"date"`
	Weekday     string          `json:"weekday"`
	Slots       []AvailableSlot `json:"slots"`
	FreePeriods []TimePeriod    `json:"free_periods"`
}

type WeeklyAvailability struct {
	OfficeID       uuid.UUID         `json:"office_id"`
	ProviderID     uuid.UUID         `json:"provider_id"`
	Timezone       string            `json:"timezone"`
	WeekStart      string            `json:"week_start"`
	WeekEnd        string            `json:"week_end"`
	Days           []DayAvailability `json:"days"`
	TotalSlots     int               `json:"total_slots"`
	AvailableSlots int               `json:"available_slots"`
	BusySlots      int               `json:"busy_slots"`
}

// SlotsByDate returns the slot lists keyed by date.
func (w *WeeklyAvailability) SlotsByDate() map[string][]AvailableSlot {
	out := make(map[string][]AvailableSlot, len(w.Days))
	for _, d := range w.Days {
		out[d.Date] = d.Slots
	}
	return out
}

type Option func(*WeeklyAvailabilityCalculator)

// WithBlocking overrides which appointment statuses occupy time.
func WithBlocking(p BlockingPredicate) Option {
	return func(c *WeeklyAvailabilityCalculator) {
		if p != nil {
			c.blocking = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *WeeklyAvailabilityCalculator) {
		if now != nil {
			c.now = now
		}
	}
}

func WithWeekStartsOn(day time.Weekday) Option {
	return func(c *WeeklyAvailabilityCalculator) { c.weekStartsOn = day }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *WeeklyAvailabilityCalculator) {
		c.logger = logger.With().Str("component", "availability").Logger()
	}
}

// WeeklyAvailabilityCalculator computes the slot grid of one
// office/provider/week. It holds no per-call state and is safe for
// concurrent use.
type WeeklyAvailabilityCalculator struct {
	loader       Loader
	blocking     BlockingPredicate
	now          func() time.Time
	weekStartsOn time.Weekday
	logger       zerolog.Logger
}

func NewWeeklyAvailabilityCalculator(loader Loader, opts ...Option) *WeeklyAvailabilityCalculator {
	c := &WeeklyAvailabilityCalculator{
		loader:       loader,
		blocking:     DefaultBlocking,
		now:          time.Now,
		weekStartsOn: time.Monday,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// calculation memoizes everything derived during one Calculate call.
type calculation struct {
	req       WeekRequest
	loc       *time.Location
	days      []time.Time
	schedules map[time.Weekday]WorkSchedule
	busy      []TimePeriod
	generator *SlotGenerator
}

// Calculate builds the weekly view. Expected input failures are returned as
// *CalculationError; anything else is logged and returned unchanged.
func (c *WeeklyAvailabilityCalculator) Calculate(ctx context.Context, req WeekRequest) (*WeeklyAvailability, error) {
	if req.OfficeID == uuid.Nil || req.ProviderID == uuid.Nil {
		return nil, &CalculationError{
			Message: "office and provider are required",
			Err:     ErrInvalidArgument,
		}
	}

	result, err := c.calculate(ctx, req)
	if err == nil {
		return result, nil
	}

	var calcErr *CalculationError
	if errors.As(err, &calcErr) {
		return nil, err
	}
	if IsExpected(err) {
		return nil, &CalculationError{Message: safeMessage(err), Err: err}
	}

	c.logger.Error().Err(err).
		Str("office_id", req.OfficeID.String()).
		Str("provider_id", req.ProviderID.String()).
		Time("week_start", req.WeekStart).
		Msg("availability calculation failed")
	return nil, err
}

func safeMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "office or provider not found"
	case errors.Is(err, ErrInvalidClock):
		return "schedule contains an invalid time of day"
	default:
		return "invalid availability request"
	}
}

func (c *WeeklyAvailabilityCalculator) calculate(ctx context.Context, req WeekRequest) (*WeeklyAvailability, error) {
	tz, err := c.loader.OfficeTimezone(ctx, req.OfficeID)
	if err != nil {
		return nil, fmt.Errorf("load office timezone: %w", err)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, &CalculationError{
			Message: "office timezone is invalid",
			Err:     fmt.Errorf("%w: %v", ErrInvalidArgument, err),
		}
	}

	calc := &calculation{req: req, loc: loc}
	first := c.firstDay(req.WeekStart, loc)
	for i := 0; i < 7; i++ {
		calc.days = append(calc.days, addDays(first, i))
	}
	from, to := calc.days[0], addDays(first, 7)

	if err := c.loadSchedules(ctx, calc); err != nil {
		return nil, err
	}

	appts, err := c.loader.Appointments(ctx, req.OfficeID, req.ProviderID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}
	for _, a := range appts {
		if !c.blocking(a.Status) {
			continue
		}
		if p := a.Period(); !p.IsEmpty() {
			calc.busy = append(calc.busy, p)
		}
	}
	calc.generator = NewSlotGenerator(calc.busy)

	out := &WeeklyAvailability{
		OfficeID:   req.OfficeID,
		ProviderID: req.ProviderID,
		Timezone:   loc.String(),
		WeekStart:  first.Format(dateLayout),
		WeekEnd:    calc.days[6].Format(dateLayout),
		Days:       make([]DayAvailability, 0, len(calc.days)),
	}
	plans := make([]DayPlan, 0, len(calc.days))
	index := make(map[string]int, len(calc.days))
	for _, day := range calc.days {
		d, plan := c.day(calc, day)
		index[d.Date] = len(out.Days)
		out.Days = append(out.Days, d)
		plans = append(plans, plan)
	}
	for _, s := range calc.generator.Generate(plans) {
		d := &out.Days[index[s.Date]]
		d.Slots = append(d.Slots, s)
		if s.Available() {
			out.AvailableSlots++
		} else {
			out.BusySlots++
		}
	}
	out.TotalSlots = out.AvailableSlots + out.BusySlots
	return out, nil
}

// firstDay resolves the requested week start to local midnight.
func (c *WeeklyAvailabilityCalculator) firstDay(weekStart time.Time, loc *time.Location) time.Time {
	if weekStart.IsZero() {
		today := c.now().In(loc)
		back := (int(today.Weekday()) - int(c.weekStartsOn) + 7) % 7
		return addDays(midnight(today, loc), -back)
	}
	return midnight(weekStart, loc)
}

func midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// addDays moves by calendar days, so DST days keep their local midnight.
func addDays(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+n, 0, 0, 0, 0, t.Location())
}

func (c *WeeklyAvailabilityCalculator) loadSchedules(ctx context.Context, calc *calculation) error {
	weekdays := make([]time.Weekday, 0, len(calc.days))
	for _, d := range calc.days {
		weekdays = append(weekdays, d.Weekday())
	}
	schedules, err := c.loader.ActiveWorkSchedules(ctx, calc.req.OfficeID, calc.req.ProviderID, weekdays)
	if err != nil {
		return fmt.Errorf("load work schedules: %w", err)
	}

	calc.schedules = make(map[time.Weekday]WorkSchedule, len(schedules))
	for _, s := range schedules {
		if !s.IsActive {
			continue
		}
		if _, dup := calc.schedules[s.DayOfWeek]; dup {
			c.logger.Warn().
				Str("provider_id", calc.req.ProviderID.String()).
				Str("day_of_week", s.DayOfWeek.String()).
				Msg("more than one active work schedule, keeping the first")
			continue
		}
		calc.schedules[s.DayOfWeek] = s
	}
	return nil
}

// day builds the slot-less view of one local day and the plan the
// generator lays its grid from.
func (c *WeeklyAvailabilityCalculator) day(calc *calculation, day time.Time) (DayAvailability, DayPlan) {
	out := DayAvailability{
		Date:        day.Format(dateLayout),
		Weekday:     day.Weekday().String(),
		Slots:       []AvailableSlot{},
		FreePeriods: []TimePeriod{},
	}
	plan := DayPlan{Date: day}
	schedule, ok := calc.schedules[day.Weekday()]
	if !ok {
		return out, plan
	}

	cfg := SlotConfiguration{
		SlotDuration: schedule.SlotDuration(),
		SlotBuffer:   schedule.SlotBuffer(),
	}
	for _, wp := range schedule.WorkPeriods {
		p, err := wp.On(day, calc.loc)
		if err != nil || p.IsEmpty() {
			c.logger.Warn().
				Str("provider_id", calc.req.ProviderID.String()).
				Str("date", out.Date).
				Str("start", wp.Start).
				Str("end", wp.End).
				Msg("skipping malformed work period")
			continue
		}
		cfg.Periods = append(cfg.Periods, p)
	}
	sort.Slice(cfg.Periods, func(i, j int) bool {
		return cfg.Periods[i].Start.Before(cfg.Periods[j].Start)
	})
	if err := cfg.Validate(); err != nil {
		c.logger.Warn().Err(err).Str("date", out.Date).Msg("work schedule has an invalid slot configuration")
	}

	out.FreePeriods = AvailablePeriods(cfg.Periods, calc.busyWithin(day))
	plan.Config = cfg
	return out, plan
}

// busyWithin returns the busy periods that touch the given local day.
func (calc *calculation) busyWithin(day time.Time) []TimePeriod {
	start, end := day, addDays(day, 1)
	var out []TimePeriod
	for _, b := range calc.busy {
		if Overlaps(b.Start, b.End, start, end) {
			out = append(out, b)
		}
	}
	return out
}
