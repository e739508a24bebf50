package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mateusmsf94/marqueumhorario.com-sub001/internal/domain/availability"
	"github.com/mateusmsf94/marqueumhorario.com-sub001/internal/platform/validation"
)

// Transactor runs fn in a single database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type noopTransactor struct{}

func (noopTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Recorder counts service outcomes by name and label value.
type Recorder interface {
	Inc(name, value string)
}

type noopRecorder struct{}

func (noopRecorder) Inc(string, string) {}

// MetricBookings counts booking attempts labelled by outcome.
const MetricBookings = "appointment_bookings_total"

type Service struct {
	offices      OfficeRepository
	memberships  MembershipRepository
	schedules    WorkScheduleRepository
	appointments AppointmentRepository

	tx       Transactor
	blocking []availability.AppointmentStatus
	validate *validation.Validator
	now      func() time.Time
	logger   zerolog.Logger
	metrics  Recorder
}

type ServiceOption func(*Service)

func WithTransactor(tx Transactor) ServiceOption {
	return func(s *Service) { s.tx = tx }
}

// WithBlockingStatuses sets which statuses occupy provider time on the
// booking path. It should match the calculator's predicate.
func WithBlockingStatuses(statuses ...availability.AppointmentStatus) ServiceOption {
	return func(s *Service) { s.blocking = statuses }
}

func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func WithServiceLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger.With().Str("component", "scheduling").Logger() }
}

func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) { s.metrics = r }
}

func NewService(offices OfficeRepository, memberships MembershipRepository, schedules WorkScheduleRepository, appts AppointmentRepository, opts ...ServiceOption) *Service {
	s := &Service{
		offices:      offices,
		memberships:  memberships,
		schedules:    schedules,
		appointments: appts,
		tx:           noopTransactor{},
		blocking:     []availability.AppointmentStatus{availability.StatusPending, availability.StatusConfirmed},
		validate:     validation.New(),
		now:          time.Now,
		logger:       zerolog.Nop(),
		metrics:      noopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) BlockingStatuses() []availability.AppointmentStatus {
	return s.blocking
}

func (s *Service) check(v interface{}) error {
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

// -- Offices --

// CreateOffice stores the office and makes creatorID its owner.
func (s *Service) CreateOffice(ctx context.Context, o *Office, creatorID uuid.UUID) error {
	if o.Timezone == "" {
		o.Timezone = "UTC"
	}
	if err := s.check(o); err != nil {
		return err
	}
	if creatorID == uuid.Nil {
		return fmt.Errorf("%w: creator is required", ErrInvalidInput)
	}
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.offices.Create(ctx, o); err != nil {
			return err
		}
		return s.memberships.Create(ctx, &OfficeMembership{
			OfficeID: o.ID,
			UserID:   creatorID,
			Role:     RoleOwner,
			Active:   true,
		})
	})
}

func (s *Service) GetOffice(ctx context.Context, id uuid.UUID) (*Office, error) {
	return s.offices.GetByID(ctx, id)
}

// UpdateOffice replaces the name and timezone of an office. A missing
// version or timezone is taken from the stored row.
func (s *Service) UpdateOffice(ctx context.Context, o *Office) error {
	existing, err := s.offices.GetByID(ctx, o.ID)
	if err != nil {
		return err
	}
	if o.VersionID == 0 {
		o.VersionID = existing.VersionID
	}
	if o.Timezone == "" {
		o.Timezone = existing.Timezone
	}
	o.CreatedAt = existing.CreatedAt
	if err := s.check(o); err != nil {
		return err
	}
	return s.offices.Update(ctx, o)
}

func (s *Service) ListOffices(ctx context.Context, limit, offset int) ([]*Office, int, error) {
	return s.offices.List(ctx, limit, offset)
}

// -- Memberships --

// ManagesOffice reports whether an active membership links userID to officeID.
func ManagesOffice(memberships []*OfficeMembership, userID, officeID uuid.UUID) bool {
	for _, m := range memberships {
		if m.Active && m.UserID == userID && m.OfficeID == officeID {
			return true
		}
	}
	return false
}

func (s *Service) CanManageOffice(ctx context.Context, userID, officeID uuid.UUID) (bool, error) {
	if userID == uuid.Nil || officeID == uuid.Nil {
		return false, nil
	}
	ms, err := s.memberships.ListByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return ManagesOffice(ms, userID, officeID), nil
}

func (s *Service) AddMembership(ctx context.Context, m *OfficeMembership) error {
	m.Active = true
	if err := s.check(m); err != nil {
		return err
	}
	if _, err := s.offices.GetByID(ctx, m.OfficeID); err != nil {
		return err
	}
	return s.memberships.Create(ctx, m)
}

func (s *Service) GetMembership(ctx context.Context, id uuid.UUID) (*OfficeMembership, error) {
	return s.memberships.GetByID(ctx, id)
}

func (s *Service) DeactivateMembership(ctx context.Context, id uuid.UUID) error {
	return s.memberships.SetActive(ctx, id, false)
}

func (s *Service) ListMemberships(ctx context.Context, officeID uuid.UUID) ([]*OfficeMembership, error) {
	return s.memberships.ListByOffice(ctx, officeID)
}

// -- Work schedules --

// ValidateWorkPeriods checks format, that each period ends after it starts,
// and that no two periods overlap.
func ValidateWorkPeriods(periods []availability.WorkPeriod) error {
	ref := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	spans := make([]availability.TimePeriod, 0, len(periods))
	for i, wp := range periods {
		p, err := wp.On(ref, time.UTC)
		if err != nil {
			return fmt.Errorf("%w: period %d: %v", ErrInvalidWorkPeriods, i, err)
		}
		if p.IsEmpty() {
			return fmt.Errorf("%w: period %d: end %s must be after start %s", ErrInvalidWorkPeriods, i, wp.End, wp.Start)
		}
		for j, other := range spans {
			if availability.Overlaps(p.Start, p.End, other.Start, other.End) {
				return fmt.Errorf("%w: period %d overlaps period %d", ErrInvalidWorkPeriods, i, j)
			}
		}
		spans = append(spans, p)
	}
	return nil
}

func sortWorkPeriods(periods []availability.WorkPeriod) {
	sort.SliceStable(periods, func(i, j int) bool {
		a, _ := availability.ParseClock(periods[i].Start)
		b, _ := availability.ParseClock(periods[j].Start)
		return a.Minutes() < b.Minutes()
	})
}

func (s *Service) prepareWorkSchedule(w *WorkSchedule) error {
	if w.WorkPeriods == nil {
		w.WorkPeriods = []availability.WorkPeriod{}
	}
	if err := s.check(w); err != nil {
		return err
	}
	if err := ValidateWorkPeriods(w.WorkPeriods); err != nil {
		return err
	}
	sortWorkPeriods(w.WorkPeriods)
	return nil
}

// ensureSingleActive rejects w when another active schedule holds its key.
func (s *Service) ensureSingleActive(ctx context.Context, w *WorkSchedule) error {
	if !w.IsActive {
		return nil
	}
	existing, err := s.schedules.FindActive(ctx, w.OfficeID, w.ProviderID, w.DayOfWeek)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID != w.ID {
		return ErrDuplicateActiveSchedule
	}
	return nil
}

func (s *Service) CreateWorkSchedule(ctx context.Context, w *WorkSchedule) error {
	if err := s.prepareWorkSchedule(w); err != nil {
		return err
	}
	if _, err := s.offices.GetByID(ctx, w.OfficeID); err != nil {
		return err
	}
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.ensureSingleActive(ctx, w); err != nil {
			return err
		}
		return s.schedules.Create(ctx, w)
	})
}

func (s *Service) GetWorkSchedule(ctx context.Context, id uuid.UUID) (*WorkSchedule, error) {
	return s.schedules.GetByID(ctx, id)
}

// UpdateWorkSchedule replaces the mutable fields of an existing schedule.
// The office and provider of a schedule never change.
func (s *Service) UpdateWorkSchedule(ctx context.Context, w *WorkSchedule) error {
	existing, err := s.schedules.GetByID(ctx, w.ID)
	if err != nil {
		return err
	}
	w.OfficeID = existing.OfficeID
	w.ProviderID = existing.ProviderID
	if w.VersionID == 0 {
		w.VersionID = existing.VersionID
	}
	if err := s.prepareWorkSchedule(w); err != nil {
		return err
	}
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.ensureSingleActive(ctx, w); err != nil {
			return err
		}
		return s.schedules.Update(ctx, w)
	})
}

func (s *Service) DeleteWorkSchedule(ctx context.Context, id uuid.UUID) error {
	return s.schedules.Delete(ctx, id)
}

func (s *Service) ListWorkSchedules(ctx context.Context, officeID, providerID uuid.UUID) ([]*WorkSchedule, error) {
	return s.schedules.List(ctx, officeID, providerID)
}

func (s *Service) WorkScheduleStats(ctx context.Context, id uuid.UUID) (*WorkScheduleStats, error) {
	w, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	snap := w.Snapshot()
	return &WorkScheduleStats{
		WorkScheduleID:        w.ID,
		TotalWorkMinutes:      snap.TotalWorkMinutes(),
		MaxAppointmentsPerDay: snap.MaxAppointmentsPerDay(),
	}, nil
}

// -- Appointments --

// BookAppointment is the write path guarding against double booking. It
// re-reads the provider's blocking appointments inside the transaction and
// relies on the appointment exclusion constraint for concurrent writers.
func (s *Service) BookAppointment(ctx context.Context, a *Appointment) error {
	err := s.bookAppointment(ctx, a)
	s.metrics.Inc(MetricBookings, bookingOutcome(err))
	return err
}

func bookingOutcome(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, ErrSlotTaken):
		return "slot_taken"
	case errors.Is(err, ErrInvalidInput):
		return "rejected"
	default:
		return "error"
	}
}

func (s *Service) bookAppointment(ctx context.Context, a *Appointment) error {
	if a.Status == "" {
		a.Status = availability.StatusPending
	}
	if a.Status != availability.StatusPending && a.Status != availability.StatusConfirmed {
		return fmt.Errorf("%w: new appointments must be pending or confirmed", ErrInvalidInput)
	}
	if err := s.check(a); err != nil {
		return err
	}
	if !a.StartTime.After(s.now()) {
		return fmt.Errorf("%w: start_time must be in the future", ErrInvalidInput)
	}
	a.StartTime = a.StartTime.UTC()
	a.EndTime = a.Snapshot().EndTime()

	office, err := s.offices.GetByID(ctx, a.OfficeID)
	if err != nil {
		return err
	}
	loc, err := office.Location()
	if err != nil {
		return fmt.Errorf("office %s has an invalid timezone: %w", office.ID, err)
	}
	if err := s.withinWorkingHours(ctx, a, loc); err != nil {
		return err
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		busy, err := s.appointments.Overlapping(ctx, AppointmentFilter{
			ProviderID: a.ProviderID,
			From:       a.StartTime,
			To:         a.EndTime,
			Statuses:   s.blocking,
		})
		if err != nil {
			return err
		}
		for _, b := range busy {
			if availability.Overlaps(a.StartTime, a.EndTime, b.StartTime, b.EndTime) {
				return ErrSlotTaken
			}
		}
		return s.appointments.Create(ctx, a)
	})
	if errors.Is(err, ErrSlotTaken) {
		s.logger.Info().
			Str("provider_id", a.ProviderID.String()).
			Time("start_time", a.StartTime).
			Msg("booking rejected, slot taken")
	}
	return err
}

// withinWorkingHours requires the appointment to sit inside one work period
// of the provider's active schedule for that local day.
func (s *Service) withinWorkingHours(ctx context.Context, a *Appointment, loc *time.Location) error {
	local := a.StartTime.In(loc)
	schedule, err := s.schedules.FindActive(ctx, a.OfficeID, a.ProviderID, int(local.Weekday()))
	if errors.Is(err, ErrNotFound) {
		return ErrOutsideWorkingHours
	}
	if err != nil {
		return err
	}
	want := a.Period()
	for _, wp := range schedule.WorkPeriods {
		p, err := wp.On(local, loc)
		if err != nil {
			continue
		}
		if p.Covers(want) {
			return nil
		}
	}
	return ErrOutsideWorkingHours
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

func (s *Service) ListAppointments(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	return s.appointments.List(ctx, f, limit, offset)
}

// TransitionAppointment moves an appointment along the status model.
// expectedVersion of 0 skips the client-side version check; the store
// still rejects a concurrent change.
func (s *Service) TransitionAppointment(ctx context.Context, id uuid.UUID, to availability.AppointmentStatus, expectedVersion int) (*Appointment, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, to)
	}
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if expectedVersion != 0 && expectedVersion != a.VersionID {
		return nil, ErrVersionConflict
	}
	if !availability.CanTransition(a.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
	}
	return s.appointments.UpdateStatus(ctx, id, to, a.VersionID)
}
