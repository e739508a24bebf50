package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mateusmsf94/marqueumhorario.com-sub001/internal/domain/availability"
)

// AvailabilityLoader feeds the weekly calculator from the repositories.
type AvailabilityLoader struct {
	offices      OfficeRepository
	schedules    WorkScheduleRepository
	appointments AppointmentRepository
	blocking     []availability.AppointmentStatus
}

// NewAvailabilityLoader pre-filters appointments to the blocking statuses.
// An empty list loads every status and leaves filtering to the calculator.
func NewAvailabilityLoader(offices OfficeRepository, schedules WorkScheduleRepository, appts AppointmentRepository, blocking []availability.AppointmentStatus) *AvailabilityLoader {
	return &AvailabilityLoader{offices: offices, schedules: schedules, appointments: appts, blocking: blocking}
}

func (l *AvailabilityLoader) OfficeTimezone(ctx context.Context, officeID uuid.UUID) (string, error) {
	o, err := l.offices.GetByID(ctx, officeID)
	if err != nil {
		return "", err
	}
	return o.Timezone, nil
}

func (l *AvailabilityLoader) ActiveWorkSchedules(ctx context.Context, officeID, providerID uuid.UUID, days []time.Weekday) ([]availability.WorkSchedule, error) {
	ints := make([]int, len(days))
	for i, d := range days {
		ints[i] = int(d)
	}
	rows, err := l.schedules.ListActive(ctx, officeID, providerID, ints)
	if err != nil {
		return nil, err
	}
	out := make([]availability.WorkSchedule, 0, len(rows))
	for _, w := range rows {
		out = append(out, w.Snapshot())
	}
	return out, nil
}

func (l *AvailabilityLoader) Appointments(ctx context.Context, officeID, providerID uuid.UUID, from, to time.Time) ([]availability.Appointment, error) {
	rows, err := l.appointments.Overlapping(ctx, AppointmentFilter{
		OfficeID:   officeID,
		ProviderID: providerID,
		From:       from,
		To:         to,
		Statuses:   l.blocking,
	})
	if err != nil {
		return nil, err
	}
	out := make([]availability.Appointment, 0, len(rows))
	for _, a := range rows {
		out = append(out, a.Snapshot())
	}
	return out, nil
}
