package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mateusmsf94/marqueumhorario.com-sub001/internal/domain/availability"
)

type OfficeRepository interface {
	Create(ctx context.Context, o *Office) error
	GetByID(ctx context.Context, id uuid.UUID) (*Office, error)
	Update(ctx context.Context, o *Office) error
	List(ctx context.Context, limit, offset int) ([]*Office, int, error)
}

type MembershipRepository interface {
	Create(ctx context.Context, m *OfficeMembership) error
	GetByID(ctx context.Context, id uuid.UUID) (*OfficeMembership, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*OfficeMembership, error)
	ListByOffice(ctx context.Context, officeID uuid.UUID) ([]*OfficeMembership, error)
}

type WorkScheduleRepository interface {
	Create(ctx context.Context, w *WorkSchedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*WorkSchedule, error)
	// Update succeeds only when the stored version_id still equals w.VersionID.
	Update(ctx context.Context, w *WorkSchedule) error
	Delete(ctx context.Context, id uuid.UUID) error
	// List filters by office, and by provider unless providerID is uuid.Nil.
	List(ctx context.Context, officeID, providerID uuid.UUID) ([]*WorkSchedule, error)
	ListActive(ctx context.Context, officeID, providerID uuid.UUID, days []int) ([]*WorkSchedule, error)
	// FindActive returns ErrNotFound when the key has no active schedule.
	FindActive(ctx context.Context, officeID, providerID uuid.UUID, day int) (*WorkSchedule, error)
}

// AppointmentFilter selects appointments whose interval overlaps [From, To).
// Zero values leave a dimension unconstrained.
type AppointmentFilter struct {
	OfficeID   uuid.UUID
	ProviderID uuid.UUID
	CustomerID uuid.UUID
	From       time.Time
	To         time.Time
	Statuses   []availability.AppointmentStatus
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateStatus applies the change only when version_id still equals
	// expectedVersion and returns ErrVersionConflict otherwise.
	UpdateStatus(ctx context.Context, id uuid.UUID, status availability.AppointmentStatus, expectedVersion int) (*Appointment, error)
	Overlapping(ctx context.Context, f AppointmentFilter) ([]*Appointment, error)
	List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error)
}
