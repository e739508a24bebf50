package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/mateusmsf94/marqueumhorario.com-sub001/internal/domain/availability"
)

// Office maps to the office table. Timezone is an IANA name that defines
// where each calendar day starts for availability.
type Office struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name" validate:"required,max=200"`
	Timezone  string    `db:"timezone" json:"timezone" validate:"required,timezone"`
	Address   *string   `db:"address" json:"address,omitempty"`
	VersionID int       `db:"version_id" json:"version_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Location resolves the office timezone.
func (o *Office) Location() (*time.Location, error) {
	return time.LoadLocation(o.Timezone)
}

const (
	RoleOwner    = "owner"
	RoleManager  = "manager"
	RoleProvider = "provider"
	RoleStaff    = "staff"
)

// OfficeMembership links a user to an office.
type OfficeMembership struct {
	ID        uuid.UUID `db:"id" json:"id"`
	OfficeID  uuid.UUID `db:"office_id" json:"office_id" validate:"required"`
	UserID    uuid.UUID `db:"user_id" json:"user_id" validate:"required"`
	Role      string    `db:"role" json:"role" validate:"required,oneof=owner manager provider staff"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// WorkSchedule maps to the work_schedule table. DayOfWeek uses 0 for Sunday.
type WorkSchedule struct {
	ID                  uuid.UUID                 `db:"id" json:"id"`
	OfficeID            uuid.UUID                 `db:"office_id" json:"office_id" validate:"required"`
	ProviderID          uuid.UUID                 `db:"provider_id" json:"provider_id" validate:"required"`
	DayOfWeek           int                       `db:"day_of_week" json:"day_of_week" validate:"min=0,max=6"`
	WorkPeriods         []availability.WorkPeriod `db:"work_periods" json:"work_periods" validate:"dive"`
	SlotDurationMinutes int                       `db:"slot_duration_minutes" json:"slot_duration_minutes" validate:"gt=0,lte=1440"`
	SlotBufferMinutes   int                       `db:"slot_buffer_minutes" json:"slot_buffer_minutes" validate:"gte=0,lte=1440"`
	IsActive            bool                      `db:"is_active" json:"is_active"`
	VersionID           int                       `db:"version_id" json:"version_id"`
	CreatedAt           time.Time                 `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time                 `db:"updated_at" json:"updated_at"`
}

// Snapshot converts the row into the engine's read-only view.
func (w *WorkSchedule) Snapshot() availability.WorkSchedule {
	periods := make([]availability.WorkPeriod, len(w.WorkPeriods))
	copy(periods, w.WorkPeriods)
	return availability.WorkSchedule{
		DayOfWeek:           time.Weekday(w.DayOfWeek),
		WorkPeriods:         periods,
		SlotDurationMinutes: w.SlotDurationMinutes,
		SlotBufferMinutes:   w.SlotBufferMinutes,
		IsActive:            w.IsActive,
	}
}

type WorkScheduleStats struct {
	WorkScheduleID        uuid.UUID `json:"work_schedule_id"`
	TotalWorkMinutes      int       `json:"total_work_minutes"`
	MaxAppointmentsPerDay int       `json:"max_appointments_per_day"`
}

// Appointment maps to the appointment table. EndTime is derived from
// StartTime and DurationMinutes and stored for range queries.
type Appointment struct {
	ID              uuid.UUID                      `db:"id" json:"id"`
	OfficeID        uuid.UUID                      `db:"office_id" json:"office_id" validate:"required"`
	ProviderID      uuid.UUID                      `db:"provider_id" json:"provider_id" validate:"required"`
	CustomerID      uuid.UUID                      `db:"customer_id" json:"customer_id" validate:"required"`
	Title           string                         `db:"title" json:"title" validate:"max=200"`
	Description     *string                        `db:"description" json:"description,omitempty"`
	StartTime       time.Time                      `db:"start_time" json:"start_time" validate:"required"`
	EndTime         time.Time                      `db:"end_time" json:"end_time"`
	DurationMinutes int                            `db:"duration_minutes" json:"duration_minutes" validate:"gt=0,lte=1440"`
	Status          availability.AppointmentStatus `db:"status" json:"status"`
	VersionID       int                            `db:"version_id" json:"version_id"`
	CreatedAt       time.Time                      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time                      `db:"updated_at" json:"updated_at"`
}

func (a *Appointment) Snapshot() availability.Appointment {
	return availability.Appointment{
		StartTime:       a.StartTime,
		DurationMinutes: a.DurationMinutes,
		Status:          a.Status,
	}
}

func (a *Appointment) Period() availability.TimePeriod {
	return a.Snapshot().Period()
}
