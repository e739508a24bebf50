package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mateusmsf94/marqueumhorario.com-sub001/internal/domain/availability"
	"github.com/mateusmsf94/marqueumhorario.com-sub001/internal/platform/db"
)

const (
	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"
	pgForeignKeyMissing  = "23503"
)

// mapPGError converts driver errors into package sentinels.
func mapPGError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgExclusionViolation:
			return fmt.Errorf("%w (%s)", ErrSlotTaken, pgErr.ConstraintName)
		case pgUniqueViolation:
			if pgErr.ConstraintName == "work_schedule_active_key" {
				return ErrDuplicateActiveSchedule
			}
			return fmt.Errorf("%w: %s", ErrInvalidInput, pgErr.Detail)
		case pgForeignKeyMissing:
			return fmt.Errorf("%w: referenced record does not exist", ErrNotFound)
		}
	}
	return err
}

// =========== Office Repository ===========

type officeRepoPG struct{ pool *pgxpool.Pool }

func NewOfficeRepoPG(pool *pgxpool.Pool) OfficeRepository { return &officeRepoPG{pool: pool} }

func (r *officeRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const officeCols = `id, name, timezone, address, version_id, created_at, updated_at`

func scanOffice(row pgx.Row) (*Office, error) {
	var o Office
	err := row.Scan(&o.ID, &o.Name, &o.Timezone, &o.Address, &o.VersionID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, mapPGError(err)
	}
	return &o, nil
}

func (r *officeRepoPG) Create(ctx context.Context, o *Office) error {
	o.ID = uuid.New()
	return mapPGError(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO office (id, name, timezone, address)
		VALUES ($1, $2, $3, $4)
		RETURNING version_id, created_at, updated_at`,
		o.ID, o.Name, o.Timezone, o.Address).Scan(&o.VersionID, &o.CreatedAt, &o.UpdatedAt))
}

func (r *officeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Office, error) {
	return scanOffice(r.conn(ctx).QueryRow(ctx, `SELECT `+officeCols+` FROM office WHERE id = $1`, id))
}

func (r *officeRepoPG) Update(ctx context.Context, o *Office) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE office SET name = $2, timezone = $3, address = $4,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $5
		RETURNING version_id, updated_at`,
		o.ID, o.Name, o.Timezone, o.Address, o.VersionID).Scan(&o.VersionID, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrVersionConflict
	}
	return mapPGError(err)
}

func (r *officeRepoPG) List(ctx context.Context, limit, offset int) ([]*Office, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM office`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+officeCols+` FROM office ORDER BY name, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Office
	for rows.Next() {
		o, err := scanOffice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, rows.Err()
}

// =========== Membership Repository ===========

type membershipRepoPG struct{ pool *pgxpool.Pool }

func NewMembershipRepoPG(pool *pgxpool.Pool) MembershipRepository {
	return &membershipRepoPG{pool: pool}
}

func (r *membershipRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const membershipCols = `id, office_id, user_id, role, active, created_at`

func scanMembership(row pgx.Row) (*OfficeMembership, error) {
	var m OfficeMembership
	if err := row.Scan(&m.ID, &m.OfficeID, &m.UserID, &m.Role, &m.Active, &m.CreatedAt); err != nil {
		return nil, mapPGError(err)
	}
	return &m, nil
}

func (r *membershipRepoPG) Create(ctx context.Context, m *OfficeMembership) error {
	m.ID = uuid.New()
	return mapPGError(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO office_membership (id, office_id, user_id, role, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		m.ID, m.OfficeID, m.UserID, m.Role, m.Active).Scan(&m.CreatedAt))
}

func (r *membershipRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*OfficeMembership, error) {
	return scanMembership(r.conn(ctx).QueryRow(ctx, `SELECT `+membershipCols+` FROM office_membership WHERE id = $1`, id))
}

func (r *membershipRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE office_membership SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return mapPGError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *membershipRepoPG) ListByUser(ctx context.Context, userID uuid.UUID) ([]*OfficeMembership, error) {
	return r.list(ctx, `SELECT `+membershipCols+` FROM office_membership WHERE user_id = $1 ORDER BY created_at`, userID)
}

func (r *membershipRepoPG) ListByOffice(ctx context.Context, officeID uuid.UUID) ([]*OfficeMembership, error) {
	return r.list(ctx, `SELECT `+membershipCols+` FROM office_membership WHERE office_id = $1 ORDER BY created_at`, officeID)
}

func (r *membershipRepoPG) list(ctx context.Context, query string, arg uuid.UUID) ([]*OfficeMembership, error) {
	rows, err := r.conn(ctx).Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*OfficeMembership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// =========== Work Schedule Repository ===========

type workScheduleRepoPG struct{ pool *pgxpool.Pool }

func NewWorkScheduleRepoPG(pool *pgxpool.Pool) WorkScheduleRepository {
	return &workScheduleRepoPG{pool: pool}
}

func (r *workScheduleRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const workScheduleCols = `id, office_id, provider_id, day_of_week, work_periods,
	slot_duration_minutes, slot_buffer_minutes, is_active, version_id, created_at, updated_at`

func scanWorkSchedule(row pgx.Row) (*WorkSchedule, error) {
	var w WorkSchedule
	err := row.Scan(&w.ID, &w.OfficeID, &w.ProviderID, &w.DayOfWeek, &w.WorkPeriods,
		&w.SlotDurationMinutes, &w.SlotBufferMinutes, &w.IsActive, &w.VersionID, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, mapPGError(err)
	}
	return &w, nil
}

func (r *workScheduleRepoPG) Create(ctx context.Context, w *WorkSchedule) error {
	w.ID = uuid.New()
	return mapPGError(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO work_schedule (id, office_id, provider_id, day_of_week, work_periods,
			slot_duration_minutes, slot_buffer_minutes, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING version_id, created_at, updated_at`,
		w.ID, w.OfficeID, w.ProviderID, w.DayOfWeek, w.WorkPeriods,
		w.SlotDurationMinutes, w.SlotBufferMinutes, w.IsActive,
	).Scan(&w.VersionID, &w.CreatedAt, &w.UpdatedAt))
}

func (r *workScheduleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*WorkSchedule, error) {
	return scanWorkSchedule(r.conn(ctx).QueryRow(ctx, `SELECT `+workScheduleCols+` FROM work_schedule WHERE id = $1`, id))
}

func (r *workScheduleRepoPG) Update(ctx context.Context, w *WorkSchedule) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE work_schedule SET day_of_week = $2, work_periods = $3,
			slot_duration_minutes = $4, slot_buffer_minutes = $5, is_active = $6,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $7
		RETURNING version_id, updated_at`,
		w.ID, w.DayOfWeek, w.WorkPeriods, w.SlotDurationMinutes, w.SlotBufferMinutes, w.IsActive, w.VersionID,
	).Scan(&w.VersionID, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrVersionConflict
	}
	return mapPGError(err)
}

func (r *workScheduleRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM work_schedule WHERE id = $1`, id)
	if err != nil {
		return mapPGError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *workScheduleRepoPG) List(ctx context.Context, officeID, providerID uuid.UUID) ([]*WorkSchedule, error) {
	query := `SELECT ` + workScheduleCols + ` FROM work_schedule WHERE office_id = $1`
	args := []interface{}{officeID}
	if providerID != uuid.Nil {
		query += ` AND provider_id = $2`
		args = append(args, providerID)
	}
	query += ` ORDER BY provider_id, day_of_week, is_active DESC, created_at`
	return r.list(ctx, query, args...)
}

func (r *workScheduleRepoPG) ListActive(ctx context.Context, officeID, providerID uuid.UUID, days []int) ([]*WorkSchedule, error) {
	return r.list(ctx, `SELECT `+workScheduleCols+` FROM work_schedule
		WHERE office_id = $1 AND provider_id = $2 AND is_active AND day_of_week = ANY($3)
		ORDER BY day_of_week, created_at`, officeID, providerID, days)
}

func (r *workScheduleRepoPG) FindActive(ctx context.Context, officeID, providerID uuid.UUID, day int) (*WorkSchedule, error) {
	return scanWorkSchedule(r.conn(ctx).QueryRow(ctx, `SELECT `+workScheduleCols+` FROM work_schedule
		WHERE office_id = $1 AND provider_id = $2 AND day_of_week = $3 AND is_active`,
		officeID, providerID, day))
}

func (r *workScheduleRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*WorkSchedule, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*WorkSchedule
	for rows.Next() {
		w, err := scanWorkSchedule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const apptCols = `id, office_id, provider_id, customer_id, title, description,
	start_time, end_time, duration_minutes, status, version_id, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.OfficeID, &a.ProviderID, &a.CustomerID, &a.Title, &a.Description,
		&a.StartTime, &a.EndTime, &a.DurationMinutes, &a.Status, &a.VersionID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapPGError(err)
	}
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	return mapPGError(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, office_id, provider_id, customer_id, title, description,
			start_time, end_time, duration_minutes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING version_id, created_at, updated_at`,
		a.ID, a.OfficeID, a.ProviderID, a.CustomerID, a.Title, a.Description,
		a.StartTime, a.EndTime, a.DurationMinutes, a.Status,
	).Scan(&a.VersionID, &a.CreatedAt, &a.UpdatedAt))
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status availability.AppointmentStatus, expectedVersion int) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment SET status = $2, version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $3
		RETURNING `+apptCols, id, status, expectedVersion))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrVersionConflict
	}
	return a, err
}

// where renders the filter as a WHERE clause with positional args.
func (f AppointmentFilter) where() (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.OfficeID != uuid.Nil {
		add("office_id = $%d", f.OfficeID)
	}
	if f.ProviderID != uuid.Nil {
		add("provider_id = $%d", f.ProviderID)
	}
	if f.CustomerID != uuid.Nil {
		add("customer_id = $%d", f.CustomerID)
	}
	// Overlap with [From, To): start < To AND end > From.
	if !f.To.IsZero() {
		add("start_time < $%d", f.To)
	}
	if !f.From.IsZero() {
		add("end_time > $%d", f.From)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *appointmentRepoPG) Overlapping(ctx context.Context, f AppointmentFilter) ([]*Appointment, error) {
	where, args := f.where()
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointment`+where+` ORDER BY start_time, id`, args...)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	where, args := f.where()
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+apptCols+` FROM appointment`+where+fmt.Sprintf(` ORDER BY start_time, id LIMIT $%d OFFSET $%d`, n+1, n+2),
		args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectAppointments(rows)
	return items, total, err
}

func collectAppointments(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
