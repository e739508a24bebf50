package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mateusmsf94/marqueumhorario.com-sub001/internal/domain/availability"
)

// -- Mock Repositories --

type mockOfficeRepo struct {
	offices map[uuid.UUID]*Office
}

func newMockOfficeRepo() *mockOfficeRepo {
	return &mockOfficeRepo{offices: make(map[uuid.UUID]*Office)}
}

func (m *mockOfficeRepo) Create(_ context.Context, o *Office) error {
	o.ID = uuid.New()
	o.VersionID = 1
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	m.offices[o.ID] = o
	return nil
}

func (m *mockOfficeRepo) GetByID(_ context.Context, id uuid.UUID) (*Office, error) {
	o, ok := m.offices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

func (m *mockOfficeRepo) Update(_ context.Context, o *Office) error {
	existing, ok := m.offices[o.ID]
	if !ok {
		return ErrNotFound
	}
	if o.VersionID != existing.VersionID {
		return ErrVersionConflict
	}
	o.VersionID = existing.VersionID + 1
	m.offices[o.ID] = o
	return nil
}

func (m *mockOfficeRepo) List(_ context.Context, limit, offset int) ([]*Office, int, error) {
	var result []*Office
	for _, o := range m.offices {
		result = append(result, o)
	}
	total := len(result)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return result[offset:end], total, nil
}

type mockMembershipRepo struct {
	items map[uuid.UUID]*OfficeMembership
}

func newMockMembershipRepo() *mockMembershipRepo {
	return &mockMembershipRepo{items: make(map[uuid.UUID]*OfficeMembership)}
}

func (m *mockMembershipRepo) Create(_ context.Context, ms *OfficeMembership) error {
	ms.ID = uuid.New()
	ms.CreatedAt = time.Now()
	m.items[ms.ID] = ms
	return nil
}

func (m *mockMembershipRepo) GetByID(_ context.Context, id uuid.UUID) (*OfficeMembership, error) {
	ms, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ms, nil
}

func (m *mockMembershipRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	ms, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	ms.Active = active
	return nil
}

func (m *mockMembershipRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*OfficeMembership, error) {
	var result []*OfficeMembership
	for _, ms := range m.items {
		if ms.UserID == userID {
			result = append(result, ms)
		}
	}
	return result, nil
}

func (m *mockMembershipRepo) ListByOffice(_ context.Context, officeID uuid.UUID) ([]*OfficeMembership, error) {
	var result []*OfficeMembership
	for _, ms := range m.items {
		if ms.OfficeID == officeID {
			result = append(result, ms)
		}
	}
	return result, nil
}

type mockWorkScheduleRepo struct {
	items map[uuid.UUID]*WorkSchedule
}

func newMockWorkScheduleRepo() *mockWorkScheduleRepo {
	return &mockWorkScheduleRepo{items: make(map[uuid.UUID]*WorkSchedule)}
}

func (m *mockWorkScheduleRepo) Create(_ context.Context, w *WorkSchedule) error {
	w.ID = uuid.New()
	w.VersionID = 1
	m.items[w.ID] = w
	return nil
}

func (m *mockWorkScheduleRepo) GetByID(_ context.Context, id uuid.UUID) (*WorkSchedule, error) {
	w, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *mockWorkScheduleRepo) Update(_ context.Context, w *WorkSchedule) error {
	existing, ok := m.items[w.ID]
	if !ok {
		return ErrNotFound
	}
	if w.VersionID != existing.VersionID {
		return ErrVersionConflict
	}
	w.VersionID++
	m.items[w.ID] = w
	return nil
}

func (m *mockWorkScheduleRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *mockWorkScheduleRepo) List(_ context.Context, officeID, providerID uuid.UUID) ([]*WorkSchedule, error) {
	var result []*WorkSchedule
	for _, w := range m.items {
		if w.OfficeID == officeID && (providerID == uuid.Nil || w.ProviderID == providerID) {
			result = append(result, w)
		}
	}
	return result, nil
}

func (m *mockWorkScheduleRepo) ListActive(_ context.Context, officeID, providerID uuid.UUID, days []int) ([]*WorkSchedule, error) {
	want := make(map[int]bool, len(days))
	for _, d := range days {
		want[d] = true
	}
	var result []*WorkSchedule
	for _, w := range m.items {
		if w.IsActive && w.OfficeID == officeID && w.ProviderID == providerID && want[w.DayOfWeek] {
			result = append(result, w)
		}
	}
	return result, nil
}

func (m *mockWorkScheduleRepo) FindActive(_ context.Context, officeID, providerID uuid.UUID, day int) (*WorkSchedule, error) {
	for _, w := range m.items {
		if w.IsActive && w.OfficeID == officeID && w.ProviderID == providerID && w.DayOfWeek == day {
			return w, nil
		}
	}
	return nil, ErrNotFound
}

// mockAppointmentRepo mimics the exclusion constraint when constraint is set:
// Create fails with ErrSlotTaken if a pending or confirmed appointment of the
// same provider overlaps.
type mockAppointmentRepo struct {
	mu         sync.Mutex
	items      map[uuid.UUID]*Appointment
	constraint bool
}

func newMockAppointmentRepo() *mockAppointmentRepo {
	return &mockAppointmentRepo{items: make(map[uuid.UUID]*Appointment)}
}

func (m *mockAppointmentRepo) add(a *Appointment) *Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insert(a)
}

// insert stores a; caller holds mu.
func (m *mockAppointmentRepo) insert(a *Appointment) *Appointment {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.VersionID == 0 {
		a.VersionID = 1
	}
	a.EndTime = a.Snapshot().EndTime()
	m.items[a.ID] = a
	return a
}

func (m *mockAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.constraint {
		for _, other := range m.items {
			if other.ProviderID == a.ProviderID && availability.DefaultBlocking(other.Status) &&
				availability.Overlaps(a.StartTime, a.EndTime, other.StartTime, other.EndTime) {
				return ErrSlotTaken
			}
		}
	}
	m.insert(a)
	return nil
}

func (m *mockAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAppointmentRepo) UpdateStatus(_ context.Context, id uuid.UUID, status availability.AppointmentStatus, expectedVersion int) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if a.VersionID != expectedVersion {
		return nil, ErrVersionConflict
	}
	a.Status = status
	a.VersionID++
	cp := *a
	return &cp, nil
}

func (m *mockAppointmentRepo) match(f AppointmentFilter, a *Appointment) bool {
	if f.OfficeID != uuid.Nil && a.OfficeID != f.OfficeID {
		return false
	}
	if f.ProviderID != uuid.Nil && a.ProviderID != f.ProviderID {
		return false
	}
	if f.CustomerID != uuid.Nil && a.CustomerID != f.CustomerID {
		return false
	}
	if !f.To.IsZero() && !a.StartTime.Before(f.To) {
		return false
	}
	if !f.From.IsZero() && !a.EndTime.After(f.From) {
		return false
	}
	if len(f.Statuses) > 0 && !availability.BlockingStatuses(f.Statuses...)(a.Status) {
		return false
	}
	return true
}

func (m *mockAppointmentRepo) Overlapping(_ context.Context, f AppointmentFilter) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Appointment
	for _, a := range m.items {
		if m.match(f, a) {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartTime.Before(result[j].StartTime) })
	return result, nil
}

func (m *mockAppointmentRepo) List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	all, _ := m.Overlapping(ctx, f)
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// countingTransactor records how many transactions were opened.
type countingTransactor struct {
	mu    sync.Mutex
	calls int
}

func (c *countingTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return fn(ctx)
}

type testEnv struct {
	svc          *Service
	offices      *mockOfficeRepo
	memberships  *mockMembershipRepo
	schedules    *mockWorkScheduleRepo
	appointments *mockAppointmentRepo
	tx           *countingTransactor
}

// testNow is a Monday; the office below works Wednesdays in São Paulo.
var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newTestEnv(opts ...ServiceOption) *testEnv {
	env := &testEnv{
		offices:      newMockOfficeRepo(),
		memberships:  newMockMembershipRepo(),
		schedules:    newMockWorkScheduleRepo(),
		appointments: newMockAppointmentRepo(),
		tx:           &countingTransactor{},
	}
	opts = append([]ServiceOption{
		WithTransactor(env.tx),
		WithServiceClock(func() time.Time { return testNow }),
	}, opts...)
	env.svc = NewService(env.offices, env.memberships, env.schedules, env.appointments, opts...)
	return env
}

// seedOffice creates an office managed by owner with an active Wednesday
// schedule for provider: 09:00-12:00 and 13:00-17:00, 30 minute slots.
func (env *testEnv) seedOffice(owner, provider uuid.UUID) (*Office, *WorkSchedule) {
	ctx := context.Background()
	o := &Office{Name: "Clínica Centro", Timezone: "America/Sao_Paulo"}
	if err := env.svc.CreateOffice(ctx, o, owner); err != nil {
		panic(err)
	}
	w := &WorkSchedule{
		OfficeID:   o.ID,
		ProviderID: provider,
		DayOfWeek:  int(time.Wednesday),
		WorkPeriods: []availability.WorkPeriod{
			{Start: "13:00", End: "17:00"},
			{Start: "09:00", End: "12:00"},
		},
		SlotDurationMinutes: 30,
		IsActive:            true,
	}
	if err := env.svc.CreateWorkSchedule(ctx, w); err != nil {
		panic(err)
	}
	return o, w
}

// wednesdayAt returns the instant of hh:mm on 2026-03-04 in São Paulo.
func wednesdayAt(hour, minute int) time.Time {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		panic(err)
	}
	return time.Date(2026, 3, 4, hour, minute, 0, 0, loc)
}
