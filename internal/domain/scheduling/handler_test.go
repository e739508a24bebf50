package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mateusmsf94/marqueumhorario.com-sub001/internal/domain/availability"
	"github.com/mateusmsf94/marqueumhorario.com-sub001/internal/platform/auth"
	"github.com/mateusmsf94/marqueumhorario.com-sub001/internal/platform/validation"
)

type stubCalculator struct {
	view *availability.WeeklyAvailability
	err  error
	got  availability.WeekRequest
}

func (s *stubCalculator) Calculate(_ context.Context, req availability.WeekRequest) (*availability.WeeklyAvailability, error) {
	s.got = req
	return s.view, s.err
}

func newTestHandler() (*Handler, *testEnv, *stubCalculator) {
	env := newTestEnv()
	calc := &stubCalculator{view: &availability.WeeklyAvailability{}}
	return NewHandler(env.svc, calc), env, calc
}

// newCtx builds an echo context authenticated as user with params bound
// in name/value pairs.
func newCtx(method, target, body string, user uuid.UUID, params ...string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	e.Validator = validation.New()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if user != uuid.Nil {
		req = req.WithContext(auth.WithUser(req.Context(), user.String(), []string{"provider"}))
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	var names, values []string
	for i := 0; i+1 < len(params); i += 2 {
		names = append(names, params[i])
		values = append(values, params[i+1])
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	return c, rec
}

func expectHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError %d, got %T (%v)", code, err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d (%v)", code, httpErr.Code, httpErr.Message)
	}
}

// -- Offices --

func TestHandler_CreateOffice(t *testing.T) {
	h, env, _ := newTestHandler()
	owner := uuid.New()
	c, rec := newCtx(http.MethodPost, "/", `{"name":"Clínica","timezone":"America/Manaus"}`, owner)

	if err := h.CreateOffice(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var o Office
	json.Unmarshal(rec.Body.Bytes(), &o)
	if ok, _ := env.svc.CanManageOffice(context.Background(), owner, o.ID); !ok {
		t.Error("creator should manage the new office")
	}
}

func TestHandler_CreateOffice_BadTimezone(t *testing.T) {
	h, _, _ := newTestHandler()
	c, _ := newCtx(http.MethodPost, "/", `{"name":"Clínica","timezone":"Moon/Base"}`, uuid.New())
	expectHTTPError(t, h.CreateOffice(c), http.StatusBadRequest)
}

func TestHandler_CreateOffice_Unauthenticated(t *testing.T) {
	h, _, _ := newTestHandler()
	c, _ := newCtx(http.MethodPost, "/", `{"name":"Clínica"}`, uuid.Nil)
	expectHTTPError(t, h.CreateOffice(c), http.StatusUnauthorized)
}

func TestHandler_GetOffice(t *testing.T) {
	h, env, _ := newTestHandler()
	o, _ := env.seedOffice(uuid.New(), uuid.New())

	c, rec := newCtx(http.MethodGet, "/", "", uuid.New(), "office_id", o.ID.String())
	if err := h.GetOffice(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c, _ = newCtx(http.MethodGet, "/", "", uuid.New(), "office_id", uuid.New().String())
	expectHTTPError(t, h.GetOffice(c), http.StatusNotFound)

	c, _ = newCtx(http.MethodGet, "/", "", uuid.New(), "office_id", "not-a-uuid")
	expectHTTPError(t, h.GetOffice(c), http.StatusBadRequest)
}

func TestHandler_UpdateOffice_RequiresManager(t *testing.T) {
	h, env, _ := newTestHandler()
	owner := uuid.New()
	o, _ := env.seedOffice(owner, uuid.New())
	body := `{"name":"New name","timezone":"UTC","version_id":1}`

	c, _ := newCtx(http.MethodPut, "/", body, uuid.New(), "office_id", o.ID.String())
	expectHTTPError(t, h.UpdateOffice(c), http.StatusForbidden)

	c, rec := newCtx(http.MethodPut, "/", body, owner, "office_id", o.ID.String())
	if err := h.UpdateOffice(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_UpdateOffice_WithoutVersion(t *testing.T) {
	h, env, _ := newTestHandler()
	owner := uuid.New()
	o, _ := env.seedOffice(owner, uuid.New())

	c, rec := newCtx(http.MethodPut, "/", `{"name":"Renamed"}`, owner, "office_id", o.ID.String())
	if err := h.UpdateOffice(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got Office
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Name != "Renamed" || got.Timezone != "America/Sao_Paulo" || got.VersionID != 2 {
		t.Errorf("unexpected office: %+v", got)
	}
}

func TestHandler_ListOffices(t *testing.T) {
	h, env, _ := newTestHandler()
	env.seedOffice(uuid.New(), uuid.New())
	env.seedOffice(uuid.New(), uuid.New())

	c, rec := newCtx(http.MethodGet, "/api/v1/offices?limit=1", "", uuid.New())
	if err := h.ListOffices(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Total   int  `json:"total"`
		HasMore bool `json:"has_more"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 2 || !body.HasMore {
		t.Errorf("unexpected page: %+v", body)
	}
}

// -- Memberships --

func TestHandler_Memberships(t *testing.T) {
	h, env, _ := newTestHandler()
	owner, staff := uuid.New(), uuid.New()
	o, _ := env.seedOffice(owner, uuid.New())

	c, rec := newCtx(http.MethodPost, "/", `{"user_id":"`+staff.String()+`","role":"staff"}`, owner, "office_id", o.ID.String())
	if err := h.AddMembership(c); err != nil {
		t.Fatalf("AddMembership: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var m OfficeMembership
	json.Unmarshal(rec.Body.Bytes(), &m)

	c, _ = newCtx(http.MethodGet, "/", "", staff, "office_id", o.ID.String())
	if err := h.ListMemberships(c); err != nil {
		t.Fatalf("ListMemberships: %v", err)
	}

	c, rec = newCtx(http.MethodDelete, "/", "", owner, "id", m.ID.String())
	if err := h.DeactivateMembership(c); err != nil {
		t.Fatalf("DeactivateMembership: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	c, _ = newCtx(http.MethodGet, "/", "", staff, "office_id", o.ID.String())
	expectHTTPError(t, h.ListMemberships(c), http.StatusForbidden)
}

// -- Availability --

func TestHandler_GetAvailability(t *testing.T) {
	h, _, calc := newTestHandler()
	office, provider := uuid.New(), uuid.New()

	c, rec := newCtx(http.MethodGet, "/?week_start=2026-03-02", "", uuid.New(),
		"office_id", office.String(), "provider_id", provider.String())
	if err := h.GetAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if calc.got.OfficeID != office || calc.got.ProviderID != provider {
		t.Errorf("unexpected request %+v", calc.got)
	}
	if want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC); !calc.got.WeekStart.Equal(want) {
		t.Errorf("expected week start %v, got %v", want, calc.got.WeekStart)
	}
}

func TestHandler_GetAvailability_Errors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		err   error
		want  int
	}{
		{"bad week_start", "?week_start=02/03/2026", nil, http.StatusBadRequest},
		{"not found", "", &availability.CalculationError{Message: "office or provider not found", Err: availability.ErrNotFound}, http.StatusNotFound},
		{"invalid", "", &availability.CalculationError{Message: "office timezone is invalid", Err: availability.ErrInvalidArgument}, http.StatusBadRequest},
		{"unexpected", "", errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, calc := newTestHandler()
			calc.err = tt.err
			c, _ := newCtx(http.MethodGet, "/"+tt.query, "", uuid.New(),
				"office_id", uuid.New().String(), "provider_id", uuid.New().String())
			expectHTTPError(t, h.GetAvailability(c), tt.want)
		})
	}
}

// -- Work schedules --

const scheduleBody = `{"day_of_week":1,"work_periods":[{"start":"09:00","end":"12:00"}],"slot_duration_minutes":30,"provider_id":"%s"}`

func TestHandler_CreateWorkSchedule(t *testing.T) {
	h, env, _ := newTestHandler()
	owner, provider := uuid.New(), uuid.New()
	o, _ := env.seedOffice(owner, uuid.New())
	body := strings.Replace(scheduleBody, "%s", provider.String(), 1)

	c, _ := newCtx(http.MethodPost, "/", body, uuid.New(), "office_id", o.ID.String())
	expectHTTPError(t, h.CreateWorkSchedule(c), http.StatusForbidden)

	c, rec := newCtx(http.MethodPost, "/", body, owner, "office_id", o.ID.String())
	if err := h.CreateWorkSchedule(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var w WorkSchedule
	json.Unmarshal(rec.Body.Bytes(), &w)
	if !w.IsActive || w.OfficeID != o.ID {
		t.Errorf("expected active schedule in office, got %+v", w)
	}

	c, _ = newCtx(http.MethodPost, "/", body, owner, "office_id", o.ID.String())
	expectHTTPError(t, h.CreateWorkSchedule(c), http.StatusConflict)
}

func TestHandler_CreateWorkSchedule_InvalidPeriods(t *testing.T) {
	h, env, _ := newTestHandler()
	owner := uuid.New()
	o, _ := env.seedOffice(owner, uuid.New())
	body := `{"day_of_week":1,"work_periods":[{"start":"12:00","end":"09:00"}],"slot_duration_minutes":30,"provider_id":"` + uuid.New().String() + `"}`

	c, _ := newCtx(http.MethodPost, "/", body, owner, "office_id", o.ID.String())
	expectHTTPError(t, h.CreateWorkSchedule(c), http.StatusBadRequest)
}

func TestHandler_CreateWorkSchedule_FieldErrors(t *testing.T) {
	h, env, _ := newTestHandler()
	owner := uuid.New()
	o, _ := env.seedOffice(owner, uuid.New())
	body := `{"day_of_week":1,"work_periods":[{"start":"9am","end":"12:00"}],"slot_duration_minutes":0,"provider_id":"` + uuid.New().String() + `"}`

	c, _ := newCtx(http.MethodPost, "/", body, owner, "office_id", o.ID.String())
	err := h.CreateWorkSchedule(c)
	expectHTTPError(t, err, http.StatusBadRequest)

	msg, ok := err.(*echo.HTTPError).Message.(map[string]interface{})
	if !ok {
		t.Fatalf("expected a structured message, got %T", err.(*echo.HTTPError).Message)
	}
	fields, _ := msg["fields"].([]validation.FieldError)
	got := map[string]bool{}
	for _, f := range fields {
		got[f.Field] = true
	}
	for _, want := range []string{"work_periods[0].start", "slot_duration_minutes"} {
		if !got[want] {
			t.Errorf("expected field %q in %+v", want, fields)
		}
	}
	if n, _ := env.schedules.List(context.Background(), o.ID, uuid.Nil); len(n) != 1 {
		t.Errorf("rejected schedule should not be stored, have %d", len(n))
	}
}

func TestHandler_WorkScheduleLifecycle(t *testing.T) {
	h, env, _ := newTestHandler()
	owner := uuid.New()
	_, w := env.seedOffice(owner, uuid.New())

	c, rec := newCtx(http.MethodGet, "/", "", uuid.New(), "id", w.ID.String())
	if err := h.GetWorkScheduleStats(c); err != nil {
		t.Fatalf("stats: %v", err)
	}
	var stats WorkScheduleStats
	json.Unmarshal(rec.Body.Bytes(), &stats)
	if stats.TotalWorkMinutes != 420 {
		t.Errorf("expected 420 minutes, got %d", stats.TotalWorkMinutes)
	}

	body := `{"day_of_week":3,"work_periods":[{"start":"08:00","end":"10:00"}],"slot_duration_minutes":20,"is_active":false}`
	c, _ = newCtx(http.MethodPut, "/", body, owner, "id", w.ID.String())
	if err := h.UpdateWorkSchedule(c); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := env.svc.GetWorkSchedule(context.Background(), w.ID)
	if got.IsActive || got.SlotDurationMinutes != 20 {
		t.Errorf("unexpected schedule after update: %+v", got)
	}

	c, rec = newCtx(http.MethodDelete, "/", "", owner, "id", w.ID.String())
	if err := h.DeleteWorkSchedule(c); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	c, _ = newCtx(http.MethodGet, "/", "", owner, "id", w.ID.String())
	expectHTTPError(t, h.GetWorkSchedule(c), http.StatusNotFound)
}

// -- Appointments --

func bookingBody(provider uuid.UUID, start time.Time, extra string) string {
	return `{"provider_id":"` + provider.String() + `","start_time":"` + start.Format(time.RFC3339) +
		`","duration_minutes":30` + extra + `}`
}

func TestHandler_BookAppointment(t *testing.T) {
	h, env, _ := newTestHandler()
	provider, customer := uuid.New(), uuid.New()
	o, _ := env.seedOffice(uuid.New(), provider)

	c, rec := newCtx(http.MethodPost, "/", bookingBody(provider, wednesdayAt(10, 0), ""), customer, "office_id", o.ID.String())
	if err := h.BookAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var a Appointment
	json.Unmarshal(rec.Body.Bytes(), &a)
	if a.CustomerID != customer || a.Status != availability.StatusPending {
		t.Errorf("unexpected appointment: %+v", a)
	}

	c, _ = newCtx(http.MethodPost, "/", bookingBody(provider, wednesdayAt(10, 0), ""), uuid.New(), "office_id", o.ID.String())
	expectHTTPError(t, h.BookAppointment(c), http.StatusConflict)

	c, _ = newCtx(http.MethodPost, "/", bookingBody(provider, wednesdayAt(12, 0), ""), uuid.New(), "office_id", o.ID.String())
	expectHTTPError(t, h.BookAppointment(c), http.StatusBadRequest)
}

func TestHandler_BookAppointment_ManagerOnlyFields(t *testing.T) {
	h, env, _ := newTestHandler()
	owner, provider, customer := uuid.New(), uuid.New(), uuid.New()
	o, _ := env.seedOffice(owner, provider)

	confirmed := bookingBody(provider, wednesdayAt(10, 0), `,"status":"confirmed"`)
	c, _ := newCtx(http.MethodPost, "/", confirmed, customer, "office_id", o.ID.String())
	expectHTTPError(t, h.BookAppointment(c), http.StatusForbidden)

	forOther := bookingBody(provider, wednesdayAt(10, 0), `,"customer_id":"`+uuid.New().String()+`"`)
	c, _ = newCtx(http.MethodPost, "/", forOther, customer, "office_id", o.ID.String())
	expectHTTPError(t, h.BookAppointment(c), http.StatusForbidden)

	c, rec := newCtx(http.MethodPost, "/", confirmed, owner, "office_id", o.ID.String())
	if err := h.BookAppointment(c); err != nil {
		t.Fatalf("manager booking: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

func TestHandler_ListAppointments_Visibility(t *testing.T) {
	h, env, _ := newTestHandler()
	owner, provider, alice, bob := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	o, _ := env.seedOffice(owner, provider)
	for i, who := range []uuid.UUID{alice, bob, bob} {
		env.appointments.add(&Appointment{OfficeID: o.ID, ProviderID: provider, CustomerID: who,
			StartTime: wednesdayAt(9+i, 0), DurationMinutes: 30, Status: availability.StatusPending})
	}

	count := func(user uuid.UUID) int {
		c, rec := newCtx(http.MethodGet, "/", "", user, "office_id", o.ID.String())
		if err := h.ListAppointments(c); err != nil {
			t.Fatalf("list: %v", err)
		}
		var body struct {
			Total int `json:"total"`
		}
		json.Unmarshal(rec.Body.Bytes(), &body)
		return body.Total
	}

	if got := count(owner); got != 3 {
		t.Errorf("manager should see 3, got %d", got)
	}
	if got := count(alice); got != 1 {
		t.Errorf("alice should see 1, got %d", got)
	}
	if got := count(bob); got != 2 {
		t.Errorf("bob should see 2, got %d", got)
	}
}

func TestHandler_ListAppointments_BadQuery(t *testing.T) {
	h, env, _ := newTestHandler()
	o, _ := env.seedOffice(uuid.New(), uuid.New())

	for _, q := range []string{"?status=booked", "?from=yesterday", "?provider_id=x"} {
		c, _ := newCtx(http.MethodGet, "/"+q, "", uuid.New(), "office_id", o.ID.String())
		expectHTTPError(t, h.ListAppointments(c), http.StatusBadRequest)
	}
}

func TestHandler_GetAppointment_Visibility(t *testing.T) {
	h, env, _ := newTestHandler()
	owner, provider, customer := uuid.New(), uuid.New(), uuid.New()
	o, _ := env.seedOffice(owner, provider)
	a := env.appointments.add(&Appointment{OfficeID: o.ID, ProviderID: provider, CustomerID: customer,
		StartTime: wednesdayAt(9, 0), DurationMinutes: 30, Status: availability.StatusPending})

	for _, user := range []uuid.UUID{customer, owner} {
		c, _ := newCtx(http.MethodGet, "/", "", user, "id", a.ID.String())
		if err := h.GetAppointment(c); err != nil {
			t.Errorf("user %s: unexpected error %v", user, err)
		}
	}
	c, _ := newCtx(http.MethodGet, "/", "", uuid.New(), "id", a.ID.String())
	expectHTTPError(t, h.GetAppointment(c), http.StatusForbidden)
}

func TestHandler_TransitionAppointment(t *testing.T) {
	h, env, _ := newTestHandler()
	owner, provider, customer := uuid.New(), uuid.New(), uuid.New()
	o, _ := env.seedOffice(owner, provider)
	book := func() *Appointment {
		return env.appointments.add(&Appointment{OfficeID: o.ID, ProviderID: provider, CustomerID: customer,
			StartTime: wednesdayAt(9, 0), DurationMinutes: 30, Status: availability.StatusPending})
	}

	tests := []struct {
		name string
		user uuid.UUID
		body string
		want int
	}{
		{"customer cancels own", customer, `{"status":"cancelled"}`, http.StatusOK},
		{"customer cannot confirm", customer, `{"status":"confirmed"}`, http.StatusForbidden},
		{"stranger cannot cancel", uuid.New(), `{"status":"cancelled"}`, http.StatusForbidden},
		{"manager confirms", owner, `{"status":"confirmed","version_id":1}`, http.StatusOK},
		{"manager invalid transition", owner, `{"status":"completed"}`, http.StatusUnprocessableEntity},
		{"stale version", owner, `{"status":"confirmed","version_id":4}`, http.StatusConflict},
		{"missing status", owner, `{"version_id":1}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := book()
			c, rec := newCtx(http.MethodPatch, "/", tt.body, tt.user, "id", a.ID.String())
			err := h.TransitionAppointment(c)
			if tt.want == http.StatusOK {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if rec.Code != http.StatusOK {
					t.Errorf("expected 200, got %d", rec.Code)
				}
				return
			}
			expectHTTPError(t, err, tt.want)
		})
	}
}

func TestHTTPError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrNotFound, http.StatusNotFound},
		{ErrForbidden, http.StatusForbidden},
		{ErrSlotTaken, http.StatusConflict},
		{ErrDuplicateActiveSchedule, http.StatusConflict},
		{ErrVersionConflict, http.StatusConflict},
		{ErrInvalidTransition, http.StatusUnprocessableEntity},
		{ErrInvalidWorkPeriods, http.StatusBadRequest},
		{ErrOutsideWorkingHours, http.StatusBadRequest},
		{fmt.Errorf("%w: %w", ErrInvalidInput, &validation.Error{}), http.StatusBadRequest},
		{errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		httpErr := httpError(tt.err).(*echo.HTTPError)
		if httpErr.Code != tt.want {
			t.Errorf("httpError(%v) = %d, want %d", tt.err, httpErr.Code, tt.want)
		}
	}
}

func TestRegisterRoutes_CreateOfficeNeedsProviderRole(t *testing.T) {
	h, _, _ := newTestHandler()
	e := echo.New()
	e.Validator = validation.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithUser(c.Request().Context(), uuid.New().String(), []string{"customer"})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	h.RegisterRoutes(e.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/offices", strings.NewReader(`{"name":"X"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}
