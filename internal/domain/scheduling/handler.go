package scheduling

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mateusmsf94/marqueumhorario.com-sub001/internal/domain/availability"
	"github.com/mateusmsf94/marqueumhorario.com-sub001/internal/platform/auth"
	"github.com/mateusmsf94/marqueumhorario.com-sub001/internal/platform/validation"
	"github.com/mateusmsf94/marqueumhorario.com-sub001/pkg/pagination"
)

// Calculator is the read model served by the availability endpoint.
type Calculator interface {
	Calculate(ctx context.Context, req availability.WeekRequest) (*availability.WeeklyAvailability, error)
}

type Handler struct {
	svc  *Service
	calc Calculator
}

func NewHandler(svc *Service, calc Calculator) *Handler {
	return &Handler{svc: svc, calc: calc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/offices", h.ListOffices)
	api.POST("/offices", h.CreateOffice, auth.RequireRole("provider"))
	api.GET("/offices/:office_id", h.GetOffice)
	api.PUT("/offices/:office_id", h.UpdateOffice)
	api.GET("/offices/:office_id/memberships", h.ListMemberships)
	api.POST("/offices/:office_id/memberships", h.AddMembership)
	api.DELETE("/memberships/:id", h.DeactivateMembership)

	api.GET("/offices/:office_id/providers/:provider_id/availability", h.GetAvailability)

	api.GET("/offices/:office_id/work-schedules", h.ListWorkSchedules)
	api.POST("/offices/:office_id/work-schedules", h.CreateWorkSchedule)
	api.GET("/work-schedules/:id", h.GetWorkSchedule)
	api.PUT("/work-schedules/:id", h.UpdateWorkSchedule)
	api.DELETE("/work-schedules/:id", h.DeleteWorkSchedule)
	api.GET("/work-schedules/:id/stats", h.GetWorkScheduleStats)

	api.GET("/offices/:office_id/appointments", h.ListAppointments)
	api.POST("/offices/:office_id/appointments", h.BookAppointment)
	api.GET("/appointments/:id", h.GetAppointment)
	api.PATCH("/appointments/:id/status", h.TransitionAppointment)
}

// httpError maps service errors onto status codes. Unknown errors become a
// 500 that keeps the cause for the request logger.
func httpError(err error) error {
	var verr *validation.Error
	if errors.As(err, &verr) {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"message": "invalid input",
			"fields":  verr.Fields,
		})
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrSlotTaken):
		return echo.NewHTTPError(http.StatusConflict, ErrSlotTaken.Error())
	case errors.Is(err, ErrDuplicateActiveSchedule), errors.Is(err, ErrVersionConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}

// bind decodes the body into v and runs the echo validator on it.
func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(v); err != nil {
		return httpError(err)
	}
	return nil
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func currentUser(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "token subject is not a user id")
	}
	return id, nil
}

func (h *Handler) isManager(c echo.Context, officeID uuid.UUID) (bool, error) {
	userID, err := currentUser(c)
	if err != nil {
		return false, err
	}
	ok, err := h.svc.CanManageOffice(c.Request().Context(), userID, officeID)
	if err != nil {
		return false, httpError(err)
	}
	return ok, nil
}

func (h *Handler) requireManager(c echo.Context, officeID uuid.UUID) error {
	ok, err := h.isManager(c, officeID)
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "you do not manage this office")
	}
	return nil
}

// -- Offices --

func (h *Handler) CreateOffice(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	var o Office
	if err := c.Bind(&o); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateOffice(c.Request().Context(), &o, userID); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) GetOffice(c echo.Context) error {
	id, err := pathID(c, "office_id")
	if err != nil {
		return err
	}
	o, err := h.svc.GetOffice(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) UpdateOffice(c echo.Context) error {
	id, err := pathID(c, "office_id")
	if err != nil {
		return err
	}
	if err := h.requireManager(c, id); err != nil {
		return err
	}
	var o Office
	if err := c.Bind(&o); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o.ID = id
	if err := h.svc.UpdateOffice(c.Request().Context(), &o); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) ListOffices(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListOffices(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithLinks(c.Path()))
}

// -- Memberships --

func (h *Handler) ListMemberships(c echo.Context) error {
	officeID, err := pathID(c, "office_id")
	if err != nil {
		return err
	}
	if err := h.requireManager(c, officeID); err != nil {
		return err
	}
	items, err := h.svc.ListMemberships(c.Request().Context(), officeID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) AddMembership(c echo.Context) error {
	officeID, err := pathID(c, "office_id")
	if err != nil {
		return err
	}
	if err := h.requireManager(c, officeID); err != nil {
		return err
	}
	var m OfficeMembership
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m.OfficeID = officeID
	if err := h.svc.AddMembership(c.Request().Context(), &m); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) DeactivateMembership(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	m, err := h.svc.GetMembership(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if err := h.requireManager(c, m.OfficeID); err != nil {
		return err
	}
	if err := h.svc.DeactivateMembership(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Availability --

func (h *Handler) GetAvailability(c echo.Context) error {
	officeID, err := pathID(c, "office_id")
	if err != nil {
		return err
	}
	providerID, err := pathID(c, "provider_id")
	if err != nil {
		return err
	}
	req := availability.WeekRequest{OfficeID: officeID, ProviderID: providerID}
	if ws := c.QueryParam("week_start"); ws != "" {
		req.WeekStart, err = time.Parse("2006-01-02", ws)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "week_start must be a date in YYYY-MM-DD format")
		}
	}

	view, err := h.calc.Calculate(c.Request().Context(), req)
	if err != nil {
		var calcErr *availability.CalculationError
		if errors.As(err, &calcErr) {
			if errors.Is(err, availability.ErrNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, calcErr.Message)
			}
			return echo.NewHTTPError(http.StatusBadRequest, calcErr.Message)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
	return c.JSON(http.StatusOK, view)
}

// -- Work schedules --

type workScheduleRequest struct {
	ProviderID          uuid.UUID                 `json:"provider_id"`
	DayOfWeek           int                       `json:"day_of_week"`
	WorkPeriods         []availability.WorkPeriod `json:"work_periods" validate:"dive"`
	SlotDurationMinutes int                       `json:"slot_duration_minutes" validate:"gt=0,lte=1440"`
	SlotBufferMinutes   int                       `json:"slot_buffer_minutes" validate:"gte=0,lte=1440"`
	IsActive            *bool                     `json:"is_active"`
	VersionID           int                       `json:"version_id"`
}

func (r workScheduleRequest) model() *WorkSchedule {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return &WorkSchedule{
		ProviderID:          r.ProviderID,
		DayOfWeek:           r.DayOfWeek,
		WorkPeriods:         r.WorkPeriods,
		SlotDurationMinutes: r.SlotDurationMinutes,
		SlotBufferMinutes:   r.SlotBufferMinutes,
		IsActive:            active,
		VersionID:           r.VersionID,
	}
}

func (h *Handler) ListWorkSchedules(c echo.Context) error {
	officeID, err := pathID(c, "office_id")
	if err != nil {
		return err
	}
	providerID := uuid.Nil
	if p := c.QueryParam("provider_id"); p != "" {
		if providerID, err = uuid.Parse(p); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid provider_id")
		}
	}
	items, err := h.svc.ListWorkSchedules(c.Request().Context(), officeID, providerID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateWorkSchedule(c echo.Context) error {
	officeID, err := pathID(c, "office_id")
	if err != nil {
		return err
	}
	if err := h.requireManager(c, officeID); err != nil {
		return err
	}
	var req workScheduleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	w := req.model()
	w.OfficeID = officeID
	if err := h.svc.CreateWorkSchedule(c.Request().Context(), w); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handler) GetWorkSchedule(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	w, err := h.svc.GetWorkSchedule(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) UpdateWorkSchedule(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	existing, err := h.svc.GetWorkSchedule(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if err := h.requireManager(c, existing.OfficeID); err != nil {
		return err
	}
	var req workScheduleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	w := req.model()
	w.ID = id
	if err := h.svc.UpdateWorkSchedule(c.Request().Context(), w); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) DeleteWorkSchedule(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	existing, err := h.svc.GetWorkSchedule(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if err := h.requireManager(c, existing.OfficeID); err != nil {
		return err
	}
	if err := h.svc.DeleteWorkSchedule(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetWorkScheduleStats(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	stats, err := h.svc.WorkScheduleStats(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

// -- Appointments --

func parseInstant(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

// ListAppointments shows managers every appointment of the office and
// everyone else only their own.
func (h *Handler) ListAppointments(c echo.Context) error {
	officeID, err := pathID(c, "office_id")
	if err != nil {
		return err
	}
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	manager, err := h.isManager(c, officeID)
	if err != nil {
		return err
	}

	f := AppointmentFilter{OfficeID: officeID}
	if !manager {
		f.CustomerID = userID
	}
	if p := c.QueryParam("provider_id"); p != "" {
		if f.ProviderID, err = uuid.Parse(p); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid provider_id")
		}
	}
	if v := c.QueryParam("from"); v != "" {
		if f.From, err = parseInstant(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid from")
		}
	}
	if v := c.QueryParam("to"); v != "" {
		if f.To, err = parseInstant(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid to")
		}
	}
	if v := c.QueryParam("status"); v != "" {
		if f.Statuses, err = availability.ParseStatuses(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAppointments(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) BookAppointment(c echo.Context) error {
	officeID, err := pathID(c, "office_id")
	if err != nil {
		return err
	}
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	var a Appointment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a.OfficeID = officeID
	if a.CustomerID == uuid.Nil {
		a.CustomerID = userID
	}
	if a.CustomerID != userID || a.Status == availability.StatusConfirmed {
		if err := h.requireManager(c, officeID); err != nil {
			return err
		}
	}
	if err := h.svc.BookAppointment(c.Request().Context(), &a); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if userID, _ := currentUser(c); userID != a.CustomerID {
		if err := h.requireManager(c, a.OfficeID); err != nil {
			return err
		}
	}
	return c.JSON(http.StatusOK, a)
}

type transitionRequest struct {
	Status    availability.AppointmentStatus `json:"status" validate:"required"`
	VersionID int                            `json:"version_id" validate:"gte=0"`
}

// TransitionAppointment lets customers cancel their own appointments; every
// other change needs a manager of the office.
func (h *Handler) TransitionAppointment(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req transitionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	if !(userID == a.CustomerID && req.Status == availability.StatusCancelled) {
		if err := h.requireManager(c, a.OfficeID); err != nil {
			return err
		}
	}
	updated, err := h.svc.TransitionAppointment(c.Request().Context(), id, req.Status, req.VersionID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}
