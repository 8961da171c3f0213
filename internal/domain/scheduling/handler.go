package scheduling

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/agenda/agenda/internal/platform/telemetry"
	"github.com/agenda/agenda/pkg/pagination"
)

type Handler struct {
	svc *Service
	tp  *telemetry.TelemetryProvider
}

// NewHandler wraps the service for HTTP. tp may be nil.
func NewHandler(svc *Service, tp *telemetry.TelemetryProvider) *Handler {
	return &Handler{svc: svc, tp: tp}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/types", h.ListTypes)
	api.POST("/types", h.CreateType)
	api.PUT("/types/:id", h.UpdateType)
	api.DELETE("/types/:id", h.DeleteType)

	api.POST("/slots/expand", h.ExpandSlots)
	api.GET("/slots", h.ListSlots)
	api.GET("/slots/next", h.NextFreeSlot)
	api.DELETE("/slots/:id", h.DeleteSlot)
	api.DELETE("/slots", h.DeleteSlots)

	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/upcoming", h.ListUpcomingAppointments)
	api.GET("/appointments/:id", h.GetAppointment)
	api.POST("/appointments", h.CreateAppointment)
	api.PUT("/appointments/:id", h.UpdateAppointment)
	api.DELETE("/appointments/:id", h.DeleteAppointment)
}

// httpError maps domain errors onto HTTP status codes. Soft conflicts never
// surface here; they live in appointment descriptions.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "record not found")
	case errors.Is(err, ErrSlotOccupied), errors.Is(err, ErrStatusTransition), errors.Is(err, ErrLastType):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case IsPersistence(err):
		return echo.NewHTTPError(http.StatusBadGateway, "storage unavailable, change rolled back")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) count(entity, op string) {
	if h.tp != nil {
		h.tp.SchedulingOperationCounter(entity, op)
	}
}

func (h *Handler) gauges() {
	if h.tp == nil {
		return
	}
	slots, appts := h.svc.Counts()
	h.tp.SetSlotsTotal(int64(slots))
	h.tp.SetAppointmentsTotal(int64(appts))
	h.tp.SetConflictsFlagged(int64(h.svc.FlaggedConflicts()))
}

// -- Types --

func (h *Handler) ListTypes(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.ListTypes())
}

func (h *Handler) CreateType(c echo.Context) error {
	var in struct {
		Name  string `json:"name"`
		Color string `json:"color"`
	}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.AddType(c.Request().Context(), in.Name, in.Color)
	if err != nil {
		return httpError(err)
	}
	h.count("type", "create")
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) UpdateType(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var t AvailabilityType
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t.ID = id
	if err := h.svc.UpdateType(c.Request().Context(), &t); err != nil {
		return httpError(err)
	}
	h.count("type", "update")
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DeleteType(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteType(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	h.count("type", "delete")
	return c.NoContent(http.StatusNoContent)
}

// -- Slots --

func (h *Handler) ExpandSlots(c echo.Context) error {
	var in struct {
		StartDate     string   `json:"start_date"`
		EndDate       string   `json:"end_date"`
		Weekdays      []int    `json:"weekdays"`
		Times         []string `json:"times"`
		Duration      int      `json:"duration"`
		TypeID        string   `json:"type_id"`
		ClearExisting bool     `json:"clear_existing"`
	}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	typeID, err := uuid.Parse(in.TypeID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid type_id")
	}
	report, err := h.svc.ExpandAndCreateSlots(c.Request().Context(), ExpandRequest{
		StartDate:     in.StartDate,
		EndDate:       in.EndDate,
		Weekdays:      in.Weekdays,
		Times:         in.Times,
		Duration:      in.Duration,
		TypeID:        typeID,
		ClearExisting: in.ClearExisting,
	})
	if err != nil {
		return httpError(err)
	}
	h.count("slot", "expand")
	h.gauges()
	return c.JSON(http.StatusCreated, report)
}

func (h *Handler) ListSlots(c echo.Context) error {
	pg := pagination.FromContext(c)
	slots := h.svc.ListSlots(c.QueryParam("date"), c.QueryParam("from"), c.QueryParam("to"))
	total := len(slots)
	if pg.Offset >= total {
		slots = nil
	} else {
		slots = slots[pg.Offset:]
		if len(slots) > pg.Limit {
			slots = slots[:pg.Limit]
		}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(slots, total, pg.Limit, pg.Offset))
}

func (h *Handler) NextFreeSlot(c echo.Context) error {
	from := c.QueryParam("from")
	if from == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "from date is required")
	}
	key, ok := h.svc.NextFreeSlot(from)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no free slot within the search horizon")
	}
	return c.JSON(http.StatusOK, key)
}

func (h *Handler) DeleteSlot(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteSlot(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	h.count("slot", "delete")
	h.gauges()
	return c.NoContent(http.StatusNoContent)
}

// DeleteSlots removes slots by date or by from/to range.
func (h *Handler) DeleteSlots(c echo.Context) error {
	ctx := c.Request().Context()
	if date := c.QueryParam("date"); date != "" {
		n, err := h.svc.ClearSlotsForDate(ctx, date)
		if err != nil {
			return httpError(err)
		}
		h.count("slot", "clear")
		h.gauges()
		return c.JSON(http.StatusOK, map[string]int{"removed": n})
	}
	from, to := c.QueryParam("from"), c.QueryParam("to")
	if from == "" || to == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "date or from/to parameters are required")
	}
	n, err := h.svc.DeleteSlotsInRange(ctx, from, to)
	if err != nil {
		return httpError(err)
	}
	h.count("slot", "clear")
	h.gauges()
	return c.JSON(http.StatusOK, map[string]int{"removed": n})
}

// -- Appointments --

func (h *Handler) ListAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	appts := h.svc.ListAppointments(c.QueryParam("date"), c.QueryParam("time"))
	total := len(appts)
	if pg.Offset >= total {
		appts = nil
	} else {
		appts = appts[pg.Offset:]
		if len(appts) > pg.Limit {
			appts = appts[:pg.Limit]
		}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(appts, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListUpcomingAppointments(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	return c.JSON(http.StatusOK, h.svc.ListUpcomingConfirmed(limit))
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.GetAppointment(id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var in CreateAppointmentInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.CreateAppointment(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	h.count("appointment", "create")
	h.gauges()
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var patch AppointmentPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.UpdateAppointment(c.Request().Context(), id, patch)
	if err != nil {
		return httpError(err)
	}
	h.count("appointment", "update")
	h.gauges()
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	preserve := c.QueryParam("preserve_payments") == "true"
	if err := h.svc.DeleteAppointment(c.Request().Context(), id, preserve); err != nil {
		return httpError(err)
	}
	h.count("appointment", "delete")
	h.gauges()
	return c.NoContent(http.StatusNoContent)
}
