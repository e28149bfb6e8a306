package ward

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medisphere/medisphere/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the ward and bed endpoints. Role checks for writes
// happen inside the service against the capability policy. The bed edit is
// routed through the admission handler.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireAuthenticated())
	g.POST("/wards", h.CreateWard)
	g.GET("/wards", h.ListWards)
	g.GET("/wards/:id", h.GetWard)
	g.POST("/wards/:id/beds", h.AddBed)
	g.GET("/wards/:id/beds", h.ListBedsByWard)
	g.GET("/beds/free", h.ListFreeBeds)
	g.DELETE("/beds/:id", h.DeleteBed)
}

type listResponse struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data"`
	Total  int         `json:"total"`
}

func list(data interface{}, n int) listResponse {
	return listResponse{Status: "success", Data: data, Total: n}
}

func (h *Handler) CreateWard(c echo.Context) error {
	var body struct {
		Name     string `json:"name"`
		Capacity int    `json:"capacity"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	w, err := h.svc.CreateWard(c.Request().Context(), body.Name, body.Capacity)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handler) ListWards(c echo.Context) error {
	wards, err := h.svc.ListWards(c.Request().Context())
	if err != nil {
		return err
	}
	if wards == nil {
		wards = []*WardSummary{}
	}
	return c.JSON(http.StatusOK, list(wards, len(wards)))
}

func (h *Handler) GetWard(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	w, err := h.svc.GetWard(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) AddBed(c echo.Context) error {
	wardID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		BedNumber string `json:"bed_number"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	b, err := h.svc.AddBed(c.Request().Context(), wardID, body.BedNumber)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) ListBedsByWard(c echo.Context) error {
	wardID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	beds, err := h.svc.ListBedsByWard(c.Request().Context(), wardID)
	if err != nil {
		return err
	}
	if beds == nil {
		beds = []*BedView{}
	}
	return c.JSON(http.StatusOK, list(beds, len(beds)))
}

func (h *Handler) ListFreeBeds(c echo.Context) error {
	beds, err := h.svc.ListFreeBeds(c.Request().Context())
	if err != nil {
		return err
	}
	if beds == nil {
		beds = []*FreeBed{}
	}
	return c.JSON(http.StatusOK, list(beds, len(beds)))
}

func (h *Handler) DeleteBed(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteBed(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
