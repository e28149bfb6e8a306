package admission

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medisphere/medisphere/internal/domain/allocation"
	"github.com/medisphere/medisphere/internal/domain/ward"
	"github.com/medisphere/medisphere/internal/platform/auth"
	"github.com/medisphere/medisphere/internal/platform/middleware"
	"github.com/medisphere/medisphere/pkg/apperrors"
	"github.com/medisphere/medisphere/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Writes are authorized by the service policy.
	write := api.Group("", auth.RequireAuthenticated())
	write.POST("/admissions", h.Admit)
	write.POST("/allocations", h.Allocate)
	write.POST("/allocations/move", h.Move)
	write.POST("/allocations/release", h.Release)
	write.PATCH("/beds/:id", h.UpdateBed)

	// A patient may only look up their own bed.
	api.GET("/beds/me", h.MyBed, auth.RequireAuthenticated())

	read := api.Group("", auth.RequireRole(auth.RoleStaff, auth.RoleReceptionist, auth.RoleDoctor, auth.RoleNurse))
	read.GET("/patients/:id/bed", h.PatientBed)
	read.GET("/patients/:id/allocations", h.PatientHistory)
	read.GET("/beds/:id/allocations", h.BedHistory)
}

func (h *Handler) Admit(c echo.Context) error {
	var req AdmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	c.Set(middleware.AuditPatientKey, req.PatientID.String())
	res, err := h.svc.Admit(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) Allocate(c echo.Context) error {
	var req AllocateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	c.Set(middleware.AuditPatientKey, req.PatientID.String())
	res, err := h.svc.Allocate(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) Move(c echo.Context) error {
	var req MoveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.svc.Move(c.Request().Context(), req)
	if err != nil {
		return err
	}
	c.Set(middleware.AuditPatientKey, res.Allocation.PatientID.String())
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Release(c echo.Context) error {
	var req ReleaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PatientID != nil {
		c.Set(middleware.AuditPatientKey, req.PatientID.String())
	}
	res, err := h.svc.Release(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) UpdateBed(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var patch ward.BedPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	b, err := h.svc.UpdateBed(c.Request().Context(), id, patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) MyBed(c echo.Context) error {
	raw := auth.PatientIDFromContext(c.Request().Context())
	if raw == "" {
		return apperrors.Forbidden("token carries no patient identity")
	}
	pid, err := uuid.Parse(raw)
	if err != nil {
		return apperrors.Forbidden("token carries an invalid patient identity")
	}
	return h.currentBed(c, pid)
}

func (h *Handler) PatientBed(c echo.Context) error {
	pid, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	return h.currentBed(c, pid)
}

func (h *Handler) currentBed(c echo.Context, patientID uuid.UUID) error {
	p, err := h.svc.CurrentBed(c.Request().Context(), patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) PatientHistory(c echo.Context) error {
	pid, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.History(c.Request().Context(), pid, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*allocation.Placement{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) BedHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.BedHistory(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*allocation.Allocation{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
