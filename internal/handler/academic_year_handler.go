package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ecoleops/academia-api/internal/models"
	"github.com/ecoleops/academia-api/internal/service"
	appErrors "github.com/ecoleops/academia-api/pkg/errors"
	"github.com/ecoleops/academia-api/pkg/response"
)

// AcademicYearHandler exposes academic year and semester endpoints.
type AcademicYearHandler struct {
	years *service.AcademicYearService
}

// NewAcademicYearHandler constructs AcademicYearHandler.
func NewAcademicYearHandler(years *service.AcademicYearService) *AcademicYearHandler {
	return &AcademicYearHandler{years: years}
}

// List godoc
// @Summary List academic years
// @Tags Academic-Years
// @Produce json
// @Param current query bool false "Filter by current flag"
// @Param search query string false "Search by name"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /academic-years [get]
func (h *AcademicYearHandler) List(c *gin.Context) {
	var filter models.AcademicYearFilter
	if raw := c.Query("current"); raw != "" {
		if current, err := strconv.ParseBool(raw); err == nil {
			filter.IsCurrent = &current
		}
	}
	filter.Search = c.Query("search")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	years, pagination, err := h.years.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, years, pagination)
}

// Get godoc
// @Summary Get one academic year
// @Tags Academic-Years
// @Produce json
// @Param id path string true "Academic year ID"
// @Success 200 {object} response.Envelope
// @Router /academic-years/{id} [get]
func (h *AcademicYearHandler) Get(c *gin.Context) {
	year, err := h.years.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, year, nil)
}

// Current godoc
// @Summary Get the current academic year
// @Tags Academic-Years
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /academic-years/current [get]
func (h *AcademicYearHandler) Current(c *gin.Context) {
	year, err := h.years.GetCurrent(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, year, nil)
}

// Create godoc
// @Summary Create an academic year
// @Tags Academic-Years
// @Accept json
// @Produce json
// @Param payload body service.CreateAcademicYearRequest true "Academic year payload"
// @Success 201 {object} response.Envelope
// @Router /academic-years [post]
func (h *AcademicYearHandler) Create(c *gin.Context) {
	var req service.CreateAcademicYearRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	year, err := h.years.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, year)
}

// Update godoc
// @Summary Update an academic year
// @Tags Academic-Years
// @Accept json
// @Produce json
// @Param id path string true "Academic year ID"
// @Param payload body service.UpdateAcademicYearRequest true "Academic year payload"
// @Success 200 {object} response.Envelope
// @Router /academic-years/{id} [put]
func (h *AcademicYearHandler) Update(c *gin.Context) {
	var req service.UpdateAcademicYearRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	year, err := h.years.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, year, nil)
}

// SetCurrent godoc
// @Summary Mark an academic year as current
// @Tags Academic-Years
// @Produce json
// @Param id path string true "Academic year ID"
// @Success 200 {object} response.Envelope
// @Router /academic-years/{id}/current [put]
func (h *AcademicYearHandler) SetCurrent(c *gin.Context) {
	year, err := h.years.SetCurrent(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, year, nil)
}

// Archive godoc
// @Summary Archive the current academic year
// @Tags Academic-Years
// @Produce json
// @Param id path string true "Academic year ID"
// @Success 200 {object} response.Envelope
// @Router /academic-years/{id}/archive [put]
func (h *AcademicYearHandler) Archive(c *gin.Context) {
	year, err := h.years.Archive(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, year, nil)
}

// Delete godoc
// @Summary Delete an academic year without classes
// @Tags Academic-Years
// @Produce json
// @Param id path string true "Academic year ID"
// @Success 204
// @Router /academic-years/{id} [delete]
func (h *AcademicYearHandler) Delete(c *gin.Context) {
	if err := h.years.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListSemesters godoc
// @Summary List semesters of an academic year
// @Tags Academic-Years
// @Produce json
// @Param id path string true "Academic year ID"
// @Success 200 {object} response.Envelope
// @Router /academic-years/{id}/semesters [get]
func (h *AcademicYearHandler) ListSemesters(c *gin.Context) {
	semesters, err := h.years.ListSemesters(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, semesters, nil)
}

// CreateSemester godoc
// @Summary Create a semester within an academic year
// @Tags Academic-Years
// @Accept json
// @Produce json
// @Param id path string true "Academic year ID"
// @Param payload body service.CreateSemesterRequest true "Semester payload"
// @Success 201 {object} response.Envelope
// @Router /academic-years/{id}/semesters [post]
func (h *AcademicYearHandler) CreateSemester(c *gin.Context) {
	var req service.CreateSemesterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	semester, err := h.years.CreateSemester(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, semester)
}
