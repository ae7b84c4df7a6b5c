package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ecoleops/academia-api/internal/service"
	appErrors "github.com/ecoleops/academia-api/pkg/errors"
	"github.com/ecoleops/academia-api/pkg/response"
)

// ClassSubjectHandler exposes teaching assignment endpoints.
type ClassSubjectHandler struct {
	assignments *service.ClassSubjectService
}

// NewClassSubjectHandler constructs ClassSubjectHandler.
func NewClassSubjectHandler(assignments *service.ClassSubjectService) *ClassSubjectHandler {
	return &ClassSubjectHandler{assignments: assignments}
}

// ListForClass godoc
// @Summary List open teaching assignments of a class
// @Tags Class-Subjects
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/subjects [get]
func (h *ClassSubjectHandler) ListForClass(c *gin.Context) {
	assignments, err := h.assignments.ListForClass(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignments, nil)
}

// Get godoc
// @Summary Get one teaching assignment
// @Tags Class-Subjects
// @Produce json
// @Param id path string true "Class subject ID"
// @Success 200 {object} response.Envelope
// @Router /class-subjects/{id} [get]
func (h *ClassSubjectHandler) Get(c *gin.Context) {
	assignment, err := h.assignments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// History godoc
// @Summary Teaching assignment history for a class and subject
// @Tags Class-Subjects
// @Produce json
// @Param id path string true "Class ID"
// @Param subjectId query string true "Subject ID"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/subjects/history [get]
func (h *ClassSubjectHandler) History(c *gin.Context) {
	subjectID := c.Query("subjectId")
	if subjectID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "subjectId is required"))
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	history, pagination, err := h.assignments.History(c.Request.Context(), c.Param("id"), subjectID, page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, pagination)
}

// Assign godoc
// @Summary Assign a teacher to a subject in a class
// @Tags Class-Subjects
// @Accept json
// @Produce json
// @Param payload body service.AssignTeacherRequest true "Assignment payload"
// @Success 201 {object} response.Envelope
// @Router /class-subjects [post]
func (h *ClassSubjectHandler) Assign(c *gin.Context) {
	var req service.AssignTeacherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	assignment, err := h.assignments.Assign(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, assignment)
}

// ReplaceTeacher godoc
// @Summary Replace the teacher of an open assignment
// @Tags Class-Subjects
// @Accept json
// @Produce json
// @Param id path string true "Class subject ID"
// @Param payload body service.ReplaceTeacherRequest true "Replacement payload"
// @Success 200 {object} response.Envelope
// @Router /class-subjects/{id}/teacher [put]
func (h *ClassSubjectHandler) ReplaceTeacher(c *gin.Context) {
	var req service.ReplaceTeacherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	successor, err := h.assignments.ReplaceTeacher(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, successor, nil)
}

// UpdateCoefficient godoc
// @Summary Change the coefficient of an open assignment
// @Tags Class-Subjects
// @Accept json
// @Produce json
// @Param id path string true "Class subject ID"
// @Param payload body service.UpdateCoefficientRequest true "Coefficient payload"
// @Success 200 {object} response.Envelope
// @Router /class-subjects/{id}/coefficient [put]
func (h *ClassSubjectHandler) UpdateCoefficient(c *gin.Context) {
	var req service.UpdateCoefficientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	assignment, err := h.assignments.UpdateCoefficient(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// Terminate godoc
// @Summary Close an open teaching assignment window
// @Tags Class-Subjects
// @Produce json
// @Param id path string true "Class subject ID"
// @Param endDate query string false "Window end date (RFC 3339)"
// @Success 200 {object} response.Envelope
// @Router /class-subjects/{id}/terminate [put]
func (h *ClassSubjectHandler) Terminate(c *gin.Context) {
	var endDate *time.Time
	if raw := c.Query("endDate"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "endDate must be RFC 3339"))
			return
		}
		endDate = &parsed
	}
	assignment, err := h.assignments.Terminate(c.Request.Context(), c.Param("id"), endDate)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// Delete godoc
// @Summary Delete a teaching assignment window that has no assessments
// @Tags Class-Subjects
// @Produce json
// @Param id path string true "Class subject ID"
// @Success 204
// @Router /class-subjects/{id} [delete]
func (h *ClassSubjectHandler) Delete(c *gin.Context) {
	if err := h.assignments.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
