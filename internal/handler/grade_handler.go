package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ecoleops/academia-api/internal/service"
	"github.com/ecoleops/academia-api/pkg/response"
)

// GradeHandler exposes grade aggregation and export endpoints.
type GradeHandler struct {
	grades  *service.GradeService
	exports *service.ExportService
}

// NewGradeHandler constructs GradeHandler.
func NewGradeHandler(grades *service.GradeService, exports *service.ExportService) *GradeHandler {
	return &GradeHandler{grades: grades, exports: exports}
}

// Breakdown godoc
// @Summary Per-subject grade breakdown of a student in a class
// @Tags Grades
// @Produce json
// @Param id path string true "Class ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/students/{studentId}/grades [get]
func (h *GradeHandler) Breakdown(c *gin.Context) {
	breakdown, err := h.grades.Breakdown(c.Request.Context(), c.Param("studentId"), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, breakdown, nil)
}

// ClassResults godoc
// @Summary Class-wide results report
// @Tags Grades
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/results [get]
func (h *GradeHandler) ClassResults(c *gin.Context) {
	results, err := h.grades.ClassResults(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, results, nil)
}

// ExportBreakdown godoc
// @Summary Export a student's grade breakdown as CSV or PDF
// @Tags Grades
// @Produce octet-stream
// @Param id path string true "Class ID"
// @Param studentId path string true "Student ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} binary
// @Router /classes/{id}/students/{studentId}/grades/export [get]
func (h *GradeHandler) ExportBreakdown(c *gin.Context) {
	format := service.ExportFormat(strings.ToLower(c.DefaultQuery("format", "csv")))
	payload, err := h.exports.GradeBreakdown(c.Request.Context(), c.Param("studentId"), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	serveExport(c, payload)
}

// ExportClassResults godoc
// @Summary Export the class results report as CSV or PDF
// @Tags Grades
// @Produce octet-stream
// @Param id path string true "Class ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} binary
// @Router /classes/{id}/results/export [get]
func (h *GradeHandler) ExportClassResults(c *gin.Context) {
	format := service.ExportFormat(strings.ToLower(c.DefaultQuery("format", "csv")))
	payload, err := h.exports.ClassResults(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	serveExport(c, payload)
}

func serveExport(c *gin.Context, payload *service.ExportPayload) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", payload.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, payload.ContentType, payload.Data)
}
