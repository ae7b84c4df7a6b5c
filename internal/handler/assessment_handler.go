package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ecoleops/academia-api/internal/service"
	appErrors "github.com/ecoleops/academia-api/pkg/errors"
	"github.com/ecoleops/academia-api/pkg/response"
)

// AssessmentHandler exposes assessment and assignment lifecycle endpoints.
type AssessmentHandler struct {
	assessments *service.AssessmentService
}

// NewAssessmentHandler constructs AssessmentHandler.
func NewAssessmentHandler(assessments *service.AssessmentService) *AssessmentHandler {
	return &AssessmentHandler{assessments: assessments}
}

// Get godoc
// @Summary Get one assessment with its questions
// @Tags Assessments
// @Produce json
// @Param id path string true "Assessment ID"
// @Success 200 {object} response.Envelope
// @Router /assessments/{id} [get]
func (h *AssessmentHandler) Get(c *gin.Context) {
	assessment, questions, err := h.assessments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"assessment": assessment, "questions": questions}, nil)
}

// ListForClassSubject godoc
// @Summary List assessments of a teaching assignment
// @Tags Assessments
// @Produce json
// @Param id path string true "Class subject ID"
// @Success 200 {object} response.Envelope
// @Router /class-subjects/{id}/assessments [get]
func (h *AssessmentHandler) ListForClassSubject(c *gin.Context) {
	assessments, err := h.assessments.ListForClassSubject(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assessments, nil)
}

// Create godoc
// @Summary Create an assessment
// @Tags Assessments
// @Accept json
// @Produce json
// @Param payload body service.CreateAssessmentRequest true "Assessment payload"
// @Success 201 {object} response.Envelope
// @Router /assessments [post]
func (h *AssessmentHandler) Create(c *gin.Context) {
	var req service.CreateAssessmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if claims := claimsFromContext(c); claims != nil && req.TeacherID == "" {
		req.TeacherID = claims.UserID
	}
	assessment, err := h.assessments.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, assessment)
}

// Update godoc
// @Summary Update an unpublished assessment
// @Tags Assessments
// @Accept json
// @Produce json
// @Param id path string true "Assessment ID"
// @Param payload body service.UpdateAssessmentRequest true "Assessment payload"
// @Success 200 {object} response.Envelope
// @Router /assessments/{id} [put]
func (h *AssessmentHandler) Update(c *gin.Context) {
	var req service.UpdateAssessmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	assessment, err := h.assessments.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assessment, nil)
}

// ReplaceQuestions godoc
// @Summary Replace the question set of an unpublished assessment
// @Tags Assessments
// @Accept json
// @Produce json
// @Param id path string true "Assessment ID"
// @Param payload body []service.QuestionInput true "Questions payload"
// @Success 200 {object} response.Envelope
// @Router /assessments/{id}/questions [put]
func (h *AssessmentHandler) ReplaceQuestions(c *gin.Context) {
	var inputs []service.QuestionInput
	if err := c.ShouldBindJSON(&inputs); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	questions, err := h.assessments.ReplaceQuestions(c.Request.Context(), c.Param("id"), inputs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, questions, nil)
}

// Publish godoc
// @Summary Publish an assessment and fan out student assignments
// @Tags Assessments
// @Produce json
// @Param id path string true "Assessment ID"
// @Success 200 {object} response.Envelope
// @Router /assessments/{id}/publish [put]
func (h *AssessmentHandler) Publish(c *gin.Context) {
	assessment, err := h.assessments.Publish(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assessment, nil)
}

// Delete godoc
// @Summary Delete an unpublished assessment
// @Tags Assessments
// @Produce json
// @Param id path string true "Assessment ID"
// @Success 204
// @Router /assessments/{id} [delete]
func (h *AssessmentHandler) Delete(c *gin.Context) {
	if err := h.assessments.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Assignments godoc
// @Summary List per-student assignments of an assessment
// @Tags Assessments
// @Produce json
// @Param id path string true "Assessment ID"
// @Success 200 {object} response.Envelope
// @Router /assessments/{id}/assignments [get]
func (h *AssessmentHandler) Assignments(c *gin.Context) {
	assignments, err := h.assessments.Assignments(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignments, nil)
}

// Start godoc
// @Summary Start the authenticated student's assignment
// @Tags Assessments
// @Produce json
// @Param id path string true "Assessment ID"
// @Success 200 {object} response.Envelope
// @Router /assessments/{id}/start [put]
func (h *AssessmentHandler) Start(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	assignment, err := h.assessments.Start(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// Submit godoc
// @Summary Submit the authenticated student's assignment
// @Tags Assessments
// @Produce json
// @Param id path string true "Assessment ID"
// @Success 200 {object} response.Envelope
// @Router /assessments/{id}/submit [put]
func (h *AssessmentHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	assignment, err := h.assessments.Submit(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// Grade godoc
// @Summary Grade a student's submitted assignment
// @Tags Assessments
// @Accept json
// @Produce json
// @Param id path string true "Assessment ID"
// @Param studentId path string true "Student ID"
// @Param payload body service.GradeAssignmentRequest true "Grading payload"
// @Success 200 {object} response.Envelope
// @Router /assessments/{id}/assignments/{studentId}/grade [put]
func (h *AssessmentHandler) Grade(c *gin.Context) {
	var req service.GradeAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	assignment, err := h.assessments.Grade(c.Request.Context(), c.Param("id"), c.Param("studentId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}
