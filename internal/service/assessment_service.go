package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ecoleops/academia-api/internal/models"
	appErrors "github.com/ecoleops/academia-api/pkg/errors"
	"github.com/ecoleops/academia-api/pkg/jobs"
)

type assessmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Assessment, error)
	ListByClassSubject(ctx context.Context, classSubjectID string) ([]models.Assessment, error)
	ListByClass(ctx context.Context, classID string) ([]models.Assessment, error)
	Create(ctx context.Context, assessment *models.Assessment) error
	Update(ctx context.Context, assessment *models.Assessment) error
	Delete(ctx context.Context, id string) error
	ListQuestions(ctx context.Context, assessmentID string) ([]models.AssessmentQuestion, error)
	ReplaceQuestions(ctx context.Context, assessmentID string, questions []models.AssessmentQuestion) error
	FindAssignment(ctx context.Context, assessmentID, studentID string) (*models.AssessmentAssignment, error)
	ListAssignments(ctx context.Context, assessmentID string) ([]models.AssessmentAssignment, error)
	CreateAssignment(ctx context.Context, assignment *models.AssessmentAssignment) error
	UpdateAssignment(ctx context.Context, assignment *models.AssessmentAssignment) error
}

type classSubjectReader interface {
	FindByID(ctx context.Context, id string) (*models.ClassSubject, error)
}

type rosterLister interface {
	ListActiveByClass(ctx context.Context, classID string) ([]models.EnrollmentDetail, error)
}

type resultsWarmer interface {
	Enqueue(job jobs.Job) error
}

// QuestionInput is one question in a create or replace payload.
type QuestionInput struct {
	Prompt string  `json:"prompt" validate:"required"`
	Points float64 `json:"points" validate:"required,gt=0"`
}

// CreateAssessmentRequest describes assessment creation payload.
type CreateAssessmentRequest struct {
	ClassSubjectID string                    `json:"class_subject_id" validate:"required"`
	TeacherID      string                    `json:"teacher_id" validate:"required"`
	Title          string                    `json:"title" validate:"required"`
	Type           models.AssessmentType     `json:"type" validate:"required,oneof=EXAM HOMEWORK"`
	DeliveryMode   models.DeliveryMode       `json:"delivery_mode" validate:"required,oneof=ONLINE PAPER"`
	Settings       models.AssessmentSettings `json:"settings"`
	Questions      []QuestionInput           `json:"questions" validate:"dive"`
}

// UpdateAssessmentRequest describes assessment update payload.
type UpdateAssessmentRequest struct {
	Title        string                    `json:"title" validate:"required"`
	DeliveryMode models.DeliveryMode       `json:"delivery_mode" validate:"required,oneof=ONLINE PAPER"`
	Settings     models.AssessmentSettings `json:"settings"`
}

// GradeAssignmentRequest carries the awarded score.
type GradeAssignmentRequest struct {
	Score float64 `json:"score" validate:"min=0"`
}

// AssessmentService manages assessments, their questions and the per-student
// assignment lifecycle. Status moves one step at a time and never backwards.
type AssessmentService struct {
	repo        assessmentRepository
	windows     classSubjectReader
	roster      rosterLister
	cache       *CacheService
	warmQueue   resultsWarmer
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewAssessmentService constructs AssessmentService.
func NewAssessmentService(repo assessmentRepository, windows classSubjectReader, roster rosterLister, cache *CacheService, warmQueue resultsWarmer, validate *validator.Validate, logger *zap.Logger) *AssessmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssessmentService{repo: repo, windows: windows, roster: roster, cache: cache, warmQueue: warmQueue, validator: validate, logger: logger}
}

// Get loads one assessment with decoded settings and its questions.
func (s *AssessmentService) Get(ctx context.Context, id string) (*models.Assessment, []models.AssessmentQuestion, error) {
	assessment, err := s.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	questions, err := s.repo.ListQuestions(ctx, id)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list questions")
	}
	return assessment, questions, nil
}

// ListForClassSubject returns the assessments of one teaching assignment.
func (s *AssessmentService) ListForClassSubject(ctx context.Context, classSubjectID string) ([]models.Assessment, error) {
	assessments, err := s.repo.ListByClassSubject(ctx, classSubjectID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assessments")
	}
	for i := range assessments {
		decodeSettings(&assessments[i])
	}
	return assessments, nil
}

// Create registers an assessment under an open teaching assignment. Only the
// teacher holding the window may create work for it.
func (s *AssessmentService) Create(ctx context.Context, req CreateAssessmentRequest) (*models.Assessment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assessment payload")
	}
	window, err := s.windows.FindByID(ctx, req.ClassSubjectID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teaching assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teaching assignment")
	}
	if !window.Open() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "teaching assignment window is closed")
	}
	if window.TeacherID != req.TeacherID {
		return nil, appErrors.Clone(appErrors.ErrInvalidRole, "teacher does not hold this assignment")
	}

	req.Settings.IsPublished = false
	raw, err := json.Marshal(req.Settings)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode settings")
	}

	var total float64
	questions := make([]models.AssessmentQuestion, 0, len(req.Questions))
	for i, q := range req.Questions {
		total += q.Points
		questions = append(questions, models.AssessmentQuestion{OrderNumber: i + 1, Prompt: q.Prompt, Points: q.Points})
	}

	assessment := &models.Assessment{
		ClassSubjectID: req.ClassSubjectID,
		TeacherID:      req.TeacherID,
		Title:          req.Title,
		Type:           req.Type,
		DeliveryMode:   req.DeliveryMode,
		SettingsRaw:    raw,
		Settings:       req.Settings,
		TotalPoints:    total,
	}
	if err := s.repo.Create(ctx, assessment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create assessment")
	}
	if len(questions) > 0 {
		if err := s.repo.ReplaceQuestions(ctx, assessment.ID, questions); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store questions")
		}
	}
	s.logger.Info("assessment created",
		zap.String("assessment_id", assessment.ID),
		zap.String("class_subject_id", req.ClassSubjectID))
	return assessment, nil
}

// Update modifies title, delivery mode and settings of an unpublished
// assessment. The published flag only changes through Publish.
func (s *AssessmentService) Update(ctx context.Context, id string, req UpdateAssessmentRequest) (*models.Assessment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assessment payload")
	}
	assessment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if assessment.Settings.IsPublished {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "assessment already published")
	}
	req.Settings.IsPublished = false
	raw, err := json.Marshal(req.Settings)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode settings")
	}
	assessment.Title = req.Title
	assessment.DeliveryMode = req.DeliveryMode
	assessment.SettingsRaw = raw
	assessment.Settings = req.Settings
	if err := s.repo.Update(ctx, assessment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update assessment")
	}
	return assessment, nil
}

// ReplaceQuestions swaps the question set of an unpublished assessment.
func (s *AssessmentService) ReplaceQuestions(ctx context.Context, id string, inputs []QuestionInput) ([]models.AssessmentQuestion, error) {
	for _, q := range inputs {
		if err := s.validator.Struct(q); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid question payload")
		}
	}
	assessment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if assessment.Settings.IsPublished {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "cannot edit questions of a published assessment")
	}
	questions := make([]models.AssessmentQuestion, 0, len(inputs))
	for i, q := range inputs {
		questions = append(questions, models.AssessmentQuestion{OrderNumber: i + 1, Prompt: q.Prompt, Points: q.Points})
	}
	if err := s.repo.ReplaceQuestions(ctx, id, questions); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to replace questions")
	}
	return questions, nil
}

// Publish marks the assessment published and fans out one NOT_STARTED
// assignment row per active student in the class.
func (s *AssessmentService) Publish(ctx context.Context, id string) (*models.Assessment, error) {
	assessment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if assessment.Settings.IsPublished {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "assessment already published")
	}
	if assessment.TotalPoints <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assessment has no gradable points")
	}
	window, err := s.windows.FindByID(ctx, assessment.ClassSubjectID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teaching assignment")
	}
	roster, err := s.roster.ListActiveByClass(ctx, window.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class roster")
	}

	assessment.Settings.IsPublished = true
	raw, err := json.Marshal(assessment.Settings)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode settings")
	}
	assessment.SettingsRaw = raw
	if err := s.repo.Update(ctx, assessment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to publish assessment")
	}

	for _, enrollment := range roster {
		if _, err := s.repo.FindAssignment(ctx, id, enrollment.StudentID); err == nil {
			continue
		} else if err != sql.ErrNoRows {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check assignment")
		}
		assignment := &models.AssessmentAssignment{
			AssessmentID: id,
			StudentID:    enrollment.StudentID,
			Status:       models.AssignmentStatusNotStarted,
		}
		if err := s.repo.CreateAssignment(ctx, assignment); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create assignment")
		}
	}
	s.invalidateClassCaches(ctx, window.ClassID)
	s.logger.Info("assessment published",
		zap.String("assessment_id", id),
		zap.Int("assignments_created", len(roster)))
	return assessment, nil
}

// Delete removes an unpublished assessment.
func (s *AssessmentService) Delete(ctx context.Context, id string) error {
	assessment, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if assessment.Settings.IsPublished {
		return appErrors.Clone(appErrors.ErrInvalidState, "cannot delete a published assessment")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete assessment")
	}
	return nil
}

// Assignments returns the per-student rows of an assessment.
func (s *AssessmentService) Assignments(ctx context.Context, assessmentID string) ([]models.AssessmentAssignment, error) {
	if _, err := s.load(ctx, assessmentID); err != nil {
		return nil, err
	}
	assignments, err := s.repo.ListAssignments(ctx, assessmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignments")
	}
	return assignments, nil
}

// Start moves a student's assignment from NOT_STARTED to IN_PROGRESS.
func (s *AssessmentService) Start(ctx context.Context, assessmentID, studentID string) (*models.AssessmentAssignment, error) {
	assessment, err := s.load(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if !assessment.Settings.IsPublished {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "assessment not published")
	}
	assignment, err := s.loadAssignment(ctx, assessmentID, studentID)
	if err != nil {
		return nil, err
	}
	if !assignment.Status.CanTransition(models.AssignmentStatusInProgress) {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("cannot start assignment in status %s", assignment.Status))
	}
	now := time.Now().UTC()
	assignment.Status = models.AssignmentStatusInProgress
	assignment.StartedAt = &now
	if err := s.repo.UpdateAssignment(ctx, assignment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start assignment")
	}
	return assignment, nil
}

// Submit moves a student's assignment from IN_PROGRESS to SUBMITTED.
func (s *AssessmentService) Submit(ctx context.Context, assessmentID, studentID string) (*models.AssessmentAssignment, error) {
	assignment, err := s.loadAssignment(ctx, assessmentID, studentID)
	if err != nil {
		return nil, err
	}
	if !assignment.Status.CanTransition(models.AssignmentStatusSubmitted) {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("cannot submit assignment in status %s", assignment.Status))
	}
	now := time.Now().UTC()
	assignment.Status = models.AssignmentStatusSubmitted
	assignment.SubmittedAt = &now
	if err := s.repo.UpdateAssignment(ctx, assignment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to submit assignment")
	}
	return assignment, nil
}

// Grade records the score for a submitted assignment, moving it to GRADED,
// then invalidates the class grade caches and queues a results warm-up.
func (s *AssessmentService) Grade(ctx context.Context, assessmentID, studentID string, req GradeAssignmentRequest) (*models.AssessmentAssignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grading payload")
	}
	assessment, err := s.load(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if req.Score > assessment.TotalPoints {
		return nil, appErrors.Clone(appErrors.ErrValidation, "score exceeds total points")
	}
	assignment, err := s.loadAssignment(ctx, assessmentID, studentID)
	if err != nil {
		return nil, err
	}
	if !assignment.Status.CanTransition(models.AssignmentStatusGraded) {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("cannot grade assignment in status %s", assignment.Status))
	}
	now := time.Now().UTC()
	score := req.Score
	assignment.Status = models.AssignmentStatusGraded
	assignment.GradedAt = &now
	assignment.Score = &score
	if err := s.repo.UpdateAssignment(ctx, assignment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to grade assignment")
	}

	window, err := s.windows.FindByID(ctx, assessment.ClassSubjectID)
	if err == nil {
		s.invalidateClassCaches(ctx, window.ClassID)
		if s.warmQueue != nil {
			job := jobs.Job{ID: assignment.ID, Type: "warm-class-results", Payload: window.ClassID}
			if err := s.warmQueue.Enqueue(job); err != nil {
				s.logger.Warn("failed to enqueue results warm-up", zap.String("class_id", window.ClassID), zap.Error(err))
			}
		}
	}
	s.logger.Info("assignment graded",
		zap.String("assessment_id", assessmentID),
		zap.String("student_id", studentID),
		zap.Float64("score", score))
	return assignment, nil
}

func (s *AssessmentService) load(ctx context.Context, id string) (*models.Assessment, error) {
	assessment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assessment")
	}
	decodeSettings(assessment)
	return assessment, nil
}

func (s *AssessmentService) loadAssignment(ctx context.Context, assessmentID, studentID string) (*models.AssessmentAssignment, error) {
	assignment, err := s.repo.FindAssignment(ctx, assessmentID, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	return assignment, nil
}

func (s *AssessmentService) invalidateClassCaches(ctx context.Context, classID string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Invalidate(ctx, fmt.Sprintf("grades:class:%s:*", classID))
	_ = s.cache.Invalidate(ctx, fmt.Sprintf("results:class:%s", classID))
}

func decodeSettings(assessment *models.Assessment) {
	if len(assessment.SettingsRaw) == 0 {
		return
	}
	_ = json.Unmarshal(assessment.SettingsRaw, &assessment.Settings)
}
