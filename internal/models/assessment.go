package models

import (
	"encoding/json"
	"time"
)

// AssessmentType distinguishes gradable work kinds.
type AssessmentType string

const (
	AssessmentTypeExam     AssessmentType = "EXAM"
	AssessmentTypeHomework AssessmentType = "HOMEWORK"
)

// DeliveryMode tells how an assessment is taken.
type DeliveryMode string

const (
	DeliveryModeOnline DeliveryMode = "ONLINE"
	DeliveryModePaper  DeliveryMode = "PAPER"
)

// AssessmentSettings carries per-assessment toggles stored as JSON.
type AssessmentSettings struct {
	IsPublished  bool `json:"is_published"`
	DurationMins int  `json:"duration_mins,omitempty"`
	ShuffleItems bool `json:"shuffle_items,omitempty"`
}

// AssessmentQuestion is one ordered question worth a number of points.
type AssessmentQuestion struct {
	ID           string  `db:"id" json:"id"`
	AssessmentID string  `db:"assessment_id" json:"assessment_id"`
	OrderNumber  int     `db:"order_number" json:"order_number"`
	Prompt       string  `db:"prompt" json:"prompt"`
	Points       float64 `db:"points" json:"points"`
}

// Assessment is a gradable unit of work tied to one teaching assignment.
// TotalPoints is the sum of its question points.
type Assessment struct {
	ID             string          `db:"id" json:"id"`
	ClassSubjectID string          `db:"class_subject_id" json:"class_subject_id"`
	TeacherID      string          `db:"teacher_id" json:"teacher_id"`
	Title          string          `db:"title" json:"title"`
	Type           AssessmentType  `db:"type" json:"type"`
	DeliveryMode   DeliveryMode    `db:"delivery_mode" json:"delivery_mode"`
	SettingsRaw    json.RawMessage `db:"settings" json:"-"`
	Settings       AssessmentSettings `db:"-" json:"settings"`
	TotalPoints    float64         `db:"total_points" json:"total_points"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// AssignmentStatus is the explicit lifecycle of one student's take on an
// assessment. Transitions are monotonic: NOT_STARTED -> IN_PROGRESS ->
// SUBMITTED -> GRADED, never backwards.
type AssignmentStatus string

const (
	AssignmentStatusNotStarted AssignmentStatus = "NOT_STARTED"
	AssignmentStatusInProgress AssignmentStatus = "IN_PROGRESS"
	AssignmentStatusSubmitted  AssignmentStatus = "SUBMITTED"
	AssignmentStatusGraded     AssignmentStatus = "GRADED"
)

var assignmentStatusRank = map[AssignmentStatus]int{
	AssignmentStatusNotStarted: 0,
	AssignmentStatusInProgress: 1,
	AssignmentStatusSubmitted:  2,
	AssignmentStatusGraded:     3,
}

// CanTransition reports whether moving from the receiver to next respects the
// monotonic order and advances exactly one step.
func (s AssignmentStatus) CanTransition(next AssignmentStatus) bool {
	cur, ok := assignmentStatusRank[s]
	if !ok {
		return false
	}
	nxt, ok := assignmentStatusRank[next]
	if !ok {
		return false
	}
	return nxt == cur+1
}

// AssessmentAssignment is one student's instance of one assessment. One row
// exists per (assessment, student). Score stays nil until graded.
type AssessmentAssignment struct {
	ID           string           `db:"id" json:"id"`
	AssessmentID string           `db:"assessment_id" json:"assessment_id"`
	StudentID    string           `db:"student_id" json:"student_id"`
	Status       AssignmentStatus `db:"status" json:"status"`
	StartedAt    *time.Time       `db:"started_at" json:"started_at,omitempty"`
	SubmittedAt  *time.Time       `db:"submitted_at" json:"submitted_at,omitempty"`
	GradedAt     *time.Time       `db:"graded_at" json:"graded_at,omitempty"`
	Score        *float64         `db:"score" json:"score,omitempty"`
}

// AssignmentFilter filters assignment listings.
type AssignmentFilter struct {
	AssessmentID string
	StudentID    string
	Status       AssignmentStatus
	Page         int
	PageSize     int
}
