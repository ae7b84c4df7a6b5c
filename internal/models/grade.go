package models

// SubjectGrade is the per-subject slice of a student's grade breakdown.
// Average is nil when the student has no graded assignment for the subject;
// such subjects are excluded from the annual average, not counted as zero.
type SubjectGrade struct {
	SubjectID       string   `json:"subject_id"`
	SubjectName     string   `json:"subject_name"`
	TeacherID       string   `json:"teacher_id"`
	TeacherName     string   `json:"teacher_name"`
	Coefficient     float64  `json:"coefficient"`
	Average         *float64 `json:"average"`
	AssessmentCount int      `json:"assessments_count"`
	CompletedCount  int      `json:"completed_count"`
}

// GradeBreakdown is a student's aggregate record for one class.
type GradeBreakdown struct {
	StudentID            string         `json:"student_id"`
	ClassID              string         `json:"class_id"`
	Subjects             []SubjectGrade `json:"subjects"`
	AnnualAverage        *float64       `json:"annual_average"`
	TotalAssessments     int            `json:"total_assessments"`
	CompletedAssessments int            `json:"completed_assessments"`
}

// GradeRow is one assignment row scoped to a student and class, carrying the
// pieces the aggregator needs.
type GradeRow struct {
	SubjectID      string           `db:"subject_id"`
	ClassSubjectID string           `db:"class_subject_id"`
	AssessmentID   string           `db:"assessment_id"`
	TotalPoints    float64          `db:"total_points"`
	Status         AssignmentStatus `db:"status"`
	Score          *float64         `db:"score"`
}

// ClassResultRow is one assignment row scoped to a class for reporting.
type ClassResultRow struct {
	AssessmentID string           `db:"assessment_id"`
	Title        string           `db:"title"`
	SubjectID    string           `db:"subject_id"`
	TotalPoints  float64          `db:"total_points"`
	StudentID    string           `db:"student_id"`
	StudentName  string           `db:"student_name"`
	Status       AssignmentStatus `db:"status"`
	Score        *float64         `db:"score"`
}

// AssignmentStatusCounts tallies assignments by derived status.
type AssignmentStatusCounts struct {
	NotStarted int `json:"not_started"`
	InProgress int `json:"in_progress"`
	Submitted  int `json:"submitted"`
	Graded     int `json:"graded"`
}

// ScoreDistribution summarises graded scores for one assessment.
type ScoreDistribution struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

// AssessmentResult is the per-assessment block of a class results report.
type AssessmentResult struct {
	AssessmentID string                 `json:"assessment_id"`
	Title        string                 `json:"title"`
	SubjectID    string                 `json:"subject_id"`
	TotalPoints  float64                `json:"total_points"`
	Statuses     AssignmentStatusCounts `json:"statuses"`
	Distribution *ScoreDistribution     `json:"distribution,omitempty"`
}

// StudentResult is the per-student block of a class results report.
type StudentResult struct {
	StudentID     string   `json:"student_id"`
	StudentName   string   `json:"student_name"`
	AnnualAverage *float64 `json:"annual_average"`
	GradedCount   int      `json:"graded_count"`
}

// ClassResults is the read-only reporting aggregate for one class.
type ClassResults struct {
	ClassID     string             `json:"class_id"`
	Assessments []AssessmentResult `json:"assessments"`
	Students    []StudentResult    `json:"students"`
}
