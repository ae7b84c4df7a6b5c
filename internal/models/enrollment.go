package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusActive    EnrollmentStatus = "ACTIVE"
	EnrollmentStatusWithdrawn EnrollmentStatus = "WITHDRAWN"
)

// Enrollment ties one student to one class. A student holds at most one
// active enrollment per academic year; a transfer withdraws the old row and
// creates a new one instead of mutating the class reference.
type Enrollment struct {
	ID          string           `db:"id" json:"id"`
	ClassID     string           `db:"class_id" json:"class_id"`
	StudentID   string           `db:"student_id" json:"student_id"`
	EnrolledAt  time.Time        `db:"enrolled_at" json:"enrolled_at"`
	WithdrawnAt *time.Time       `db:"withdrawn_at" json:"withdrawn_at,omitempty"`
	Status      EnrollmentStatus `db:"status" json:"status"`
}

// EnrollmentDetail enriches Enrollment with student, class and year info.
type EnrollmentDetail struct {
	Enrollment
	StudentName      string `db:"student_name" json:"student_name"`
	ClassName        string `db:"class_name" json:"class_name"`
	AcademicYearID   string `db:"academic_year_id" json:"academic_year_id"`
	AcademicYearName string `db:"academic_year_name" json:"academic_year_name"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID      string
	ClassID        string
	AcademicYearID string
	Status         EnrollmentStatus
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}
