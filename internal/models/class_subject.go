package models

import "time"

// ClassSubject is a versioned teaching assignment: one teacher teaching one
// subject in one class over a validity window. Replacing a teacher closes the
// open window and inserts a new row, so [valid_from, valid_to) ranges for the
// same (class_id, subject_id) never overlap.
type ClassSubject struct {
	ID          string     `db:"id" json:"id"`
	ClassID     string     `db:"class_id" json:"class_id"`
	SubjectID   string     `db:"subject_id" json:"subject_id"`
	TeacherID   string     `db:"teacher_id" json:"teacher_id"`
	SemesterID  *string    `db:"semester_id" json:"semester_id,omitempty"`
	Coefficient float64    `db:"coefficient" json:"coefficient"`
	ValidFrom   time.Time  `db:"valid_from" json:"valid_from"`
	ValidTo     *time.Time `db:"valid_to" json:"valid_to,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// Open reports whether the assignment window is still open.
func (cs ClassSubject) Open() bool {
	return cs.ValidTo == nil
}

// ClassSubjectDetail adds subject and teacher names for responses.
type ClassSubjectDetail struct {
	ClassSubject
	SubjectName string `db:"subject_name" json:"subject_name"`
	SubjectCode string `db:"subject_code" json:"subject_code"`
	TeacherName string `db:"teacher_name" json:"teacher_name"`
	ClassName   string `db:"class_name" json:"class_name"`
}

// ClassSubjectFilter provides filters for listing teaching assignments.
type ClassSubjectFilter struct {
	ClassID   string
	SubjectID string
	TeacherID string
	OpenOnly  bool
	Page      int
	PageSize  int
}
