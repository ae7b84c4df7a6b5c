package models

import "time"

// Class represents one class section within an academic year. The
// (academic_year_id, level, name) triple is unique.
type Class struct {
	ID             string    `db:"id" json:"id"`
	AcademicYearID string    `db:"academic_year_id" json:"academic_year_id"`
	Level          string    `db:"level" json:"level"`
	Name           string    `db:"name" json:"name"`
	MaxStudents    int       `db:"max_students" json:"max_students"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// ClassDetail extends Class with its academic year name and occupancy.
type ClassDetail struct {
	Class
	AcademicYearName string `db:"academic_year_name" json:"academic_year_name"`
	ActiveStudents   int    `db:"active_students" json:"active_students"`
}

// ClassFilter defines filter criteria for listing classes.
type ClassFilter struct {
	AcademicYearID string
	Level          string
	Search         string
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}
