package models

import "time"

// AcademicYear models one school calendar year. At most one year is current
// system-wide; switching deactivates all years before activating the chosen
// one inside a single transaction.
type AcademicYear struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
	IsCurrent bool      `db:"is_current" json:"is_current"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Semester is an ordered, non-overlapping slice of an academic year.
// OrderNumber is 1-based and unique per year.
type Semester struct {
	ID             string    `db:"id" json:"id"`
	AcademicYearID string    `db:"academic_year_id" json:"academic_year_id"`
	Name           string    `db:"name" json:"name"`
	StartDate      time.Time `db:"start_date" json:"start_date"`
	EndDate        time.Time `db:"end_date" json:"end_date"`
	OrderNumber    int       `db:"order_number" json:"order_number"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// AcademicYearFilter defines filters supported by list endpoints.
type AcademicYearFilter struct {
	IsCurrent *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
