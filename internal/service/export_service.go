package service

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/ecoleops/academia-api/internal/models"
	appErrors "github.com/ecoleops/academia-api/pkg/errors"
	"github.com/ecoleops/academia-api/pkg/export"
)

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

type gradeReader interface {
	Breakdown(ctx context.Context, studentID, classID string) (*models.GradeBreakdown, error)
	ClassResults(ctx context.Context, classID string) (*models.ClassResults, error)
}

// ExportFormat names a supported export encoding.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportPayload carries a rendered document.
type ExportPayload struct {
	ContentType string
	Filename    string
	Data        []byte
}

// ExportService renders grade breakdowns and class result reports.
type ExportService struct {
	grades gradeReader
	csv    csvRenderer
	pdf    pdfRenderer
	logger *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(grades gradeReader, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{grades: grades, csv: csv, pdf: pdf, logger: logger}
}

// GradeBreakdown renders a student's breakdown for download.
func (s *ExportService) GradeBreakdown(ctx context.Context, studentID, classID string, format ExportFormat) (*ExportPayload, error) {
	breakdown, err := s.grades.Breakdown(ctx, studentID, classID)
	if err != nil {
		return nil, err
	}

	dataset := export.Dataset{
		Headers: []string{"Subject", "Teacher", "Coefficient", "Average", "Assessments", "Completed"},
	}
	for _, subject := range breakdown.Subjects {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Subject":     subject.SubjectName,
			"Teacher":     subject.TeacherName,
			"Coefficient": formatFloat(subject.Coefficient),
			"Average":     formatNullableFloat(subject.Average),
			"Assessments": strconv.Itoa(subject.AssessmentCount),
			"Completed":   strconv.Itoa(subject.CompletedCount),
		})
	}
	dataset.Rows = append(dataset.Rows, map[string]string{
		"Subject": "Annual average",
		"Average": formatNullableFloat(breakdown.AnnualAverage),
	})

	title := fmt.Sprintf("Grade report %s", studentID)
	return s.render(dataset, title, fmt.Sprintf("grades-%s", studentID), format)
}

// ClassResults renders the class results report for download.
func (s *ExportService) ClassResults(ctx context.Context, classID string, format ExportFormat) (*ExportPayload, error) {
	results, err := s.grades.ClassResults(ctx, classID)
	if err != nil {
		return nil, err
	}

	dataset := export.Dataset{
		Headers: []string{"Student", "Annual average", "Graded"},
	}
	for _, student := range results.Students {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Student":        student.StudentName,
			"Annual average": formatNullableFloat(student.AnnualAverage),
			"Graded":         strconv.Itoa(student.GradedCount),
		})
	}

	title := fmt.Sprintf("Class results %s", classID)
	return s.render(dataset, title, fmt.Sprintf("results-%s", classID), format)
}

func (s *ExportService) render(dataset export.Dataset, title, basename string, format ExportFormat) (*ExportPayload, error) {
	switch format {
	case ExportFormatCSV:
		data, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportPayload{ContentType: "text/csv", Filename: basename + ".csv", Data: data}, nil
	case ExportFormatPDF:
		data, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportPayload{ContentType: "application/pdf", Filename: basename + ".pdf", Data: data}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatNullableFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return formatFloat(*v)
}
