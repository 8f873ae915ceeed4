package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/aulaweb/appeals-api/internal/models"
	appErrors "github.com/aulaweb/appeals-api/pkg/errors"
	"github.com/aulaweb/appeals-api/pkg/export"
)

type exportAppealReader interface {
	FindDetailByID(ctx context.Context, id string) (*models.AppealDetail, error)
}

type exportOutcomeReader interface {
	ListDetailByAppeal(ctx context.Context, appealID string) ([]models.OutcomeDetail, error)
}

type exportBookingReader interface {
	ListStudentsByAppeal(ctx context.Context, appealID string) ([]models.BookingDetail, error)
}

type renderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportFormat enumerates supported result-sheet formats.
type ExportFormat string

const (
	FormatCSV ExportFormat = "csv"
	FormatPDF ExportFormat = "pdf"
)

// ResultSheet is a rendered download.
type ResultSheet struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders the result sheet of an appeal for its owning
// professor.
type ExportService struct {
	appeals  exportAppealReader
	bookings exportBookingReader
	outcomes exportOutcomeReader
	csv      renderer
	pdf      renderer
	logger   *zap.Logger
}

// NewExportService constructs ExportService.
func NewExportService(appeals exportAppealReader, bookings exportBookingReader, outcomes exportOutcomeReader, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		appeals:  appeals,
		bookings: bookings,
		outcomes: outcomes,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		logger:   logger,
	}
}

// ResultSheet renders the recorded outcomes of an appeal. Only the owning
// professor may download it.
func (s *ExportService) ResultSheet(ctx context.Context, appealID, requestingProfessorID string, format ExportFormat) (*ResultSheet, error) {
	appeal, err := s.appeals.FindDetailByID(ctx, appealID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "appeal not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load appeal")
	}
	if appeal.ProfessorID != requestingProfessorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "appeal belongs to another professor")
	}

	bookings, err := s.bookings.ListStudentsByAppeal(ctx, appealID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list bookings")
	}
	outcomes, err := s.outcomes.ListDetailByAppeal(ctx, appealID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list outcomes")
	}

	dataset := buildResultDataset(appeal, bookings, outcomes)

	var (
		data        []byte
		contentType string
		ext         string
	)
	switch format {
	case FormatCSV:
		data, err = s.csv.Render(dataset)
		contentType = "text/csv"
		ext = "csv"
	case FormatPDF:
		data, err = s.pdf.Render(dataset)
		contentType = "application/pdf"
		ext = "pdf"
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render result sheet")
	}

	return &ResultSheet{
		Filename:    fmt.Sprintf("results-%s-%s.%s", appeal.CourseName, appeal.Date.Format("2006-01-02"), ext),
		ContentType: contentType,
		Data:        data,
	}, nil
}

// buildResultDataset lists every booked student; the ones without a recorded
// outcome yet get placeholder marks.
func buildResultDataset(appeal *models.AppealDetail, bookings []models.BookingDetail, outcomes []models.OutcomeDetail) export.Dataset {
	headers := []string{"Student", "Present", "Grade", "Honors", "Accepted", "Message"}

	byStudent := make(map[string]models.OutcomeDetail, len(outcomes))
	for _, o := range outcomes {
		byStudent[o.StudentID] = o
	}

	rows := make([]map[string]string, 0, len(bookings))
	seen := make(map[string]struct{}, len(bookings))
	for _, b := range bookings {
		seen[b.StudentID] = struct{}{}
		if o, ok := byStudent[b.StudentID]; ok {
			rows = append(rows, outcomeRow(o))
			continue
		}
		rows = append(rows, map[string]string{
			"Student":  b.StudentName,
			"Present":  "-",
			"Grade":    "-",
			"Honors":   "-",
			"Accepted": "-",
			"Message":  "",
		})
	}
	// Outcomes can outlive their booking when the student unbooks afterwards.
	for _, o := range outcomes {
		if _, ok := seen[o.StudentID]; !ok {
			rows = append(rows, outcomeRow(o))
		}
	}

	return export.Dataset{
		Title:   fmt.Sprintf("%s %s", appeal.CourseName, appeal.Date.Format("2006-01-02")),
		Headers: headers,
		Rows:    rows,
	}
}

func outcomeRow(o models.OutcomeDetail) map[string]string {
	grade := strconv.Itoa(o.Grade)
	if !o.Present {
		grade = "-"
	}
	return map[string]string{
		"Student":  o.StudentName,
		"Present":  formatBool(o.Present),
		"Grade":    grade,
		"Honors":   formatBool(o.WithHonors),
		"Accepted": formatBool(o.Accepted),
		"Message":  o.Message,
	}
}

func formatBool(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
