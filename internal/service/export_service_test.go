package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aulaweb/appeals-api/internal/models"
	appErrors "github.com/aulaweb/appeals-api/pkg/errors"
)

type mockResultBookings struct {
	details []models.BookingDetail
	err     error
}

func (m *mockResultBookings) ListStudentsByAppeal(ctx context.Context, appealID string) ([]models.BookingDetail, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.details, nil
}

func exportFixtures() (*mockAppealReader, *mockResultBookings, *mockOutcomeRepo) {
	appeals := &mockAppealReader{detail: &models.AppealDetail{
		Appeal:     models.Appeal{ID: "appeal-1", ProfessorID: "prof-1", Date: time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)},
		CourseName: "Algorithms",
	}}
	bookings := &mockResultBookings{details: []models.BookingDetail{
		{Booking: models.Booking{AppealID: "appeal-1", StudentID: "student-1"}, StudentName: "Ada Lovelace"},
		{Booking: models.Booking{AppealID: "appeal-1", StudentID: "student-2"}, StudentName: "Charles Babbage"},
		{Booking: models.Booking{AppealID: "appeal-1", StudentID: "student-3"}, StudentName: "Grace Hopper"},
	}}
	outcomes := &mockOutcomeRepo{details: []models.OutcomeDetail{
		{
			Outcome:     models.Outcome{ID: "out-1", StudentID: "student-1", Present: true, Grade: 30, WithHonors: true, Accepted: true},
			StudentName: "Ada Lovelace",
			CourseName:  "Algorithms",
		},
		{
			Outcome:     models.Outcome{ID: "out-2", StudentID: "student-2", Present: false, Grade: 0},
			StudentName: "Charles Babbage",
			CourseName:  "Algorithms",
		},
	}}
	return appeals, bookings, outcomes
}

func TestExportServiceResultSheetCSV(t *testing.T) {
	appeals, bookings, outcomes := exportFixtures()
	svc := NewExportService(appeals, bookings, outcomes, zap.NewNop())

	sheet, err := svc.ResultSheet(context.Background(), "appeal-1", "prof-1", FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", sheet.ContentType)
	assert.Equal(t, "results-Algorithms-2026-02-10.csv", sheet.Filename)

	body := string(sheet.Data)
	assert.True(t, strings.HasPrefix(body, "Student,Present,Grade,Honors,Accepted,Message"))
	assert.Contains(t, body, "Ada Lovelace,yes,30,yes,yes,")
	assert.Contains(t, body, "Charles Babbage,no,-,no,no,")
	// Booked but not yet graded.
	assert.Contains(t, body, "Grace Hopper,-,-,-,-,")
}

func TestExportServiceResultSheetPDF(t *testing.T) {
	appeals, bookings, outcomes := exportFixtures()
	svc := NewExportService(appeals, bookings, outcomes, zap.NewNop())

	sheet, err := svc.ResultSheet(context.Background(), "appeal-1", "prof-1", FormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", sheet.ContentType)
	assert.True(t, strings.HasPrefix(string(sheet.Data), "%PDF"))
}

func TestExportServiceResultSheetWrongProfessor(t *testing.T) {
	appeals, bookings, outcomes := exportFixtures()
	svc := NewExportService(appeals, bookings, outcomes, zap.NewNop())

	_, err := svc.ResultSheet(context.Background(), "appeal-1", "prof-2", FormatCSV)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestExportServiceResultSheetUnsupportedFormat(t *testing.T) {
	appeals, bookings, outcomes := exportFixtures()
	svc := NewExportService(appeals, bookings, outcomes, zap.NewNop())

	_, err := svc.ResultSheet(context.Background(), "appeal-1", "prof-1", ExportFormat("xlsx"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
