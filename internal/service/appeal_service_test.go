package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aulaweb/appeals-api/internal/models"
	"github.com/aulaweb/appeals-api/internal/repository"
	appErrors "github.com/aulaweb/appeals-api/pkg/errors"
)

type mockAppealRepo struct {
	createErr   error
	appeal      *models.Appeal
	findErr     error
	detail      *models.AppealDetail
	detailErr   error
	available   []models.AppealDetail
	booked      []models.AppealDetail
	owned       []models.AppealDetail
	deleteErr   error
	deletedIDs  []string
	listedCalls int
}

func (m *mockAppealRepo) Create(ctx context.Context, appeal *models.Appeal) error {
	if m.createErr != nil {
		return m.createErr
	}
	appeal.ID = "appeal-1"
	return nil
}

func (m *mockAppealRepo) FindByID(ctx context.Context, id string) (*models.Appeal, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.appeal, nil
}

func (m *mockAppealRepo) FindDetailByID(ctx context.Context, id string) (*models.AppealDetail, error) {
	if m.detailErr != nil {
		return nil, m.detailErr
	}
	return m.detail, nil
}

func (m *mockAppealRepo) ListAvailableForStudent(ctx context.Context, studentID string) ([]models.AppealDetail, error) {
	m.listedCalls++
	return m.available, nil
}

func (m *mockAppealRepo) ListBookedByStudent(ctx context.Context, studentID string) ([]models.AppealDetail, error) {
	return m.booked, nil
}

func (m *mockAppealRepo) ListByProfessor(ctx context.Context, professorID string) ([]models.AppealDetail, error) {
	return m.owned, nil
}

func (m *mockAppealRepo) Delete(ctx context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deletedIDs = append(m.deletedIDs, id)
	return nil
}

type mockDirectory struct {
	course        *models.Course
	courseErr     error
	resolveErr    error
	resolvedNames []string
	degreeExists  bool
	profExists    bool
	studentExists bool
	teaches       bool
}

func (m *mockDirectory) CourseByID(ctx context.Context, id string) (*models.Course, error) {
	if m.courseErr != nil {
		return nil, m.courseErr
	}
	return m.course, nil
}

func (m *mockDirectory) ResolveCourse(ctx context.Context, name, degreeCourseName string) (*models.Course, error) {
	m.resolvedNames = append(m.resolvedNames, name+"/"+degreeCourseName)
	if m.resolveErr != nil {
		return nil, m.resolveErr
	}
	return m.course, nil
}

func (m *mockDirectory) DegreeCourseExists(ctx context.Context, id string) (bool, error) {
	return m.degreeExists, nil
}

func (m *mockDirectory) ProfessorExists(ctx context.Context, id string) (bool, error) {
	return m.profExists, nil
}

func (m *mockDirectory) StudentExists(ctx context.Context, id string) (bool, error) {
	return m.studentExists, nil
}

func (m *mockDirectory) ProfessorTeaches(ctx context.Context, courseID, professorID string) (bool, error) {
	return m.teaches, nil
}

type mockAppealCache struct {
	store           map[string][]models.AppealDetail
	deletedPatterns []string
}

func (m *mockAppealCache) Get(ctx context.Context, key string, dest interface{}) error {
	cached, ok := m.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	*dest.(*[]models.AppealDetail) = cached
	return nil
}

func (m *mockAppealCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.store == nil {
		m.store = make(map[string][]models.AppealDetail)
	}
	m.store[key] = value.([]models.AppealDetail)
	return nil
}

func (m *mockAppealCache) DeleteByPattern(ctx context.Context, pattern string) error {
	m.deletedPatterns = append(m.deletedPatterns, pattern)
	return nil
}

func fullDirectory() *mockDirectory {
	return &mockDirectory{
		course:        &models.Course{ID: "course-1", Name: "Algorithms", DegreeCourseID: "dc-1"},
		degreeExists:  true,
		profExists:    true,
		studentExists: true,
		teaches:       true,
	}
}

func validCreateRequest() CreateAppealRequest {
	return CreateAppealRequest{
		CourseID:       "course-1",
		DegreeCourseID: "dc-1",
		ProfessorID:    "prof-1",
		Description:    "Winter session",
		Date:           time.Now().AddDate(0, 1, 0),
	}
}

func TestAppealServiceCreateSuccess(t *testing.T) {
	repo := &mockAppealRepo{detail: &models.AppealDetail{Appeal: models.Appeal{ID: "appeal-1", ProfessorID: "prof-1"}, CourseName: "Algorithms"}}
	cache := &mockAppealCache{}
	svc := NewAppealService(repo, fullDirectory(), cache, time.Minute, testWriter(), validator.New(), zap.NewNop())

	detail, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)
	assert.Equal(t, "appeal-1", detail.ID)
	assert.Equal(t, []string{"appeals:available:*"}, cache.deletedPatterns)
}

func TestAppealServiceCreateUnknownCourse(t *testing.T) {
	directory := fullDirectory()
	directory.courseErr = sql.ErrNoRows
	svc := NewAppealService(&mockAppealRepo{}, directory, nil, time.Minute, testWriter(), validator.New(), zap.NewNop())

	_, err := svc.Create(context.Background(), validCreateRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAppealServiceCreateResolvesCourseByName(t *testing.T) {
	repo := &mockAppealRepo{detail: &models.AppealDetail{Appeal: models.Appeal{ID: "appeal-1"}, CourseName: "Algorithms"}}
	directory := fullDirectory()
	svc := NewAppealService(repo, directory, nil, time.Minute, testWriter(), validator.New(), zap.NewNop())

	req := validCreateRequest()
	req.CourseID = ""
	req.DegreeCourseID = ""
	req.CourseName = "Algorithms"
	req.DegreeCourseName = "Computer Science"

	detail, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "appeal-1", detail.ID)
	assert.Equal(t, []string{"Algorithms/Computer Science"}, directory.resolvedNames)
}

func TestAppealServiceCreateUnknownCourseName(t *testing.T) {
	directory := fullDirectory()
	directory.resolveErr = sql.ErrNoRows
	svc := NewAppealService(&mockAppealRepo{}, directory, nil, time.Minute, testWriter(), validator.New(), zap.NewNop())

	req := validCreateRequest()
	req.CourseID = ""
	req.DegreeCourseID = ""
	req.CourseName = "Alchemy"
	req.DegreeCourseName = "Computer Science"

	_, err := svc.Create(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAppealServiceCreateProfessorNotTeaching(t *testing.T) {
	directory := fullDirectory()
	directory.teaches = false
	svc := NewAppealService(&mockAppealRepo{}, directory, nil, time.Minute, testWriter(), validator.New(), zap.NewNop())

	_, err := svc.Create(context.Background(), validCreateRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAppealServiceCreateAllowsPastDate(t *testing.T) {
	repo := &mockAppealRepo{detail: &models.AppealDetail{Appeal: models.Appeal{ID: "appeal-1"}}}
	svc := NewAppealService(repo, fullDirectory(), nil, time.Minute, testWriter(), validator.New(), zap.NewNop())

	req := validCreateRequest()
	req.Date = time.Now().AddDate(0, -1, 0)
	_, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
}

func TestAppealServiceListAvailableUsesCache(t *testing.T) {
	repo := &mockAppealRepo{available: []models.AppealDetail{{Appeal: models.Appeal{ID: "appeal-1"}}}}
	cache := &mockAppealCache{}
	svc := NewAppealService(repo, fullDirectory(), cache, time.Minute, testWriter(), validator.New(), zap.NewNop())

	first, err := svc.ListAvailableFor(context.Background(), "student-1")
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := svc.ListAvailableFor(context.Background(), "student-1")
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, 1, repo.listedCalls)
}

func TestAppealServiceListAvailableUnknownStudent(t *testing.T) {
	directory := fullDirectory()
	directory.studentExists = false
	svc := NewAppealService(&mockAppealRepo{}, directory, nil, time.Minute, testWriter(), validator.New(), zap.NewNop())

	_, err := svc.ListAvailableFor(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAppealServiceDeleteWrongProfessor(t *testing.T) {
	repo := &mockAppealRepo{appeal: &models.Appeal{ID: "appeal-1", ProfessorID: "prof-1"}}
	svc := NewAppealService(repo, fullDirectory(), nil, time.Minute, testWriter(), validator.New(), zap.NewNop())

	err := svc.Delete(context.Background(), "appeal-1", "prof-2")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.deletedIDs)
}

func TestAppealServiceDeleteWithOutcomes(t *testing.T) {
	repo := &mockAppealRepo{
		appeal:    &models.Appeal{ID: "appeal-1", ProfessorID: "prof-1"},
		deleteErr: repository.ErrOutcomesExist,
	}
	svc := NewAppealService(repo, fullDirectory(), nil, time.Minute, testWriter(), validator.New(), zap.NewNop())

	err := svc.Delete(context.Background(), "appeal-1", "prof-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestAppealServiceDeleteSuccessInvalidatesCache(t *testing.T) {
	repo := &mockAppealRepo{appeal: &models.Appeal{ID: "appeal-1", ProfessorID: "prof-1"}}
	cache := &mockAppealCache{}
	svc := NewAppealService(repo, fullDirectory(), cache, time.Minute, testWriter(), validator.New(), zap.NewNop())

	require.NoError(t, svc.Delete(context.Background(), "appeal-1", "prof-1"))
	assert.Equal(t, []string{"appeal-1"}, repo.deletedIDs)
	assert.Equal(t, []string{"appeals:available:*"}, cache.deletedPatterns)
}

func TestAppealServiceGetMissing(t *testing.T) {
	repo := &mockAppealRepo{detailErr: sql.ErrNoRows}
	svc := NewAppealService(repo, fullDirectory(), nil, time.Minute, testWriter(), validator.New(), zap.NewNop())

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
