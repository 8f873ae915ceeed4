package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aulaweb/appeals-api/internal/models"
	"github.com/aulaweb/appeals-api/internal/service"
	appErrors "github.com/aulaweb/appeals-api/pkg/errors"
	"github.com/aulaweb/appeals-api/pkg/response"
)

// AppealHandler exposes appeal catalogue and booking endpoints.
type AppealHandler struct {
	appeals  *service.AppealService
	bookings *service.BookingService
	exports  *service.ExportService
}

// NewAppealHandler constructs handler.
func NewAppealHandler(appeals *service.AppealService, bookings *service.BookingService, exports *service.ExportService) *AppealHandler {
	return &AppealHandler{appeals: appeals, bookings: bookings, exports: exports}
}

// Create godoc
// @Summary Publish a new appeal
// @Tags Appeals
// @Accept json
// @Produce json
// @Param payload body service.CreateAppealRequest true "Appeal payload"
// @Success 201 {object} response.Envelope
// @Router /appeals [post]
func (h *AppealHandler) Create(c *gin.Context) {
	var req service.CreateAppealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if claims := claimsFromContext(c); claims != nil && claims.Role == models.RoleProfessor {
		req.ProfessorID = claims.UserID
	}
	appeal, err := h.appeals.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, appeal)
}

// Get godoc
// @Summary Get an appeal
// @Tags Appeals
// @Produce json
// @Param id path string true "Appeal ID"
// @Success 200 {object} response.Envelope
// @Router /appeals/{id} [get]
func (h *AppealHandler) Get(c *gin.Context) {
	appeal, err := h.appeals.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appeal, nil)
}

// Delete godoc
// @Summary Delete an appeal and its bookings
// @Tags Appeals
// @Produce json
// @Param id path string true "Appeal ID"
// @Success 204
// @Router /appeals/{id} [delete]
func (h *AppealHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.appeals.Delete(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListMine godoc
// @Summary List appeals published by the authenticated professor
// @Tags Appeals
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /professors/me/appeals [get]
func (h *AppealHandler) ListMine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	appeals, err := h.appeals.ListOwnedBy(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appeals, nil)
}

// ListAvailable godoc
// @Summary List appeals the student can book
// @Tags Appeals
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId}/appeals/available [get]
func (h *AppealHandler) ListAvailable(c *gin.Context) {
	appeals, err := h.appeals.ListAvailableFor(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appeals, nil)
}

// ListBooked godoc
// @Summary List appeals the student is booked into
// @Tags Appeals
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId}/appeals/booked [get]
func (h *AppealHandler) ListBooked(c *gin.Context) {
	appeals, err := h.appeals.ListBookedBy(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appeals, nil)
}

// Book godoc
// @Summary Book the authenticated student into an appeal
// @Tags Bookings
// @Produce json
// @Param id path string true "Appeal ID"
// @Success 201 {object} response.Envelope
// @Router /appeals/{id}/bookings [post]
func (h *AppealHandler) Book(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	booking, err := h.bookings.Book(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, booking)
}

// Unbook godoc
// @Summary Cancel the authenticated student's booking
// @Tags Bookings
// @Produce json
// @Param id path string true "Appeal ID"
// @Success 204
// @Router /appeals/{id}/bookings [delete]
func (h *AppealHandler) Unbook(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.bookings.Unbook(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Export godoc
// @Summary Download the result sheet of an appeal
// @Tags Appeals
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Appeal ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Router /appeals/{id}/results/export [get]
func (h *AppealHandler) Export(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	format := service.ExportFormat(c.DefaultQuery("format", string(service.FormatCSV)))
	sheet, err := h.exports.ResultSheet(c.Request.Context(), c.Param("id"), claims.UserID, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+sheet.Filename+`"`)
	c.Data(http.StatusOK, sheet.ContentType, sheet.Data)
}
