package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aulaweb/appeals-api/internal/models"
	"github.com/aulaweb/appeals-api/internal/service"
	appErrors "github.com/aulaweb/appeals-api/pkg/errors"
	"github.com/aulaweb/appeals-api/pkg/response"
)

// OutcomeHandler exposes outcome recording and acceptance endpoints.
type OutcomeHandler struct {
	outcomes *service.OutcomeService
}

// NewOutcomeHandler constructs handler.
func NewOutcomeHandler(outcomes *service.OutcomeService) *OutcomeHandler {
	return &OutcomeHandler{outcomes: outcomes}
}

// Record godoc
// @Summary Record an examination outcome
// @Tags Outcomes
// @Accept json
// @Produce json
// @Param payload body service.RecordOutcomeRequest true "Outcome payload"
// @Success 201 {object} response.Envelope
// @Router /outcomes [post]
func (h *OutcomeHandler) Record(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.RecordOutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	recordedBy := claims.UserID
	if claims.Role == models.RoleAdmin {
		recordedBy = ""
	}
	outcome, err := h.outcomes.Record(c.Request.Context(), recordedBy, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, outcome)
}

// Accept godoc
// @Summary Accept a recorded outcome
// @Tags Outcomes
// @Produce json
// @Param id path string true "Outcome ID"
// @Success 200 {object} response.Envelope
// @Router /outcomes/{id}/accept [post]
func (h *OutcomeHandler) Accept(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	outcome, err := h.outcomes.Accept(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome, nil)
}

// GetMine godoc
// @Summary Get the authenticated student's outcome for an appeal
// @Tags Outcomes
// @Produce json
// @Param id path string true "Appeal ID"
// @Success 200 {object} response.Envelope
// @Router /appeals/{id}/outcome [get]
func (h *OutcomeHandler) GetMine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	outcome, err := h.outcomes.GetForStudent(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome, nil)
}
