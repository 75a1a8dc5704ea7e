package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/cohort-program-api/internal/service"
	appErrors "github.com/noah-isme/cohort-program-api/pkg/errors"
	"github.com/noah-isme/cohort-program-api/pkg/response"
)

// PeriodHandler exposes exam-period scheduling and close.
type PeriodHandler struct {
	voting     *service.VotingService
	promotions *service.PromotionService
}

// NewPeriodHandler constructs PeriodHandler.
func NewPeriodHandler(voting *service.VotingService, promotions *service.PromotionService) *PeriodHandler {
	return &PeriodHandler{voting: voting, promotions: promotions}
}

// Schedule godoc
// @Summary Schedule an exam period
// @Tags Periods
// @Accept json
// @Produce json
// @Param payload body service.SchedulePeriodRequest true "Period payload"
// @Success 201 {object} response.Envelope
// @Router /periods [post]
func (h *PeriodHandler) Schedule(c *gin.Context) {
	var req service.SchedulePeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}
	period, err := h.voting.SchedulePeriod(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, period)
}

// ListActive godoc
// @Summary List currently active exam periods
// @Tags Periods
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /periods/active [get]
func (h *PeriodHandler) ListActive(c *gin.Context) {
	periods, err := h.voting.ListActive(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, periods, nil)
}

// Close godoc
// @Summary Close an exam period and apply bonuses
// @Tags Periods
// @Produce json
// @Param id path string true "Period ID"
// @Success 200 {object} response.Envelope
// @Router /periods/{id}/close [post]
func (h *PeriodHandler) Close(c *gin.Context) {
	if err := h.promotions.ClosePeriod(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"closed": true}, nil)
}
