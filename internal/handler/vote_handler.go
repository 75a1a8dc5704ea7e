package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/cohort-program-api/internal/service"
	appErrors "github.com/noah-isme/cohort-program-api/pkg/errors"
	"github.com/noah-isme/cohort-program-api/pkg/response"
)

// VoteHandler accepts peer votes from the chat adapter.
type VoteHandler struct {
	voting *service.VotingService
}

// NewVoteHandler constructs VoteHandler.
func NewVoteHandler(voting *service.VotingService) *VoteHandler {
	return &VoteHandler{voting: voting}
}

// Cast godoc
// @Summary Cast peer votes for the active period
// @Tags Votes
// @Accept json
// @Produce json
// @Param payload body service.CastVoteRequest true "Vote payload"
// @Success 200 {object} response.Envelope
// @Router /votes [post]
func (h *VoteHandler) Cast(c *gin.Context) {
	var req service.CastVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}
	if err := h.voting.CastVote(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"recorded": len(req.RecipientIDs)}, nil)
}
