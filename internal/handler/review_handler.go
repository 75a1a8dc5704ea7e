package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/cohort-program-api/internal/service"
	appErrors "github.com/noah-isme/cohort-program-api/pkg/errors"
	"github.com/noah-isme/cohort-program-api/pkg/response"
)

// ReviewHandler accepts spaced-repetition answers from the chat adapter.
type ReviewHandler struct {
	reviews *service.ReviewService
}

// NewReviewHandler constructs ReviewHandler.
func NewReviewHandler(reviews *service.ReviewService) *ReviewHandler {
	return &ReviewHandler{reviews: reviews}
}

// Answer godoc
// @Summary Answer a review question
// @Tags Reviews
// @Accept json
// @Produce json
// @Param payload body service.AnswerReviewRequest true "Answer payload"
// @Success 200 {object} response.Envelope
// @Router /reviews/answers [post]
func (h *ReviewHandler) Answer(c *gin.Context) {
	var req service.AnswerReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}
	state, err := h.reviews.Answer(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, state, nil)
}

// Remove godoc
// @Summary Retire a review question for a student
// @Tags Reviews
// @Produce json
// @Param studentId path string true "Student ID"
// @Param questionId path string true "Question ID"
// @Success 204
// @Router /reviews/{studentId}/{questionId} [delete]
func (h *ReviewHandler) Remove(c *gin.Context) {
	if err := h.reviews.Remove(c.Request.Context(), c.Param("studentId"), c.Param("questionId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
