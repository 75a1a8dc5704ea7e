package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/cohort-program-api/internal/service"
	appErrors "github.com/noah-isme/cohort-program-api/pkg/errors"
	"github.com/noah-isme/cohort-program-api/pkg/response"
)

// ExamHandler accepts graded submissions from the exam-taking surface.
type ExamHandler struct {
	promotions *service.PromotionService
}

// NewExamHandler constructs ExamHandler.
func NewExamHandler(promotions *service.PromotionService) *ExamHandler {
	return &ExamHandler{promotions: promotions}
}

// Submit godoc
// @Summary Submit exam answers
// @Tags Exams
// @Accept json
// @Produce json
// @Param id path string true "Exam ID"
// @Param payload body service.SubmitExamRequest true "Submission payload"
// @Success 200 {object} response.Envelope
// @Router /exams/{id}/submissions [post]
func (h *ExamHandler) Submit(c *gin.Context) {
	var req service.SubmitExamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrMalformedSubmission, err.Error()))
		return
	}
	req.ExamID = c.Param("id")

	outcome, err := h.promotions.SubmitExamResult(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome, nil)
}
