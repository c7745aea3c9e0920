package handlers

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"github.com/charlesng35/authgate/internal/models"
	"github.com/charlesng35/authgate/internal/orientation"
	"github.com/charlesng35/authgate/internal/services"
	"github.com/charlesng35/authgate/pkg/errors"
	"github.com/charlesng35/authgate/pkg/response"
)

// OrientationHandler serves the study-orientation flow for the signed-in account.
type OrientationHandler struct {
	svc *services.OrientationService
}

func NewOrientationHandler(svc *services.OrientationService) *OrientationHandler {
	return &OrientationHandler{svc: svc}
}

type orientationSessionDTO struct {
	ID              string         `json:"id"`
	Series          string         `json:"series"`
	Status          string         `json:"status"`
	Analysis        string         `json:"analysis,omitempty"`
	Questions       datatypes.JSON `json:"questions,omitempty"`
	Answers         datatypes.JSON `json:"answers,omitempty"`
	Recommendations datatypes.JSON `json:"recommendations,omitempty"`
	Advice          string         `json:"advice,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func toOrientationSessionDTO(session models.OrientationSession) orientationSessionDTO {
	return orientationSessionDTO{
		ID:              session.ID,
		Series:          session.Series,
		Status:          string(session.Status),
		Analysis:        session.Analysis,
		Questions:       session.Questions,
		Answers:         session.Answers,
		Recommendations: session.Recommendations,
		Advice:          session.Advice,
		CreatedAt:       session.CreatedAt,
		UpdatedAt:       session.UpdatedAt,
	}
}

type submitAnswersRequest struct {
	SessionID string          `json:"session_id" validate:"required"`
	Answers   []answerRequest `json:"answers" validate:"required,min=3,max=4,dive"`
}

type answerRequest struct {
	QuestionID int    `json:"question_id" validate:"required,gt=0"`
	Answer     string `json:"answer" validate:"required"`
}

// POST /api/orientation/submit-initial
//
// Multipart form: "series" plus the "transcript" image.
func (h *OrientationHandler) SubmitInitial(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	header, err := c.FormFile("transcript")
	if err != nil {
		response.Error(c, errors.NewValidation("Invalid orientation data", map[string]string{"transcript": "this field is required"}))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, errors.NewBadRequest("failed to read transcript"))
		return
	}
	defer file.Close()

	limit := h.svc.TranscriptLimit()
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		response.Error(c, errors.NewBadRequest("failed to read transcript"))
		return
	}

	out, err := h.svc.Start(requestContext(c), services.StartOrientationInput{
		UserID: userID,
		Series: c.PostForm("series"),
		Transcript: orientation.Transcript{
			Data:        data,
			ContentType: header.Header.Get("Content-Type"),
		},
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"session_id": out.Session.ID,
		"analysis":   out.Analysis.Summary,
		"questions":  out.Analysis.Questions,
		"message":    "Transcript analysed. Answer the questions to get your recommendations.",
	})
}

// POST /api/orientation/submit-responses
func (h *OrientationHandler) SubmitResponses(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req submitAnswersRequest
	if !bindAndValidate(c, &req) {
		return
	}

	answers := make([]orientation.Answer, 0, len(req.Answers))
	for _, a := range req.Answers {
		answers = append(answers, orientation.Answer{QuestionID: a.QuestionID, Text: strings.TrimSpace(a.Answer)})
	}

	out, err := h.svc.SubmitAnswers(requestContext(c), services.SubmitAnswersInput{
		UserID:    userID,
		SessionID: req.SessionID,
		Answers:   answers,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"session_id": out.Session.ID,
		"programs":   out.Recommendation.Programs,
		"advice":     out.Recommendation.Advice,
		"message":    "Orientation complete.",
	})
}

// GET /api/orientation/sessions
func (h *OrientationHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	page, per := pageParams(c, 20)
	sessions, total, err := h.svc.List(requestContext(c), userID, page, per)
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	out := make([]orientationSessionDTO, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, toOrientationSessionDTO(session))
	}
	response.SuccessWithMeta(c, http.StatusOK, out, response.NewMeta(page, per, total))
}

// GET /api/orientation/sessions/:id
func (h *OrientationHandler) Get(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	session, err := h.svc.Get(requestContext(c), userID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, toOrientationSessionDTO(*session))
}

// DELETE /api/orientation/sessions/:id
func (h *OrientationHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	if err := h.svc.Delete(requestContext(c), userID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Orientation session deleted"})
}
