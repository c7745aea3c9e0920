package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/authgate/internal/models"
	"github.com/charlesng35/authgate/internal/orientation"
	apperrors "github.com/charlesng35/authgate/pkg/errors"
	"github.com/charlesng35/authgate/pkg/logger"
)

// DefaultTranscriptMaxBytes bounds uploaded transcript images.
const DefaultTranscriptMaxBytes int64 = 5 << 20

const (
	AuditActionOrientationStart    = "orientation.start"
	AuditActionOrientationComplete = "orientation.complete"
	AuditActionOrientationDelete   = "orientation.delete"

	orientationResource = "orientation_session"
	maxFailureReason    = 255
)

// OrientationAI is the generative advisor behind the orientation flow.
type OrientationAI interface {
	Analyze(ctx context.Context, req orientation.AnalysisRequest) (orientation.Analysis, error)
	Recommend(ctx context.Context, req orientation.RecommendationRequest) (orientation.Recommendation, error)
}

// OrientationDeps lists the collaborators of OrientationService.
type OrientationDeps struct {
	AI    OrientationAI
	Store TranscriptStore
	Audit *AuditService
}

// OrientationOption customises the OrientationService.
type OrientationOption func(*OrientationService)

// WithTranscriptLimit overrides the maximum transcript size in bytes.
func WithTranscriptLimit(limit int64) OrientationOption {
	return func(s *OrientationService) {
		if limit > 0 {
			s.maxTranscript = limit
		}
	}
}

// StartOrientationInput is a new session request.
type StartOrientationInput struct {
	UserID     string
	Series     string
	Transcript orientation.Transcript
}

// OrientationStart is the outcome of a successful first step.
type OrientationStart struct {
	Session  *models.OrientationSession
	Analysis orientation.Analysis
}

// SubmitAnswersInput carries the student's replies for a session.
type SubmitAnswersInput struct {
	UserID    string
	SessionID string
	Answers   []orientation.Answer
}

// OrientationResult is the outcome of a completed session.
type OrientationResult struct {
	Session        *models.OrientationSession
	Recommendation orientation.Recommendation
}

// OrientationService runs orientation sessions: transcript upload, generated
// questions, answers, then recommendations. Sessions move
// initial -> questions_sent -> completed, or to error when the advisor fails.
type OrientationService struct {
	db            *gorm.DB
	ai            OrientationAI
	store         TranscriptStore
	audit         *AuditService
	maxTranscript int64
	log           *zap.Logger
}

// NewOrientationService wires the orientation flow.
func NewOrientationService(db *gorm.DB, deps OrientationDeps, opts ...OrientationOption) (*OrientationService, error) {
	switch {
	case db == nil:
		return nil, errors.New("orientation service: db is required")
	case deps.AI == nil:
		return nil, errors.New("orientation service: advisor is required")
	case deps.Store == nil:
		return nil, errors.New("orientation service: transcript store is required")
	}

	svc := &OrientationService{
		db:            db,
		ai:            deps.AI,
		store:         deps.Store,
		audit:         deps.Audit,
		maxTranscript: DefaultTranscriptMaxBytes,
		log:           logger.WithModule("orientation"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// TranscriptLimit returns the maximum accepted transcript size in bytes.
func (s *OrientationService) TranscriptLimit() int64 {
	return s.maxTranscript
}

// Start stores the transcript, opens a session and asks the advisor for questions.
func (s *OrientationService) Start(ctx context.Context, input StartOrientationInput) (*OrientationStart, error) {
	ctx = ensureContext(ctx)

	series, contentType, err := s.validateStart(input)
	if err != nil {
		return nil, err
	}

	path, err := s.store.Save(ctx, contentType, input.Transcript.Data)
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}

	session := &models.OrientationSession{
		UserID:         input.UserID,
		Series:         string(series),
		TranscriptPath: path,
		TranscriptType: contentType,
		Status:         models.OrientationInitial,
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		s.discardTranscript(ctx, path)
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("orientation service: create session: %w", err))
	}

	analysis, err := s.ai.Analyze(ctx, orientation.AnalysisRequest{
		Series:     series,
		Transcript: orientation.Transcript{Data: input.Transcript.Data, ContentType: contentType},
	})
	if err == nil {
		err = analysis.Validate()
	}
	if err != nil {
		s.fail(ctx, session, models.OrientationInitial, nil, err)
		recordAudit(s.audit, ctx, s.auditEntry(AuditActionOrientationStart, session, "error"))
		return nil, advisorError(err)
	}

	questions, err := json.Marshal(analysis.Questions)
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}

	updates := map[string]any{
		"status":    models.OrientationQuestionsSent,
		"analysis":  analysis.Summary,
		"questions": datatypes.JSON(questions),
	}
	if err := s.transition(ctx, session, models.OrientationInitial, updates); err != nil {
		return nil, err
	}
	session.Status = models.OrientationQuestionsSent
	session.Analysis = analysis.Summary
	session.Questions = questions

	s.log.Info("orientation questions generated", zap.String("session_id", session.ID), zap.Int("questions", len(analysis.Questions)))
	recordAudit(s.audit, ctx, s.auditEntry(AuditActionOrientationStart, session, "success"))
	return &OrientationStart{Session: session, Analysis: analysis}, nil
}

// SubmitAnswers records the answers and asks the advisor for recommendations.
func (s *OrientationService) SubmitAnswers(ctx context.Context, input SubmitAnswersInput) (*OrientationResult, error) {
	ctx = ensureContext(ctx)

	session, err := s.Get(ctx, input.UserID, input.SessionID)
	if err != nil {
		return nil, err
	}
	if !session.Open() {
		return nil, apperrors.ErrOrientationState
	}

	var questions []orientation.Question
	if err := json.Unmarshal(session.Questions, &questions); err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("orientation service: decode questions: %w", err))
	}
	for _, a := range input.Answers {
		if strings.TrimSpace(a.Text) == "" {
			return nil, apperrors.NewValidation("Invalid answers", map[string]string{"answers": "every answer must be filled in"})
		}
	}
	if !orientation.MatchAnswers(questions, input.Answers) {
		return nil, apperrors.NewValidation("Answers do not match the session questions",
			map[string]string{"answers": "answer each question exactly once"})
	}

	answers, err := json.Marshal(input.Answers)
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}

	data, err := s.store.Read(ctx, session.TranscriptPath)
	if err != nil {
		s.fail(ctx, session, models.OrientationQuestionsSent, answers, err)
		return nil, apperrors.ErrOrientationFailed.WithInternal(err)
	}

	rec, err := s.ai.Recommend(ctx, orientation.RecommendationRequest{
		Series:     orientation.Series(session.Series),
		Summary:    session.Analysis,
		Questions:  questions,
		Answers:    input.Answers,
		Transcript: orientation.Transcript{Data: data, ContentType: session.TranscriptType},
	})
	if err != nil {
		s.fail(ctx, session, models.OrientationQuestionsSent, answers, err)
		recordAudit(s.audit, ctx, s.auditEntry(AuditActionOrientationComplete, session, "error"))
		return nil, advisorError(err)
	}

	programs, err := json.Marshal(rec.Programs)
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}

	updates := map[string]any{
		"status":          models.OrientationCompleted,
		"answers":         datatypes.JSON(answers),
		"recommendations": datatypes.JSON(programs),
		"advice":          rec.Advice,
	}
	if err := s.transition(ctx, session, models.OrientationQuestionsSent, updates); err != nil {
		return nil, err
	}
	session.Status = models.OrientationCompleted
	session.Answers = answers
	session.Recommendations = programs
	session.Advice = rec.Advice

	recordAudit(s.audit, ctx, s.auditEntry(AuditActionOrientationComplete, session, "success"))
	return &OrientationResult{Session: session, Recommendation: rec}, nil
}

// Get returns a session owned by userID.
func (s *OrientationService) Get(ctx context.Context, userID, sessionID string) (*models.OrientationSession, error) {
	id, err := uuid.Parse(strings.TrimSpace(sessionID))
	if err != nil {
		return nil, apperrors.ErrNotFound
	}

	var session models.OrientationSession
	err = s.db.WithContext(ensureContext(ctx)).
		Where("id = ? AND user_id = ?", id.String(), userID).
		Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("orientation service: load session: %w", err))
	}
	return &session, nil
}

// List returns the account's sessions, newest first.
func (s *OrientationService) List(ctx context.Context, userID string, page, perPage int) ([]models.OrientationSession, int64, error) {
	page, perPage = normalisePage(page, perPage)
	query := s.db.WithContext(ensureContext(ctx)).Model(&models.OrientationSession{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("orientation service: count sessions: %w", err)
	}

	var sessions []models.OrientationSession
	if err := query.Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&sessions).Error; err != nil {
		return nil, 0, fmt.Errorf("orientation service: list sessions: %w", err)
	}
	return sessions, total, nil
}

// Delete removes a session owned by userID together with its transcript.
func (s *OrientationService) Delete(ctx context.Context, userID, sessionID string) error {
	ctx = ensureContext(ctx)

	session, err := s.Get(ctx, userID, sessionID)
	if err != nil {
		return err
	}

	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", session.ID, userID).Delete(&models.OrientationSession{})
	if res.Error != nil {
		return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("orientation service: delete session: %w", res.Error))
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}

	s.discardTranscript(ctx, session.TranscriptPath)
	recordAudit(s.audit, ctx, s.auditEntry(AuditActionOrientationDelete, session, "success"))
	return nil
}

func (s *OrientationService) validateStart(input StartOrientationInput) (orientation.Series, string, error) {
	details := map[string]string{}
	if strings.TrimSpace(input.UserID) == "" {
		return "", "", apperrors.ErrUnauthorized
	}

	series, ok := orientation.ParseSeries(input.Series)
	if !ok {
		details["series"] = "choose one of S, C, D, A1, A2, L, OSE"
	}

	var contentType string
	data := input.Transcript.Data
	switch {
	case len(data) == 0:
		details["transcript"] = "this field is required"
	case int64(len(data)) > s.maxTranscript:
		details["transcript"] = fmt.Sprintf("image must not exceed %d MB", s.maxTranscript>>20)
	default:
		contentType = http.DetectContentType(data)
		declared := strings.ToLower(strings.TrimSpace(input.Transcript.ContentType))
		if !strings.HasPrefix(contentType, "image/") || (declared != "" && !strings.HasPrefix(declared, "image/")) {
			details["transcript"] = "file must be an image"
		}
	}

	if len(details) > 0 {
		return "", "", apperrors.NewValidation("Invalid orientation data", details)
	}
	return series, contentType, nil
}

// transition applies updates only while the session is still in state from.
func (s *OrientationService) transition(ctx context.Context, session *models.OrientationSession, from models.OrientationStatus, updates map[string]any) error {
	res := s.db.WithContext(ctx).Model(&models.OrientationSession{}).
		Where("id = ? AND status = ?", session.ID, from).
		Updates(updates)
	if res.Error != nil {
		return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("orientation service: update session: %w", res.Error))
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrOrientationState
	}
	return nil
}

func (s *OrientationService) fail(ctx context.Context, session *models.OrientationSession, from models.OrientationStatus, answers []byte, cause error) {
	reason := cause.Error()
	if len(reason) > maxFailureReason {
		reason = reason[:maxFailureReason]
	}
	updates := map[string]any{"status": models.OrientationFailed, "failure_reason": reason}
	if answers != nil {
		updates["answers"] = datatypes.JSON(answers)
	}

	s.log.Warn("orientation step failed", zap.String("session_id", session.ID), zap.Error(cause))
	if err := s.transition(ctx, session, from, updates); err != nil {
		s.log.Warn("failed to mark orientation session as failed", zap.String("session_id", session.ID), zap.Error(err))
		return
	}
	session.Status = models.OrientationFailed
	session.FailureReason = reason
}

func (s *OrientationService) discardTranscript(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if err := s.store.Delete(ctx, path); err != nil {
		s.log.Warn("failed to delete transcript", zap.String("path", path), zap.Error(err))
	}
}

func (s *OrientationService) auditEntry(action string, session *models.OrientationSession, result string) AuditEntry {
	return AuditEntry{
		UserID:   &session.UserID,
		Action:   action,
		Resource: orientationResource + ":" + session.ID,
		Result:   result,
		Metadata: map[string]any{"series": session.Series, "status": string(session.Status)},
	}
}

func advisorError(err error) error {
	if errors.Is(err, orientation.ErrAdvisorDisabled) {
		return apperrors.ErrOrientationUnavailable.WithInternal(err)
	}
	return apperrors.ErrOrientationFailed.WithInternal(err)
}
