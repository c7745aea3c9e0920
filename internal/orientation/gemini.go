package orientation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/authgate/pkg/logger"
	"github.com/charlesng35/authgate/pkg/metrics"
)

const (
	DefaultGeminiEndpoint = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel    = "gemini-2.5-flash-lite"
	DefaultGeminiTimeout  = 60 * time.Second

	maxGeminiResponseBytes = 1 << 20
)

// ErrAdvisorRejected is returned when the model endpoint refuses a request.
var ErrAdvisorRejected = errors.New("orientation: advisor request rejected")

// GeminiConfig configures the Gemini generateContent client.
type GeminiConfig struct {
	Enabled  bool
	APIKey   string
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// GeminiAdvisor calls the Gemini REST API with the transcript attached inline.
type GeminiAdvisor struct {
	enabled  bool
	apiKey   string
	endpoint string
	model    string
	timeout  time.Duration
	client   *http.Client
	log      *zap.Logger
}

// GeminiOption customises the advisor.
type GeminiOption func(*GeminiAdvisor)

// WithGeminiHTTPClient overrides the HTTP client.
func WithGeminiHTTPClient(client *http.Client) GeminiOption {
	return func(a *GeminiAdvisor) {
		if client != nil {
			a.client = client
		}
	}
}

// NewGeminiAdvisor builds the advisor. A disabled config or a missing key
// yields an advisor whose calls fail with ErrAdvisorDisabled.
func NewGeminiAdvisor(cfg GeminiConfig, opts ...GeminiOption) *GeminiAdvisor {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultGeminiEndpoint
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultGeminiModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultGeminiTimeout
	}

	a := &GeminiAdvisor{
		enabled:  cfg.Enabled && strings.TrimSpace(cfg.APIKey) != "",
		apiKey:   strings.TrimSpace(cfg.APIKey),
		endpoint: endpoint,
		model:    strings.TrimPrefix(model, "models/"),
		timeout:  timeout,
		client:   &http.Client{},
		log:      logger.WithModule("orientation"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze reads the transcript and returns a summary plus follow-up questions.
func (a *GeminiAdvisor) Analyze(ctx context.Context, req AnalysisRequest) (Analysis, error) {
	var out Analysis
	err := a.generate(ctx, "analyze", analysisPrompt(req.Series), req.Transcript, &out)
	if err != nil {
		return Analysis{}, err
	}
	if err := out.Validate(); err != nil {
		metrics.OrientationRequests.WithLabelValues("analyze", "invalid").Inc()
		return Analysis{}, err
	}
	return out, nil
}

// Recommend ranks programmes from the transcript and the student's answers.
func (a *GeminiAdvisor) Recommend(ctx context.Context, req RecommendationRequest) (Recommendation, error) {
	var out Recommendation
	if err := a.generate(ctx, "recommend", recommendationPrompt(req), req.Transcript, &out); err != nil {
		return Recommendation{}, err
	}
	if len(out.Programs) == 0 {
		metrics.OrientationRequests.WithLabelValues("recommend", "invalid").Inc()
		return Recommendation{}, fmt.Errorf("%w: no programmes recommended", ErrInvalidAnalysis)
	}
	return out, nil
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		ResponseMimeType string `json:"responseMimeType"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (a *GeminiAdvisor) generate(ctx context.Context, stage, prompt string, transcript Transcript, dest any) error {
	if !a.enabled {
		metrics.OrientationRequests.WithLabelValues(stage, "disabled").Inc()
		return ErrAdvisorDisabled
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	text, err := a.call(ctx, prompt, transcript)
	if err == nil {
		err = decodeModelJSON(text, dest)
	}
	if err != nil {
		metrics.OrientationRequests.WithLabelValues(stage, "failure").Inc()
		a.log.Warn("advisor request failed", zap.String("stage", stage), zap.Error(err))
		return err
	}
	metrics.OrientationRequests.WithLabelValues(stage, "success").Inc()
	return nil
}

func (a *GeminiAdvisor) call(ctx context.Context, prompt string, transcript Transcript) (string, error) {
	payload := geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: prompt},
				{InlineData: &geminiInlineData{
					MimeType: transcript.ContentType,
					Data:     base64.StdEncoding.EncodeToString(transcript.Data),
				}},
			},
		}},
	}
	payload.GenerationConfig.ResponseMimeType = "application/json"

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("orientation: encode request: %w", err)
	}

	target := fmt.Sprintf("%s/v1beta/models/%s:generateContent", a.endpoint, url.PathEscape(a.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("orientation: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("orientation: advisor request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrAdvisorRejected, resp.StatusCode)
	}

	var decoded geminiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxGeminiResponseBytes)).Decode(&decoded); err != nil {
		return "", fmt.Errorf("orientation: decode advisor response: %w", err)
	}
	if reason := decoded.PromptFeedback.BlockReason; reason != "" {
		return "", fmt.Errorf("%w: blocked (%s)", ErrAdvisorRejected, reason)
	}
	if len(decoded.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrAdvisorRejected)
	}

	var sb strings.Builder
	for _, part := range decoded.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// decodeModelJSON accepts bare JSON or JSON wrapped in a markdown code fence.
func decodeModelJSON(text string, dest any) error {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	if err := json.Unmarshal([]byte(text), dest); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAnalysis, err)
	}
	return nil
}

func analysisPrompt(series Series) string {
	return fmt.Sprintf(`You are a university orientation counsellor in Madagascar. The attached image is the grade report of a student who passed the baccalaureate, %s.

1. Read the grades and note the subjects where the student excels, the subjects where they struggle, and their overall leaning.
2. Write between %d and %d questions that reveal the student's interests, career goals, personal constraints and skills outside school.

Answer with JSON only, in this exact shape:
{"summary": "markdown analysis of the profile", "questions": [{"id": 1, "question": "..."}]}
Question ids start at 1 and increase by one.`, series.Label(), MinQuestions, MaxQuestions)
}

func recommendationPrompt(req RecommendationRequest) string {
	answers := make(map[int]string, len(req.Answers))
	for _, a := range req.Answers {
		answers[a.QuestionID] = a.Text
	}

	var qa strings.Builder
	for i, q := range req.Questions {
		fmt.Fprintf(&qa, "Q%d: %s\nA%d: %s\n", i+1, q.Text, i+1, answers[q.ID])
	}

	return fmt.Sprintf(`You are a university orientation counsellor in Madagascar.

Baccalaureate: %s
Transcript analysis: %s

Questions and answers:
%s
Recommend the 5 to 8 university programmes that best fit this student, ordered by match, highest first.

Answer with JSON only, in this exact shape:
{"programs": [{"name": "", "description": "", "careers": [""], "match": 0, "institutions": [""], "strengths": [""], "duration": ""}], "advice": "markdown advice for the student"}
"match" is a percentage from 0 to 100. "institutions" lists Malagasy institutions offering the programme.`, req.Series.Label(), req.Summary, qa.String())
}
