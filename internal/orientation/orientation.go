// Package orientation holds the study-orientation domain types and the
// generative AI advisor that turns a transcript and a short Q&A into
// programme recommendations.
package orientation

import (
	"errors"
	"fmt"
	"strings"
)

// Series is the baccalaureate track a student graduated from.
type Series string

const (
	SeriesS   Series = "S"
	SeriesC   Series = "C"
	SeriesD   Series = "D"
	SeriesA1  Series = "A1"
	SeriesA2  Series = "A2"
	SeriesL   Series = "L"
	SeriesOSE Series = "OSE"
)

var seriesLabels = map[Series]string{
	SeriesS:   "Series S (Science)",
	SeriesC:   "Series C",
	SeriesD:   "Series D",
	SeriesA1:  "Series A1",
	SeriesA2:  "Series A2",
	SeriesL:   "Series L (Literature)",
	SeriesOSE: "Series OSE",
}

// ParseSeries normalises value and reports whether it names a known series.
func ParseSeries(value string) (Series, bool) {
	s := Series(strings.ToUpper(strings.TrimSpace(value)))
	_, ok := seriesLabels[s]
	return s, ok
}

// Label returns a human readable name for the series.
func (s Series) Label() string {
	if label, ok := seriesLabels[s]; ok {
		return label
	}
	return string(s)
}

// A session asks between MinQuestions and MaxQuestions follow-up questions.
const (
	MinQuestions = 3
	MaxQuestions = 4
)

var (
	ErrAdvisorDisabled = errors.New("orientation: advisor disabled")
	ErrInvalidAnalysis = errors.New("orientation: invalid analysis")
)

// Transcript is the uploaded grade report image.
type Transcript struct {
	Data        []byte
	ContentType string
}

// Question is a follow-up question generated from the transcript.
type Question struct {
	ID   int    `json:"id"`
	Text string `json:"question"`
}

// Answer is the student's reply to one Question.
type Answer struct {
	QuestionID int    `json:"question_id"`
	Text       string `json:"answer"`
}

// Program is one recommended field of study.
type Program struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Careers      []string `json:"careers"`
	Match        int      `json:"match"`
	Institutions []string `json:"institutions,omitempty"`
	Strengths    []string `json:"strengths"`
	Duration     string   `json:"duration"`
}

// AnalysisRequest is the first advisor call: read the transcript, ask questions.
type AnalysisRequest struct {
	Series     Series
	Transcript Transcript
}

// Analysis is the advisor's reading of a transcript.
type Analysis struct {
	Summary   string     `json:"summary"`
	Questions []Question `json:"questions"`
}

// Validate checks the question count and that IDs are positive and unique.
func (a Analysis) Validate() error {
	if n := len(a.Questions); n < MinQuestions || n > MaxQuestions {
		return fmt.Errorf("%w: expected %d to %d questions, got %d", ErrInvalidAnalysis, MinQuestions, MaxQuestions, n)
	}
	seen := make(map[int]struct{}, len(a.Questions))
	for _, q := range a.Questions {
		if q.ID <= 0 || strings.TrimSpace(q.Text) == "" {
			return fmt.Errorf("%w: question %d is incomplete", ErrInvalidAnalysis, q.ID)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: duplicate question id %d", ErrInvalidAnalysis, q.ID)
		}
		seen[q.ID] = struct{}{}
	}
	return nil
}

// RecommendationRequest is the second advisor call.
type RecommendationRequest struct {
	Series     Series
	Summary    string
	Questions  []Question
	Answers    []Answer
	Transcript Transcript
}

// Recommendation is the final advice for a session.
type Recommendation struct {
	Programs []Program `json:"programs"`
	Advice   string    `json:"advice"`
}

// MatchAnswers reports whether answers cover exactly the question IDs, once each.
func MatchAnswers(questions []Question, answers []Answer) bool {
	if len(questions) != len(answers) {
		return false
	}
	pending := make(map[int]struct{}, len(questions))
	for _, q := range questions {
		pending[q.ID] = struct{}{}
	}
	for _, a := range answers {
		if _, ok := pending[a.QuestionID]; !ok {
			return false
		}
		delete(pending, a.QuestionID)
	}
	return len(pending) == 0
}
