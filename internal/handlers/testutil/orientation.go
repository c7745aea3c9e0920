package testutil

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/authgate/internal/orientation"
)

// PNGTranscript is the smallest payload http.DetectContentType reports as image/png.
var PNGTranscript = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR transcript")

// StubAdvisor answers orientation requests with canned results.
type StubAdvisor struct {
	mu           sync.Mutex
	Analysis     orientation.Analysis
	AnalyzeErr   error
	Result       orientation.Recommendation
	RecommendErr error
	Recommends   int
}

// NewStubAdvisor returns an advisor that asks three questions and recommends one programme.
func NewStubAdvisor() *StubAdvisor {
	return &StubAdvisor{
		Analysis: orientation.Analysis{
			Summary: "Good results in the sciences.",
			Questions: []orientation.Question{
				{ID: 1, Text: "What do you enjoy studying?"},
				{ID: 2, Text: "What job do you imagine?"},
				{ID: 3, Text: "Where would you like to study?"},
			},
		},
		Result: orientation.Recommendation{
			Programs: []orientation.Program{{Name: "Medicine", Match: 88, Careers: []string{"Doctor"}, Duration: "7 years"}},
			Advice:   "Prepare for the entrance exam.",
		},
	}
}

func (a *StubAdvisor) Analyze(context.Context, orientation.AnalysisRequest) (orientation.Analysis, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Analysis, a.AnalyzeErr
}

func (a *StubAdvisor) Recommend(context.Context, orientation.RecommendationRequest) (orientation.Recommendation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Recommends++
	return a.Result, a.RecommendErr
}

// Upload posts a multipart orientation form with the transcript attached.
func (e *Env) Upload(path, series string, transcript []byte, contentType, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if series != "" {
		require.NoError(e.T, form.WriteField("series", series))
	}
	if transcript != nil {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="transcript"; filename="bulletin.png"`)
		header.Set("Content-Type", contentType)
		part, err := form.CreatePart(header)
		require.NoError(e.T, err)
		_, err = part.Write(transcript)
		require.NoError(e.T, err)
	}
	require.NoError(e.T, form.Close())

	req, err := http.NewRequest(http.MethodPost, path, &body)
	require.NoError(e.T, err)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("User-Agent", ClientUserAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
