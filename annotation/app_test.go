package annotation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAnalyzer struct {
	result *Result
	err    error
	last   *ImageRequest
}

func (s *stubAnalyzer) Analyze(ctx context.Context, req *ImageRequest) (*Result, error) {
	s.last = req
	return s.result, s.err
}

func multipartImage(t *testing.T, prompt string) (*bytes.Buffer, string) {
	t.Helper()
	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 20, 10))))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", "street.png")
	require.NoError(t, err)
	fw.Write(img.Bytes())
	if prompt != "" {
		mw.WriteField("prompt", prompt)
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func TestAnalyzerApp_Analyze(t *testing.T) {
	result, err := ParseResponse(validResponse)
	require.NoError(t, err)
	stub := &stubAnalyzer{result: result}
	handler := (&AnalyzerApp{Analyzer: stub}).GetHTTPHandler()

	body, contentType := multipartImage(t, "custom {metadata_section}")
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp analyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "street.png", resp.Filename)
	assert.Equal(t, 20, resp.Metadata.Width)
	assert.Equal(t, LocationCode(1), resp.Result.CategoryInfo.Location)

	assert.Equal(t, "image/png", stub.last.MIMEType)
	assert.Equal(t, "custom {metadata_section}", stub.last.PromptTemplate)
}

func TestAnalyzerApp_AnalyzeFailure(t *testing.T) {
	stub := &stubAnalyzer{err: &AnalysisError{Reason: ReasonParse, Attempts: 1, Err: &ParseError{Raw: "not json", Err: errors.New("no JSON object found")}}}
	handler := (&AnalyzerApp{Analyzer: stub}).GetHTTPHandler()

	body, contentType := multipartImage(t, "")
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ReasonParse, resp.Reason)
	assert.Equal(t, "not json", resp.Detail)
	assert.Equal(t, DefaultPromptTemplate(), stub.last.PromptTemplate)
}

func TestAnalyzerApp_BadUpload(t *testing.T) {
	handler := (&AnalyzerApp{Analyzer: &stubAnalyzer{}}).GetHTTPHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader("plain"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzerApp_Routes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	})
	handler := (&AnalyzerApp{PromptTemplate: "my prompt", Metrics: metrics}).GetHTTPHandler()

	for path, want := range map[string]string{
		"/healthz":    "ok",
		"/api/prompt": "my prompt",
		"/metrics":    "# metrics",
	} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, want, rec.Body.String(), path)
	}
}

func TestHTTPLogger_RecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	handler := sessionMiddleware(HTTPLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := GetSession(r.Context())
		session.SetUpload("night.jpg", nil)
		session.SetOutcome(nil, &AnalysisError{Reason: ReasonBlocked, Attempts: 1, Err: errors.New("no candidates")})
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("nope"))
	})))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/analyze", nil))

	line := buf.String()
	assert.Contains(t, line, " 502 POST /api/analyze 4B")
	assert.Contains(t, line, "file:night.jpg reason:blocked")
}
