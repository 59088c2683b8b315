package annotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
)

// Analyzer is the part of Client the HTTP app and the batch pipeline depend on.
type Analyzer interface {
	Analyze(ctx context.Context, req *ImageRequest) (*Result, error)
}

// AnalyzerApp serves single-image analysis over HTTP.
type AnalyzerApp struct {
	Analyzer       Analyzer
	PromptTemplate string
	MaxUploadBytes int64
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

type analyzeResponse struct {
	Filename string         `json:"filename"`
	Metadata *ImageMetadata `json:"metadata"`
	Result   *Result        `json:"result"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason Reason `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func (a *AnalyzerApp) promptTemplate() string {
	if a.PromptTemplate == "" {
		return DefaultPromptTemplate()
	}
	return a.PromptTemplate
}

func (a *AnalyzerApp) GetHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/prompt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		io.WriteString(w, a.promptTemplate())
	})
	mux.HandleFunc("POST /api/analyze", a.handleAnalyze)
	if a.Metrics != nil {
		mux.Handle("GET /metrics", a.Metrics)
	}
	return sessionMiddleware(HTTPLogger(mux))
}

func (a *AnalyzerApp) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	session := GetSession(r.Context())
	maxBytes := a.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("while reading upload: %s", err)})
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing form file 'image'"})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("while reading upload: %s", err)})
		return
	}
	meta, err := MetadataFromBytes(data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	session.SetUpload(header.Filename, meta)

	template := a.promptTemplate()
	if custom := r.FormValue("prompt"); custom != "" {
		template = custom
	}
	result, err := a.Analyzer.Analyze(r.Context(), &ImageRequest{
		Data:           data,
		MIMEType:       MIMEType(meta.Format),
		Metadata:       meta,
		PromptTemplate: template,
	})
	session.SetOutcome(result, err)
	a.writeOutcome(w, session)
}

func (a *AnalyzerApp) writeOutcome(w http.ResponseWriter, session *Session) {
	filename, meta := session.Upload()
	result, err := session.Outcome()
	if err != nil {
		resp := errorResponse{Error: err.Error(), Reason: ReasonOf(err)}
		var parseErr *ParseError
		if errors.As(err, &parseErr) {
			resp.Detail = parseErr.Raw
		}
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusOK, analyzeResponse{Filename: filename, Metadata: meta, Result: result})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("http: while writing response: %s", err)
	}
}
