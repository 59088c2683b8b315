package annotation

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"strings"
)

type ResultMeta struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

type CategoryInfo struct {
	Location LocationCode `json:"LocationCategory"`
	Era      EraCode      `json:"EraCategory"`
}

type AnnotationInfo struct {
	SceneExp       string `json:"SceneExp"`
	ColortoneExp   string `json:"ColortoneExp"`
	CompositionExp string `json:"CompositionExp"`
	ObjectExp1     string `json:"ObjectExp1"`
	ObjectExp2     string `json:"ObjectExp2"`
	Explanation    string `json:"Explanation"`
}

// Sentences returns the five descriptive sentences in their fixed order.
func (a *AnnotationInfo) Sentences() []string {
	return []string{a.SceneExp, a.ColortoneExp, a.CompositionExp, a.ObjectExp1, a.ObjectExp2}
}

// JoinExplanation concatenates the five sentences, separated by one space.
func (a *AnnotationInfo) JoinExplanation() string {
	sentences := a.Sentences()
	for i := range sentences {
		sentences[i] = strings.TrimSpace(sentences[i])
	}
	return strings.Join(sentences, " ")
}

// Result is a validated model answer. It is only produced by ParseResponse.
type Result struct {
	Meta           ResultMeta     `json:"meta"`
	CategoryInfo   CategoryInfo   `json:"category_info"`
	AnnotationInfo AnnotationInfo `json:"annotation_info"`
}

type rawResult struct {
	Meta           *ResultMeta     `json:"meta"`
	CategoryInfo   *CategoryInfo   `json:"category_info"`
	AnnotationInfo *AnnotationInfo `json:"annotation_info"`
}

// extractJSON strips code fences and keeps the text between the first "{" and the last "}".
func extractJSON(text string) (string, bool) {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", false
	}
	return text[start : end+1], true
}

// ParseResponse turns model text into a Result. Malformed text yields a *ParseError,
// missing sections and out-of-range values a *ValidationError.
func ParseResponse(text string) (*Result, error) {
	body, ok := extractJSON(text)
	if !ok {
		return nil, &ParseError{Raw: text, Err: errors.New("no JSON object found")}
	}
	var raw rawResult
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	if err := dec.Decode(&raw); err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			return nil, validationErr
		}
		return nil, &ParseError{Raw: text, Err: err}
	}
	switch {
	case raw.Meta == nil:
		return nil, &ValidationError{Field: "meta"}
	case raw.CategoryInfo == nil:
		return nil, &ValidationError{Field: "category_info"}
	case raw.AnnotationInfo == nil:
		return nil, &ValidationError{Field: "annotation_info"}
	}
	result := &Result{
		Meta:           *raw.Meta,
		CategoryInfo:   *raw.CategoryInfo,
		AnnotationInfo: *raw.AnnotationInfo,
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

// Validate checks category ranges and sentence presence, then rewrites
// Explanation as the ordered join of the five sentences.
func (r *Result) Validate() error {
	if err := LocationCategory.Validate(int(r.CategoryInfo.Location)); err != nil {
		return err
	}
	if err := EraCategory.Validate(int(r.CategoryInfo.Era)); err != nil {
		return err
	}
	info := &r.AnnotationInfo
	fields := []string{"SceneExp", "ColortoneExp", "CompositionExp", "ObjectExp1", "ObjectExp2"}
	for i, sentence := range info.Sentences() {
		if strings.TrimSpace(sentence) == "" {
			return &ValidationError{Field: "annotation_info." + fields[i]}
		}
	}
	joined := info.JoinExplanation()
	if info.Explanation != "" && strings.Join(strings.Fields(info.Explanation), " ") != strings.Join(strings.Fields(joined), " ") {
		log.Printf("gemini: Explanation differs from the joined sentences, replacing it")
	}
	info.Explanation = joined
	return nil
}

// ApplyMetadata overwrites meta with the values measured from the file.
func (r *Result) ApplyMetadata(meta *ImageMetadata) {
	if meta == nil {
		return
	}
	r.Meta = ResultMeta{Width: meta.Width, Height: meta.Height, Format: meta.Format}
}
