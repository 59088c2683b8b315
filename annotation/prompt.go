package annotation

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

const (
	MetadataPlaceholder   = "{metadata_section}"
	CategoriesPlaceholder = "{categories_text}"
)

//go:embed prompts/default.md
var defaultPrompt string

// DefaultPromptTemplate returns the bundled template.
func DefaultPromptTemplate() string {
	return defaultPrompt
}

// LoadPromptTemplate reads a template override, or returns the bundled one when filename is empty.
func LoadPromptTemplate(filename string) (string, error) {
	if filename == "" {
		return defaultPrompt, nil
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return "", fmt.Errorf("while reading prompt template '%s': %w", filename, err)
	}
	return string(data), nil
}

// MetadataSection renders the block the model must copy verbatim.
func MetadataSection(meta *ImageMetadata) string {
	if meta == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## 이미지 메타데이터 (정확한 정보 - 반드시 사용)\n")
	sb.WriteString("**이 정보는 실제 이미지에서 추출한 정확한 값입니다. 추측하지 말고 아래 값을 그대로 사용하세요:**\n")
	fmt.Fprintf(&sb, "- **이미지 해상도**: %d × %d 픽셀\n", meta.Width, meta.Height)
	fmt.Fprintf(&sb, "- **이미지 포맷**: %s\n", meta.Format)
	fmt.Fprintf(&sb, "- **파일 크기**: %d bytes\n", meta.FileSize)
	sb.WriteString("\n**중요: 위 값들은 절대 변경하거나 추측하지 마세요. JSON 출력 시 그대로 사용하세요.**")
	return sb.String()
}

// CategoriesText renders every valid class of the taxonomy.
func CategoriesText() string {
	lines := make([]string, 0, len(Categories))
	for _, c := range Categories {
		lines = append(lines, c.catalogueLine())
	}
	return strings.Join(lines, "\n")
}

// BuildPrompt fills both placeholders of template.
func BuildPrompt(template string, meta *ImageMetadata) string {
	return strings.NewReplacer(
		MetadataPlaceholder, MetadataSection(meta),
		CategoriesPlaceholder, CategoriesText(),
	).Replace(template)
}
