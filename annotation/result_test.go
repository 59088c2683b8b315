package annotation

import (
	"errors"
	"strings"
	"testing"
)

func TestParseResponse(t *testing.T) {
	t.Run("extracts JSON surrounded by prose and fences", func(t *testing.T) {
		result, err := ParseResponse("Here you go:\n" + validResponse + "\nThanks")
		if err != nil {
			t.Fatalf("ParseResponse() error = %v", err)
		}
		if result.CategoryInfo.Era != 2 || result.CategoryInfo.Era.Label() != "현대" {
			t.Errorf("Era = %d", result.CategoryInfo.Era)
		}
	})

	t.Run("explanation is the ordered join of the five sentences", func(t *testing.T) {
		text := strings.Replace(validResponse, `"Explanation": "실내 카페 장면이다. 따뜻한 조명이다. 정면 구도이다. 나무 탁자가 있다. 화분이 놓여 있다."`, `"Explanation": "화분이 놓여 있다. 실내 카페 장면이다."`, 1)
		result, err := ParseResponse(text)
		if err != nil {
			t.Fatalf("ParseResponse() error = %v", err)
		}
		info := result.AnnotationInfo
		want := info.SceneExp + " " + info.ColortoneExp + " " + info.CompositionExp + " " + info.ObjectExp1 + " " + info.ObjectExp2
		if info.Explanation != want {
			t.Errorf("Explanation = %q, want %q", info.Explanation, want)
		}
	})

	t.Run("no braces is a parse error with the raw text", func(t *testing.T) {
		_, err := ParseResponse("no json here")
		var parseErr *ParseError
		if !errors.As(err, &parseErr) || parseErr.Raw != "no json here" {
			t.Errorf("ParseResponse() error = %v", err)
		}
	})

	t.Run("broken JSON is a parse error", func(t *testing.T) {
		_, err := ParseResponse(`{"meta": {"width": }`)
		var parseErr *ParseError
		if !errors.As(err, &parseErr) {
			t.Errorf("ParseResponse() error = %v, want *ParseError", err)
		}
	})

	missing := []struct {
		name, text, field string
	}{
		{"meta", `{"category_info": {"LocationCategory": 1, "EraCategory": 1}, "annotation_info": {}}`, "meta"},
		{"category_info", `{"meta": {}, "annotation_info": {}}`, "category_info"},
		{"annotation_info", `{"meta": {}, "category_info": {"LocationCategory": 1, "EraCategory": 1}}`, "annotation_info"},
		{"a sentence", `{"meta": {}, "category_info": {"LocationCategory": 1, "EraCategory": 1}, "annotation_info": {"SceneExp": "a", "ColortoneExp": "b", "CompositionExp": "c", "ObjectExp1": "d"}}`, "annotation_info.ObjectExp2"},
		{"a category", `{"meta": {}, "category_info": {"LocationCategory": 1}, "annotation_info": {}}`, "category_info.EraCategory"},
	}
	for _, tt := range missing {
		t.Run("missing "+tt.name, func(t *testing.T) {
			_, err := ParseResponse(tt.text)
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) || validationErr.Field != tt.field {
				t.Errorf("ParseResponse() error = %v, want missing %s", err, tt.field)
			}
		})
	}
}

func TestCategoryDomain(t *testing.T) {
	for _, tt := range []struct {
		location, era string
		ok            bool
	}{
		{"1", "1", true},
		{"4", "4", true},
		{"0", "2", false},
		{"5", "2", false},
		{"2", "9", false},
		{`"실내"`, "2", false},
		{"1.5", "2", false},
	} {
		text := `{"meta": {}, "category_info": {"LocationCategory": ` + tt.location + `, "EraCategory": ` + tt.era + `}, "annotation_info": {"SceneExp": "a", "ColortoneExp": "b", "CompositionExp": "c", "ObjectExp1": "d", "ObjectExp2": "e"}}`
		_, err := ParseResponse(text)
		if tt.ok && err != nil {
			t.Errorf("location=%s era=%s: unexpected error %v", tt.location, tt.era, err)
		}
		if !tt.ok {
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Errorf("location=%s era=%s: error = %v, want *ValidationError", tt.location, tt.era, err)
			}
		}
	}
}

func TestCategoryBijection(t *testing.T) {
	for _, c := range Categories {
		for _, class := range c.Classes {
			code, ok := c.Code(class.Label)
			if !ok || code != class.Code {
				t.Errorf("%s: Code(%s) = %d, %v", c.Key, class.Label, code, ok)
			}
			label, ok := c.Label(class.Code)
			if !ok || label != class.Label {
				t.Errorf("%s: Label(%d) = %s, %v", c.Key, class.Code, label, ok)
			}
		}
	}
}
