package annotation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CategoryClass is one label of a category with its numeric code.
type CategoryClass struct {
	Code  int
	Label string
}

// Category is a closed enumeration with a label/code bijection.
type Category struct {
	Key        string
	KoreanName string
	Classes    []CategoryClass
}

var (
	LocationCategory = Category{
		Key:        "LocationCategory",
		KoreanName: "장소 구분",
		Classes: []CategoryClass{
			{1, "실내"},
			{2, "실외"},
			{3, "혼합"},
			{4, "기타"},
		},
	}
	EraCategory = Category{
		Key:        "EraCategory",
		KoreanName: "시대 구분",
		Classes: []CategoryClass{
			{1, "전통"},
			{2, "현대"},
			{3, "혼합"},
			{4, "기타"},
		},
	}
)

// Categories is the fixed taxonomy, in catalogue order.
var Categories = []Category{LocationCategory, EraCategory}

func (c Category) Label(code int) (string, bool) {
	for _, class := range c.Classes {
		if class.Code == code {
			return class.Label, true
		}
	}
	return "", false
}

func (c Category) Code(label string) (int, bool) {
	for _, class := range c.Classes {
		if class.Label == label {
			return class.Code, true
		}
	}
	return 0, false
}

// Validate rejects codes outside the enumeration.
func (c Category) Validate(code int) error {
	if _, ok := c.Label(code); !ok {
		return &ValidationError{Field: "category_info." + c.Key, Value: fmt.Sprint(code)}
	}
	return nil
}

// catalogueLine renders "- **Key** (한글): 라벨(1), ...".
func (c Category) catalogueLine() string {
	parts := make([]string, 0, len(c.Classes))
	for _, class := range c.Classes {
		parts = append(parts, fmt.Sprintf("%s(%d)", class.Label, class.Code))
	}
	return fmt.Sprintf("- **%s** (%s): %s", c.Key, c.KoreanName, strings.Join(parts, ", "))
}

// LocationCode and EraCode are validated at unmarshal time.
type LocationCode int

type EraCode int

func (l *LocationCode) UnmarshalJSON(data []byte) error {
	code, err := unmarshalCode(LocationCategory, data)
	if err != nil {
		return err
	}
	*l = LocationCode(code)
	return nil
}

func (e *EraCode) UnmarshalJSON(data []byte) error {
	code, err := unmarshalCode(EraCategory, data)
	if err != nil {
		return err
	}
	*e = EraCode(code)
	return nil
}

func (l LocationCode) Label() string {
	label, _ := LocationCategory.Label(int(l))
	return label
}

func (e EraCode) Label() string {
	label, _ := EraCategory.Label(int(e))
	return label
}

// unmarshalCode accepts only a JSON integer inside the enumeration.
func unmarshalCode(c Category, data []byte) (int, error) {
	var code int
	if err := json.Unmarshal(data, &code); err != nil {
		return 0, &ValidationError{Field: "category_info." + c.Key, Value: string(data)}
	}
	return code, c.Validate(code)
}
