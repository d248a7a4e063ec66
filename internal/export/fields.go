package export

import (
	"regexp"
	"sort"
	"strings"
)

// Field types understood by the destination's custom-asset schema.
const (
	FieldText     = "text"
	FieldTextbox  = "textbox"
	FieldNumber   = "number"
	FieldDate     = "date"
	FieldCheckbox = "checkbox"
	FieldSelect   = "select"
	FieldPassword = "password"
	FieldTOTP     = "totp"
)

// FieldDefinition is the inferred schema for one custom-asset column.
type FieldDefinition struct {
	Name         string   `json:"name" yaml:"name"`
	Key          string   `json:"key" yaml:"key"`
	FieldType    string   `json:"field_type" yaml:"field_type"`
	Required     bool     `json:"required" yaml:"required"`
	ShowInList   bool     `json:"show_in_list" yaml:"show_in_list"`
	Options      []string `json:"options,omitempty" yaml:"options,omitempty"`
	SampleValues []string `json:"sample_values,omitempty" yaml:"sample_values,omitempty"`
}

var (
	passwordNameRe = regexp.MustCompile(`(?i)password|secret|key|credential|token`)
	totpNameRe     = regexp.MustCompile(`(?i)totp|otp|mfa|2fa|two.?factor`)
	numberRe       = regexp.MustCompile(`^-?\d+(\.\d+)?([eE][+-]?\d+)?$`)
	keySeparators  = regexp.MustCompile(`[^a-z0-9]+`)

	dateRes = []*regexp.Regexp{
		regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([T ]\d{2}:\d{2}(:\d{2}(\.\d+)?)?(Z|[+-]\d{2}:?\d{2})?)?$`),
		regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4}$`),
		regexp.MustCompile(`^\d{4}/\d{2}/\d{2}$`),
		regexp.MustCompile(`^\d{2}-\d{2}-\d{4}$`),
	}
)

var boolValues = map[string]bool{
	"true": true, "false": true, "yes": true, "no": true,
	"1": true, "0": true, "on": true, "off": true,
	"enabled": true, "disabled": true,
}

// Distinct-value ceiling for select inference.
const maxSelectOptions = 10

// Long-text threshold for textbox inference.
const textboxLength = 255

// InferFields infers a FieldDefinition per non-metadata column, in
// declaration order. The first three fields are flagged show_in_list.
func InferFields(headers []string, rows []map[string]string) []FieldDefinition {
	var fields []FieldDefinition
	for _, h := range headers {
		if h == "" || metadataColumns[strings.ToLower(h)] {
			continue
		}
		values := make([]string, 0, len(rows))
		for _, row := range rows {
			values = append(values, row[strings.ToLower(h)])
		}
		f := InferField(h, values)
		f.ShowInList = len(fields) < 3
		fields = append(fields, f)
	}
	return fields
}

// InferField classifies a single column. The checks run in a fixed
// priority order and the first match wins, so a column named "API Key"
// infers password even when every value is numeric.
func InferField(name string, values []string) FieldDefinition {
	f := FieldDefinition{
		Name:      name,
		Key:       FieldKey(name),
		FieldType: FieldText,
	}

	var nonEmpty []string
	for _, v := range values {
		if v != "" {
			nonEmpty = append(nonEmpty, v)
		}
	}
	f.Required = len(values) > 0 && len(nonEmpty) == len(values)
	f.SampleValues = sampleValues(nonEmpty, 5)

	switch {
	case passwordNameRe.MatchString(name):
		f.FieldType = FieldPassword
	case totpNameRe.MatchString(name):
		f.FieldType = FieldTOTP
	case len(nonEmpty) > 0 && allMatch(nonEmpty, isBool):
		f.FieldType = FieldCheckbox
	case len(nonEmpty) > 0 && allMatch(nonEmpty, numberRe.MatchString):
		f.FieldType = FieldNumber
	case len(nonEmpty) > 0 && allMatch(nonEmpty, isDate):
		f.FieldType = FieldDate
	case isSelect(nonEmpty):
		f.FieldType = FieldSelect
		f.Options = distinctSorted(nonEmpty)
	case isTextbox(nonEmpty):
		f.FieldType = FieldTextbox
	}
	return f
}

// FieldKey converts a column header to a lowercase snake_case key.
// Runs of non-alphanumeric characters collapse to a single underscore;
// a header that reduces to nothing becomes "field".
func FieldKey(name string) string {
	key := keySeparators.ReplaceAllString(strings.ToLower(name), "_")
	key = strings.Trim(key, "_")
	if key == "" {
		return "field"
	}
	return key
}

func allMatch(values []string, fn func(string) bool) bool {
	for _, v := range values {
		if !fn(v) {
			return false
		}
	}
	return true
}

func isBool(v string) bool {
	return boolValues[strings.ToLower(v)]
}

func isDate(v string) bool {
	for _, re := range dateRes {
		if re.MatchString(v) {
			return true
		}
	}
	return false
}

// isSelect holds when there are at most 10 distinct values and at least
// one value recurs — an all-unique column is not an enumeration.
func isSelect(nonEmpty []string) bool {
	if len(nonEmpty) == 0 {
		return false
	}
	distinct := make(map[string]bool)
	for _, v := range nonEmpty {
		distinct[v] = true
	}
	return len(distinct) <= maxSelectOptions && len(distinct) < len(nonEmpty)
}

// isTextbox holds when the majority of values are multi-line or longer
// than 255 characters.
func isTextbox(nonEmpty []string) bool {
	if len(nonEmpty) == 0 {
		return false
	}
	long := 0
	for _, v := range nonEmpty {
		if strings.Contains(v, "\n") || len(v) > textboxLength {
			long++
		}
	}
	return long*2 > len(nonEmpty)
}

func distinctSorted(values []string) []string {
	set := make(map[string]bool)
	for _, v := range values {
		set[v] = true
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func sampleValues(values []string, max int) []string {
	var out []string
	seen := make(map[string]bool)
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
		if len(out) == max {
			break
		}
	}
	return out
}
