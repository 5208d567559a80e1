package services

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"essay-grader/internal/models"

	"github.com/kaptinlin/jsonrepair"
)

const previewLimit = 500

// ReportParseError carries the raw model output that could not be turned into a report
type ReportParseError struct {
	Raw string
	Err error
}

func (e *ReportParseError) Error() string {
	return fmt.Sprintf("failed to parse report JSON: %v (response preview: %s)", e.Err, preview(e.Raw))
}

func (e *ReportParseError) Unwrap() error { return e.Err }

func preview(s string) string {
	if len(s) <= previewLimit {
		return s
	}
	cut := previewLimit
	// keep the cut on a rune boundary
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// StripCodeFences removes a surrounding ```json / ``` markdown fence
func StripCodeFences(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```JSON")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
		content = strings.TrimSpace(content)
	}
	return content
}

// ParseReport turns model output into a report. It strips code fences, falls
// back to a lenient repair when strict parsing fails and coerces drifting field
// types. It returns the report, the normalized JSON text and whether repair was
// needed.
func ParseReport(content string) (*models.EssayReport, string, bool, error) {
	cleaned := StripCodeFences(content)
	if cleaned == "" {
		return nil, "", false, &ReportParseError{Raw: content, Err: fmt.Errorf("empty content")}
	}

	repaired := false
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		fixed, repairErr := jsonrepair.JSONRepair(cleaned)
		if repairErr != nil {
			return nil, "", false, &ReportParseError{Raw: content, Err: fmt.Errorf("%v; repair failed: %w", err, repairErr)}
		}
		data = nil
		if err := json.Unmarshal([]byte(fixed), &data); err != nil {
			return nil, "", false, &ReportParseError{Raw: content, Err: fmt.Errorf("repaired JSON is not an object: %w", err)}
		}
		repaired = true
	}
	if data == nil {
		return nil, "", repaired, &ReportParseError{Raw: content, Err: fmt.Errorf("JSON is not an object")}
	}

	normalizeReport(data)

	normalized, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, "", repaired, fmt.Errorf("failed to normalize report data: %w", err)
	}

	var report models.EssayReport
	if err := json.Unmarshal(normalized, &report); err != nil {
		return nil, "", repaired, &ReportParseError{Raw: content, Err: fmt.Errorf("failed to unmarshal normalized report: %w", err)}
	}

	return &report, string(normalized), repaired, nil
}

var (
	reportIntFields = []string{"id", "paragraph_index"}
	// Text fields by name. "content" and "structure" are lists in some
	// objects and are handled by position in normalizeReport.
	reportTextFields = []string{
		"tier", "total_score", "brief_comment", "relevance", "grammar_vocab", "logic_structure",
		"point", "evidence", "description",
		"type", "original_sentence", "correction", "explanation", "advanced_suggestion",
		"summary", "issues", "wrong", "right",
		"theme", "years", "processing_direction", "expansion_ideas",
	}
	reportObjectLists = []string{"detailed_errors", "optimizations", "paragraph_reviews", "specific_corrections", "applicable_themes"}
)

// normalizeReport fixes the type drift models commonly produce
func normalizeReport(data map[string]interface{}) {
	// Sections that must be objects are dropped when the model sent anything else
	for _, key := range []string{"overall_evaluation", "highlights", "improvements", "error_summary", "material_reuse_guide"} {
		if v, ok := data[key]; ok {
			if _, isObj := v.(map[string]interface{}); !isObj {
				delete(data, key)
			}
		}
	}
	if eval, ok := data["overall_evaluation"].(map[string]interface{}); ok {
		if v, ok := eval["score_breakdown"]; ok {
			if _, isObj := v.(map[string]interface{}); !isObj {
				delete(eval, "score_breakdown")
			}
		}
	}

	for _, key := range []string{"highlights", "improvements"} {
		if group, ok := data[key].(map[string]interface{}); ok {
			for _, category := range []string{"content", "language", "structure"} {
				group[category] = pointList(group[category])
			}
		}
	}

	if summary, ok := data["error_summary"].(map[string]interface{}); ok {
		for _, category := range []string{"grammar", "spelling", "structure"} {
			summary[category] = stringList(summary[category])
		}
	}

	if eval, ok := data["overall_evaluation"].(map[string]interface{}); ok {
		if breakdown, ok := eval["score_breakdown"].(map[string]interface{}); ok {
			if v, ok := breakdown["content"]; ok {
				breakdown["content"] = textValue(v)
			}
		}
	}

	for _, key := range []string{"original_text", "revised_text"} {
		if v, ok := data[key]; ok {
			data[key] = textValue(v)
		}
	}

	fixTypes(data)
}

// fixTypes recursively coerces well-known scalar fields
func fixTypes(v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		for _, field := range reportIntFields {
			fieldVal, ok := val[field]
			if !ok {
				continue
			}
			switch typed := fieldVal.(type) {
			case string:
				if n, err := strconv.Atoi(strings.TrimSpace(typed)); err == nil {
					val[field] = n
				} else {
					delete(val, field)
				}
			case float64:
				val[field] = int(typed)
			}
		}

		for _, field := range reportTextFields {
			if fieldVal, ok := val[field]; ok {
				val[field] = textValue(fieldVal)
			}
		}

		for _, field := range reportObjectLists {
			if fieldVal, ok := val[field]; ok {
				val[field] = objectList(fieldVal)
			}
		}

		for _, nested := range val {
			fixTypes(nested)
		}
	case []interface{}:
		for _, item := range val {
			fixTypes(item)
		}
	}
}

// scalarString renders numbers and booleans as strings and leaves other values alone
func scalarString(v interface{}) interface{} {
	switch typed := v.(type) {
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(typed)
	case nil:
		return ""
	default:
		return v
	}
}

// textValue flattens whatever a model put in a text field into one string.
// Lists are joined line by line and objects become "key: value" lines.
func textValue(v interface{}) interface{} {
	switch typed := v.(type) {
	case string:
		return typed
	case []interface{}:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			if s, _ := textValue(item).(string); strings.TrimSpace(s) != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	case map[string]interface{}:
		keys := make([]string, 0, len(typed))
		for k := range typed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if s, _ := textValue(typed[k]).(string); strings.TrimSpace(s) != "" {
				parts = append(parts, k+": "+s)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return scalarString(v)
	}
}

// objectList wraps a lone object into a one-element list and drops items
// that are not objects
func objectList(v interface{}) interface{} {
	switch typed := v.(type) {
	case map[string]interface{}:
		return []interface{}{typed}
	case []interface{}:
		kept := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			if obj, ok := item.(map[string]interface{}); ok {
				kept = append(kept, obj)
			}
		}
		return kept
	default:
		return []interface{}{}
	}
}

// stringList accepts a bare string where a list of strings is expected
func stringList(v interface{}) interface{} {
	switch typed := v.(type) {
	case string:
		if strings.TrimSpace(typed) == "" {
			return []interface{}{}
		}
		return []interface{}{typed}
	case []interface{}:
		for i, item := range typed {
			typed[i] = textValue(item)
		}
		return typed
	case map[string]interface{}:
		return []interface{}{textValue(typed)}
	case nil:
		return []interface{}{}
	default:
		return []interface{}{scalarString(typed)}
	}
}

// pointList accepts bare strings where point objects are expected
func pointList(v interface{}) interface{} {
	switch typed := v.(type) {
	case string:
		return []interface{}{map[string]interface{}{"point": typed}}
	case []interface{}:
		kept := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			switch p := item.(type) {
			case string:
				kept = append(kept, map[string]interface{}{"point": p})
			case map[string]interface{}:
				kept = append(kept, p)
			}
		}
		return kept
	case map[string]interface{}:
		return []interface{}{typed}
	default:
		return []interface{}{}
	}
}
