package services

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"essay-grader/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripCodeFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFences("```\n{\"a\":1}\n```  "))
	assert.Equal(t, `{"a":1}`, StripCodeFences(`  {"a":1}  `))
}

func TestParseReport_Strict(t *testing.T) {
	content := "```json\n" + `{
		"original_text": "I has a pen.",
		"overall_evaluation": {"tier": "A", "total_score": 21, "brief_comment": "ok",
			"score_breakdown": {"relevance": 5, "grammar_vocab": "4", "logic_structure": "5", "content": 7}},
		"detailed_errors": [{"id": "3", "type": "grammar", "original_sentence": "I has", "correction": "I have"}],
		"paragraph_reviews": [{"paragraph_index": 1.0, "summary": "s"}],
		"revised_text": "I have a pen."
	}` + "\n```"

	report, normalized, repaired, err := ParseReport(content)
	require.NoError(t, err)
	assert.False(t, repaired)

	assert.Equal(t, "21", report.OverallEvaluation.TotalScore)
	assert.Equal(t, "5", report.OverallEvaluation.ScoreBreakdown.Relevance)
	assert.Equal(t, "7", report.OverallEvaluation.ScoreBreakdown.Content)
	require.Len(t, report.DetailedErrors, 1)
	assert.Equal(t, 3, report.DetailedErrors[0].ID)
	assert.Equal(t, 1, report.ParagraphReviews[0].ParagraphIndex)
	assert.Contains(t, normalized, `"total_score": "21"`)
}

func TestParseReport_RepairsTrailingCommas(t *testing.T) {
	content := `{"original_text": "text", "revised_text": "better", "detailed_errors": [{"id": 1, "original_sentence": "a", "correction": "b",},],}`

	report, _, repaired, err := ParseReport(content)
	require.NoError(t, err)
	assert.True(t, repaired)
	assert.Equal(t, "text", report.OriginalText)
	require.Len(t, report.DetailedErrors, 1)
	assert.Equal(t, "b", report.DetailedErrors[0].Correction)
}

func TestParseReport_CoercesShapes(t *testing.T) {
	content := `{
		"original_text": "x",
		"highlights": {"content": ["vivid"], "language": "fluent", "structure": null},
		"error_summary": {"grammar": "tense", "spelling": null, "structure": [1, "order"]},
		"material_reuse_guide": {"applicable_themes": [{"theme": "t", "years": 2019}]}
	}`

	report, _, _, err := ParseReport(content)
	require.NoError(t, err)
	require.Len(t, report.Highlights.Content, 1)
	assert.Equal(t, "vivid", report.Highlights.Content[0].Point)
	require.Len(t, report.Highlights.Language, 1)
	assert.Equal(t, "fluent", report.Highlights.Language[0].Point)
	assert.Empty(t, report.Highlights.Structure)
	assert.Equal(t, []string{"tense"}, report.ErrorSummary.Grammar)
	assert.Equal(t, []string{"1", "order"}, report.ErrorSummary.Structure)
	assert.Equal(t, "2019", report.MaterialReuseGuide.ApplicableThemes[0].Years)
}

func TestParseReport_Failures(t *testing.T) {
	_, _, _, err := ParseReport("   ")
	var perr *ReportParseError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, err.Error(), "empty content")

	_, _, _, err = ParseReport(`["not", "an", "object"]`)
	require.Error(t, err)
	assert.True(t, errors.As(err, &perr))
}

func TestReportParseError_TruncatesPreview(t *testing.T) {
	err := &ReportParseError{Raw: strings.Repeat("x", 2000), Err: errors.New("bad")}
	msg := err.Error()
	assert.Contains(t, msg, "...")
	assert.Less(t, len(msg), 600)
}

func TestParseReport_ToleratesDrift(t *testing.T) {
	tests := []struct {
		name    string
		content string
		check   func(t *testing.T, r *models.EssayReport)
	}{
		{
			name:    "list where text is expected",
			content: `{"paragraph_reviews": [{"paragraph_index": "1", "summary": "ok", "issues": ["tense", "spelling"]}]}`,
			check: func(t *testing.T, r *models.EssayReport) {
				require.Len(t, r.ParagraphReviews, 1)
				assert.Equal(t, 1, r.ParagraphReviews[0].ParagraphIndex)
				assert.Equal(t, "tense\nspelling", r.ParagraphReviews[0].Issues)
			},
		},
		{
			name:    "list in reuse guide text",
			content: `{"material_reuse_guide": {"processing_direction": ["shorten", "reframe"], "expansion_ideas": ["add data"]}}`,
			check: func(t *testing.T, r *models.EssayReport) {
				assert.Equal(t, "shorten\nreframe", r.MaterialReuseGuide.ProcessingDirection)
				assert.Equal(t, "add data", r.MaterialReuseGuide.ExpansionIdeas)
			},
		},
		{
			name:    "single detailed error object",
			content: `{"detailed_errors": {"id": 1, "type": "grammar", "original_sentence": "I has", "correction": "I have"}}`,
			check: func(t *testing.T, r *models.EssayReport) {
				require.Len(t, r.DetailedErrors, 1)
				assert.Equal(t, "I have", r.DetailedErrors[0].Correction)
			},
		},
		{
			name:    "single optimization object",
			content: `{"optimizations": {"id": "2", "original_sentence": "good", "correction": "excellent"}}`,
			check: func(t *testing.T, r *models.EssayReport) {
				require.Len(t, r.Optimizations, 1)
				assert.Equal(t, 2, r.Optimizations[0].ID)
			},
		},
		{
			name:    "single paragraph review and correction objects",
			content: `{"paragraph_reviews": {"paragraph_index": 1, "summary": "s", "issues": "i", "specific_corrections": {"wrong": "a", "right": "b"}}}`,
			check: func(t *testing.T, r *models.EssayReport) {
				require.Len(t, r.ParagraphReviews, 1)
				require.Len(t, r.ParagraphReviews[0].SpecificCorrections, 1)
				assert.Equal(t, "b", r.ParagraphReviews[0].SpecificCorrections[0].Right)
			},
		},
		{
			name:    "section of the wrong kind",
			content: `{"original_text": ["line one", "line two"], "error_summary": "none", "highlights": {"content": {"point": "vivid"}}}`,
			check: func(t *testing.T, r *models.EssayReport) {
				assert.Equal(t, "line one\nline two", r.OriginalText)
				assert.Empty(t, r.ErrorSummary.Grammar)
				require.Len(t, r.Highlights.Content, 1)
				assert.Equal(t, "vivid", r.Highlights.Content[0].Point)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, normalized, _, err := ParseReport(tt.content)
			require.NoError(t, err)
			tt.check(t, report)

			// the stored JSON decodes the same way
			var again models.EssayReport
			require.NoError(t, json.Unmarshal([]byte(normalized), &again))
			assert.Equal(t, *report, again)
		})
	}
}
