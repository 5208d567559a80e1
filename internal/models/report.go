package models

// EssayReport is the structured critique returned by the grading model
type EssayReport struct {
	OriginalText       string             `json:"original_text" bson:"original_text"`
	OverallEvaluation  OverallEvaluation  `json:"overall_evaluation" bson:"overall_evaluation"`
	Highlights         CategorizedPoints  `json:"highlights" bson:"highlights"`
	Improvements       CategorizedPoints  `json:"improvements" bson:"improvements"`
	ErrorSummary       ErrorSummary       `json:"error_summary" bson:"error_summary"`
	DetailedErrors     []DetailedError    `json:"detailed_errors" bson:"detailed_errors"`
	Optimizations      []Optimization     `json:"optimizations" bson:"optimizations"`
	ParagraphReviews   []ParagraphReview  `json:"paragraph_reviews" bson:"paragraph_reviews"`
	MaterialReuseGuide MaterialReuseGuide `json:"material_reuse_guide" bson:"material_reuse_guide"`
	RevisedText        string             `json:"revised_text" bson:"revised_text"`
}

// OverallEvaluation holds the grade and a short comment
type OverallEvaluation struct {
	Tier           string         `json:"tier" bson:"tier"`
	TotalScore     string         `json:"total_score" bson:"total_score"`
	BriefComment   string         `json:"brief_comment" bson:"brief_comment"`
	ScoreBreakdown ScoreBreakdown `json:"score_breakdown" bson:"score_breakdown"`
}

// ScoreBreakdown holds per-dimension scores as the model wrote them (e.g. "12/15")
type ScoreBreakdown struct {
	Relevance      string `json:"relevance" bson:"relevance"`
	GrammarVocab   string `json:"grammar_vocab" bson:"grammar_vocab"`
	LogicStructure string `json:"logic_structure" bson:"logic_structure"`
	Content        string `json:"content" bson:"content"`
}

// CategorizedPoints groups highlights or improvements by category
type CategorizedPoints struct {
	Content   []Point `json:"content" bson:"content"`
	Language  []Point `json:"language" bson:"language"`
	Structure []Point `json:"structure" bson:"structure"`
}

// Point is a single highlight or improvement
type Point struct {
	Point       string `json:"point" bson:"point"`
	Evidence    string `json:"evidence,omitempty" bson:"evidence,omitempty"`
	Description string `json:"description,omitempty" bson:"description,omitempty"`
}

// ErrorSummary lists error categories in short form
type ErrorSummary struct {
	Grammar   []string `json:"grammar" bson:"grammar"`
	Spelling  []string `json:"spelling" bson:"spelling"`
	Structure []string `json:"structure" bson:"structure"`
}

// DetailedError is a sentence-level mistake with its correction
type DetailedError struct {
	ID                 int    `json:"id" bson:"id"`
	Type               string `json:"type" bson:"type"`
	OriginalSentence   string `json:"original_sentence" bson:"original_sentence"`
	Correction         string `json:"correction" bson:"correction"`
	Explanation        string `json:"explanation" bson:"explanation"`
	AdvancedSuggestion string `json:"advanced_suggestion,omitempty" bson:"advanced_suggestion,omitempty"`
}

// Optimization is a stylistic suggestion for a correct sentence
type Optimization struct {
	ID               int    `json:"id" bson:"id"`
	Type             string `json:"type" bson:"type"`
	OriginalSentence string `json:"original_sentence" bson:"original_sentence"`
	Correction       string `json:"correction" bson:"correction"`
	Explanation      string `json:"explanation" bson:"explanation"`
}

// ParagraphReview is the per-paragraph commentary
type ParagraphReview struct {
	ParagraphIndex      int          `json:"paragraph_index" bson:"paragraph_index"`
	Summary             string       `json:"summary" bson:"summary"`
	Issues              string       `json:"issues" bson:"issues"`
	SpecificCorrections []Correction `json:"specific_corrections" bson:"specific_corrections"`
}

// Correction pairs a wrong phrase with its fix
type Correction struct {
	Wrong string `json:"wrong" bson:"wrong"`
	Right string `json:"right" bson:"right"`
}

// MaterialReuseGuide suggests other prompts this essay's material fits
type MaterialReuseGuide struct {
	ApplicableThemes    []Theme `json:"applicable_themes" bson:"applicable_themes"`
	ProcessingDirection string  `json:"processing_direction" bson:"processing_direction"`
	ExpansionIdeas      string  `json:"expansion_ideas" bson:"expansion_ideas"`
}

// Theme is an exam topic the material can be reused for
type Theme struct {
	Theme       string `json:"theme" bson:"theme"`
	Years       string `json:"years" bson:"years"`
	Description string `json:"description" bson:"description"`
}
