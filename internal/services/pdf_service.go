package services

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"essay-grader/internal/models"
	"essay-grader/internal/utils"

	"github.com/jung-kurt/gofpdf/v2"
)

const (
	pageWidth     = 180.0 // A4 width minus 15mm margins
	lineHeight    = 6.0
	maxWordRunes  = 50
	utf8FontAlias = "ReportFont"
)

// PDFService renders essay reports as PDF
type PDFService struct {
	fontPath string
}

// ReportMeta carries what the renderer needs beyond the report itself
type ReportMeta struct {
	TaskID      string
	GeneratedAt time.Time
}

// NewPDFService creates a renderer. fontPath points at a UTF-8 TTF font and is
// needed for CJK text; without it the core Arial font is used.
func NewPDFService(fontPath string) *PDFService {
	return &PDFService{fontPath: fontPath}
}

// pdfWriter bundles the document with its font family and text translator
type pdfWriter struct {
	pdf    *gofpdf.Fpdf
	family string
	tr     func(string) string
}

func (w *pdfWriter) font(style string, size float64) {
	w.pdf.SetFont(w.family, style, size)
}

// newWriter registers the configured UTF-8 font. Without one, text is
// translated to cp1252 for the core Arial font and CJK runes are lost.
func (s *PDFService) newWriter(pdf *gofpdf.Fpdf) (*pdfWriter, error) {
	if s.fontPath == "" {
		return &pdfWriter{pdf: pdf, family: "Arial", tr: pdf.UnicodeTranslatorFromDescriptor("")}, nil
	}
	if _, err := os.Stat(s.fontPath); err != nil {
		return nil, fmt.Errorf("PDF font not available: %w", err)
	}
	pdf.AddUTF8Font(utf8FontAlias, "", s.fontPath)
	pdf.AddUTF8Font(utf8FontAlias, "B", s.fontPath)
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("PDF font %s unusable: %w", s.fontPath, err)
	}
	return &pdfWriter{pdf: pdf, family: utf8FontAlias, tr: func(s string) string { return s }}, nil
}

// GenerateReportPDF renders the report with the original text annotated
func (s *PDFService) GenerateReportPDF(report *models.EssayReport, meta ReportMeta) ([]byte, error) {
	if report == nil {
		return nil, fmt.Errorf("invalid report data")
	}
	if meta.GeneratedAt.IsZero() {
		meta.GeneratedAt = time.Now()
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AliasNbPages("{nb}")

	w, err := s.newWriter(pdf)
	if err != nil {
		return nil, err
	}

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		w.font("", 9)
		pdf.SetTextColor(108, 117, 125) // Gray
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d of {nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	w.font("B", 22)
	pdf.SetTextColor(0, 102, 204) // Blue
	pdf.CellFormat(0, 14, w.tr("Essay Grading Report"), "", 1, "C", false, 0, "")
	w.font("", 11)
	pdf.SetTextColor(108, 117, 125)
	pdf.CellFormat(0, 8, w.tr("Generated: "+utils.FormatTimestamp(meta.GeneratedAt)), "", 1, "C", false, 0, "")
	if meta.TaskID != "" {
		pdf.CellFormat(0, 6, w.tr("Task: "+meta.TaskID), "", 1, "C", false, 0, "")
	}

	s.addOriginalText(w, report)
	s.addOverallEvaluation(w, report.OverallEvaluation)
	s.addPoints(w, "Highlights", report.Highlights)
	s.addPoints(w, "Improvements", report.Improvements)
	s.addErrorSummary(w, report.ErrorSummary)
	s.addDetailedErrors(w, report.DetailedErrors)
	s.addOptimizations(w, report.Optimizations)
	s.addParagraphReviews(w, report.ParagraphReviews)
	s.addReuseGuide(w, report.MaterialReuseGuide)
	if strings.TrimSpace(report.RevisedText) != "" {
		s.addHeader(w, "Revised Essay")
		s.addParagraph(w, report.RevisedText)
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}
	return buf.Bytes(), nil
}

// addHeader adds a section title with a rule underneath
func (s *PDFService) addHeader(w *pdfWriter, title string) {
	pdf := w.pdf
	pdf.Ln(6)
	w.font("B", 15)
	pdf.SetTextColor(33, 37, 41) // Dark gray
	pdf.CellFormat(0, 9, w.tr(title), "", 1, "L", false, 0, "")
	pdf.SetLineWidth(0.5)
	pdf.SetDrawColor(0, 102, 204)
	pdf.Line(15, pdf.GetY(), 15+pageWidth, pdf.GetY())
	pdf.Ln(3)
}

func (s *PDFService) addSubheader(w *pdfWriter, title string) {
	w.pdf.Ln(1)
	w.font("B", 11)
	w.pdf.SetTextColor(0, 102, 204)
	w.pdf.CellFormat(0, 7, w.tr(title), "", 1, "L", false, 0, "")
}

func (s *PDFService) addParagraph(w *pdfWriter, text string) {
	w.font("", 10)
	w.pdf.SetTextColor(33, 37, 41)
	w.pdf.MultiCell(0, lineHeight, w.tr(ForceWrap(text, maxWordRunes)), "", "L", false)
}

func (s *PDFService) addBullet(w *pdfWriter, text string) {
	w.font("", 10)
	w.pdf.SetTextColor(33, 37, 41)
	w.pdf.SetX(19)
	w.pdf.MultiCell(pageWidth-4, lineHeight, w.tr("- "+ForceWrap(text, maxWordRunes)), "", "L", false)
}

// addOriginalText writes the essay with located errors in red and
// optimizations in blue, each followed by its number
func (s *PDFService) addOriginalText(w *pdfWriter, report *models.EssayReport) {
	if strings.TrimSpace(report.OriginalText) == "" {
		return
	}
	s.addHeader(w, "Original Text")

	text := report.OriginalText
	pdf := w.pdf
	w.font("", 11)
	for _, seg := range SegmentText(text, LocateAnnotations(text, report)) {
		switch {
		case seg.Annotation == nil:
			pdf.SetTextColor(33, 37, 41)
		case seg.Annotation.Kind == AnnotationError:
			pdf.SetTextColor(200, 35, 51) // Red
		default:
			pdf.SetTextColor(0, 102, 204) // Blue
		}
		pdf.Write(lineHeight+1, w.tr(ForceWrap(seg.Text, maxWordRunes)))
		if seg.Annotation != nil {
			w.font("B", 8)
			pdf.Write(lineHeight+1, w.tr(fmt.Sprintf("[%d]", seg.Annotation.Number)))
			w.font("", 11)
		}
	}
	pdf.SetTextColor(33, 37, 41)
	pdf.Ln(lineHeight + 2)
}

func (s *PDFService) addOverallEvaluation(w *pdfWriter, eval models.OverallEvaluation) {
	s.addHeader(w, "Overall Evaluation")
	pdf := w.pdf

	rows := [][2]string{
		{"Tier", eval.Tier},
		{"Total score", eval.TotalScore},
		{"Relevance", eval.ScoreBreakdown.Relevance},
		{"Grammar & vocabulary", eval.ScoreBreakdown.GrammarVocab},
		{"Logic & structure", eval.ScoreBreakdown.LogicStructure},
		{"Content", eval.ScoreBreakdown.Content},
	}
	pdf.SetDrawColor(222, 226, 230)
	pdf.SetLineWidth(0.2)
	for i, row := range rows {
		if row[1] == "" {
			continue
		}
		fill := i%2 == 0
		pdf.SetFillColor(248, 249, 250) // Light gray
		w.font("B", 10)
		pdf.SetTextColor(33, 37, 41)
		pdf.CellFormat(60, 7, w.tr(row[0]), "1", 0, "L", fill, 0, "")
		w.font("", 10)
		pdf.CellFormat(pageWidth-60, 7, w.tr(row[1]), "1", 1, "L", fill, 0, "")
	}

	if eval.BriefComment != "" {
		pdf.Ln(3)
		s.addParagraph(w, eval.BriefComment)
	}
}

func (s *PDFService) addPoints(w *pdfWriter, title string, points models.CategorizedPoints) {
	groups := []struct {
		name   string
		points []models.Point
	}{
		{"Content", points.Content},
		{"Language", points.Language},
		{"Structure", points.Structure},
	}
	if len(points.Content)+len(points.Language)+len(points.Structure) == 0 {
		return
	}

	s.addHeader(w, title)
	for _, g := range groups {
		if len(g.points) == 0 {
			continue
		}
		s.addSubheader(w, g.name)
		for _, p := range g.points {
			line := p.Point
			if p.Description != "" {
				line += ": " + p.Description
			}
			if p.Evidence != "" {
				line += " (" + p.Evidence + ")"
			}
			s.addBullet(w, line)
		}
	}
}

func (s *PDFService) addErrorSummary(w *pdfWriter, summary models.ErrorSummary) {
	if len(summary.Grammar)+len(summary.Spelling)+len(summary.Structure) == 0 {
		return
	}
	s.addHeader(w, "Error Summary")
	for _, g := range []struct {
		name  string
		items []string
	}{
		{"Grammar", summary.Grammar},
		{"Spelling", summary.Spelling},
		{"Structure", summary.Structure},
	} {
		if len(g.items) == 0 {
			continue
		}
		s.addSubheader(w, g.name)
		for _, item := range g.items {
			s.addBullet(w, item)
		}
	}
}

func (s *PDFService) addDetailedErrors(w *pdfWriter, errs []models.DetailedError) {
	if len(errs) == 0 {
		return
	}
	s.addHeader(w, "Detailed Errors")
	for _, e := range errs {
		line := fmt.Sprintf("[%s] %s -> %s", e.Type, e.OriginalSentence, e.Correction)
		if e.Explanation != "" {
			line += " (" + e.Explanation + ")"
		}
		s.addBullet(w, line)
		if e.AdvancedSuggestion != "" {
			s.addBullet(w, "Advanced: "+e.AdvancedSuggestion)
		}
	}
}

func (s *PDFService) addOptimizations(w *pdfWriter, opts []models.Optimization) {
	if len(opts) == 0 {
		return
	}
	s.addHeader(w, "Optimizations")
	for _, o := range opts {
		line := fmt.Sprintf("[%s] %s -> %s", o.Type, o.OriginalSentence, o.Correction)
		if o.Explanation != "" {
			line += " (" + o.Explanation + ")"
		}
		s.addBullet(w, line)
	}
}

func (s *PDFService) addParagraphReviews(w *pdfWriter, reviews []models.ParagraphReview) {
	if len(reviews) == 0 {
		return
	}
	s.addHeader(w, "Paragraph Reviews")
	for _, r := range reviews {
		line := fmt.Sprintf("Paragraph %d: %s", r.ParagraphIndex, r.Summary)
		if r.Issues != "" {
			line += " | Issues: " + r.Issues
		}
		s.addBullet(w, line)
		for _, c := range r.SpecificCorrections {
			s.addBullet(w, fmt.Sprintf("    %s -> %s", c.Wrong, c.Right))
		}
	}
}

func (s *PDFService) addReuseGuide(w *pdfWriter, guide models.MaterialReuseGuide) {
	if len(guide.ApplicableThemes) == 0 && guide.ProcessingDirection == "" && guide.ExpansionIdeas == "" {
		return
	}
	s.addHeader(w, "Material Reuse Guide")
	for _, theme := range guide.ApplicableThemes {
		line := theme.Theme
		if theme.Years != "" {
			line += " (" + theme.Years + ")"
		}
		if theme.Description != "" {
			line += ": " + theme.Description
		}
		s.addBullet(w, line)
	}
	if guide.ProcessingDirection != "" {
		s.addSubheader(w, "Direction")
		s.addParagraph(w, guide.ProcessingDirection)
	}
	if guide.ExpansionIdeas != "" {
		s.addSubheader(w, "Expansion Ideas")
		s.addParagraph(w, guide.ExpansionIdeas)
	}
}

// ForceWrap breaks space-separated words longer than limit runes so the
// renderer never has to overflow a line. Words containing CJK runes are left
// alone since they wrap per character anyway.
func ForceWrap(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		words := strings.Split(line, " ")
		for j, word := range words {
			if utf8.RuneCountInString(word) <= limit || hasCJK(word) {
				continue
			}
			runes := []rune(word)
			var chunks []string
			for len(runes) > limit {
				chunks = append(chunks, string(runes[:limit]))
				runes = runes[limit:]
			}
			chunks = append(chunks, string(runes))
			words[j] = strings.Join(chunks, " ")
		}
		lines[i] = strings.Join(words, " ")
	}
	return strings.Join(lines, "\n")
}

func hasCJK(s string) bool {
	for _, r := range s {
		if r >= 0x2E80 {
			return true
		}
	}
	return false
}
