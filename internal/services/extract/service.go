package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venator/internal/common"
	"github.com/ternarybob/venator/internal/models"
)

// Service parses rendered page HTML into typed records. Extraction is best
// effort per field: a selector that finds nothing yields an empty field and
// an entry in FieldIssues, never a task failure.
type Service struct {
	converter *md.Converter
	logger    arbor.ILogger
}

// NewService creates the extraction service.
func NewService(logger arbor.ILogger) *Service {
	converter := md.NewConverter("", true, nil)

	return &Service{
		converter: converter,
		logger:    logger,
	}
}

// Extract parses the raw page content into the record shape the task's
// scrape type demands.
func (s *Service) Extract(ctx context.Context, task *models.Task, rawContent string) (*models.Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page HTML: %w", err)
	}

	result := &models.Result{
		ID:        common.NewResultID(),
		TaskID:    task.ID,
		Type:      task.ScrapeType,
		Target:    task.Target,
		ScrapedAt: time.Now(),
	}

	issues := &issueList{}

	switch task.ScrapeType {
	case models.ScrapeTypePerson:
		result.Person = s.extractPerson(doc, task, issues)
	case models.ScrapeTypeCompany:
		result.Company = s.extractCompany(doc, task, issues)
	case models.ScrapeTypeJob:
		result.Job = s.extractJob(doc, task, issues)
	case models.ScrapeTypeJobSearch:
		result.JobListings = s.extractJobListings(doc, issues)
	default:
		return nil, fmt.Errorf("unknown scrape type: %s", task.ScrapeType)
	}

	result.FieldIssues = issues.items

	s.logger.Debug().
		Str("task_id", task.ID).
		Str("type", string(task.ScrapeType)).
		Int("field_issues", len(issues.items)).
		Msg("Extraction completed")

	return result, nil
}

// markdown converts a selection's HTML to markdown, falling back to plain
// text when conversion fails.
func (s *Service) markdown(sel *goquery.Selection) string {
	html, err := sel.Html()
	if err != nil || strings.TrimSpace(html) == "" {
		return cleanText(sel.Text())
	}
	out, err := s.converter.ConvertString(html)
	if err != nil {
		return cleanText(sel.Text())
	}
	return strings.TrimSpace(out)
}

// issueList accumulates per-field extraction problems.
type issueList struct {
	items []string
}

func (l *issueList) add(field, reason string) {
	l.items = append(l.items, fmt.Sprintf("%s: %s", field, reason))
}

// firstText returns the trimmed text of the first selector that matches,
// recording an issue when none do.
func firstText(doc *goquery.Document, issues *issueList, field string, selectors ...string) string {
	for _, sel := range selectors {
		if text := cleanText(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	issues.add(field, "no matching element")
	return ""
}

// optionalText is firstText without the issue entry for fields that are
// frequently absent from real profiles.
func optionalText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if text := cleanText(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
