package chunking

import (
	"math"
	"regexp"
	"strings"

	"github.com/kirillkom/docextract/internal/core/domain"
)

const (
	scorePageRestart  = 0.6
	scoreSeparator    = 0.5
	scoreHeaderChange = 0.3
	scoreLayoutChange = 0.2

	separatorMaxChars = 40
)

var (
	// "Page 1", "Page 1 of 12", "1 of 12", "1/12", "- 1 -"
	rePageOne = regexp.MustCompile(`(?i)^(?:page\s+1(?:\s*(?:of|/)\s*\d+)?|1\s*(?:of|/)\s*\d+|-\s*1\s*-)$`)

	separatorMarkers = []string{
		"end of document",
		"intentionally left blank",
		"separator page",
		"document separator",
	}
)

// BoundaryDetector splits a PDF into sub-documents from structural signals.
type BoundaryDetector struct {
	Threshold float64
}

func NewBoundaryDetector(threshold float64) *BoundaryDetector {
	if threshold <= 0 {
		threshold = 0.5
	}
	return &BoundaryDetector{Threshold: threshold}
}

// Detect always covers every page; a single document spanning all pages is returned
// when no boundary scores above the threshold.
func (d *BoundaryDetector) Detect(pages []domain.Page) []domain.DetectedDocument {
	if len(pages) == 0 {
		return nil
	}

	profiles := make([]pageProfile, len(pages))
	for i, page := range pages {
		profiles[i] = profilePage(page)
	}

	docs := []domain.DetectedDocument{{StartPage: pages[0].Number}}
	strongest := 0.0
	for i := 1; i < len(pages); i++ {
		score := d.transitionScore(profiles, i)
		if score < d.Threshold {
			continue
		}
		confidence := math.Min(score, 1)
		docs[len(docs)-1].EndPage = pages[i-1].Number
		docs = append(docs, domain.DetectedDocument{StartPage: pages[i].Number, Confidence: confidence})
		strongest = math.Max(strongest, confidence)
	}
	docs[len(docs)-1].EndPage = pages[len(pages)-1].Number
	docs[0].Confidence = strongest
	return docs
}

func (d *BoundaryDetector) transitionScore(profiles []pageProfile, i int) float64 {
	prev, cur := profiles[i-1], profiles[i]
	score := 0.0

	if cur.pageOne {
		score += scorePageRestart
	}
	// A separator page closes the document it follows; the page after it opens the next one.
	if prev.separator && !cur.separator {
		score += scoreSeparator
	}
	if cur.separator {
		return 0
	}
	if repeatedHeader(profiles, i) && cur.header != profiles[i-1].header {
		score += scoreHeaderChange
	}
	if prev.layout != cur.layout && prev.layout != (layout{}) && cur.layout != (layout{}) {
		score += scoreLayoutChange
	}
	return score
}

// repeatedHeader reports whether the two pages before i share the same non-empty header.
func repeatedHeader(profiles []pageProfile, i int) bool {
	if i < 2 {
		return false
	}
	a, b := profiles[i-1].header, profiles[i-2].header
	return a != "" && a == b
}

type layout struct {
	width    float64
	height   float64
	rotation int
}

type pageProfile struct {
	header    string
	pageOne   bool
	separator bool
	layout    layout
}

func profilePage(page domain.Page) pageProfile {
	lines := nonEmptyLines(page.Text)
	profile := pageProfile{
		layout: layout{
			width:    math.Round(page.Width),
			height:   math.Round(page.Height),
			rotation: page.Rotation % 360,
		},
	}
	if len(lines) > 0 {
		profile.header = normalizeHeader(lines[0])
	}
	profile.separator = isSeparator(page.Text)
	profile.pageOne = hasPageOneMarker(lines)
	return profile
}

func nonEmptyLines(text string) []string {
	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// Digits are stripped so running headers with dates or counters still match.
func normalizeHeader(line string) string {
	line = strings.ToLower(line)
	return strings.Join(strings.Fields(strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return -1
		}
		return r
	}, line)), " ")
}

func isSeparator(text string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(text))
	if trimmed == "" {
		return true
	}
	if len(trimmed) > separatorMaxChars*4 {
		return false
	}
	for _, marker := range separatorMarkers {
		if strings.Contains(trimmed, marker) {
			return true
		}
	}
	return false
}

func hasPageOneMarker(lines []string) bool {
	candidates := make([]string, 0, 4)
	for i := 0; i < len(lines) && i < 2; i++ {
		candidates = append(candidates, lines[i])
	}
	for i := len(lines) - 1; i >= 0 && i >= len(lines)-2; i-- {
		candidates = append(candidates, lines[i])
	}
	for _, line := range candidates {
		if len(line) <= separatorMaxChars && rePageOne.MatchString(strings.TrimSpace(line)) {
			return true
		}
	}
	return false
}
