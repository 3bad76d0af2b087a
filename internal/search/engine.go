// Package search ranks indexed workspace files against a query.
package search

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/workspace"
)

var (
	// ErrInvalidMode is returned for a search type outside the known modes
	ErrInvalidMode = errors.New("invalid search type")
	// ErrEmptyQuery is returned when the query has no searchable text
	ErrEmptyQuery = errors.New("search query is empty")
)

// Mode selects which scorers run
type Mode string

const (
	ModeContent   Mode = "content"
	ModeFilename  Mode = "filename"
	ModeStructure Mode = "structure"
	ModeAll       Mode = "all"
)

// ParseMode maps a raw search type to a Mode. An empty string means content.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeContent:
		return ModeContent, nil
	case ModeFilename:
		return ModeFilename, nil
	case ModeStructure:
		return ModeStructure, nil
	case ModeAll:
		return ModeAll, nil
	}
	return "", fmt.Errorf("%w: %q (expected content, filename, structure or all)", ErrInvalidMode, s)
}

// Scoring weights
const (
	exactMatchBonus    = 10
	symbolNameBonus    = 20
	filenameBaseScore  = 100
	structureNameScore = 30
	importScore        = 15
)

// PreviewLength is the number of characters kept in a result preview
const PreviewLength = 500

// FileInfo is the size metadata attached to a result
type FileInfo struct {
	Size      int64  `json:"size" yaml:"size"`
	Lines     int    `json:"lines" yaml:"lines"`
	Extension string `json:"extension" yaml:"extension"`
}

// Result is one ranked hit
type Result struct {
	FilePath       string              `json:"file_path" yaml:"file_path"`
	RelevanceScore int                 `json:"relevance_score" yaml:"relevance_score"`
	Matches        []string            `json:"matches,omitempty" yaml:"matches,omitempty"`
	ContentPreview string              `json:"content_preview" yaml:"content_preview"`
	Structure      workspace.Structure `json:"structure" yaml:"structure"`
	FileInfo       FileInfo            `json:"file_info" yaml:"file_info"`
}

func newResult(e *workspace.FileIndexEntry, score int) Result {
	return Result{
		FilePath:       e.RelativePath,
		RelevanceScore: score,
		ContentPreview: preview(e.Content),
		Structure:      e.Structure,
		FileInfo: FileInfo{
			Size:      e.Size,
			Lines:     e.Lines,
			Extension: e.Extension,
		},
	}
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= PreviewLength {
		return content
	}
	n := 0
	for i := range content {
		if n == PreviewLength {
			return content[:i]
		}
		n++
	}
	return content
}

// Run executes the scorers selected by mode and merges their results.
// The returned list is deduplicated, sorted by descending score and not capped.
func Run(query string, idx *workspace.Index, mode Mode) ([]Result, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}

	var all []Result
	switch mode {
	case ModeContent:
		all = ScoreContent(query, idx)
	case ModeFilename:
		all = ScoreFilename(query, idx)
	case ModeStructure:
		all = ScoreStructure(query, idx)
	case ModeAll:
		all = append(all, ScoreContent(query, idx)...)
		all = append(all, ScoreFilename(query, idx)...)
		all = append(all, ScoreStructure(query, idx)...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	return Deduplicate(all), nil
}

// ScoreContent scores files by case-insensitive textual matches.
// Files scoring zero are excluded.
func ScoreContent(query string, idx *workspace.Index) []Result {
	q := strings.ToLower(query)
	words := strings.Fields(q)

	var results []Result
	for _, e := range idx.Entries() {
		content := strings.ToLower(e.Content)

		score := 0
		if strings.Contains(content, q) {
			score += exactMatchBonus
		}
		for _, w := range words {
			score += strings.Count(content, w)
		}
		for _, fn := range e.Structure.Functions {
			if strings.Contains(strings.ToLower(fn.Name), q) {
				score += symbolNameBonus
			}
		}
		for _, typ := range e.Structure.Types {
			if strings.Contains(strings.ToLower(typ.Name), q) {
				score += symbolNameBonus
			}
		}

		if score > 0 {
			results = append(results, newResult(e, score))
		}
	}
	sortByScore(results)
	return results
}

// ScoreFilename scores files whose base name contains the query.
// Shorter matching names score higher; the score never drops below zero.
func ScoreFilename(query string, idx *workspace.Index) []Result {
	q := strings.ToLower(query)

	var results []Result
	for _, e := range idx.Entries() {
		name := strings.ToLower(path.Base(e.RelativePath))
		if !strings.Contains(name, q) {
			continue
		}
		score := filenameBaseScore - utf8.RuneCountInString(name)
		if score < 0 {
			score = 0
		}
		results = append(results, newResult(e, score))
	}
	sortByScore(results)
	return results
}

// ScoreStructure scores files by matches against declared symbol names
// and imports, recording a note for every hit.
func ScoreStructure(query string, idx *workspace.Index) []Result {
	q := strings.ToLower(query)

	var results []Result
	for _, e := range idx.Entries() {
		score := 0
		var matches []string

		for _, fn := range e.Structure.Functions {
			if strings.Contains(strings.ToLower(fn.Name), q) {
				score += structureNameScore
				matches = append(matches, fmt.Sprintf("Function: %s (line %d)", fn.Name, fn.Line))
			}
		}
		for _, typ := range e.Structure.Types {
			if strings.Contains(strings.ToLower(typ.Name), q) {
				score += structureNameScore
				matches = append(matches, fmt.Sprintf("Type: %s (line %d)", typ.Name, typ.Line))
			}
		}
		for _, imp := range e.Structure.Imports {
			if strings.Contains(strings.ToLower(imp), q) {
				score += importScore
				matches = append(matches, fmt.Sprintf("Import: %s", imp))
			}
		}

		if len(matches) > 0 {
			r := newResult(e, score)
			r.Matches = matches
			results = append(results, r)
		}
	}
	sortByScore(results)
	return results
}

// Deduplicate sorts results by descending score and keeps the first entry
// for every file path. Scores are never summed.
func Deduplicate(results []Result) []Result {
	sorted := append([]Result(nil), results...)
	sortByScore(sorted)

	seen := make(map[string]bool, len(sorted))
	unique := make([]Result, 0, len(sorted))
	for _, r := range sorted {
		if seen[r.FilePath] {
			continue
		}
		seen[r.FilePath] = true
		unique = append(unique, r)
	}
	return unique
}

func sortByScore(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
}
