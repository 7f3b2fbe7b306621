package index

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/lexandro/mdspace-mcp/doctype"
	"github.com/lexandro/mdspace-mcp/entry"
)

// ContentSearchResult holds the matches within one document.
type ContentSearchResult struct {
	Path    string
	EntryID string
	Status  entry.Status
	Matches []LineMatch
}

// LineMatch represents a single line match within a document.
type LineMatch struct {
	LineNumber    int
	LineText      string
	ContextBefore []string
	ContextAfter  []string
}

// SearchOptions configures a content search.
type SearchOptions struct {
	Query        string
	FilePath     string // exact entry path; overrides FileGlob
	FileGlob     string
	Kind         doctype.Kind
	Status       entry.Status
	MaxResults   int
	ContextLines int
}

// Search performs a full-text search across all indexed documents.
// Query format:
//   - Plain text: match query (word-level matching)
//   - "quoted text": phrase query (exact phrase match)
//   - /regex/: regexp query
func (ci *ContentIndex) Search(options SearchOptions) ([]ContentSearchResult, int, error) {
	ci.mu.RLock()
	defer ci.mu.RUnlock()

	if strings.TrimSpace(options.Query) == "" {
		return nil, 0, fmt.Errorf("empty query")
	}
	if options.MaxResults <= 0 {
		options.MaxResults = 50
	}
	if options.ContextLines < 0 {
		options.ContextLines = 0
	}

	searchRequest := bleve.NewSearchRequest(buildQuery(options))
	searchRequest.Size = options.MaxResults * 5 // Get more results because we'll filter by path
	searchRequest.Fields = []string{"path", "kind", "status"}

	searchResults, err := ci.index.Search(searchRequest)
	if err != nil {
		return nil, 0, fmt.Errorf("searching index: %w", err)
	}

	filePath := entry.NormalizePath(options.FilePath)
	glob := strings.ReplaceAll(options.FileGlob, "\\", "/")

	var results []ContentSearchResult
	totalMatches := 0
	for _, hit := range searchResults.Hits {
		doc, ok := ci.docs[hit.ID]
		if !ok {
			continue
		}

		if filePath != "" {
			if doc.Path != filePath {
				continue
			}
		} else if glob != "" {
			matched, matchErr := doublestar.Match(glob, doc.Path)
			if matchErr != nil || !matched {
				continue
			}
		}

		lineMatches := findMatchingLines(doc.Text, options.Query, options.ContextLines)
		if len(lineMatches) == 0 {
			continue
		}
		totalMatches += len(lineMatches)
		results = append(results, ContentSearchResult{
			Path:    doc.Path,
			EntryID: doc.EntryID,
			Status:  doc.Status,
			Matches: lineMatches,
		})

		if len(results) >= options.MaxResults {
			break
		}
	}

	return results, totalMatches, nil
}

// buildQuery parses the query string into a Bleve query and adds keyword filters.
func buildQuery(options SearchOptions) query.Query {
	text := buildTextQuery(options.Query)
	var filters []query.Query
	if options.Kind != "" {
		q := bleve.NewTermQuery(string(options.Kind))
		q.SetField("kind")
		filters = append(filters, q)
	}
	if options.Status != "" {
		q := bleve.NewTermQuery(string(options.Status))
		q.SetField("status")
		filters = append(filters, q)
	}
	if len(filters) == 0 {
		return text
	}
	return bleve.NewConjunctionQuery(append([]query.Query{text}, filters...)...)
}

func buildTextQuery(queryString string) query.Query {
	queryString = strings.TrimSpace(queryString)

	// Regex query: /pattern/
	if strings.HasPrefix(queryString, "/") && strings.HasSuffix(queryString, "/") && len(queryString) > 2 {
		q := bleve.NewRegexpQuery(queryString[1 : len(queryString)-1])
		q.SetField("content")
		return q
	}

	// Phrase query: "exact phrase"
	if strings.HasPrefix(queryString, "\"") && strings.HasSuffix(queryString, "\"") && len(queryString) > 2 {
		return bleve.NewMatchPhraseQuery(queryString[1 : len(queryString)-1])
	}

	return bleve.NewMatchQuery(queryString)
}

// findMatchingLines searches content line by line for the query terms.
func findMatchingLines(content string, queryString string, contextLines int) []LineMatch {
	lines := strings.Split(content, "\n")
	searchTermLower := strings.ToLower(extractSearchTerm(queryString))

	var matches []LineMatch
	for lineIdx, line := range lines {
		if !strings.Contains(strings.ToLower(line), searchTermLower) {
			continue
		}

		match := LineMatch{
			LineNumber: lineIdx + 1, // 1-based
			LineText:   line,
		}
		if contextLines > 0 {
			start := max(lineIdx-contextLines, 0)
			match.ContextBefore = append(match.ContextBefore, lines[start:lineIdx]...)
			end := min(lineIdx+contextLines+1, len(lines))
			match.ContextAfter = append(match.ContextAfter, lines[lineIdx+1:end]...)
		}
		matches = append(matches, match)
	}

	return matches
}

// extractSearchTerm strips query syntax to get the raw search term for line matching.
func extractSearchTerm(queryString string) string {
	queryString = strings.TrimSpace(queryString)

	if strings.HasPrefix(queryString, "/") && strings.HasSuffix(queryString, "/") && len(queryString) > 2 {
		return queryString[1 : len(queryString)-1]
	}
	if strings.HasPrefix(queryString, "\"") && strings.HasSuffix(queryString, "\"") && len(queryString) > 2 {
		return queryString[1 : len(queryString)-1]
	}
	return queryString
}
