// Package arxivpipe holds the value types shared across the discovery and
// extraction pipeline: paper metadata, parsed content, query expansions and
// the three wire message shapes.
package arxivpipe

import "time"

// PaperSource identifies how a paper was discovered.
type PaperSource string

const (
	SourceQuery    PaperSource = "query"
	SourceCategory PaperSource = "category"
)

// PaperMetadata is the canonical representation of an arXiv paper as
// produced by the API Client. It is immutable after construction except
// for Source, SourceQuery and RelevanceScore, which are set exactly once
// at known points in the Coordinator's control flow.
type PaperMetadata struct {
	PaperID       string
	Version       string
	Title         string
	Abstract      string
	Authors       []string
	Categories    []string
	Subcategories []string
	SubmittedDate string
	UpdatedDate   string
	DOI           string
	JournalRef    string
	Comments      string
	PDFURL        string
	ArxivURL      string

	Source         PaperSource
	SourceQuery    string
	RelevanceScore *float64
}

// Table is one extracted table from a paper's PDF.
type Table struct {
	Caption  string
	Headers  []string
	Rows     [][]string
	RowCount int
	ColCount int
	Page     int
}

// FigureCaption is one extracted figure caption from a paper's PDF.
type FigureCaption struct {
	FigureID string
	Caption  string
	Page     int
	AltText  string
}

// ParsedContent is the Extractor's output for one paper.
type ParsedContent struct {
	PaperID        string
	TextContent    string
	Tables         []Table
	Equations      []string
	FigureCaptions []FigureCaption
	Metadata       map[string]any
}

// QueryExpansion is the Query Expander's output for one raw query.
type QueryExpansion struct {
	OriginalQuery   string
	ExpandedQueries []string
	GeneratedAt     time.Time
	CacheHit        bool
}

// DedupePapers removes papers with a repeated PaperID, keeping the first
// occurrence and preserving the order of first appearance.
func DedupePapers(papers []PaperMetadata) []PaperMetadata {
	seen := make(map[string]struct{}, len(papers))
	unique := make([]PaperMetadata, 0, len(papers))
	for _, p := range papers {
		if _, ok := seen[p.PaperID]; ok {
			continue
		}
		seen[p.PaperID] = struct{}{}
		unique = append(unique, p)
	}
	return unique
}
