package arxivpipe

import "time"

// DiscoveredMessage is emitted to the discovered queue: one per unique
// paper found by a discovery run.
type DiscoveredMessage struct {
	CorrelationID string    `json:"correlation_id"`
	CreatedAt     time.Time `json:"created_at"`

	PaperID  string   `json:"paper_id"`
	Version  string   `json:"version"`
	Title    string   `json:"title"`
	Abstract string   `json:"abstract"`
	Authors  []string `json:"authors"`

	Categories    []string `json:"categories"`
	Subcategories []string `json:"subcategories"`

	ArxivURL string `json:"arxiv_url"`
	PDFURL   string `json:"pdf_url"`

	SubmittedDate string `json:"submitted_date"`
	UpdatedDate   string `json:"updated_date,omitempty"`
	DOI           string `json:"doi,omitempty"`
	JournalRef    string `json:"journal_ref,omitempty"`
	Comments      string `json:"comments,omitempty"`

	SourceQuery string `json:"source_query"`
}

// ParseRequestMessage is the hand-off from the intelligence layer to the
// extraction phase: asks the coordinator to extract PDF content for one
// paper.
type ParseRequestMessage struct {
	CorrelationID         string    `json:"correlation_id"`
	OriginalCorrelationID string    `json:"original_correlation_id"`
	CreatedAt             time.Time `json:"created_at"`

	PaperID string `json:"paper_id"`
	PDFURL  string `json:"pdf_url"`

	Priority int `json:"priority"`

	RelevanceScore    *float64 `json:"relevance_score,omitempty"`
	IntelligenceNotes string   `json:"intelligence_notes,omitempty"`
}

// ExtractedMessage is emitted to the extracted queue: the full content of
// one paper, carrying both correlation ids from its originating Discovered
// and ParseRequest messages.
type ExtractedMessage struct {
	CorrelationID          string    `json:"correlation_id"`
	DiscoveryCorrelationID string    `json:"discovery_correlation_id"`
	ParseCorrelationID     string    `json:"parse_correlation_id"`
	CreatedAt              time.Time `json:"created_at"`

	PaperID  string `json:"paper_id"`
	Version  string `json:"version"`
	Title    string `json:"title"`
	ArxivURL string `json:"arxiv_url"`
	PDFURL   string `json:"pdf_url"`

	Authors       []string `json:"authors"`
	Categories    []string `json:"categories"`
	Subcategories []string `json:"subcategories"`

	SubmittedDate string `json:"submitted_date"`
	DOI           string `json:"doi,omitempty"`

	TextContent        string          `json:"text_content"`
	Tables             []Table         `json:"tables"`
	Equations          []string        `json:"equations"`
	FigureCaptions     []FigureCaption `json:"figure_captions"`
	ExtractionMetadata map[string]any  `json:"extraction_metadata"`
}
