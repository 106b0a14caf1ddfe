package arxiv

import (
	"fmt"
	"strings"

	"github.com/paper-app/arxivfetcher/internal/arxivpipe"
)

// entryToPaper converts one ATOM entry to PaperMetadata, following the
// field-extraction order in SPEC_FULL.md §4.3. It returns an error when the
// entry is missing the one field the pipeline cannot do without: a parsable
// paper id. The caller skips and logs such entries rather than aborting the
// batch.
func entryToPaper(e Entry) (arxivpipe.PaperMetadata, error) {
	paperID, version := extractIDAndVersion(e.ID)
	if paperID == "" {
		return arxivpipe.PaperMetadata{}, fmt.Errorf("arxiv: entry missing a parsable id: %q", e.ID)
	}
	if version == "" {
		version = "v1"
	}

	categories := make([]string, 0, len(e.Category))
	for _, c := range e.Category {
		if c.Term != "" {
			categories = append(categories, c.Term)
		}
	}
	subcategories := deriveSubcategories(categories)

	authors := make([]string, 0, len(e.Authors))
	for _, a := range e.Authors {
		if name := collapseWhitespace(a.Name); name != "" {
			authors = append(authors, name)
		}
	}

	var arxivURL, pdfURL string
	for _, l := range e.Links {
		if l.Rel == "alternate" && arxivURL == "" {
			arxivURL = l.Href
		}
		if (l.Title == "pdf" || strings.HasSuffix(l.Href, ".pdf")) && pdfURL == "" {
			pdfURL = l.Href
		}
	}
	if arxivURL == "" {
		arxivURL = "https://arxiv.org/abs/" + paperID
	}
	if pdfURL == "" {
		pdfURL = "https://arxiv.org/pdf/" + paperID
	}

	return arxivpipe.PaperMetadata{
		PaperID:       paperID,
		Version:       version,
		Title:         collapseWhitespace(e.Title),
		Abstract:      collapseWhitespace(e.Summary),
		Authors:       authors,
		Categories:    categories,
		Subcategories: subcategories,
		SubmittedDate: first10(e.Published),
		UpdatedDate:   first10(e.Updated),
		DOI:           strings.TrimSpace(e.DOI),
		JournalRef:    strings.TrimSpace(e.JournalRef),
		Comments:      strings.TrimSpace(e.Comment),
		PDFURL:        pdfURL,
		ArxivURL:      arxivURL,
	}, nil
}

// extractIDAndVersion splits an atom:id value like
// "http://arxiv.org/abs/2401.12345v2" into ("2401.12345", "v2").
func extractIDAndVersion(atomID string) (id, version string) {
	parts := strings.SplitN(atomID, "/abs/", 2)
	if len(parts) != 2 {
		return "", ""
	}
	rest := parts[1]
	idx := strings.LastIndex(rest, "v")
	if idx <= 0 {
		return rest, ""
	}
	versionPart := rest[idx+1:]
	for _, c := range versionPart {
		if c < '0' || c > '9' {
			return rest, ""
		}
	}
	if versionPart == "" {
		return rest, ""
	}
	return rest[:idx], "v" + versionPart
}

// deriveSubcategories returns the union of categories and their top-level
// prefix (the part before the first '.'), preserving first-occurrence
// order.
func deriveSubcategories(categories []string) []string {
	seen := make(map[string]struct{}, len(categories)*2)
	out := make([]string, 0, len(categories)*2)
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, c := range categories {
		if dot := strings.Index(c, "."); dot > 0 {
			add(c[:dot])
		}
		add(c)
	}
	return out
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func first10(s string) string {
	if len(s) < 10 {
		return s
	}
	return s[:10]
}
