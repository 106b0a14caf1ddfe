package arxiv

import "encoding/xml"

// Feed and Entry are namespace-aware against the generic Atom namespace and
// the arXiv-specific extension namespace, per SPEC_FULL.md §4.3.
type Feed struct {
	XMLName      xml.Name `xml:"http://www.w3.org/2005/Atom feed"`
	TotalResults int      `xml:"http://a9.com/-/spec/opensearch/1.1/ totalResults"`
	Entries      []Entry  `xml:"http://www.w3.org/2005/Atom entry"`
}

type Entry struct {
	ID        string     `xml:"http://www.w3.org/2005/Atom id"`
	Title     string     `xml:"http://www.w3.org/2005/Atom title"`
	Summary   string     `xml:"http://www.w3.org/2005/Atom summary"`
	Published string     `xml:"http://www.w3.org/2005/Atom published"`
	Updated   string     `xml:"http://www.w3.org/2005/Atom updated"`
	Authors   []Author   `xml:"http://www.w3.org/2005/Atom author"`
	Links     []Link     `xml:"http://www.w3.org/2005/Atom link"`
	Category  []Category `xml:"http://www.w3.org/2005/Atom category"`

	DOI        string `xml:"http://arxiv.org/schemas/atom doi"`
	JournalRef string `xml:"http://arxiv.org/schemas/atom journal_ref"`
	Comment    string `xml:"http://arxiv.org/schemas/atom comment"`
}

type Author struct {
	Name string `xml:"http://www.w3.org/2005/Atom name"`
}

type Link struct {
	Href  string `xml:"href,attr"`
	Rel   string `xml:"rel,attr"`
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
}

type Category struct {
	Term string `xml:"term,attr"`
}
