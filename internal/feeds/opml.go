package feeds

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/cityfam/cityfam/internal/model"
)

// opmlDoc is the root of an OPML document.
type opmlDoc struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    opmlHead `xml:"head"`
	Body    opmlBody `xml:"body"`
}

type opmlHead struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

type opmlBody struct {
	Outlines []outline `xml:"outline"`
}

// outline is either a folder (nested outlines) or a feed (xmlUrl set).
type outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []outline `xml:"outline,omitempty"`
}

// Entry is a feed found in an OPML document. BranchID is the name of the
// top-level folder holding it, empty for feeds outside any folder.
type Entry struct {
	BranchID string
	Title    string
	URL      string
}

// ParseOPML reads an OPML document and flattens its feeds.
func ParseOPML(r io.Reader) ([]Entry, error) {
	var doc opmlDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var entries []Entry
	var walk func(outlines []outline, branch string)
	walk = func(outlines []outline, branch string) {
		for _, o := range outlines {
			switch {
			case o.XMLURL != "":
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, Entry{BranchID: branch, Title: title, URL: o.XMLURL})
			case len(o.Outlines) > 0:
				// Only the top-level folder names the branch.
				b := branch
				if b == "" {
					b = o.Text
					if b == "" {
						b = o.Title
					}
				}
				walk(o.Outlines, b)
			}
		}
	}
	walk(doc.Body.Outlines, "")
	return entries, nil
}

// ExportOPML renders feeds as OPML with one folder per branch, ordered by branch id.
func ExportOPML(title string, feeds []model.BranchFeed, now time.Time) ([]byte, error) {
	byBranch := make(map[string][]outline)
	for _, f := range feeds {
		byBranch[f.BranchID] = append(byBranch[f.BranchID], outline{
			Text:   f.Title,
			Title:  f.Title,
			Type:   "rss",
			XMLURL: f.URL,
		})
	}
	branches := make([]string, 0, len(byBranch))
	for b := range byBranch {
		branches = append(branches, b)
	}
	sort.Strings(branches)

	doc := opmlDoc{
		Version: "2.0",
		Head:    opmlHead{Title: title, DateCreated: now.Format(time.RFC1123Z)},
	}
	for _, b := range branches {
		doc.Body.Outlines = append(doc.Body.Outlines, outline{Text: b, Title: b, Outlines: byBranch[b]})
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode opml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
