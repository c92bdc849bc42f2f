package domain

import (
	"fmt"
	"strings"
)

// NotFoundMarker is rendered in place of an empty augmentation.
const NotFoundMarker = "No relevant information was found."

// SearchResult is one ranked web search hit.
type SearchResult struct {
	Title   string
	Snippet string
	Link    string
}

// Augmentation is the ordered set of snippets retrieved for a message.
type Augmentation []SearchResult

// Render formats the augmentation for interpolation into the system prompt.
func (a Augmentation) Render() string {
	if len(a) == 0 {
		return NotFoundMarker
	}
	var sb strings.Builder
	for i, r := range a {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s", i+1, r.Title, r.Snippet, r.Link)
	}
	return sb.String()
}

// SearchQuery describes one augmentation lookup.
type SearchQuery struct {
	Text  string
	Limit int    // zero selects the fetcher's default
	Site  string // optional domain scope
}
