package store

import (
	"sort"
	"strconv"
	"strings"
)

// Wildcard is the search text that matches every document.
const Wildcard = "*"

// Filter restricts a search to one media item and, optionally, a set of
// sequence ids.
type Filter struct {
	MediaName   string
	SequenceIDs []int
	// ExcludeChunkIDs drops documents with these chunk ids.
	ExcludeChunkIDs []string
}

// SearchRequest describes one lookup against the index.
type SearchRequest struct {
	Text   string    // query text, Wildcard for unranked lookups
	Vector []float32 // optional query embedding
	KNN    int       // nearest neighbours considered for the vector leg
	Top    int
	Filter Filter
}

// Ranked reports whether the request asks for relevance ranking.
func (r SearchRequest) Ranked() bool {
	t := strings.TrimSpace(r.Text)
	return t != "" && t != Wildcard
}

// QuoteLiteral wraps s in single quotes, doubling any quote inside it.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// SortedIDs returns the filter's sequence ids in ascending order without duplicates.
func (f Filter) SortedIDs() []int {
	if len(f.SequenceIDs) == 0 {
		return nil
	}
	ids := append([]int(nil), f.SequenceIDs...)
	sort.Ints(ids)
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}

// Expression renders the filter in OData syntax, e.g.
// video_name eq 'O''Reilly' and search.in(id, '4,6', ',').
func (f Filter) Expression() string {
	var parts []string
	if f.MediaName != "" {
		parts = append(parts, "video_name eq "+QuoteLiteral(f.MediaName))
	}
	if ids := f.SortedIDs(); len(ids) > 0 {
		strs := make([]string, len(ids))
		for i, id := range ids {
			strs[i] = strconv.Itoa(id)
		}
		parts = append(parts, "search.in(id, "+QuoteLiteral(strings.Join(strs, ","))+", ',')")
	}
	if len(f.ExcludeChunkIDs) > 0 {
		parts = append(parts, "not search.in(chunk_id, "+QuoteLiteral(strings.Join(f.ExcludeChunkIDs, ","))+", ',')")
	}
	return strings.Join(parts, " and ")
}
