package pipeline

import (
	"regexp"
	"strconv"
)

var pageMarkerRe = regexp.MustCompile(`\[PAGE\]\[(\d+)\]\[PAGE\]`)

// ExtractPage scans chunk for `[PAGE][n][PAGE]` markers, returning the
// chunk with every such marker stripped and the integer from the last
// match. Intra-page layout markers (`[/table][id][/table]` and similar)
// are left untouched. A chunk with no page marker defaults to page 1.
func ExtractPage(chunk string) (stripped string, page int) {
	matches := pageMarkerRe.FindAllStringSubmatchIndex(chunk, -1)
	if len(matches) == 0 {
		return chunk, 1
	}
	last := matches[len(matches)-1]
	n, err := strconv.Atoi(chunk[last[2]:last[3]])
	if err != nil {
		n = 1
	}
	return pageMarkerRe.ReplaceAllString(chunk, ""), n
}
