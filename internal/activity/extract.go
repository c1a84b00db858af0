package activity

import "strings"

// ExtractNewOutput isolates the text added to a pane capture since the
// previous capture. It handles scrollback: when before is no longer a prefix
// of after, the longest suffix of before matching a prefix of after marks
// the boundary.
func ExtractNewOutput(before, after string) string {
	if before == "" {
		return after
	}
	if after == "" {
		return ""
	}

	// Fast path: simple append.
	if len(after) >= len(before) && after[:len(before)] == before {
		return after[len(before):]
	}

	// Scrolled output. Search for a chunk from the start of 'after' inside
	// the tail of 'before'; the earliest match gives the longest overlap.
	const chunkSize = 40
	searchChunk := after
	if len(after) >= chunkSize {
		searchChunk = after[:chunkSize]
	}

	scanStart := len(before) - len(after)
	if scanStart < 0 {
		scanStart = 0
	}
	searchRegion := before[scanStart:]

	remaining := searchRegion
	offset := 0
	for {
		idx := strings.Index(remaining, searchChunk)
		if idx == -1 {
			break
		}
		absIdx := scanStart + offset + idx
		suffixLen := len(before) - absIdx
		if len(after) >= suffixLen && after[:suffixLen] == before[absIdx:] {
			return after[suffixLen:]
		}
		step := idx + 1
		remaining = remaining[step:]
		offset += step
	}

	// Overlaps shorter than the search chunk.
	maxOverlap := len(after) - 1
	if maxOverlap > len(before) {
		maxOverlap = len(before)
	}
	if maxOverlap >= chunkSize {
		maxOverlap = chunkSize - 1
	}
	for k := maxOverlap; k > 0; k-- {
		if before[len(before)-k:] == after[:k] {
			return after[k:]
		}
	}

	// No overlap found, treat everything as new.
	return after
}
