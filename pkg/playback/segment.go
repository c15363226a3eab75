package playback

import "strings"

const (
	sentenceTerminators = "。！？；.!?;\n"
	clauseTerminators   = "，、：,:"
)

// NeedsSegmentation reports whether text should take the segmented
// playback path: longer than the threshold and containing at least one
// sentence terminator to split at.
func NeedsSegmentation(text string, threshold int) bool {
	if len([]rune(text)) <= threshold {
		return false
	}
	return strings.ContainsAny(text, sentenceTerminators)
}

// SplitSegments breaks text into ordered playback segments. Splits
// happen after sentence terminators; segments shorter than minLen are
// merged with their successor, and segments still longer than maxLen are
// re-split at clause punctuation. Concatenating the returned segments
// reproduces the input exactly.
func SplitSegments(text string, maxLen, minLen int) []string {
	if text == "" {
		return nil
	}
	sentences := cutAfter(text, sentenceTerminators)
	merged := mergeShort(sentences, minLen)

	var out []string
	for _, seg := range merged {
		if len([]rune(seg)) <= maxLen {
			out = append(out, seg)
			continue
		}
		for _, clause := range cutAfter(seg, clauseTerminators) {
			out = append(out, hardSplit(clause, maxLen)...)
		}
	}
	return out
}

// cutAfter splits text immediately after each run of cut runes.
func cutAfter(text, cutset string) []string {
	var (
		out     []string
		builder strings.Builder
		inCut   bool
	)
	for _, r := range text {
		isCut := strings.ContainsRune(cutset, r)
		if inCut && !isCut {
			out = append(out, builder.String())
			builder.Reset()
		}
		builder.WriteRune(r)
		inCut = isCut
	}
	if builder.Len() > 0 {
		out = append(out, builder.String())
	}
	return out
}

// mergeShort coalesces fragments until each emitted segment reaches
// minLen runes. A short trailing remainder is folded into the previous
// segment so no output falls below the floor unless the input itself
// does.
func mergeShort(parts []string, minLen int) []string {
	var (
		out    []string
		buffer strings.Builder
	)
	for _, p := range parts {
		buffer.WriteString(p)
		if len([]rune(buffer.String())) >= minLen {
			out = append(out, buffer.String())
			buffer.Reset()
		}
	}
	if buffer.Len() > 0 {
		if len(out) > 0 {
			out[len(out)-1] += buffer.String()
		} else {
			out = append(out, buffer.String())
		}
	}
	return out
}

// hardSplit chops a clause with no usable punctuation into maxLen-rune
// pieces.
func hardSplit(text string, maxLen int) []string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return []string{text}
	}
	var out []string
	for len(runes) > maxLen {
		out = append(out, string(runes[:maxLen]))
		runes = runes[maxLen:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
