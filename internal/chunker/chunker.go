// Package chunker splits document text into overlapping chunks using a
// recursive separator strategy.
package chunker

import "strings"

// separators are tried in order from coarsest to finest.
var separators = []string{"\n\n", "\n", " ", ""}

// Split divides text into chunks of at most size runes, re-seeding each
// chunk with up to overlap runes from the tail of the previous one. It never
// drops input text: separators stay attached to the fragment they end, and
// a run longer than size with no separator in it is cut into size-rune
// windows.
func Split(text string, size, overlap int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}
	if overlap >= size {
		overlap = size - 1
	}
	if overlap < 0 {
		overlap = 0
	}

	fragments := recursiveSplit(text, size, 0)
	return merge(fragments, size, overlap)
}

// recursiveSplit descends through the separator list until a separator
// produces fragments each no larger than size, or separators are exhausted.
func recursiveSplit(text string, size int, sepIdx int) []string {
	if len([]rune(text)) <= size || sepIdx >= len(separators) {
		return []string{text}
	}
	sep := separators[sepIdx]
	var parts []string
	if sep == "" {
		parts = splitRunes(text, size)
	} else {
		parts = strings.SplitAfter(text, sep)
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if len([]rune(p)) > size {
			out = append(out, recursiveSplit(p, size, sepIdx+1)...)
		} else {
			out = append(out, p)
		}
	}
	return out
}

// splitRunes breaks text into fixed-width rune windows of size n; used as
// the last-resort separator when no textual boundary exists.
func splitRunes(text string, n int) []string {
	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); i += n {
		end := i + n
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// merge greedily accumulates fragments until the next would exceed size,
// emits the accumulated chunk, then re-seeds the next accumulation with the
// trailing `overlap` runes of the chunk just emitted.
func merge(fragments []string, size, overlap int) []string {
	if len(fragments) == 0 {
		return nil
	}

	var chunks []string
	var current strings.Builder

	flush := func() string {
		out := current.String()
		current.Reset()
		if overlap > 0 && out != "" {
			tail := tailRunes(out, overlap)
			current.WriteString(tail)
		}
		return out
	}

	for _, frag := range fragments {
		if frag == "" {
			continue
		}
		fragLen := len([]rune(frag))
		candidateLen := len([]rune(current.String())) + fragLen
		if current.Len() > 0 && candidateLen > size {
			chunks = append(chunks, flush())
			// shorten the re-seeded overlap so that it plus frag fits in size
			if seed := current.String(); len([]rune(seed))+fragLen > size {
				current.Reset()
				if room := size - fragLen; room > 0 {
					current.WriteString(tailRunes(seed, room))
				}
			}
		}
		if len([]rune(frag)) > size {
			// unsplittable oversized fragment: emit whatever is pending,
			// then emit the fragment itself unchanged.
			if current.Len() > 0 {
				chunks = append(chunks, flush())
			}
			chunks = append(chunks, frag)
			continue
		}
		current.WriteString(frag)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

func tailRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
