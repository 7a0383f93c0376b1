package splitter

// span is a half-open byte range into the document text
type span struct {
	start, end int
}

// scanSentences splits text[base:end] into sentence spans. A sentence ends
// after ". ", "! ", "? ", their newline forms, or a paragraph break. Each
// boundary's whitespace belongs to the preceding span, so the spans tile
// the input exactly.
func scanSentences(text string, base, end int) []span {
	var spans []span
	start := base

	i := base
	for i < end-1 {
		c := text[i]
		next := text[i+1]

		boundary := false
		switch {
		case (c == '.' || c == '!' || c == '?') && (next == ' ' || next == '\n'):
			boundary = true
		case c == '\n' && next == '\n':
			boundary = true
		}

		if boundary {
			// Absorb any further whitespace into this span
			j := i + 2
			for j < end && (text[j] == ' ' || text[j] == '\n') {
				j++
			}
			spans = append(spans, span{start: start, end: j})
			start = j
			i = j
			continue
		}
		i++
	}

	if start < end {
		spans = append(spans, span{start: start, end: end})
	}
	return spans
}
