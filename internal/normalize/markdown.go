// Package normalize prepares converted markdown for splitting. Every chunk
// offset refers to the normalized text, so normalization runs exactly once
// per document, before the splitter.
package normalize

import "strings"

// Markdown canonicalizes line endings and blank runs. Inside fenced code
// blocks only line endings change; indentation and spacing survive.
func Markdown(text string) string {
	// Normalize line endings
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))

	inFence := false
	blankRun := 0
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")

		if isFenceDelimiter(trimmed) {
			inFence = !inFence
			blankRun = 0
			out = append(out, trimmed)
			continue
		}

		if inFence {
			out = append(out, trimmed)
			continue
		}

		if trimmed == "" {
			blankRun++
			// Collapse runs of blank lines to a single paragraph break
			if blankRun > 1 {
				continue
			}
		} else {
			blankRun = 0
		}
		out = append(out, trimmed)
	}

	return strings.Trim(strings.Join(out, "\n"), "\n")
}

// isFenceDelimiter reports whether the line opens or closes a fenced code
// block. Only backtick and tilde fences at line start count.
func isFenceDelimiter(line string) bool {
	s := strings.TrimLeft(line, " ")
	return strings.HasPrefix(s, "```") || strings.HasPrefix(s, "~~~")
}
