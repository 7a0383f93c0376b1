package splitter

import "strings"

// section is a heading-delimited region of the normalized document text.
// Sections tile the document: every byte belongs to exactly one section.
type section struct {
	headingPath []string
	start, end  int
}

// scanSections splits text on ATX headings outside fenced code blocks,
// maintaining the heading stack so every section knows its path. Text
// before the first heading forms a section with an empty path.
func scanSections(text string) []section {
	var sections []section

	// titles[i] is the current heading title at depth i+1
	var titles [6]string

	cur := section{start: 0}
	inFence := false

	lineStart := 0
	for lineStart <= len(text) {
		lineEnd := strings.IndexByte(text[lineStart:], '\n')
		if lineEnd == -1 {
			lineEnd = len(text)
		} else {
			lineEnd += lineStart
		}
		line := text[lineStart:lineEnd]

		trimmed := strings.TrimLeft(line, " ")
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}

		if !inFence {
			if level, title, ok := parseHeading(line); ok {
				if lineStart > cur.start {
					cur.end = lineStart
					sections = append(sections, cur)
				}

				titles[level-1] = title

				path := make([]string, level)
				copy(path, titles[:level])

				cur = section{headingPath: path, start: lineStart}
			}
		}

		if lineEnd == len(text) {
			break
		}
		lineStart = lineEnd + 1
	}

	cur.end = len(text)
	if cur.end > cur.start {
		sections = append(sections, cur)
	}
	return sections
}

// parseHeading recognizes ATX headings: one to six # characters followed by
// a space and a title.
func parseHeading(line string) (level int, title string, ok bool) {
	i := 0
	for i < len(line) && i < 6 && line[i] == '#' {
		i++
	}
	if i == 0 || i >= len(line) || line[i] != ' ' {
		return 0, "", false
	}
	title = strings.TrimSpace(line[i+1:])
	if title == "" {
		return 0, "", false
	}
	return i, title, true
}

// blank reports whether the span holds only whitespace
func blank(text string) bool {
	return strings.TrimSpace(text) == ""
}
