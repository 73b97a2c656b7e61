package analyzer

import (
	"fmt"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// Line is one added line with its position in the new file.
type Line struct {
	Number int
	Text   string
}

// FileChange is the added-line view of one file in a unified diff.
// Removed lines are not analyzed; review findings anchor to lines the
// PR author can actually see in the new version.
type FileChange struct {
	Path    string
	OldPath string
	New     bool
	Deleted bool

	Added []Line

	// MissingNewlineEOF is set when the new side of the diff ends
	// without a trailing newline.
	MissingNewlineEOF bool
}

// stripDiffPrefix removes the a/ or b/ prefix git puts on diff paths.
func stripDiffPrefix(name, prefix string) string {
	name = strings.TrimPrefix(name, prefix)
	if name == "/dev/null" {
		return ""
	}
	return name
}

// ParseDiff parses a unified diff into per-file added-line changes.
func ParseDiff(diffText string) ([]FileChange, error) {
	fileDiffs, err := godiff.ParseMultiFileDiff([]byte(diffText))
	if err != nil {
		return nil, fmt.Errorf("parse diff: %w", err)
	}

	noNewline := missingNewlineFiles(diffText)

	changes := make([]FileChange, 0, len(fileDiffs))
	for _, fd := range fileDiffs {
		orig := stripDiffPrefix(fd.OrigName, "a/")
		name := stripDiffPrefix(fd.NewName, "b/")

		fc := FileChange{
			Path:    name,
			OldPath: orig,
			New:     orig == "",
			Deleted: name == "",
		}
		if fc.Deleted {
			// Nothing to review on the new side
			fc.Path = orig
			changes = append(changes, fc)
			continue
		}
		fc.MissingNewlineEOF = noNewline[fc.Path]

		for _, hunk := range fd.Hunks {
			lineNo := int(hunk.NewStartLine)
			body := strings.Split(string(hunk.Body), "\n")
			if n := len(body); n > 0 && body[n-1] == "" {
				body = body[:n-1]
			}
			for _, raw := range body {
				if raw == "" {
					// Blank context line with the marker stripped
					lineNo++
					continue
				}
				switch raw[0] {
				case '+':
					fc.Added = append(fc.Added, Line{Number: lineNo, Text: raw[1:]})
					lineNo++
				case ' ':
					lineNo++
				case '-':
					// Old side only
				}
			}
		}
		changes = append(changes, fc)
	}
	return changes, nil
}

// missingNewlineFiles scans the raw diff for the no-newline marker on the
// new side of each file. The parsed hunks do not carry the marker.
func missingNewlineFiles(diffText string) map[string]bool {
	out := map[string]bool{}
	var current string
	var lastWasAdd bool
	for _, line := range strings.Split(diffText, "\n") {
		switch {
		case strings.HasPrefix(line, "+++ "):
			current = stripDiffPrefix(strings.TrimPrefix(line, "+++ "), "b/")
			lastWasAdd = false
		case strings.HasPrefix(line, `\ No newline at end of file`):
			if current != "" && lastWasAdd {
				out[current] = true
			}
		case strings.HasPrefix(line, "+"):
			lastWasAdd = true
		default:
			lastWasAdd = false
		}
	}
	return out
}
