package fileinstall

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/aymanbagabas/go-udiff"
)

// DefaultDiffMaxLines caps rendered diffs
const DefaultDiffMaxLines = 200

// IsText reports whether content looks like a text file
func IsText(content []byte) bool {
	return utf8.Valid(content) && !bytes.Contains(content, []byte{0})
}

// DiffFiles renders a unified diff between the installed file at oldPath and
// the candidate at newPath. A missing oldPath diffs against empty content.
// Binary content yields an empty diff.
func DiffFiles(oldPath, newPath string, maxLines int) (string, bool, error) {
	oldContent, err := os.ReadFile(oldPath)
	if err != nil && !os.IsNotExist(err) {
		return "", false, err
	}
	newContent, err := os.ReadFile(newPath)
	if err != nil {
		return "", false, err
	}
	if !IsText(oldContent) || !IsText(newContent) {
		return "", false, nil
	}

	diff, truncated := UnifiedDiff(oldPath+" (installed)", oldPath+" (new)", string(oldContent), string(newContent), maxLines)
	return diff, truncated, nil
}

// UnifiedDiff renders a unified diff truncated to maxLines
func UnifiedDiff(fromName, toName, fromContent, toContent string, maxLines int) (string, bool) {
	if maxLines <= 0 {
		maxLines = DefaultDiffMaxLines
	}

	diff := udiff.Unified(fromName, toName, fromContent, toContent)
	trimmed := strings.TrimRight(diff, "\n")
	if trimmed == "" {
		return "", false
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) <= maxLines {
		return trimmed + "\n", false
	}
	lines = append(lines[:maxLines], fmt.Sprintf("... (truncated to %d lines)", maxLines))
	return strings.Join(lines, "\n") + "\n", true
}
