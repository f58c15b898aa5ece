package engine

import (
	"regexp"
	"strings"
)

const maxFilenameLen = 128

var (
	whitespaceRun  = regexp.MustCompile(`\s+`)
	unsafeFileChar = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
)

// SecureFilename reduces name to a safe base name: whitespace runs become
// underscores, anything outside [A-Za-z0-9_.-] is dropped, and leading dots
// and underscores are trimmed. An empty result becomes "upload".
func SecureFilename(name string) string {
	// keep only the last path element, for both separators
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = whitespaceRun.ReplaceAllString(strings.TrimSpace(name), "_")
	name = unsafeFileChar.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, "._")

	if len(name) > maxFilenameLen {
		ext := ""
		if i := strings.LastIndexByte(name, '.'); i > 0 && len(name)-i <= 16 {
			ext = name[i:]
		}
		name = name[:maxFilenameLen-len(ext)] + ext
	}
	if name == "" {
		return "upload"
	}
	return name
}
