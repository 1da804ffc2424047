package ingest

import (
	"regexp"
	"strings"
)

// MaxFilenameLength bounds a stored filename, extension included.
const MaxFilenameLength = 255

var (
	forbiddenChars = strings.NewReplacer(
		"<", "", ">", "", ":", "", `"`, "", "/", "", `\`, "", "|", "", "?", "", "*", "",
	)
	whitespaceRun = regexp.MustCompile(`\s+`)
	dotRun        = regexp.MustCompile(`\.{2,}`)
)

// SanitizeFilename normalises a user supplied filename into a safe, length
// bounded form. It is total: every input, the empty string included, yields
// a usable name.
func SanitizeFilename(name string) string {
	base, ext := splitExtension(name)
	base = forbiddenChars.Replace(base)
	base = whitespaceRun.ReplaceAllString(base, "_")
	base = dotRun.ReplaceAllString(base, ".")
	base = strings.Trim(base, ". \t\n\r")
	if base == "" {
		base = "unnamed_file"
	}
	return clampLength(base, ext)
}

// splitExtension splits name at the last dot. A name whose only dot is the
// leading one, such as ".pdf", has an empty base and keeps the whole string
// as its extension.
func splitExtension(name string) (base, ext string) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return name, ""
	}
	if idx == 0 {
		return "", name
	}
	return name[:idx], name[idx:]
}

// clampLength recombines base and extension, shortening the base so the
// total never exceeds MaxFilenameLength runes. The extension survives intact
// unless it alone fills the limit.
func clampLength(base, ext string) string {
	baseRunes := []rune(base)
	extRunes := []rune(ext)
	if len(baseRunes)+len(extRunes) <= MaxFilenameLength {
		return base + ext
	}
	keep := MaxFilenameLength - len(extRunes)
	if keep < 1 {
		all := []rune(base + ext)
		return string(all[:MaxFilenameLength])
	}
	return string(baseRunes[:keep]) + ext
}
