// Package filename holds the single sanitization rule shared by download
// names and on-disk working files.
package filename

import (
	"path/filepath"
	"strings"
	"unicode"
)

// Sanitize keeps letters, digits, space, '-' and '_', trims trailing
// whitespace and returns fallback when nothing is left.
func Sanitize(name, fallback string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	out := strings.TrimRightFunc(b.String(), unicode.IsSpace)
	if strings.TrimSpace(out) == "" {
		return fallback
	}
	return out
}

// Stem returns the portion of the base name before the first '.'.
func Stem(name string) string {
	base := filepath.Base(name)
	if i := strings.Index(base, "."); i >= 0 {
		return base[:i]
	}
	return base
}

// Working turns an uploaded filename into a safe scratch filename. Stem and
// extension are sanitized separately; spaces become underscores so the name
// never needs quoting on a command line.
func Working(original, fallback string) string {
	base := filepath.Base(strings.ReplaceAll(original, "\\", "/"))
	stem, ext := base, ""
	if i := strings.Index(base, "."); i >= 0 {
		stem, ext = base[:i], base[i+1:]
	}

	stem = strings.Trim(strings.ReplaceAll(Sanitize(stem, ""), " ", "_"), "_")
	if stem == "" {
		return fallback
	}

	ext = strings.ToLower(Sanitize(strings.ReplaceAll(ext, ".", ""), ""))
	ext = strings.ReplaceAll(ext, " ", "")
	if ext == "" {
		return stem
	}
	return stem + "." + ext
}
