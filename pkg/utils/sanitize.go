package utils

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// --- Filename Sanitization ---
var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`) // Characters invalid in Windows/Unix filenames
var consecutiveUnderscores = regexp.MustCompile(`_+`)                  // Pattern to replace multiple underscores with one
const maxFilenameLength = 100                                          // Max length for sanitized filenames

// SanitizeFilename cleans a string to be safe for use as a filename component
func SanitizeFilename(name string) string {
	sanitized := invalidFilenameChars.ReplaceAllString(name, "_")       // Replace invalid chars with underscore
	sanitized = consecutiveUnderscores.ReplaceAllString(sanitized, "_") // Collapse multiple underscores
	sanitized = strings.Trim(sanitized, "_ ")                           // Remove leading/trailing underscores or spaces

	// Notice titles are mostly CJK, so cut on a rune boundary
	if len(sanitized) > maxFilenameLength {
		cut := maxFilenameLength
		for cut > 0 && !utf8.RuneStart(sanitized[cut]) {
			cut--
		}
		sanitized = strings.Trim(sanitized[:cut], "_ ")
	}

	if sanitized == "" { // Handle cases where sanitization results in an empty string
		sanitized = "untitled" // Provide a default name
	}
	return sanitized
}
