package corpus

import "strings"

// Project Gutenberg books have no single header format; these cover the old
// "small print" licence and the current start/end banners.
var (
	gutenbergStartMarkers = []string{
		"*END*THE SMALL PRINT!",
		"*** START OF THE PROJECT GUTENBERG EBOOK",
		"*** START OF THIS PROJECT GUTENBERG EBOOK",
	}
	gutenbergEndMarkers = []string{
		"*** END OF THE PROJECT GUTENBERG EBOOK",
		"*** END OF THIS PROJECT GUTENBERG EBOOK",
		"End of the Project Gutenberg",
		"End of Project Gutenberg",
	}
)

// StripGutenberg removes Project Gutenberg boilerplate from text. Everything
// up to and including the line holding the earliest start marker is dropped,
// and so is everything from the earliest end marker after it. Text with no
// markers is returned unchanged.
func StripGutenberg(text string) string {
	if start := earliest(text, gutenbergStartMarkers); start >= 0 {
		if eol := strings.IndexByte(text[start:], '\n'); eol >= 0 {
			text = text[start+eol+1:]
		} else {
			text = ""
		}
	}
	if end := earliest(text, gutenbergEndMarkers); end >= 0 {
		text = text[:end]
	}
	return text
}

// earliest returns the smallest index at which any marker occurs, or -1.
func earliest(text string, markers []string) int {
	best := -1
	for _, marker := range markers {
		if idx := strings.Index(text, marker); idx >= 0 && (best < 0 || idx < best) {
			best = idx
		}
	}
	return best
}
