// Package emotion defines the fixed label set of the pet emotion classifier.
package emotion

import (
	"strconv"
	"strings"
)

// Label is a pet emotion class name.
type Label string

const (
	Angry   Label = "angry"
	Happy   Label = "happy"
	Relaxed Label = "relaxed"
	Sad     Label = "sad"
)

// Labels lists the classes in model output order.
var Labels = []Label{Angry, Happy, Relaxed, Sad}

// NumClasses returns the number of output classes.
func NumClasses() int {
	return len(Labels)
}

// Names returns the label names in model output order.
func Names() []string {
	names := make([]string, len(Labels))
	for i, l := range Labels {
		names[i] = string(l)
	}
	return names
}

// Index resolves a label name or numeric class index to its position.
// Matching is case-insensitive and ignores surrounding whitespace.
func Index(s string) (int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, l := range Labels {
		if string(l) == s {
			return i, true
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n < len(Labels) {
		return n, true
	}
	return 0, false
}

// Name returns the label name for a class index, or "unknown".
func Name(idx int) string {
	if idx < 0 || idx >= len(Labels) {
		return "unknown"
	}
	return string(Labels[idx])
}
