// Package languages lists the dubbing target languages.
package languages

import (
	"sort"
	"strings"
)

var names = map[string]string{
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"it": "Italian",
	"pt": "Portuguese",
	"ru": "Russian",
	"ja": "Japanese",
	"ko": "Korean",
	"zh": "Chinese",
	"ar": "Arabic",
	"hi": "Hindi",
}

func normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

func Supported(code string) bool {
	_, ok := names[normalize(code)]
	return ok
}

// Name returns the English name of code, or code itself when unknown.
func Name(code string) string {
	if n, ok := names[normalize(code)]; ok {
		return n
	}
	return code
}

// Codes returns the supported codes in sorted order.
func Codes() []string {
	out := make([]string, 0, len(names))
	for c := range names {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
