package cim

import (
	"strconv"
	"strings"
)

// AcceptLanguage is one weighted entry of an Accept-Language list.
type AcceptLanguage struct {
	Tag     string  `json:"tag"`
	Quality float32 `json:"quality"`
}

// AcceptLanguageList is a requester's language preference, highest quality first.
type AcceptLanguageList []AcceptLanguage

// String renders the list in HTTP header form.
func (l AcceptLanguageList) String() string {
	parts := make([]string, 0, len(l))
	for _, al := range l {
		if al.Quality == 1 {
			parts = append(parts, al.Tag)
			continue
		}
		parts = append(parts, al.Tag+";q="+formatQuality(al.Quality))
	}
	return strings.Join(parts, ", ")
}

// ContentLanguageList names the languages a message body is written in.
type ContentLanguageList []string

func (l ContentLanguageList) String() string { return strings.Join(l, ", ") }

func formatQuality(q float32) string {
	return strconv.FormatFloat(float64(q), 'f', -1, 32)
}
