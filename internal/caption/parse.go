package caption

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const maxCaptions = 3

var (
	fenceRe         = regexp.MustCompile("^```[a-zA-Z]*\n|\n```$")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	zeroWidthRe     = regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}]`)
	plainSplitRe    = regexp.MustCompile(`(?m)\n{2,}|^\d+[).]\s|^[-•]\s`)
	smartQuotes     = strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'")
)

// ParseCaptions extracts captions from raw model output. It tries strict JSON,
// then a repaired JSON, then falls back to splitting plain text into paragraphs.
// At most three captions are returned.
func ParseCaptions(raw string) []string {
	text := fenceRe.ReplaceAllString(strings.TrimSpace(raw), "")
	slice := text
	first, last := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if first != -1 && last > first {
		slice = text[first : last+1]
	}

	if captions, ok := decodeCaptions(slice); ok && len(captions) > 0 {
		return captions
	}
	repaired := smartQuotes.Replace(slice)
	repaired = trailingCommaRe.ReplaceAllString(repaired, "$1")
	repaired = zeroWidthRe.ReplaceAllString(repaired, "")
	if captions, ok := decodeCaptions(repaired); ok && len(captions) > 0 {
		return captions
	}

	var out []string
	for _, part := range plainSplitRe.Split(text, -1) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
		if len(out) == maxCaptions {
			break
		}
	}
	return out
}

func decodeCaptions(s string) ([]string, bool) {
	var payload struct {
		Captions []any `json:"captions"`
	}
	if err := json.Unmarshal([]byte(s), &payload); err != nil {
		return nil, false
	}
	var out []string
	for _, item := range payload.Captions {
		if item == nil {
			continue
		}
		var text string
		switch v := item.(type) {
		case string:
			text = v
		default:
			text = fmt.Sprint(v)
		}
		if text = strings.TrimSpace(text); text != "" {
			out = append(out, text)
		}
		if len(out) == maxCaptions {
			break
		}
	}
	return out, true
}
