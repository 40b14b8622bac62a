package caption

import (
	"strings"
	"unicode"
)

const (
	fingerprintRunes   = 12
	minFingerprintRune = 4
	similarityCutoff   = 0.8
)

// Fingerprint reduces a caption to its opening: the first non-empty line with
// leading punctuation, hashtags, symbols and spaces removed, internal whitespace
// dropped, cut to twelve runes. Fingerprint(Fingerprint(x)) == Fingerprint(x).
func Fingerprint(text string) string {
	var line string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	line = strings.TrimLeftFunc(line, isOpeningNoise)

	out := make([]rune, 0, fingerprintRunes)
	for _, r := range line {
		if unicode.IsSpace(r) {
			continue
		}
		out = append(out, r)
		if len(out) == fingerprintRunes {
			break
		}
	}
	return string(out)
}

func isOpeningNoise(r rune) bool {
	return r == '#' ||
		unicode.IsSpace(r) ||
		unicode.IsPunct(r) ||
		unicode.IsSymbol(r) ||
		unicode.Is(unicode.Mn, r) ||
		unicode.Is(unicode.Cf, r)
}

func trigrams(s string) map[string]struct{} {
	rs := []rune(s)
	set := map[string]struct{}{}
	if len(rs) == 0 {
		return set
	}
	if len(rs) < 3 {
		set[s] = struct{}{}
		return set
	}
	for i := 0; i+3 <= len(rs); i++ {
		set[string(rs[i:i+3])] = struct{}{}
	}
	return set
}

// Jaccard returns the similarity of the 3-rune gram sets of a and b.
func Jaccard(a, b string) float64 {
	if a == b {
		return 1
	}
	sa, sb := trigrams(a), trigrams(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for g := range sa {
		if _, ok := sb[g]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

// NeedsRetry reports whether a fingerprint is too short or collides with a
// banned opening.
func NeedsRetry(fp string, banned []string) bool {
	if len([]rune(fp)) < minFingerprintRune {
		return true
	}
	for _, b := range banned {
		b = Fingerprint(b)
		if b == "" {
			continue
		}
		if fp == b || Jaccard(fp, b) >= similarityCutoff {
			return true
		}
	}
	return false
}
