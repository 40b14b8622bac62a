// Package caption holds the pure caption-generation rules: product and style
// normalization, platform profiles, prompt rendering, model-output parsing and
// the opening-line fingerprint used to avoid repeated hooks.
package caption

import (
	"strings"
)

const DefaultProduct = "AirVo"

// Products is the fixed catalogue, in display order.
var Products = []string{"AirVo", "TriGuard", "FloMix", "TrioCare", "FleXa"}

// NormalizeProduct maps free-form input onto a catalogue key. Matching is
// case-insensitive; an exact match wins, otherwise the first key that contains the
// input or is contained by it. ok is false when nothing matched and the default
// was returned.
func NormalizeProduct(input string) (product string, ok bool) {
	needle := strings.ToLower(strings.TrimSpace(input))
	if needle == "" {
		return DefaultProduct, false
	}
	for _, p := range Products {
		if strings.ToLower(p) == needle {
			return p, true
		}
	}
	for _, p := range Products {
		key := strings.ToLower(p)
		if strings.Contains(key, needle) || strings.Contains(needle, key) {
			return p, true
		}
	}
	return DefaultProduct, false
}

// AssetFile returns the product reference image file name, e.g. "airvo.png".
func AssetFile(product string) string {
	return strings.ToLower(product) + ".png"
}
