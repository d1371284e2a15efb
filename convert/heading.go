package convert

import (
	"sort"
	"strings"
)

// styleHeadingLevel maps a word-processing paragraph style name to a heading
// level 1-6, or 0 for body text. Localized style prefixes are recognized the
// same way the style gallery localizes them.
func styleHeadingLevel(style string) int {
	lower := strings.ToLower(style)

	if lower == "title" {
		return 1
	}
	if lower == "subtitle" {
		return 2
	}

	for _, prefix := range []string{"heading", "titre", "überschrift"} {
		if strings.HasPrefix(lower, prefix) {
			rest := strings.TrimSpace(lower[len(prefix):])
			if len(rest) == 1 && rest[0] >= '1' && rest[0] <= '9' {
				lvl := int(rest[0] - '0')
				if lvl > 6 {
					lvl = 6
				}
				return lvl
			}
		}
	}
	return 0
}

// headingScale buckets PDF heading-candidate font sizes into levels 1-6.
//
// Distinct candidate sizes are ranked largest-first: the largest tier maps to
// level 1, the next distinct tier to level 2, and so on, capped at 6. A
// document with fewer than 6 distinct tiers only ever emits the levels it
// has, keeping level ordering monotonic with font-size ranking.
type headingScale struct {
	tiers []float64 // distinct candidate sizes, descending
}

// newHeadingScale builds a scale from the font sizes of all heading-candidate
// lines. Sizes are quantized to half points so near-identical floats from
// different text operators land in the same tier.
func newHeadingScale(sizes []float64) headingScale {
	seen := make(map[float64]bool, len(sizes))
	var tiers []float64
	for _, s := range sizes {
		q := quantizeSize(s)
		if !seen[q] {
			seen[q] = true
			tiers = append(tiers, q)
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(tiers)))
	if len(tiers) > 6 {
		tiers = tiers[:6]
	}
	return headingScale{tiers: tiers}
}

// level returns the heading level for size, or 0 when the size does not
// belong to any tier (smaller than the smallest kept tier).
func (h headingScale) level(size float64) int {
	q := quantizeSize(size)
	for i, t := range h.tiers {
		if q >= t {
			return i + 1
		}
	}
	if len(h.tiers) == 6 {
		// More than six tiers existed; everything below tier six caps at 6.
		return 6
	}
	return 0
}

func quantizeSize(s float64) float64 {
	return float64(int(s*2+0.5)) / 2
}
