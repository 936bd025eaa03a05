package ingest

import "unicode"

// scripts checked by the default readability heuristic.
var scripts = []*unicode.RangeTable{
	unicode.Latin,
	unicode.Cyrillic,
	unicode.Greek,
	unicode.Han,
	unicode.Arabic,
}

// HasReadableText is the default detector for "does this PDF already
// contain usable text". It reports true when the text holds a run of at
// least three consecutive letters from a single script (two for Han, where
// words are shorter). It is a loose, deliberately pluggable heuristic:
// substitute your own detector via Config.TextDetector if your corpus
// needs different rules.
func HasReadableText(text string) bool {
	for _, script := range scripts {
		need := 3
		if script == unicode.Han {
			need = 2
		}
		run := 0
		for _, r := range text {
			if unicode.Is(script, r) {
				run++
				if run >= need {
					return true
				}
				continue
			}
			run = 0
		}
	}
	return false
}

// NeedsOCR reports whether a PDF's native text layer is insufficient and
// the document must be OCRed. Empty text always needs OCR.
func NeedsOCR(text string, detector func(string) bool) bool {
	if text == "" {
		return true
	}
	if detector == nil {
		detector = HasReadableText
	}
	return !detector(text)
}
