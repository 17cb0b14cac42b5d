package extract

import (
	"regexp"
	"strings"
)

var tokenRe = regexp.MustCompile(`[a-z0-9']+`)

// normalizeText lowercases and folds curly quotes and dashes to ASCII so
// pattern matching is not defeated by smart punctuation.
func normalizeText(text string) string {
	t := strings.ToLower(text)
	r := strings.NewReplacer(
		"’", "'",
		"‘", "'",
		"“", `"`,
		"”", `"`,
		"—", "-",
		"–", "-",
	)
	return r.Replace(t)
}

func tokens(text string) []string {
	return tokenRe.FindAllString(normalizeText(text), -1)
}

// jaccard computes token-set similarity between two texts in [0,1].
func jaccard(a, b string) float64 {
	wa := toSet(tokens(a))
	wb := toSet(tokens(b))
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	inter := 0
	for w := range wa {
		if wb[w] {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

func toSet(words []string) map[string]bool {
	s := make(map[string]bool, len(words))
	for _, w := range words {
		s[w] = true
	}
	return s
}

// keywordCount counts sensitive keywords present in the text.
func keywordCount(text string, keywords []string) int {
	t := normalizeText(text)
	n := 0
	for _, k := range keywords {
		if strings.Contains(t, k) {
			n++
		}
	}
	return n
}
