package universe

import "strings"

// nameSuffixes are corporate-suffix tokens dropped during normalization.
// They carry no identity signal and would otherwise inflate overlap
// scores between unrelated companies.
var nameSuffixes = map[string]bool{
	"inc":          true,
	"incorporated": true,
	"corporation":  true,
	"corp":         true,
	"co":           true,
	"company":      true,
	"ltd":          true,
	"limited":      true,
	"plc":          true,
	"sa":           true,
	"nv":           true,
	"ag":           true,
	"class":        true,
	"series":       true,
	"a":            true,
	"b":            true,
	"c":            true,
}

// NormalizeName lower-cases a security name, strips punctuation and
// corporate suffixes, and returns the joined form plus its token set.
func NormalizeName(name string) (string, map[string]bool) {
	lowered := strings.ToLower(name)

	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	tokens := make(map[string]bool)
	kept := make([]string, 0, 8)
	for _, token := range strings.Fields(b.String()) {
		if nameSuffixes[token] {
			continue
		}
		if !tokens[token] {
			kept = append(kept, token)
		}
		tokens[token] = true
	}

	return strings.Join(kept, " "), tokens
}

// Similarity is a Levenshtein ratio in [0,1]: identical strings score 1,
// disjoint strings approach 0.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(a, b))/float64(longest)
}

// levenshtein computes the edit distance with a two-row matrix.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
