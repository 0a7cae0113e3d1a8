package similarity

import "strings"

// NormalizeName trims, collapses internal whitespace, and case-folds.
func NormalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// NormalizeEmail reduces an address to the shape users actually reuse across
// records: the +tag sub-addressing suffix and local-part dots are folded, and
// the trailing extension segment of the domain is dropped, so
// "jane.doe+promo@x.com" and "janedoe@x.org" normalize equal.
func NormalizeEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	at := strings.LastIndex(s, "@")
	if at < 0 {
		return s
	}
	local, domain := s[:at], s[at+1:]

	if plus := strings.Index(local, "+"); plus >= 0 {
		local = local[:plus]
	}
	local = strings.ReplaceAll(local, ".", "")

	if dot := strings.LastIndex(domain, "."); dot > 0 {
		domain = domain[:dot]
	}

	return local + "@" + domain
}

// DiceCoefficient is the bigram-overlap string similarity ratio in [0,1]:
// twice the number of shared character bigrams over the total bigram count.
func DiceCoefficient(a, b string) float64 {
	if a == b {
		return 1
	}
	if len(a) < 2 || len(b) < 2 {
		return 0
	}

	bigrams := make(map[string]int)
	for i := 0; i < len(a)-1; i++ {
		bigrams[a[i:i+2]]++
	}

	matches := 0
	for i := 0; i < len(b)-1; i++ {
		if bigrams[b[i:i+2]] > 0 {
			bigrams[b[i:i+2]]--
			matches++
		}
	}

	return 2 * float64(matches) / float64(len(a)+len(b)-2)
}
