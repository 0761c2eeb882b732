package similarity

import "strings"

// Name fuzzy score tiers. An exact full-name match scores ScoreExact; name
// variants (nicknames, initials, reordered tokens) that still cover both
// names score ScoreVariant; a first-name-only subset scores ScoreSubset,
// which is deliberately below the threshold needed to match on name alone.
const (
	ScoreExact   = 1.0
	ScoreVariant = 0.9
	ScoreSubset  = 0.5
)

// Scorer implements the pairwise comparators. Every comparator is
// deterministic and total; absent fields yield a neutral score.
type Scorer struct {
	aliasDomains map[string]bool
	dotDomains   map[string]bool
	// nickname canonical form per known given name
	nickCanon map[string]string
}

// NewScorer builds a Scorer from comparison policy config.
func NewScorer(cfg Config) *Scorer {
	s := &Scorer{
		aliasDomains: toDomainSet(cfg.AliasDomains),
		dotDomains:   toDomainSet(cfg.DotInsensitiveDomains),
		nickCanon:    make(map[string]string),
	}
	for _, group := range cfg.Nicknames {
		if len(group) < 2 {
			continue
		}
		canon := strings.ToLower(strings.TrimSpace(group[0]))
		for _, n := range group {
			s.nickCanon[strings.ToLower(strings.TrimSpace(n))] = canon
		}
	}
	return s
}

// EmailExact reports normalized-email equality. Two absent emails never match.
func (s *Scorer) EmailExact(a, b string) bool {
	return a != "" && a == b
}

// EmailAliasEquivalent reports whether two emails refer to the same mailbox
// under the configured alias rules: plus-tag stripping for alias-listed
// domains, dot-insensitive local parts for dot-listed domains. Emails on
// domains in neither list only match exactly, which EmailExact already covers.
func (s *Scorer) EmailAliasEquivalent(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	localA, domainA, okA := splitEmail(a)
	localB, domainB, okB := splitEmail(b)
	if !okA || !okB || domainA != domainB {
		return false
	}
	if s.aliasDomains[domainA] {
		localA = stripPlusTag(localA)
		localB = stripPlusTag(localB)
	}
	if s.dotDomains[domainA] {
		localA = strings.ReplaceAll(localA, ".", "")
		localB = strings.ReplaceAll(localB, ".", "")
	}
	return localA != "" && localA == localB
}

// PhoneExact reports normalized phone digit equality.
func (s *Scorer) PhoneExact(a, b string) bool {
	return a != "" && a == b
}

// NameFuzzy compares two display names with a token-set model tolerant of
// nicknames, initials, and first-name-only records. Returns 0 when either
// side is absent (neutral, non-matching).
func (s *Scorer) NameFuzzy(a, b string) float64 {
	ta := tokenize(a)
	tb := tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	if strings.Join(ta, " ") == strings.Join(tb, " ") {
		return ScoreExact
	}

	matched := matchTokens(s, ta, tb)

	switch {
	case matched == len(ta) && matched == len(tb):
		// Full coverage both ways via nicknames/initials/reordering.
		return ScoreVariant
	case matched == min(len(ta), len(tb)):
		// One name is a subset of the other (e.g. first name only).
		return ScoreSubset
	case matched > 0:
		// Partial overlap: Dice coefficient over matched token pairs.
		return float64(2*matched) / float64(len(ta)+len(tb))
	default:
		return 0
	}
}

// CompanyFuzzy compares company names by case-insensitive containment in
// either direction. Absent values score 0.
func (s *Scorer) CompanyFuzzy(a, b string) float64 {
	ca := strings.ToLower(strings.TrimSpace(a))
	cb := strings.ToLower(strings.TrimSpace(b))
	if ca == "" || cb == "" {
		return 0
	}
	switch {
	case ca == cb:
		return 1.0
	case strings.Contains(ca, cb) || strings.Contains(cb, ca):
		return 0.8
	default:
		return 0
	}
}

// matchTokens greedily pairs tokens of ta against distinct tokens of tb.
func matchTokens(s *Scorer, ta, tb []string) int {
	used := make([]bool, len(tb))
	matched := 0
	for _, t := range ta {
		for i, u := range tb {
			if used[i] {
				continue
			}
			if s.tokensEqual(t, u) {
				used[i] = true
				matched++
				break
			}
		}
	}
	return matched
}

// tokensEqual reports whether two name tokens refer to the same name part:
// exact equality, shared nickname group, or an initial matching the other
// token's first letter.
func (s *Scorer) tokensEqual(a, b string) bool {
	if a == b {
		return true
	}
	if ca, ok := s.nickCanon[a]; ok {
		if cb, ok := s.nickCanon[b]; ok && ca == cb {
			return true
		}
	}
	if len(a) == 1 && len(b) > 1 && a[0] == b[0] {
		return true
	}
	if len(b) == 1 && len(a) > 1 && b[0] == a[0] {
		return true
	}
	return false
}

func tokenize(name string) []string {
	fields := strings.Fields(strings.ToLower(name))
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".,")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func splitEmail(email string) (local, domain string, ok bool) {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", "", false
	}
	return email[:at], email[at+1:], true
}

func stripPlusTag(local string) string {
	if i := strings.Index(local, "+"); i >= 0 {
		return local[:i]
	}
	return local
}
