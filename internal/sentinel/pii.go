package sentinel

import (
	"regexp"
	"strings"

	"github.com/cloo-solutions/confidant/internal/domain"
)

// PII patterns are extracted from the private passages themselves, so the
// scan flags concrete values known to be confidential rather than guessing
// at shapes in the answer.
var piiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),   // email
	regexp.MustCompile(`\+?\d[\d().\s-]{7,}\d`),                            // phone
	regexp.MustCompile(`\b[A-Z0-9]{2,}(?:[-_][A-Z0-9]{2,})+\b`),            // structured identifier
	regexp.MustCompile(`\b\d{6,}\b`),                                       // long numeric id
}

type piiLiteral struct {
	value    string
	sourceID string
}

// extractPII pulls email, phone, and identifier literals out of the private
// passages. These are flagged in answers regardless of whether a citable
// passage happens to contain them too.
func extractPII(assembled *domain.AssembledContext) []piiLiteral {
	seen := make(map[string]struct{})
	var out []piiLiteral
	for _, p := range assembled.PrivateProvenance() {
		for _, re := range piiPatterns {
			for _, match := range re.FindAllString(p.Text, -1) {
				match = strings.TrimSpace(match)
				if len(match) < 6 {
					continue
				}
				key := strings.ToLower(match)
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				out = append(out, piiLiteral{value: match, sourceID: p.SourceID})
			}
		}
	}
	return out
}

// containsPII reports the first private literal present in the text.
func containsPII(text string, literals []piiLiteral) (piiLiteral, bool) {
	lower := strings.ToLower(text)
	for _, lit := range literals {
		if strings.Contains(lower, strings.ToLower(lit.value)) {
			return lit, true
		}
	}
	return piiLiteral{}, false
}
