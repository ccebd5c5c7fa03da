package sentinel

import (
	"strings"
	"unicode"

	"github.com/cloo-solutions/confidant/internal/domain"
)

// tokenize lowercases text and splits it into word tokens. Punctuation and
// citation markers disappear here, so overlap detection is insensitive to
// cosmetic rewriting.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// gramSet collects every span-length token window of text.
func gramSet(text string, span int, into map[string]struct{}) {
	tokens := tokenize(text)
	for i := 0; i+span <= len(tokens); i++ {
		into[strings.Join(tokens[i:i+span], " ")] = struct{}{}
	}
}

// overlapIndex precomputes the private token windows an answer must not
// contain. Windows that also occur in a citable passage are exempt: the same
// sentence appearing in both classifications is quotable through the citable
// copy.
type overlapIndex struct {
	span    int
	private map[string]string // gram -> source id
}

func buildOverlapIndex(assembled *domain.AssembledContext, span int) *overlapIndex {
	citable := make(map[string]struct{})
	for _, p := range assembled.CitableProvenance() {
		gramSet(p.Text, span, citable)
	}

	private := make(map[string]string)
	for _, p := range assembled.PrivateProvenance() {
		tokens := tokenize(p.Text)
		for i := 0; i+span <= len(tokens); i++ {
			gram := strings.Join(tokens[i:i+span], " ")
			if _, ok := citable[gram]; ok {
				continue
			}
			if _, ok := private[gram]; !ok {
				private[gram] = p.SourceID
			}
		}
	}
	return &overlapIndex{span: span, private: private}
}

// check returns the violating gram and its source id if the text contains a
// private-only window.
func (idx *overlapIndex) check(text string) (string, string, bool) {
	tokens := tokenize(text)
	for i := 0; i+idx.span <= len(tokens); i++ {
		gram := strings.Join(tokens[i:i+idx.span], " ")
		if sourceID, ok := idx.private[gram]; ok {
			return gram, sourceID, true
		}
	}
	return "", "", false
}
