package retrieval

import (
	_ "embed"
	"strings"

	"gopkg.in/yaml.v3"
)

// terms.yaml maps German input terms to English catalog vocabulary. Activity
// names in the catalog are English; without expansion, German labels score
// zero on lexical search.
//
//go:embed terms.yaml
var termsYAML []byte

var termTranslations = mustLoadTerms()

func mustLoadTerms() map[string]string {
	m := make(map[string]string)
	if err := yaml.Unmarshal(termsYAML, &m); err != nil {
		panic("retrieval: parse terms.yaml: " + err.Error())
	}
	return m
}

// TranslateTerms appends English equivalents of recognized German terms to the
// text. The original text is preserved. Two-word combinations are checked
// first; words consumed by a combination are skipped in the single-word pass.
func TranslateTerms(text string) string {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	var additions []string
	matched := make(map[int]bool)

	for i := 0; i+1 < len(words); i++ {
		bigram := words[i] + words[i+1]
		if t, ok := termTranslations[Fold(bigram)]; ok {
			additions = append(additions, t)
			matched[i], matched[i+1] = true, true
		} else if t, ok := termTranslations[bigram]; ok {
			additions = append(additions, t)
			matched[i], matched[i+1] = true, true
		}
	}

	for i, word := range words {
		if matched[i] {
			continue
		}
		if t, ok := termTranslations[Fold(word)]; ok {
			additions = append(additions, t)
		}
		if t, ok := termTranslations[word]; ok && !contains(additions, t) {
			additions = append(additions, t)
		}
	}

	if len(additions) == 0 {
		return text
	}
	return text + " " + strings.Join(additions, " ")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
