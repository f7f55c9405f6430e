package analysis

// Curated stop-word lists for the locales that ship with the service.
// Deliberately small: aggressive stop-word removal hurts recall on short
// support-forum titles. Locales absent from this table still get
// tokenization and lowercasing through the generic analyzer.
var stopWords = map[string][]string{
	"en": {
		"a", "an", "and", "are", "as", "at", "be", "but", "by", "for",
		"if", "in", "into", "is", "it", "no", "not", "of", "on", "or",
		"such", "that", "the", "their", "then", "there", "these", "they",
		"this", "to", "was", "will", "with",
	},
	"de": {
		"der", "die", "das", "und", "oder", "aber", "ein", "eine", "einer",
		"in", "im", "ist", "sind", "mit", "von", "zu", "auf", "für", "den",
		"dem", "des", "nicht", "sich", "auch", "als", "an", "es", "dass",
	},
	"es": {
		"el", "la", "los", "las", "un", "una", "unos", "unas", "y", "o",
		"de", "del", "en", "es", "son", "con", "por", "para", "que", "no",
		"se", "su", "al", "lo", "como", "más",
	},
	"fr": {
		"le", "la", "les", "un", "une", "des", "et", "ou", "de", "du",
		"en", "est", "sont", "avec", "par", "pour", "que", "qui", "ne",
		"pas", "se", "sur", "au", "aux", "ce", "cette", "dans",
	},
}

// StopWords returns the curated stop words for a locale. Locale variants
// fall back to their base language ("en-US" -> "en").
func StopWords(locale string) []string {
	if words, ok := stopWords[locale]; ok {
		return words
	}
	if base := baseLanguage(locale); base != locale {
		return stopWords[base]
	}
	return nil
}

func baseLanguage(locale string) string {
	for i := 0; i < len(locale); i++ {
		if locale[i] == '-' || locale[i] == '_' {
			return locale[:i]
		}
	}
	return locale
}
