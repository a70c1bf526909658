package usecase

import (
	"strings"
	"unicode/utf8"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
)

// Keywords are the term lists used to flag message text
type Keywords struct {
	Price   []string
	Contact []string
	Domain  []string
}

// DefaultKeywords is used when no keywords file is configured
var DefaultKeywords = Keywords{
	Price:   []string{"aed", "dhs", "dh", "price", "cost"},
	Contact: []string{"contact", "call", "whatsapp", "phone", "dm"},
	Domain:  []string{"car", "vehicle", "auto", "bmw", "mercedes", "toyota"},
}

// ExtractSignals derives the coarse flags for a message.
// Keyword checks are case-insensitive substring matches.
func ExtractSignals(text string, kw Keywords) domain.Signals {
	lower := strings.ToLower(text)
	return domain.Signals{
		HasPrice:      containsAny(lower, kw.Price),
		HasContact:    containsAny(lower, kw.Contact),
		HasCarTerms:   containsAny(lower, kw.Domain),
		WordCount:     len(strings.Fields(text)),
		MessageLength: utf8.RuneCountInString(text),
	}
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if term == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(term)) {
			return true
		}
	}
	return false
}
