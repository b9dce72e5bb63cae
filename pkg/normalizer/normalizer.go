// Package normalizer canonicalizes query text so that differently phrased
// queries share a cache key.
package normalizer

import (
	"errors"
	"strings"
	"unicode"

	"github.com/cyx-sec/cyx/pkg/models"
)

// Normalizer rewrites raw queries into a canonical form. It is immutable after
// construction and safe for concurrent use.
type Normalizer struct {
	cfg     models.NormalizationConfig
	lexicon *Lexicon
}

// New creates a Normalizer that owns a private copy of lex.
func New(cfg models.NormalizationConfig, lex *Lexicon) (*Normalizer, error) {
	if lex == nil {
		return nil, errors.New("normalizer: nil lexicon")
	}
	return &Normalizer{cfg: cfg, lexicon: lex.Clone()}, nil
}

// NewFromDirs loads the lexicon from the first matching candidate data
// directory and creates a Normalizer.
func NewFromDirs(cfg models.NormalizationConfig, candidates []string) (*Normalizer, error) {
	lex, err := LoadLexiconFromDirs(candidates)
	if err != nil {
		return nil, err
	}
	return New(cfg, lex)
}

// Config returns the normalization settings.
func (n *Normalizer) Config() models.NormalizationConfig {
	return n.cfg
}

// Normalize applies the enabled steps in order: trim, lowercase, expand
// abbreviations, strip punctuation, drop stopwords. Whitespace runs are always
// collapsed at the end.
func (n *Normalizer) Normalize(query string) string {
	s := query

	if n.cfg.TrimWhitespace {
		s = strings.TrimSpace(s)
	}
	if n.cfg.Lowercase {
		s = strings.ToLower(s)
	}
	if n.cfg.ExpandAbbreviations {
		s = n.expandAbbreviations(s)
	}
	if n.cfg.RemovePunctuation {
		s = cleanPunctuation(s)
	}
	if n.cfg.RemoveStopwords {
		s = n.removeStopwords(s)
	}

	return strings.Join(strings.Fields(s), " ")
}

// ComputeHash returns the cache key for normalized text.
func (n *Normalizer) ComputeHash(normalized string) string {
	return ComputeHash(normalized)
}

func (n *Normalizer) expandAbbreviations(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		// "nmap," still matches "nmap"; the token is kept verbatim otherwise.
		key := strings.TrimRightFunc(w, func(r rune) bool { return !isAlnum(r) })
		if exp, ok := n.lexicon.Abbreviations[key]; ok {
			words[i] = exp
		}
	}
	return strings.Join(words, " ")
}

func cleanPunctuation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		if isAlnum(r) || r == '-' || r == '_' || r == '/' {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

func (n *Normalizer) removeStopwords(s string) string {
	words := strings.Fields(s)
	kept := words[:0]
	for _, w := range words {
		if _, stop := n.lexicon.Stopwords[w]; !stop {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}
