package normalizer

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Lexicon file locations relative to a data directory.
const (
	AbbreviationsFile = "normalization/abbreviations.json"
	StopwordsFile     = "normalization/stopwords.json"
)

// ErrLexiconNotFound is returned when no candidate directory holds a lexicon file.
var ErrLexiconNotFound = errors.New("lexicon file not found")

// Lexicon holds the static word lists used during normalization.
type Lexicon struct {
	// Abbreviations maps a lowercase token to its expansion phrase.
	Abbreviations map[string]string
	// Stopwords is the set of lowercase tokens dropped from queries.
	Stopwords map[string]struct{}
}

type abbreviationsData struct {
	Abbreviations map[string]string `yaml:"abbreviations"`
}

type stopwordsData struct {
	Stopwords []string `yaml:"stopwords"`
}

// NewLexicon builds a Lexicon from plain Go values. Keys and stopwords are
// lowercased.
func NewLexicon(abbreviations map[string]string, stopwords []string) *Lexicon {
	lex := &Lexicon{
		Abbreviations: make(map[string]string, len(abbreviations)),
		Stopwords:     make(map[string]struct{}, len(stopwords)),
	}
	for k, v := range abbreviations {
		lex.Abbreviations[strings.ToLower(strings.TrimSpace(k))] = v
	}
	for _, w := range stopwords {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			lex.Stopwords[w] = struct{}{}
		}
	}
	return lex
}

// Clone returns a deep copy of the lexicon.
func (l *Lexicon) Clone() *Lexicon {
	return &Lexicon{
		Abbreviations: maps.Clone(l.Abbreviations),
		Stopwords:     maps.Clone(l.Stopwords),
	}
}

// LoadLexicon reads the abbreviation and stopword files. Both files are JSON
// documents; YAML is accepted too since it is a superset.
func LoadLexicon(abbreviationsPath, stopwordsPath string) (*Lexicon, error) {
	var abbr abbreviationsData
	if err := readDocument(abbreviationsPath, &abbr); err != nil {
		return nil, fmt.Errorf("load abbreviations: %w", err)
	}

	var stop stopwordsData
	if err := readDocument(stopwordsPath, &stop); err != nil {
		return nil, fmt.Errorf("load stopwords: %w", err)
	}

	return NewLexicon(abbr.Abbreviations, stop.Stopwords), nil
}

// LoadLexiconFromDirs loads the lexicon from the first candidate data
// directory that contains each file.
func LoadLexiconFromDirs(candidates []string) (*Lexicon, error) {
	abbrPath, err := ResolveDataFile(candidates, AbbreviationsFile)
	if err != nil {
		return nil, err
	}
	stopPath, err := ResolveDataFile(candidates, StopwordsFile)
	if err != nil {
		return nil, err
	}
	return LoadLexicon(abbrPath, stopPath)
}

// ResolveDataFile returns the path of rel under the first candidate directory
// where it exists. Empty candidates are skipped.
func ResolveDataFile(candidates []string, rel string) (string, error) {
	for _, dir := range candidates {
		if dir == "" {
			continue
		}
		p := filepath.Join(dir, rel)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s (searched %s)", ErrLexiconNotFound, rel, strings.Join(candidates, ", "))
}

func readDocument(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
