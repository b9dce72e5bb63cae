package models

// NormalizationConfig toggles the individual steps of query normalization.
// Values are copied into a normalizer at construction and never mutated.
type NormalizationConfig struct {
	Lowercase           bool `json:"lowercase" yaml:"lowercase"`
	RemovePunctuation   bool `json:"remove_punctuation" yaml:"remove_punctuation"`
	ExpandAbbreviations bool `json:"expand_abbreviations" yaml:"expand_abbreviations"`
	TrimWhitespace      bool `json:"trim_whitespace" yaml:"trim_whitespace"`
	RemoveStopwords     bool `json:"remove_stopwords" yaml:"remove_stopwords"`
}

// DefaultNormalizationConfig returns the normalization settings used when the
// user config does not override them.
func DefaultNormalizationConfig() NormalizationConfig {
	return NormalizationConfig{
		Lowercase:           true,
		RemovePunctuation:   false,
		ExpandAbbreviations: true,
		TrimWhitespace:      true,
		RemoveStopwords:     true,
	}
}
