// Package costmodel converts model token usage into billable credits.
package costmodel

import "math"

// Config carries the conversion knobs between characters, tokens and credits.
type Config struct {
	CharsPerToken    int64
	TokensPerCredit  int64
	ModelMultipliers map[string]float64
}

// EstimateTokens approximates the token count of a text by character length.
// Non-empty text always counts as at least one token.
func EstimateTokens(text string, charsPerToken int64) int64 {
	if text == "" {
		return 0
	}
	if charsPerToken <= 0 {
		charsPerToken = 1
	}
	tokens := int64(math.Ceil(float64(len(text)) / float64(charsPerToken)))
	if tokens < 1 {
		return 1
	}
	return tokens
}

// EstimatePromptTokens estimates the prompt size of a conversation by
// applying the character formula once to the combined length of all prior
// turns plus the new message.
func EstimatePromptTokens(history []string, message string, charsPerToken int64) int64 {
	var chars int64
	for _, turn := range history {
		chars += int64(len(turn))
	}
	chars += int64(len(message))
	if chars == 0 {
		return 0
	}
	if charsPerToken <= 0 {
		charsPerToken = 1
	}
	tokens := int64(math.Ceil(float64(chars) / float64(charsPerToken)))
	if tokens < 1 {
		return 1
	}
	return tokens
}

// Multiplier resolves the pricing multiplier for a model, falling back to
// the "default" entry and finally 1.0.
func (c Config) Multiplier(model string) float64 {
	if m, ok := c.ModelMultipliers[model]; ok {
		return m
	}
	if m, ok := c.ModelMultipliers["default"]; ok {
		return m
	}
	return 1.0
}

// CostCredits converts a total token count into credits for the given model,
// rounding up so partial credits are charged in full.
func (c Config) CostCredits(totalTokens int64, model string) int64 {
	if totalTokens <= 0 {
		return 0
	}
	tokensPerCredit := c.TokensPerCredit
	if tokensPerCredit <= 0 {
		tokensPerCredit = 1
	}
	raw := float64(totalTokens) / float64(tokensPerCredit) * c.Multiplier(model)
	credits := int64(math.Ceil(raw))
	if credits < 0 {
		return 0
	}
	return credits
}
