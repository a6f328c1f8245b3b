package assembler

import "unicode/utf8"

// charsPerToken is the cheap token estimator ratio
const charsPerToken = 4

// Truncate keeps the first budget*4 characters and returns the token estimate of what was kept
func Truncate(text string, tokenBudget int) (string, int) {
	maxChars := tokenBudget * charsPerToken
	if utf8.RuneCountInString(text) > maxChars {
		runes := []rune(text)
		text = string(runes[:maxChars])
	}
	return text, EstimateTokens(text)
}

// EstimateTokens returns ceil(chars/4)
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + charsPerToken - 1) / charsPerToken
}
