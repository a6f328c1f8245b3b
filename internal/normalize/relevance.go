package normalize

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// minRelevantChars below this combined length a record is never relevant
const minRelevantChars = 20

// CheckRelevance flags whether an article is about the asset.
// Too-short text is never relevant; otherwise the ticker or company name must appear (case-insensitive).
func CheckRelevance(headline, snippet, ticker, companyName string) bool {
	text := strings.TrimSpace(headline + " " + snippet)
	if utf8.RuneCountInString(text) < minRelevantChars {
		return false
	}

	lower := strings.ToLower(text)
	if t := strings.ToLower(strings.TrimSpace(ticker)); t != "" && strings.Contains(lower, t) {
		return true
	}
	if c := strings.ToLower(strings.TrimSpace(companyName)); c != "" && strings.Contains(lower, c) {
		return true
	}
	return false
}

// CleanText strips HTML markup and collapses whitespace.
// Some providers return snippets with tags and entities.
func CleanText(s string) string {
	if strings.ContainsAny(s, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
	}
	return strings.Join(strings.Fields(s), " ")
}

// EstimateTokens approximates tokens as ceil(chars / 4)
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}
