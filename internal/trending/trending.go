// Package trending extracts trending topics from article titles by
// keyword frequency.
package trending

import (
	"sort"
	"strings"
	"unicode"

	"github.com/velmora/news-aggregator/internal/models"
)

// words this short carry no topical signal
const minWordLength = 4

// Topic is one trending keyword with its occurrence count
type Topic struct {
	Keyword  string          `json:"keyword"`
	Count    int             `json:"count"`
	Category models.Category `json:"category"`
}

// Topics counts keyword occurrences across article titles and returns
// the top keywords by count, at most limit of them. Ties break
// alphabetically so the result is deterministic.
func Topics(articles []models.Article, category models.Category, limit int) []Topic {
	if limit <= 0 {
		limit = 10
	}

	counts := make(map[string]int)
	for _, a := range articles {
		for _, word := range tokenize(a.Title) {
			counts[word]++
		}
	}

	topics := make([]Topic, 0, len(counts))
	for word, count := range counts {
		topics = append(topics, Topic{Keyword: word, Count: count, Category: category})
	}

	sort.Slice(topics, func(i, j int) bool {
		if topics[i].Count != topics[j].Count {
			return topics[i].Count > topics[j].Count
		}
		return topics[i].Keyword < topics[j].Keyword
	})

	if len(topics) > limit {
		topics = topics[:limit]
	}
	return topics
}

// tokenize lower-cases the title, strips punctuation and drops short
// words.
func tokenize(title string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, title)

	var words []string
	for _, w := range strings.Fields(cleaned) {
		if len(w) >= minWordLength {
			words = append(words, w)
		}
	}
	return words
}
