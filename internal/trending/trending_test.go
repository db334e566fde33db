package trending

import (
	"testing"

	"github.com/velmora/news-aggregator/internal/models"
)

func titles(ts ...string) []models.Article {
	out := make([]models.Article, len(ts))
	for i, t := range ts {
		out[i] = models.Article{Title: t}
	}
	return out
}

func TestTopicsCountsAcrossTitles(t *testing.T) {
	articles := titles(
		"Quantum computing breakthrough announced",
		"Quantum chips enter production",
		"Markets rally on chips demand",
	)

	topics := Topics(articles, models.CategoryTechnology, 2)
	if len(topics) != 2 {
		t.Fatalf("expected 2 topics, got %d", len(topics))
	}
	if topics[0].Keyword != "chips" && topics[0].Keyword != "quantum" {
		t.Fatalf("expected chips or quantum on top, got %q", topics[0].Keyword)
	}
	if topics[0].Count != 2 || topics[1].Count != 2 {
		t.Fatalf("both top topics appear twice, got %+v", topics)
	}
	if topics[0].Category != models.CategoryTechnology {
		t.Fatalf("topics must carry the requested category, got %q", topics[0].Category)
	}
}

func TestTopicsDropsShortWordsAndPunctuation(t *testing.T) {
	articles := titles("Go 1.25 is out!", "Why Go? A new era.")

	topics := Topics(articles, models.CategoryGeneral, 10)
	for _, topic := range topics {
		if len(topic.Keyword) < minWordLength {
			t.Fatalf("short word leaked through: %q", topic.Keyword)
		}
	}
}

func TestTopicsDeterministicTieBreak(t *testing.T) {
	articles := titles("zebra apple", "zebra apple")

	topics := Topics(articles, models.CategoryGeneral, 10)
	if len(topics) != 2 {
		t.Fatalf("expected 2 topics, got %d", len(topics))
	}
	if topics[0].Keyword != "apple" || topics[1].Keyword != "zebra" {
		t.Fatalf("equal counts must order alphabetically, got %+v", topics)
	}
}

func TestTopicsEmptyInput(t *testing.T) {
	if topics := Topics(nil, models.CategoryGeneral, 5); len(topics) != 0 {
		t.Fatalf("expected no topics for no articles, got %+v", topics)
	}
}
