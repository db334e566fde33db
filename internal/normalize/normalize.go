package normalize

import (
	"strings"

	"github.com/velmora/news-aggregator/internal/models"
)

// Key builds the dedup identity for an article: the lower-cased,
// whitespace-collapsed title joined with the source ID.
func Key(a models.Article) string {
	title := strings.Join(strings.Fields(strings.ToLower(a.Title)), " ")
	return title + "|" + a.Source.ID
}

// Normalize strips duplicate articles from the list, keeping the first
// occurrence of each (title, source) pair in input order. It trims
// surrounding whitespace on titles and descriptions but performs no
// I/O and never grows the list; Normalize(Normalize(x)) == Normalize(x).
func Normalize(articles []models.Article) []models.Article {
	out := make([]models.Article, 0, len(articles))
	seen := make(map[string]struct{}, len(articles))

	for _, a := range articles {
		a.Title = strings.TrimSpace(a.Title)
		a.Description = strings.TrimSpace(a.Description)
		if a.Title == "" {
			continue
		}

		k := Key(a)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, a)
	}

	return out
}
