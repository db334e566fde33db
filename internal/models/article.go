package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Category is one of the fixed news categories
type Category string

const (
	CategoryGeneral       Category = "general"
	CategoryBusiness      Category = "business"
	CategoryEntertainment Category = "entertainment"
	CategoryHealth        Category = "health"
	CategoryScience       Category = "science"
	CategorySports        Category = "sports"
	CategoryTechnology    Category = "technology"
)

// Categories lists every valid category in display order
var Categories = []Category{
	CategoryGeneral,
	CategoryBusiness,
	CategoryEntertainment,
	CategoryHealth,
	CategoryScience,
	CategorySports,
	CategoryTechnology,
}

// ValidCategory reports whether c is a known category
func ValidCategory(c Category) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// SourceRef identifies the source an article came from
type SourceRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Article is a normalized unit of fetched content. Identity for
// deduplication purposes is the normalized title plus the source ID.
// A zero PublishedAt means the source did not provide a usable date.
type Article struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	ImageURL    string    `json:"image_url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	Source      SourceRef `json:"source"`
	Category    Category  `json:"category"`
	Author      string    `json:"author,omitempty"`
	Content     string    `json:"content,omitempty"`
	Score       int       `json:"score,omitempty"` // source-native popularity, when the source has one
}

// HasPublished reports whether the article carries a publish timestamp
func (a *Article) HasPublished() bool {
	return !a.PublishedAt.IsZero()
}

// StringSlice is a custom type for storing string arrays as JSON columns
type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	return json.Unmarshal(value.([]byte), s)
}

// ArticleList is a custom type for storing article snapshots as JSON columns
type ArticleList []Article

func (l ArticleList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

func (l *ArticleList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	return json.Unmarshal(value.([]byte), l)
}
