// Package sqlite persists cached aggregation results in a SQLite
// database so entries survive restarts.
package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/velmora/news-aggregator/internal/models"
)

// Entry is one cached aggregation snapshot. Articles are stored as a
// JSON column so the schema does not chase the article shape.
type Entry struct {
	ID         uint               `gorm:"primarykey"`
	Category   string             `gorm:"size:32;index:idx_entries_cat_at"`
	Articles   models.ArticleList `gorm:"type:json"`
	InsertedAt time.Time          `gorm:"index:idx_entries_cat_at"`
}

func (Entry) TableName() string {
	return "cache_entries"
}

// Store implements cache.Store on SQLite
type Store struct {
	db *gorm.DB
}

// New opens (creating if needed) the database at dsn and migrates the
// cache schema.
func New(dsn string) (*Store, error) {
	dir := filepath.Dir(dsn)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate cache schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Put(ctx context.Context, category models.Category, articles []models.Article, at time.Time) error {
	entry := Entry{
		Category:   string(category),
		Articles:   models.ArticleList(articles),
		InsertedAt: at,
	}
	return s.db.WithContext(ctx).Create(&entry).Error
}

func (s *Store) GetSince(ctx context.Context, category models.Category, maxAge time.Duration) ([]models.Article, error) {
	oldest := time.Now().Add(-maxAge)

	var entries []Entry
	if err := s.db.WithContext(ctx).
		Where("category = ? AND inserted_at >= ?", string(category), oldest).
		Order("inserted_at DESC").
		Find(&entries).Error; err != nil {
		return nil, err
	}

	var out []models.Article
	for _, e := range entries {
		out = append(out, e.Articles...)
	}
	return out, nil
}

func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("inserted_at < ?", cutoff).
		Delete(&Entry{})
	return res.RowsAffected, res.Error
}

func (s *Store) Clear(ctx context.Context, category models.Category) (int64, error) {
	query := s.db.WithContext(ctx)
	if category != "" {
		query = query.Where("category = ?", string(category))
	} else {
		query = query.Where("1 = 1")
	}
	res := query.Delete(&Entry{})
	return res.RowsAffected, res.Error
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
