package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"orderflow_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Catalog persists instrument metadata and user preferences in SQLite.
// It implements domain.InstrumentCatalog.
type Catalog struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewCatalog opens (or creates) the catalog at path. An empty path keeps
// everything in memory.
func NewCatalog(path string, log *slog.Logger) (*Catalog, error) {
	if log == nil {
		log = slog.Default()
	}

	dsn := "file::memory:"
	if path != "" {
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
		dsn = path
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// every pooled connection would otherwise see its own in-memory database
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&domain.InstrumentInfo{}, &domain.Preference{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Catalog{db: db, logger: log.With(slog.String("component", "catalog"))}, nil
}

// Close releases the database handle.
func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Instrument Operations
// ======================================================================================

// UpsertInstrument creates or updates instrument metadata
func (c *Catalog) UpsertInstrument(info *domain.InstrumentInfo) error {
	if info.Key == "" {
		return fmt.Errorf("upsert instrument: %w", domain.ErrMissingField)
	}
	return c.db.Save(info).Error
}

// GetInstrument retrieves instrument metadata by key
func (c *Catalog) GetInstrument(key string) (*domain.InstrumentInfo, error) {
	var info domain.InstrumentInfo
	err := c.db.First(&info, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// ListInstruments returns every instrument ordered by SortOrder, then key.
func (c *Catalog) ListInstruments() ([]domain.InstrumentInfo, error) {
	var infos []domain.InstrumentInfo
	err := c.db.Order("sort_order, key").Find(&infos).Error
	return infos, err
}

// SetActive toggles whether an instrument is offered to consumers.
func (c *Catalog) SetActive(key string, active bool) error {
	res := c.db.Model(&domain.InstrumentInfo{}).Where("key = ?", key).Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", key, domain.ErrUnknownInstrument)
	}
	return nil
}

// DeleteInstrument removes an instrument from the catalog
func (c *Catalog) DeleteInstrument(key string) error {
	return c.db.Where("key = ?", key).Delete(&domain.InstrumentInfo{}).Error
}

// SeedInstruments registers keys that are not yet in the catalog as active
// instruments named after their key. Existing rows are left untouched.
func (c *Catalog) SeedInstruments(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]domain.InstrumentInfo, 0, len(keys))
	for i, k := range keys {
		if k == "" {
			continue
		}
		rows = append(rows, domain.InstrumentInfo{
			Key:       k,
			Name:      k,
			TickSize:  domain.DefaultTickSize,
			IsActive:  true,
			SortOrder: i,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return c.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// ResolveDisplayName returns the catalog name of key.
func (c *Catalog) ResolveDisplayName(key string) (string, bool) {
	info, err := c.GetInstrument(key)
	if err != nil {
		c.logger.Warn("catalog lookup failed", slog.String("key", key), slog.Any("error", err))
		return "", false
	}
	if info == nil || info.Name == "" {
		return "", false
	}
	return info.Name, true
}

// ListKnownInstruments returns the keys of active instruments in display order.
func (c *Catalog) ListKnownInstruments() []string {
	var keys []string
	err := c.db.Model(&domain.InstrumentInfo{}).
		Where("is_active = ?", true).
		Order("sort_order, key").
		Pluck("key", &keys).Error
	if err != nil {
		c.logger.Warn("catalog list failed", slog.Any("error", err))
		return nil
	}
	return keys
}

// TickSize returns the configured tick size of key.
func (c *Catalog) TickSize(key string) (float64, bool) {
	info, err := c.GetInstrument(key)
	if err != nil || info == nil || info.TickSize <= 0 {
		return 0, false
	}
	return info.TickSize, true
}

// ======================================================================================
// Preference Operations
// ======================================================================================

// SavePreference saves a user preference
func (c *Catalog) SavePreference(key, value string) error {
	pref := domain.Preference{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	return c.db.Save(&pref).Error
}

// LoadPreference returns one preference and whether it exists.
func (c *Catalog) LoadPreference(key string) (string, bool, error) {
	var pref domain.Preference
	err := c.db.First(&pref, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return pref.Value, true, nil
}

// LoadPreferences loads all user preferences as a map
func (c *Catalog) LoadPreferences() (map[string]string, error) {
	var prefs []domain.Preference
	if err := c.db.Find(&prefs).Error; err != nil {
		return nil, err
	}

	result := make(map[string]string, len(prefs))
	for _, p := range prefs {
		result[p.Key] = p.Value
	}
	return result, nil
}
