package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benmeehan/presence-engine/internal/models"
	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// OpenMySQL opens a GORM connection and migrates the catalog and history tables.
func OpenMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&models.Device{}, &models.HistoryEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// GormCatalog stores devices in a SQL table.
type GormCatalog struct {
	db *gorm.DB
}

func NewGormCatalog(db *gorm.DB) *GormCatalog {
	return &GormCatalog{db: db}
}

func (c *GormCatalog) GetByDeviceID(ctx context.Context, udid string) (*models.Device, error) {
	var d models.Device
	err := c.db.WithContext(ctx).Where("udid = ?", udid).First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load device %s: %w", udid, err)
	}
	return &d, nil
}

// CreatePending inserts a pending device unless another writer got there first.
func (c *GormCatalog) CreatePending(ctx context.Context, udid string) (*models.Device, error) {
	d := models.Device{
		ID:        uuid.NewString(),
		UDID:      udid,
		Name:      udid,
		IsPending: true,
		CreatedAt: time.Now().UTC(),
	}
	err := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "udid"}}, DoNothing: true}).
		Create(&d).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create pending device %s: %w", udid, err)
	}
	return c.GetByDeviceID(ctx, udid)
}

// GormLedger stores history entries in a SQL table.
type GormLedger struct {
	db *gorm.DB
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

func (l *GormLedger) Append(ctx context.Context, entry *models.HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.Seq = nextSeq()
	if err := l.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append history for %s: %w", entry.DeviceID, err)
	}
	return nil
}

func (l *GormLedger) LatestFor(ctx context.Context, deviceID string) (*models.HistoryEntry, error) {
	var e models.HistoryEntry
	err := l.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("timestamp DESC").Order("seq DESC").
		First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load latest history for %s: %w", deviceID, err)
	}
	return &e, nil
}

func (l *GormLedger) ListFor(ctx context.Context, deviceID string, since time.Time) ([]models.HistoryEntry, error) {
	var entries []models.HistoryEntry
	err := l.db.WithContext(ctx).
		Where("device_id = ? AND timestamp >= ?", deviceID, since).
		Order("timestamp ASC").Order("seq ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list history for %s: %w", deviceID, err)
	}
	return entries, nil
}
