package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/model"
)

type Repo struct {
	db *gorm.DB
}

// Open connects to the attendance database. The sqlite driver is the default
// (a single PUSH.db file next to the binary); postgres is available for
// multi-reader deployments.
func Open(driver, dsn string) (*gorm.DB, error) {
	// Quiet the "record not found" noise; misses are routine in label lookups.
	gormLogger := logger.New(
		log.New(os.Stdout, "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	cfg := &gorm.Config{Logger: gormLogger}
	switch driver {
	case "", "sqlite":
		return gorm.Open(sqlite.Open(dsn), cfg)
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}

func New(db *gorm.DB) (*Repo, error) {
	if err := db.AutoMigrate(&AttendanceRecord{}, &RosterDevice{}, &RosterStaff{}); err != nil {
		return nil, err
	}
	return &Repo{db: db}, nil
}

// InsertPunches writes a batch of journal entries in one transaction.
// Rows whose (external_id, punched_at) already exist are silently skipped,
// so replaying a journal suffix after a crash cannot duplicate records.
// Returns the number of rows actually inserted.
func (r *Repo) InsertPunches(ctx context.Context, punches []model.Punch) (int64, error) {
	if len(punches) == 0 {
		return 0, nil
	}
	var inserted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range punches {
			row, err := recordFromPunch(punches[i])
			if err != nil {
				return err
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
			if res.Error != nil {
				return res.Error
			}
			inserted += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func recordFromPunch(p model.Punch) (*AttendanceRecord, error) {
	row := &AttendanceRecord{
		ExternalID:     p.ExternalID,
		PunchedAt:      p.Timestamp,
		Direction:      p.Direction,
		EventType:      p.EventType,
		DeviceSerial:   p.DeviceSerial,
		DeviceLabel:    p.DeviceLabel,
		DeviceRecordID: p.DeviceRecordID,
		BatchID:        p.BatchID,
		LoggedAt:       p.LoggedAt,
	}
	if len(p.Aux) > 0 {
		raw, err := json.Marshal(p.Aux)
		if err != nil {
			return nil, fmt.Errorf("encode aux fields: %w", err)
		}
		row.Aux = datatypes.JSON(raw)
	}
	return row, nil
}

// UnforwardedAfter returns rows past sinceID still waiting for the remote
// acknowledgement, in insertion order. sinceID is the caller's high-water
// mark; rows at or below it are known forwarded and never rescanned.
func (r *Repo) UnforwardedAfter(ctx context.Context, sinceID uint, limit int) ([]AttendanceRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows []AttendanceRecord
	err := r.db.WithContext(ctx).
		Where("id > ? AND forward_id IS NULL", sinceID).
		Order("id").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkForwarded records the remote acknowledgement in a single update.
func (r *Repo) MarkForwarded(ctx context.Context, id uint, status, key, remoteID string) error {
	res := r.db.WithContext(ctx).Model(&AttendanceRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"forward_status": status,
			"forward_key":    key,
			"forward_id":     remoteID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("attendance record %d not found", id)
	}
	return nil
}

func (r *Repo) CountPunches(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&AttendanceRecord{}).Count(&n).Error
	return n, err
}

func (r *Repo) CountUnforwarded(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&AttendanceRecord{}).
		Where("forward_id IS NULL").Count(&n).Error
	return n, err
}

// RecentPunches returns the newest rows first, for the ops API.
func (r *Repo) RecentPunches(ctx context.Context, limit int) ([]AttendanceRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	var rows []AttendanceRecord
	err := r.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// UpsertRosterDevices replaces labels for serials already known and inserts
// the rest.
func (r *Repo) UpsertRosterDevices(ctx context.Context, rows []RosterDevice) error {
	if len(rows) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range rows {
		rows[i].UpdatedAt = now
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "serial"}},
		DoUpdates: clause.AssignmentColumns([]string{"remote_id", "label", "updated_at"}),
	}).Create(&rows).Error
}

func (r *Repo) UpsertRosterStaff(ctx context.Context, rows []RosterStaff) error {
	if len(rows) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range rows {
		rows[i].UpdatedAt = now
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"remote_id", "name", "access_control", "updated_at"}),
	}).Create(&rows).Error
}

// DeviceLabel resolves a serial through the roster table. Returns "" when the
// serial is unknown.
func (r *Repo) DeviceLabel(ctx context.Context, serial string) string {
	var row RosterDevice
	err := r.db.WithContext(ctx).Where("serial = ?", serial).First(&row).Error
	if err != nil {
		return ""
	}
	return row.Label
}
