package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/go-updates/pkg/manifest"
	"github.com/go-updates/pkg/utils"
)

// Store persists updates, assets and manifest metadata in SQLite
type Store struct {
	db     *gorm.DB
	logger *utils.Logger
}

// Open opens (creating if needed) the updates database at path.
// Use ":memory:" for a throwaway database.
func Open(path string, logger *utils.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty database path", ErrStore)
	}
	dsn := path
	if path != ":memory:" {
		if err := utils.EnsureDirForFile(path); err != nil {
			return nil, wrap("open", err)
		}
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, wrap("open", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, wrap("open", err)
	}
	// SQLite allows one writer; a single connection serialises everything
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Asset{}, &Update{}, &UpdateAsset{}, &ManifestMetadata{}); err != nil {
		sqlDB.Close()
		return nil, wrap("migrate", err)
	}

	logger.Debug("Opened updates database at %s", path)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return wrap("close", err)
	}
	return wrap("close", sqlDB.Close())
}

// ManifestHeaders returns the validation tokens stored for scope, or nil
func (s *Store) ManifestHeaders(ctx context.Context, scope string) (map[string]string, error) {
	var meta ManifestMetadata
	res := s.db.WithContext(ctx).Where("scope_key = ?", scope).Limit(1).Find(&meta)
	if res.Error != nil {
		return nil, wrap("manifest headers", res.Error)
	}
	if res.RowsAffected == 0 || len(meta.Headers) == 0 {
		return nil, nil
	}
	headers := map[string]string{}
	if err := json.Unmarshal(meta.Headers, &headers); err != nil {
		return nil, wrap("manifest headers", err)
	}
	return headers, nil
}

// BeginUpdate records a freshly parsed manifest in one transaction: the update
// row (PENDING unless it is already eligible), an Asset row per unique hash and
// the join rows. Reference counts only grow when a new join row is inserted.
// It returns the update's status after the call.
func (s *Store) BeginUpdate(ctx context.Context, scope string, m *manifest.Manifest) (UpdateStatus, error) {
	manifestJSON, err := m.JSON()
	if err != nil {
		return "", wrap("begin update", err)
	}

	var status UpdateStatus
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Update
		res := tx.Where("id = ?", m.ID).Limit(1).Find(&existing)
		if res.Error != nil {
			return res.Error
		}

		switch {
		case res.RowsAffected == 0:
			commitTime := m.CreatedAt
			if commitTime.IsZero() {
				commitTime = time.Now().UTC()
			}
			update := Update{
				ID:              m.ID,
				ScopeKey:        scope,
				CommitTime:      commitTime,
				RuntimeVersion:  m.RuntimeVersion,
				LaunchAssetHash: m.LaunchAsset.Hash,
				Status:          StatusPending,
				Manifest:        datatypes.JSON(manifestJSON),
			}
			if err := tx.Omit(clause.Associations).Create(&update).Error; err != nil {
				return err
			}
			status = StatusPending
		case existing.Status == StatusFailed:
			if err := tx.Model(&Update{}).
				Where("id = ? AND status = ?", m.ID, StatusFailed).
				Updates(map[string]interface{}{"status": StatusPending, "partially_failed": false}).Error; err != nil {
				return err
			}
			status = StatusPending
		default:
			status = existing.Status
		}

		// An id belongs to the scope that last served it
		if res.RowsAffected > 0 && existing.ScopeKey != scope {
			if err := tx.Model(&Update{}).Where("id = ?", m.ID).
				Update("scope_key", scope).Error; err != nil {
				return err
			}
			s.logger.Warn("Update %s moved from scope %s to %s", m.ID, existing.ScopeKey, scope)
		}

		for i, a := range m.AllAssets() {
			asset := Asset{Hash: a.Hash, ContentType: a.ContentType, URL: a.URL}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&asset).Error; err != nil {
				return err
			}

			link := UpdateAsset{
				UpdateID:      m.ID,
				AssetHash:     a.Hash,
				Key:           a.Key,
				Position:      i,
				IsLaunchAsset: a.IsLaunchAsset,
			}
			res := tx.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).Create(&link)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				if err := tx.Model(&Asset{}).Where("hash = ?", a.Hash).
					UpdateColumn("ref_count", gorm.Expr("ref_count + ?", 1)).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", wrap("begin update "+m.ID, err)
	}
	s.logger.Debug("Recorded update %s for scope %s (status %s)", m.ID, scope, status)
	return status, nil
}

// AssetByHash returns the asset row for hash
func (s *Store) AssetByHash(ctx context.Context, hash string) (*Asset, error) {
	var asset Asset
	if err := s.db.WithContext(ctx).Where("hash = ?", hash).First(&asset).Error; err != nil {
		return nil, wrap("asset "+hash, err)
	}
	return &asset, nil
}

// MarkAssetMaterialized attaches the cache path of a verified file to its asset row
func (s *Store) MarkAssetMaterialized(ctx context.Context, hash, relativePath string, size int64) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&Asset{}).Where("hash = ?", hash).
		Updates(map[string]interface{}{
			"relative_path": relativePath,
			"size":          size,
			"downloaded_at": now,
		})
	if res.Error != nil {
		return wrap("materialize asset "+hash, res.Error)
	}
	if res.RowsAffected == 0 {
		return wrap("materialize asset "+hash, gorm.ErrRecordNotFound)
	}
	return nil
}

// Commit describes the Finalizing write of a load
type Commit struct {
	UpdateID     string
	ScopeKey     string
	Status       UpdateStatus
	FailedHashes []string
	Headers      map[string]string // nil leaves stored tokens untouched
}

// CommitUpdate flips an update to an eligible status and stores the scope's
// validation tokens in a single transaction. The launch asset must already be
// materialized. An update that is already eligible keeps its status, except
// that LAUNCHABLE drops to READY when assets failed.
func (s *Store) CommitUpdate(ctx context.Context, c Commit) error {
	if !c.Status.Eligible() {
		return fmt.Errorf("commit update %s: %w: status %s is not eligible", c.UpdateID, ErrStore, c.Status)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var update Update
		if err := tx.Where("id = ?", c.UpdateID).First(&update).Error; err != nil {
			return err
		}

		var launch Asset
		if err := tx.Where("hash = ?", update.LaunchAssetHash).First(&launch).Error; err != nil {
			return err
		}
		if !launch.Materialized() {
			return fmt.Errorf("%w: launch asset %s is not materialized", ErrStore, launch.Hash)
		}

		// A re-commit never moves an eligible update sideways. Failures
		// demote LAUNCHABLE back to READY.
		status := c.Status
		switch {
		case update.Status == StatusLaunchable && len(c.FailedHashes) > 0:
			status = StatusReady
		case update.Status.Eligible():
			status = update.Status
		}
		if err := tx.Model(&Update{}).Where("id = ?", c.UpdateID).
			Updates(map[string]interface{}{
				"status":           status,
				"partially_failed": len(c.FailedHashes) > 0,
			}).Error; err != nil {
			return err
		}

		if err := tx.Model(&UpdateAsset{}).Where("update_id = ?", c.UpdateID).
			Update("failed", false).Error; err != nil {
			return err
		}
		if len(c.FailedHashes) > 0 {
			if err := tx.Model(&UpdateAsset{}).
				Where("update_id = ? AND asset_hash IN ?", c.UpdateID, c.FailedHashes).
				Update("failed", true).Error; err != nil {
				return err
			}
		}

		if c.Headers != nil {
			headers, err := json.Marshal(c.Headers)
			if err != nil {
				return err
			}
			meta := ManifestMetadata{ScopeKey: c.ScopeKey, Headers: datatypes.JSON(headers)}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "scope_key"}},
				DoUpdates: clause.AssignmentColumns([]string{"headers", "updated_at"}),
			}).Create(&meta).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrap("commit update "+c.UpdateID, err)
	}
	s.logger.Debug("Committed update %s as %s (%d failed assets)", c.UpdateID, c.Status, len(c.FailedHashes))
	return nil
}

// MarkUpdateFailed flips a PENDING update to FAILED. Eligible updates are left alone.
func (s *Store) MarkUpdateFailed(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Model(&Update{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Update("status", StatusFailed).Error
	return wrap("mark update failed "+id, err)
}

// EligibleUpdates lists the scope's launchable candidates, newest first
func (s *Store) EligibleUpdates(ctx context.Context, scope string) ([]Update, error) {
	var updates []Update
	err := s.db.WithContext(ctx).
		Where("scope_key = ? AND status IN ?", scope, EligibleStatuses).
		Order("commit_time DESC").
		Find(&updates).Error
	if err != nil {
		return nil, wrap("eligible updates", err)
	}
	return updates, nil
}

// UpdateAssets returns an update's join rows with their assets, in manifest order
func (s *Store) UpdateAssets(ctx context.Context, updateID string) ([]UpdateAsset, error) {
	var links []UpdateAsset
	err := s.db.WithContext(ctx).
		Preload("Asset").
		Where("update_id = ?", updateID).
		Order("position ASC").
		Find(&links).Error
	if err != nil {
		return nil, wrap("update assets "+updateID, err)
	}
	return links, nil
}

// SetAssetFailed flags or clears one asset of an update as awaiting a retry
func (s *Store) SetAssetFailed(ctx context.Context, updateID, hash string, failed bool) error {
	err := s.db.WithContext(ctx).Model(&UpdateAsset{}).
		Where("update_id = ? AND asset_hash = ?", updateID, hash).
		Update("failed", failed).Error
	return wrap("set asset failed", err)
}

// MarkLaunchable records that every asset of an update is present.
// READY becomes LAUNCHABLE; EMBEDDED keeps its status.
func (s *Store) MarkLaunchable(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Update{}).
			Where("id = ? AND status = ?", id, StatusReady).
			Update("status", StatusLaunchable).Error; err != nil {
			return err
		}
		if err := tx.Model(&Update{}).
			Where("id = ? AND status IN ?", id, EligibleStatuses).
			Update("partially_failed", false).Error; err != nil {
			return err
		}
		return tx.Model(&UpdateAsset{}).Where("update_id = ?", id).Update("failed", false).Error
	})
	return wrap("mark launchable "+id, err)
}

// UpdateByID returns one update row
func (s *Store) UpdateByID(ctx context.Context, id string) (*Update, error) {
	var update Update
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&update).Error; err != nil {
		return nil, wrap("update "+id, err)
	}
	return &update, nil
}

// ListUpdates returns every update of scope (all scopes when empty), newest first
func (s *Store) ListUpdates(ctx context.Context, scope string) ([]Update, error) {
	q := s.db.WithContext(ctx).Preload("Assets", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).Preload("Assets.Asset")
	if scope != "" {
		q = q.Where("scope_key = ?", scope)
	}
	var updates []Update
	if err := q.Order("commit_time DESC").Find(&updates).Error; err != nil {
		return nil, wrap("list updates", err)
	}
	return updates, nil
}
