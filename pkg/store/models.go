package store

import (
	"time"

	"gorm.io/datatypes"
)

// UpdateStatus is the lifecycle state of a persisted update
type UpdateStatus string

const (
	StatusPending    UpdateStatus = "PENDING"
	StatusReady      UpdateStatus = "READY"
	StatusEmbedded   UpdateStatus = "EMBEDDED"
	StatusLaunchable UpdateStatus = "LAUNCHABLE"
	StatusFailed     UpdateStatus = "FAILED"
)

// EligibleStatuses are the statuses a launcher may pick an update from
var EligibleStatuses = []UpdateStatus{StatusReady, StatusLaunchable, StatusEmbedded}

// Eligible reports whether an update with this status may be launched
func (s UpdateStatus) Eligible() bool {
	switch s {
	case StatusReady, StatusLaunchable, StatusEmbedded:
		return true
	}
	return false
}

// Update is one manifest the loader has seen for a scope
type Update struct {
	ID              string         `gorm:"primaryKey;type:text" json:"id"`
	ScopeKey        string         `gorm:"type:text;not null;index:idx_update_scope" json:"scope_key"`
	CommitTime      time.Time      `gorm:"index:idx_update_scope" json:"commit_time"`
	RuntimeVersion  string         `gorm:"type:text" json:"runtime_version,omitempty"`
	LaunchAssetHash string         `gorm:"type:text;not null" json:"launch_asset_hash"`
	Status          UpdateStatus   `gorm:"type:text;not null;index" json:"status"`
	PartiallyFailed bool           `gorm:"not null;default:false" json:"partially_failed"`
	Manifest        datatypes.JSON `json:"-"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`

	Assets []UpdateAsset `gorm:"foreignKey:UpdateID;references:ID;constraint:OnDelete:CASCADE" json:"assets,omitempty"`
}

// Asset is one content-addressed file, shared by every update that references it
type Asset struct {
	Hash         string     `gorm:"primaryKey;type:text" json:"hash"`
	ContentType  string     `gorm:"type:text" json:"content_type"`
	URL          string     `gorm:"type:text" json:"url"` // first URL seen for this hash
	RelativePath *string    `gorm:"type:text" json:"relative_path,omitempty"`
	Size         int64      `json:"size"`
	RefCount     int        `gorm:"not null;default:0" json:"ref_count"`
	DownloadedAt *time.Time `json:"downloaded_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Materialized reports whether the asset has a verified file in the cache
func (a *Asset) Materialized() bool {
	return a.RelativePath != nil && *a.RelativePath != ""
}

// UpdateAsset links an update to the assets its manifest lists
type UpdateAsset struct {
	UpdateID      string `gorm:"primaryKey;type:text" json:"-"`
	AssetHash     string `gorm:"primaryKey;type:text;index" json:"hash"`
	Key           string `gorm:"type:text" json:"key,omitempty"`
	Position      int    `json:"position"`
	IsLaunchAsset bool   `gorm:"not null;default:false" json:"launch_asset"`
	Failed        bool   `gorm:"not null;default:false" json:"failed"`

	Asset Asset `gorm:"foreignKey:AssetHash;references:Hash" json:"asset"`
}

// ManifestMetadata holds the conditional-request tokens for a scope's next manifest fetch
type ManifestMetadata struct {
	ScopeKey  string         `gorm:"primaryKey;type:text"`
	Headers   datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName overrides gorm's pluralisation
func (ManifestMetadata) TableName() string {
	return "manifest_metadata"
}
