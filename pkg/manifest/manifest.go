package manifest

import (
	"encoding/json"
	"time"

	"github.com/samber/lo"
)

// Asset is one file referenced by a manifest
type Asset struct {
	Hash          string `json:"hash"` // lowercase hex SHA-256
	URL           string `json:"url"`
	ContentType   string `json:"contentType"`
	Key           string `json:"key,omitempty"`
	FileExtension string `json:"fileExtension,omitempty"`
	IsLaunchAsset bool   `json:"-"`
}

// Manifest describes one candidate update
type Manifest struct {
	ID             string                 `json:"id"`
	CreatedAt      time.Time              `json:"createdAt"`
	RuntimeVersion string                 `json:"runtimeVersion,omitempty"`
	LaunchAsset    Asset                  `json:"launchAsset"`
	Assets         []Asset                `json:"assets"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// AllAssets returns the launch asset followed by every auxiliary asset,
// with repeated hashes collapsed onto their first occurrence.
func (m *Manifest) AllAssets() []Asset {
	all := make([]Asset, 0, len(m.Assets)+1)
	launch := m.LaunchAsset
	launch.IsLaunchAsset = true
	all = append(all, launch)
	all = append(all, m.Assets...)
	return lo.UniqBy(all, func(a Asset) string { return a.Hash })
}

// JSON returns the normalised manifest as stored alongside the update
func (m *Manifest) JSON() ([]byte, error) {
	return json.Marshal(m)
}
