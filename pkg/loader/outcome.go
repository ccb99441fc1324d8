package loader

import (
	"errors"
	"fmt"

	"github.com/go-updates/pkg/cache"
	"github.com/go-updates/pkg/download"
	"github.com/go-updates/pkg/manifest"
	"github.com/go-updates/pkg/store"
)

// OutcomeKind is the terminal result of a load
type OutcomeKind string

const (
	NoUpdateAvailable           OutcomeKind = "NoUpdateAvailable"
	UpdateReady                 OutcomeKind = "UpdateReady"
	UpdateReadyWithFailedAssets OutcomeKind = "UpdateReadyWithFailedAssets"
	Failed                      OutcomeKind = "Failed"
)

// Reason classifies why a load or an asset failed
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonNetwork         Reason = "NetworkError"
	ReasonManifestInvalid Reason = "ManifestInvalid"
	ReasonAssetCorrupt    Reason = "AssetCorrupt"
	ReasonHashCollision   Reason = "HashCollision"
	ReasonStore           Reason = "StoreError"
	ReasonCancelled       Reason = "Cancelled"
	ReasonUnknown         Reason = "Unknown"
)

// AssetFailure records one asset that could not be materialized
type AssetFailure struct {
	Hash   string `json:"hash"`
	Key    string `json:"key,omitempty"`
	URL    string `json:"url"`
	Launch bool   `json:"launch_asset,omitempty"`
	Err    error  `json:"-"`
}

// Reason classifies the asset's error
func (f AssetFailure) Reason() Reason {
	return Classify(f.Err)
}

// Outcome is reported exactly once per load
type Outcome struct {
	Kind         OutcomeKind    `json:"kind"`
	UpdateID     string         `json:"update_id,omitempty"`
	FailedAssets []AssetFailure `json:"failed_assets,omitempty"`
	Err          error          `json:"-"`
}

// Reason classifies the outcome's error
func (o Outcome) Reason() Reason {
	return Classify(o.Err)
}

func (o Outcome) String() string {
	switch {
	case o.Err != nil:
		return fmt.Sprintf("%s (%s): %v", o.Kind, o.Reason(), o.Err)
	case o.UpdateID != "" && len(o.FailedAssets) > 0:
		return fmt.Sprintf("%s: %s (%d failed assets)", o.Kind, o.UpdateID, len(o.FailedAssets))
	case o.UpdateID != "":
		return fmt.Sprintf("%s: %s", o.Kind, o.UpdateID)
	}
	return string(o.Kind)
}

// Classify maps an error onto the loader's error taxonomy
func Classify(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrCancelled):
		return ReasonCancelled
	case errors.Is(err, cache.ErrHashCollision):
		return ReasonHashCollision
	case errors.Is(err, cache.ErrAssetCorrupt):
		return ReasonAssetCorrupt
	case errors.Is(err, manifest.ErrInvalid):
		return ReasonManifestInvalid
	case errors.Is(err, store.ErrStore):
		return ReasonStore
	case errors.Is(err, download.ErrNetwork):
		return ReasonNetwork
	}
	return ReasonUnknown
}
