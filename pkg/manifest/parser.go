package manifest

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"howett.net/plist"
)

type rawAsset struct {
	Hash          string `json:"hash" plist:"hash"`
	URL           string `json:"url" plist:"url"`
	ContentType   string `json:"contentType" plist:"contentType"`
	Key           string `json:"key" plist:"key"`
	FileExtension string `json:"fileExtension" plist:"fileExtension"`
}

type rawManifest struct {
	ID             string                 `json:"id" plist:"id"`
	CreatedAt      interface{}            `json:"createdAt" plist:"createdAt"`
	RuntimeVersion string                 `json:"runtimeVersion" plist:"runtimeVersion"`
	LaunchAsset    *rawAsset              `json:"launchAsset" plist:"launchAsset"`
	Assets         *[]rawAsset            `json:"assets" plist:"assets"`
	Metadata       map[string]interface{} `json:"metadata" plist:"metadata"`
}

// Parse decodes a JSON or plist manifest payload and validates it.
// Every error it returns wraps ErrInvalid.
func Parse(data []byte) (*Manifest, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, invalid("body", "empty payload")
	}

	var raw rawManifest
	if isPlist(trimmed) {
		if _, err := plist.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("%w: plist decode: %v", ErrInvalid, err)
		}
	} else {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("%w: json decode: %v", ErrInvalid, err)
		}
	}
	return raw.validate()
}

func isPlist(data []byte) bool {
	return bytes.HasPrefix(data, []byte("bplist")) ||
		bytes.HasPrefix(data, []byte("<?xml")) ||
		bytes.HasPrefix(data, []byte("<plist"))
}

func (r *rawManifest) validate() (*Manifest, error) {
	m := &Manifest{
		ID:             strings.TrimSpace(r.ID),
		RuntimeVersion: r.RuntimeVersion,
		Metadata:       r.Metadata,
	}
	if m.ID == "" {
		return nil, invalid("id", "missing")
	}

	createdAt, err := parseCreatedAt(r.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = createdAt

	if r.LaunchAsset == nil {
		return nil, invalid("launchAsset", "missing")
	}
	launch, err := r.LaunchAsset.validate("launchAsset")
	if err != nil {
		return nil, err
	}
	launch.IsLaunchAsset = true
	m.LaunchAsset = launch

	if r.Assets == nil {
		return nil, invalid("assets", "missing")
	}
	m.Assets = make([]Asset, 0, len(*r.Assets))
	for i, ra := range *r.Assets {
		a, err := ra.validate(fmt.Sprintf("assets[%d]", i))
		if err != nil {
			return nil, err
		}
		m.Assets = append(m.Assets, a)
	}
	return m, nil
}

func (r rawAsset) validate(field string) (Asset, error) {
	if r.Hash == "" {
		return Asset{}, invalid(field+".hash", "missing")
	}
	hash, err := NormalizeHash(r.Hash)
	if err != nil {
		return Asset{}, invalid(field+".hash", "%v", err)
	}
	if strings.TrimSpace(r.URL) == "" {
		return Asset{}, invalid(field+".url", "missing")
	}
	if strings.TrimSpace(r.ContentType) == "" {
		return Asset{}, invalid(field+".contentType", "missing")
	}
	return Asset{
		Hash:          hash,
		URL:           strings.TrimSpace(r.URL),
		ContentType:   r.ContentType,
		Key:           r.Key,
		FileExtension: r.FileExtension,
	}, nil
}

// parseCreatedAt accepts an RFC 3339 string (JSON) or a native date (plist).
// A missing value yields the zero time.
func parseCreatedAt(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t.UTC(), nil
	case string:
		if t == "" {
			return time.Time{}, nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, invalid("createdAt", "not an RFC 3339 timestamp: %q", t)
		}
		return parsed.UTC(), nil
	default:
		return time.Time{}, invalid("createdAt", "unexpected type %T", v)
	}
}

// NormalizeHash accepts a SHA-256 digest as 64 hex characters or as unpadded
// base64url and returns it as lowercase hex.
func NormalizeHash(h string) (string, error) {
	h = strings.TrimSpace(h)
	if len(h) == hex.EncodedLen(32) {
		if _, err := hex.DecodeString(h); err == nil {
			return strings.ToLower(h), nil
		}
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(h, "="))
	if err != nil || len(raw) != 32 {
		return "", fmt.Errorf("not a SHA-256 digest: %q", h)
	}
	return hex.EncodeToString(raw), nil
}
