package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"
	"howett.net/plist"

	"github.com/go-updates/pkg/manifest"
	"github.com/go-updates/pkg/utils"
)

// options are the generator's inputs
type options struct {
	Dir            string
	BaseURL        string
	LaunchAsset    string
	ID             string
	RuntimeVersion string
	Exclude        []string
}

func main() {
	dir := flag.String("dir", "", "Required: directory holding the update's files")
	baseURL := flag.String("base-url", "", "Required: URL the directory is hosted at")
	launchAsset := flag.String("launch-asset", "", "Required: path of the launch asset, relative to --dir")
	output := flag.String("output", "", "Required: file to write the manifest to")
	id := flag.String("id", "", "Update id (default: a random UUID)")
	runtimeVersion := flag.String("runtime-version", "", "Runtime version the update targets")
	format := flag.String("format", "json", "Manifest format: json or plist")
	exclude := flag.StringSlice("exclude", nil, "Glob of relative paths to leave out (repeatable)")

	flag.Parse()

	if *dir == "" || *baseURL == "" || *launchAsset == "" || *output == "" {
		log.Fatal("--dir, --base-url, --launch-asset and --output are required")
	}

	m, err := buildManifest(options{
		Dir:            *dir,
		BaseURL:        *baseURL,
		LaunchAsset:    *launchAsset,
		ID:             *id,
		RuntimeVersion: *runtimeVersion,
		Exclude:        *exclude,
	})
	if err != nil {
		log.Fatalf("Error building manifest: %v", err)
	}

	data, err := encodeManifest(m, *format)
	if err != nil {
		log.Fatalf("Error encoding manifest: %v", err)
	}
	if err := utils.EnsureDirForFile(*output); err != nil {
		log.Fatalf("Error creating output directory: %v", err)
	}
	if err := os.WriteFile(*output, data, 0644); err != nil {
		log.Fatalf("Error writing manifest to %s: %v", *output, err)
	}

	fmt.Printf("Manifest %s with %d assets saved to %s\n", m.ID, len(m.Assets)+1, *output)
}

// buildManifest hashes every file under opts.Dir and lists it with a URL under opts.BaseURL
func buildManifest(opts options) (*manifest.Manifest, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" {
		return nil, fmt.Errorf("invalid base URL %q", opts.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	launchRel := filepath.ToSlash(filepath.Clean(opts.LaunchAsset))

	m := &manifest.Manifest{
		ID:             opts.ID,
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
		RuntimeVersion: opts.RuntimeVersion,
		Assets:         []manifest.Asset{},
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	foundLaunch := false
	err = filepath.WalkDir(opts.Dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != opts.Dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(opts.Dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(path.Base(rel), ".") || excluded(rel, opts.Exclude) {
			return nil
		}

		asset, err := describe(p, rel, base)
		if err != nil {
			return err
		}
		if rel == launchRel {
			m.LaunchAsset = asset
			foundLaunch = true
			return nil
		}
		m.Assets = append(m.Assets, asset)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !foundLaunch {
		return nil, fmt.Errorf("launch asset %s not found under %s", opts.LaunchAsset, opts.Dir)
	}
	return m, nil
}

func describe(file, rel string, base *url.URL) (manifest.Asset, error) {
	hash, err := utils.FileSHA256(file)
	if err != nil {
		return manifest.Asset{}, err
	}
	ext := path.Ext(rel)
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return manifest.Asset{
		Hash:          hash,
		URL:           base.ResolveReference(&url.URL{Path: rel}).String(),
		ContentType:   contentType,
		Key:           rel,
		FileExtension: ext,
	}, nil
}

func excluded(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// encodeManifest renders the manifest in the given format
func encodeManifest(m *manifest.Manifest, format string) ([]byte, error) {
	switch format {
	case "json":
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(m); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "plist":
		assets := make([]map[string]interface{}, 0, len(m.Assets))
		for _, a := range m.Assets {
			assets = append(assets, assetDict(a))
		}
		doc := map[string]interface{}{
			"id":          m.ID,
			"createdAt":   m.CreatedAt,
			"launchAsset": assetDict(m.LaunchAsset),
			"assets":      assets,
		}
		if m.RuntimeVersion != "" {
			doc["runtimeVersion"] = m.RuntimeVersion
		}
		return plist.MarshalIndent(doc, plist.XMLFormat, "\t")
	}
	return nil, fmt.Errorf("unknown format %q (valid: json, plist)", format)
}

func assetDict(a manifest.Asset) map[string]interface{} {
	d := map[string]interface{}{
		"hash":        a.Hash,
		"url":         a.URL,
		"contentType": a.ContentType,
	}
	if a.Key != "" {
		d["key"] = a.Key
	}
	if a.FileExtension != "" {
		d["fileExtension"] = a.FileExtension
	}
	return d
}
