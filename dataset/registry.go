package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haugland/terrainquery/interpolate"
	"github.com/haugland/terrainquery/raster"
	"github.com/haugland/terrainquery/tiling"
)

// Registry is an immutable, concurrency-safe collection of Datasets,
// published atomically once Load succeeds. A load failure anywhere leaves
// no dataset half-registered: Load either returns a complete Registry or an
// error and no Registry at all.
type Registry struct {
	datasets map[string]*Dataset
}

// Load parses the datasets document at configPath and builds a Registry,
// probing one raster per dataset and building any filename indexes needed.
func Load(configPath string) (*Registry, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	datasets := make(map[string]*Dataset, len(cfg.Datasets))
	for _, dc := range cfg.Datasets {
		if dc.Name == "" {
			return nil, &ConfigError{Err: fmt.Errorf("dataset missing name")}
		}
		if _, exists := datasets[dc.Name]; exists {
			return nil, &ConfigError{Dataset: dc.Name, Err: fmt.Errorf("duplicate dataset name")}
		}
		d, err := buildDataset(dc)
		if err != nil {
			return nil, err
		}
		datasets[dc.Name] = d
	}

	return &Registry{datasets: datasets}, nil
}

// Get returns the dataset registered under name, or ok=false if no such
// dataset exists (the request adapter surfaces this as DatasetNotFound).
func (r *Registry) Get(name string) (*Dataset, bool) {
	d, ok := r.datasets[name]
	return d, ok
}

func buildDataset(dc DatasetConfig) (*Dataset, error) {
	kernel := interpolate.KernelBilinear
	if dc.Interpolation != "" {
		k, err := interpolate.ParseKernel(dc.Interpolation)
		if err != nil {
			return nil, &ConfigError{Dataset: dc.Name, Err: err}
		}
		kernel = k
	}

	policy := dc.NoDataPolicy
	if policy == "" {
		policy = NoDataPolicyNull
	}
	if policy != NoDataPolicyNull && policy != NoDataPolicyError {
		return nil, &ConfigError{Dataset: dc.Name, Err: fmt.Errorf("unknown nodata_policy %q", policy)}
	}

	outputDecimals := DefaultOutputDecimals
	if dc.OutputDecimals != nil {
		outputDecimals = *dc.OutputDecimals
	}

	var scheme tiling.Scheme
	var probePath string

	switch dc.Tiling {
	case TilingSingle:
		if dc.Path == "" {
			return nil, &ConfigError{Dataset: dc.Name, Err: fmt.Errorf("single tiling scheme requires path")}
		}
		scheme = tiling.SingleFile{Path: dc.Path}
		probePath = dc.Path

	case TilingUniformGrid:
		if dc.Dir == "" {
			return nil, &ConfigError{Dataset: dc.Name, Err: fmt.Errorf("uniform_grid tiling scheme requires dir")}
		}
		filename := tiling.SRTMFilename
		if dc.PathTemplate != "" {
			filename = tiling.PathTemplateFilename(dc.PathTemplate)
		}
		grid, err := tiling.NewUniformGrid(dc.Dir, dc.TileSizeDegrees, filename, 0)
		if err != nil {
			return nil, &ConfigError{Dataset: dc.Name, Err: err}
		}
		scheme = grid
		probePath, err = firstGridTile(dc.Dir)
		if err != nil {
			return nil, &ConfigError{Dataset: dc.Name, Err: err}
		}

	case TilingFilenameIndex:
		if dc.Manifest == "" {
			return nil, &ConfigError{Dataset: dc.Name, Err: fmt.Errorf("filename_index tiling scheme requires manifest")}
		}
		doc, err := LoadManifest(dc.Manifest)
		if err != nil {
			return nil, err
		}
		if len(doc.Rasters) == 0 {
			return nil, &ConfigError{Dataset: dc.Name, Err: fmt.Errorf("manifest %q declares no rasters", dc.Manifest)}
		}
		entries := make([]tiling.ManifestEntry, len(doc.Rasters))
		for i, m := range doc.Rasters {
			entries[i] = tiling.ManifestEntry{
				Path:   m.Path,
				MinLat: m.MinLat,
				MaxLat: m.MaxLat,
				MinLng: m.MinLng,
				MaxLng: m.MaxLng,
			}
		}
		scheme = tiling.NewFilenameIndex(entries)
		probePath = entries[0].Path

	default:
		return nil, &ConfigError{Dataset: dc.Name, Err: fmt.Errorf("unknown tiling scheme %q", dc.Tiling)}
	}

	if err := probeRaster(probePath); err != nil {
		return nil, &ConfigError{Dataset: dc.Name, Err: err}
	}

	return newDataset(dc.Name, scheme, kernel, policy, outputDecimals, dc.RasterCacheSize)
}

// probeRaster opens and immediately closes path to validate that it is a
// format this package can decode, per the spec's "unsupported format is
// fatal at dataset load time, never at request time" rule.
func probeRaster(path string) error {
	r, err := raster.Open(path)
	if err != nil {
		return fmt.Errorf("probing %q: %w", path, err)
	}
	return r.Close()
}

// firstGridTile returns the path of some raster file in dir, used to probe
// a uniform-grid dataset's format without knowing which integer-degree
// tiles actually exist ahead of time.
func firstGridTile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("listing %q: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".tif", ".tiff", ".hgt":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "", fmt.Errorf("no raster files found in %q", dir)
	}
	return filepath.Join(dir, names[0]), nil
}
