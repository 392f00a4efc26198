package dataset

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// NoDataPolicy controls whether a point that resolves to NODATA (or to no
// coverage at all) is reported as a null elevation or as a per-point error.
type NoDataPolicy string

const (
	NoDataPolicyNull  NoDataPolicy = "null"
	NoDataPolicyError NoDataPolicy = "error"
)

// TilingScheme is the closed set of ways a dataset's rasters may tile its
// coverage.
type TilingScheme string

const (
	TilingSingle        TilingScheme = "single"
	TilingUniformGrid    TilingScheme = "uniform_grid"
	TilingFilenameIndex  TilingScheme = "filename_index"
)

// Config is the top-level datasets document, loaded once at process start.
type Config struct {
	Datasets []DatasetConfig `yaml:"datasets"`
}

// DatasetConfig is one dataset's declarative configuration.
type DatasetConfig struct {
	Name string       `yaml:"name"`
	Tiling TilingScheme `yaml:"tiling"`

	// Tiling == single.
	Path string `yaml:"path"`

	// Tiling == uniform_grid.
	Dir             string `yaml:"dir"`
	TileSizeDegrees int    `yaml:"tile_size_degrees"`
	// PathTemplate overrides the tile filename convention, substituting
	// {N|S}, {E|W}, {lat}, {lng} for the tile's southwest corner. Empty
	// means the canonical SRTM ".hgt" naming (tiling.SRTMFilename).
	PathTemplate string `yaml:"path_template"`

	// Tiling == filename_index.
	Manifest string `yaml:"manifest"`

	Interpolation    string       `yaml:"interpolation"`
	NoDataPolicy     NoDataPolicy `yaml:"nodata_policy"`
	OutputDecimals   *int         `yaml:"output_decimals"`
	RasterCacheSize  int          `yaml:"raster_cache_size"`
}

// ManifestDocument is the YAML shape of a filename_index dataset's manifest
// file: a flat list of raster coverage rectangles.
type ManifestDocument struct {
	Rasters []ManifestRaster `yaml:"rasters"`
}

// ManifestRaster is one entry of a manifest document.
type ManifestRaster struct {
	Path   string  `yaml:"path"`
	MinLat float64 `yaml:"min_lat"`
	MaxLat float64 `yaml:"max_lat"`
	MinLng float64 `yaml:"min_lng"`
	MaxLng float64 `yaml:"max_lng"`
}

// LoadConfig reads and parses a datasets document from path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("reading config: %w", err)}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("parsing config: %w", err)}
	}
	return &cfg, nil
}

// LoadManifest reads and parses a filename_index manifest document.
func LoadManifest(path string) (*ManifestDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("reading manifest %q: %w", path, err)}
	}
	var doc ManifestDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("parsing manifest %q: %w", path, err)}
	}
	return &doc, nil
}

// ConfigError is fatal at startup: a missing file, an unknown tiling
// scheme, or an internally inconsistent dataset.
type ConfigError struct {
	Dataset string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Dataset == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("dataset %q: %v", e.Dataset, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
