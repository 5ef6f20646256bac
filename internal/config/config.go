package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

const (
	defaultConfigPath = "~/.config/astromorph/config.json"
	defaultQueueDepth = 16
)

// Config holds user-editable settings for the pipeline.
type Config struct {
	Processing Processing    `json:"processing"`
	Logging    Logging       `json:"logging"`
	Paths      Paths         `json:"paths"`
	Surveys    SurveyConfig  `json:"surveys"`
	Directory  DirectoryConf `json:"directory"`
	Engines    EngineConfig  `json:"engines"`
	Metrics    MetricsConfig `json:"metrics"`
}

// Processing captures execution preferences.
type Processing struct {
	QueueDepth int    `json:"queue_depth"`
	TempDir    string `json:"temp_dir"`
	Diagnostic bool   `json:"diagnostics"` // write PNG diagnostics
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures the working tree of cutouts, diagnostics and tables.
type Paths struct {
	WorkDir      string `json:"work_dir"`
	FitsDir      string `json:"fits_dir"`
	ImagesDir    string `json:"images_dir"`
	ResultTable  string `json:"result_table"`
	ObjectTable  string `json:"object_table"`
	DatabasePath string `json:"database_path"`
}

// SurveyConfig holds endpoints and pacing for the survey adapters.
type SurveyConfig struct {
	Default          string             `json:"default"` // legacy, sdss, splus
	RequestsPerSec   float64            `json:"requests_per_sec"`
	Burst            int                `json:"burst"`
	TimeoutSeconds   int                `json:"timeout_seconds"`
	PreviewWidth     int                `json:"preview_width"`
	PreviewHeight    int                `json:"preview_height"`
	SearchConeArcsec float64            `json:"search_cone_arcsec"`
	Legacy           LegacyConf         `json:"legacy"`
	SDSS             SDSSConf           `json:"sdss"`
	SPLUS            SPLUSConf          `json:"splus"`
	UserFWHM         map[string]float64 `json:"user_fwhm,omitempty"` // per-band override
}

type LegacyConf struct {
	CutoutURL  string `json:"cutout_url"`
	PreviewURL string `json:"preview_url"`
	TapURL     string `json:"tap_url"`
	Layer      string `json:"layer"`
}

type SDSSConf struct {
	SkyViewURL string `json:"skyview_url"`
	HipsURL    string `json:"hips_url"`
	FieldsURL  string `json:"fields_url"`
}

type SPLUSConf struct {
	StampURL     string `json:"stamp_url"` // template with {ra} {dec} {size} {band} {field}
	PreviewURL   string `json:"preview_url"`
	Token        string `json:"token"`
	SeeingTable  string `json:"seeing_table"`
	ZPTable      string `json:"zp_table"`
	FootprintTab string `json:"footprint_table"`
}

// DirectoryConf configures the object resolver.
type DirectoryConf struct {
	SimbadTapURL string `json:"simbad_tap_url"`
	Offline      bool   `json:"offline"`
}

// EngineConfig selects the morphology engine.
type EngineConfig struct {
	Preferred string          `json:"preferred"` // statmorph, remote, native
	Fallbacks []string        `json:"fallbacks"`
	Statmorph StatmorphConfig `json:"statmorph"`
	Remote    RemoteConfig    `json:"remote"`
}

type StatmorphConfig struct {
	Enabled   bool     `json:"enabled"`
	Command   string   `json:"command"`
	ExtraArgs []string `json:"extra_args"`
}

type RemoteConfig struct {
	Enabled        bool   `json:"enabled"`
	Address        string `json:"address"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// MetricsConfig controls the prometheus textfile output.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Textfile string `json:"textfile"`
}

// Load reads config from ASTROMORPH_CONFIG or the default path. Missing files yield defaults.
func Load() (*Config, error) {
	path := os.Getenv("ASTROMORPH_CONFIG")
	if path == "" {
		path = expandUser(defaultConfigPath)
	}

	cfg := defaultConfig()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return nil, err
	}
	cfg.Paths.DatabasePath = expandUser(cfg.Paths.DatabasePath)
	cfg.Logging.LogDir = expandUser(cfg.Logging.LogDir)
	cfg.Paths.WorkDir = expandUser(cfg.Paths.WorkDir)
	return cfg, nil
}

// Path returns the config file location Load would read.
func Path() string {
	if p := os.Getenv("ASTROMORPH_CONFIG"); p != "" {
		return p
	}
	return expandUser(defaultConfigPath)
}

func defaultConfig() *Config {
	return &Config{
		Processing: Processing{
			QueueDepth: defaultQueueDepth,
			TempDir:    os.TempDir(),
			Diagnostic: true,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     expandUser("~/.local/share/astromorph/logs"),
		},
		Paths: Paths{
			WorkDir:      ".",
			FitsDir:      "fits_images",
			ImagesDir:    "images",
			ResultTable:  "properties.dat",
			ObjectTable:  "simbad_table.tab",
			DatabasePath: expandUser("~/.local/share/astromorph/astromorph.db"),
		},
		Surveys: SurveyConfig{
			Default:          "legacy",
			RequestsPerSec:   2,
			Burst:            1,
			TimeoutSeconds:   120,
			PreviewWidth:     300,
			PreviewHeight:    300,
			SearchConeArcsec: 2,
			Legacy: LegacyConf{
				CutoutURL:  "https://www.legacysurvey.org/viewer/fits-cutout",
				PreviewURL: "https://www.legacysurvey.org/viewer/jpeg-cutout",
				TapURL:     "https://datalab.noirlab.edu/tap/sync",
				Layer:      "ls-dr10",
			},
			SDSS: SDSSConf{
				SkyViewURL: "https://skyview.gsfc.nasa.gov/current/cgi/runquery.pl",
				HipsURL:    "https://alasky.u-strasbg.fr/hips-image-services/hips2fits",
				FieldsURL:  "https://dr12.sdss.org/fields/raDec",
			},
			SPLUS: SPLUSConf{
				StampURL:   "https://splus.cloud/api/stamp?ra={ra}&dec={dec}&size={size}&band={band}",
				PreviewURL: "https://splus.cloud/api/trilogy?ra={ra}&dec={dec}&size={size}",
			},
		},
		Directory: DirectoryConf{
			SimbadTapURL: "https://simbad.cds.unistra.fr/simbad/sim-tap/sync",
		},
		Engines: EngineConfig{
			Preferred: "statmorph",
			Fallbacks: []string{"remote", "native"},
			Statmorph: StatmorphConfig{
				Enabled: true,
				Command: "statmorph-runner",
			},
			Remote: RemoteConfig{
				Enabled:        false,
				Address:        "localhost:50061",
				TimeoutSeconds: 300,
			},
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Textfile: "astromorph.prom",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func expandUser(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
