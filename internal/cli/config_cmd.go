package cli

import (
	"fmt"
	"runtime"

	"gopkg.in/yaml.v3"

	"astromorph/internal/config"
)

func (r *Root) configShow() error {
	out := r.out
	fmt.Fprintf(out, "Current configuration:\n")
	fmt.Fprintf(out, "Config file: %s\n", config.Path())
	fmt.Fprintf(out, "\nPaths:\n")
	fmt.Fprintf(out, "  Work directory: %s\n", r.cfg.Paths.WorkDir)
	fmt.Fprintf(out, "  Cutouts: %s\n", workPath(r.cfg, r.cfg.Paths.FitsDir))
	fmt.Fprintf(out, "  Figures: %s\n", workPath(r.cfg, r.cfg.Paths.ImagesDir))
	fmt.Fprintf(out, "  Result table: %s\n", workPath(r.cfg, r.cfg.Paths.ResultTable))
	fmt.Fprintf(out, "  Object table: %s\n", workPath(r.cfg, r.cfg.Paths.ObjectTable))
	fmt.Fprintf(out, "  Database: %s\n", r.cfg.Paths.DatabasePath)
	fmt.Fprintf(out, "\nSurveys:\n")
	fmt.Fprintf(out, "  Default: %s\n", r.cfg.Surveys.Default)
	fmt.Fprintf(out, "  Requests/s: %g (burst %d)\n", r.cfg.Surveys.RequestsPerSec, r.cfg.Surveys.Burst)
	fmt.Fprintf(out, "  Timeout: %ds\n", r.cfg.Surveys.TimeoutSeconds)
	for band, fwhm := range r.cfg.Surveys.UserFWHM {
		fmt.Fprintf(out, "  FWHM override %s: %g\"\n", band, fwhm)
	}
	fmt.Fprintf(out, "\nDirectory:\n")
	if r.cfg.Directory.Offline {
		fmt.Fprintf(out, "  SIMBAD: offline\n")
	} else {
		fmt.Fprintf(out, "  SIMBAD: %s\n", r.cfg.Directory.SimbadTapURL)
	}
	fmt.Fprintf(out, "\nEngines:\n")
	fmt.Fprintf(out, "  Preferred: %s\n", r.cfg.Engines.Preferred)
	fmt.Fprintf(out, "  Fallbacks: %v\n", r.cfg.Engines.Fallbacks)
	fmt.Fprintf(out, "\nLogging: %s, %s\n", r.cfg.Logging.Level, r.cfg.Logging.Format)
	if r.cfg.Metrics.Enabled {
		fmt.Fprintf(out, "Metrics: %s\n", workPath(r.cfg, r.cfg.Metrics.Textfile))
	}
	return nil
}

func (r *Root) configParams(p config.Params) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	_, err = r.out.Write(data)
	return err
}

func (r *Root) cmdEngines() error {
	for _, s := range r.engines.Status() {
		status := "unavailable"
		if s.Available {
			status = "available"
		}
		mark := ""
		if s.Preferred {
			mark = " (preferred)"
		}
		fmt.Fprintf(r.out, "%s: %s%s\n", s.Name, status, mark)
	}
	return nil
}

func (r *Root) cmdVersion() error {
	fmt.Fprintf(r.out, "astromorph v%s\n", Version)
	fmt.Fprintf(r.out, "Built with Go %s\n", runtime.Version())
	return r.cmdEngines()
}
