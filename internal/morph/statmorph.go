package morph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"

	"astromorph/internal/config"
	"astromorph/internal/imaging"
)

// StatmorphEngine runs an external statmorph wrapper. The wrapper reads a
// request.json naming FITS inputs and writes a JSON array of results to
// stdout, one object per label with the keys used by Result.
type StatmorphEngine struct {
	command string
	args    []string
}

// NewStatmorphEngine builds the engine from config.
func NewStatmorphEngine(cfg config.StatmorphConfig) *StatmorphEngine {
	cmd := cfg.Command
	if cmd == "" {
		cmd = "statmorph-runner"
	}
	return &StatmorphEngine{command: cmd, args: cfg.ExtraArgs}
}

func (e *StatmorphEngine) Name() string { return "statmorph" }

// Available checks the wrapper is on PATH.
func (e *StatmorphEngine) Available() bool {
	_, err := exec.LookPath(e.command)
	return err == nil
}

type statmorphRequest struct {
	Image          string  `json:"image"`
	Segmap         string  `json:"segmap"`
	Mask           string  `json:"mask"`
	PSF            string  `json:"psf"`
	Labels         []int   `json:"labels"`
	Gain           float64 `json:"gain"`
	Eta            float64 `json:"eta"`
	PetroExtentCAS float64 `json:"petro_extent_cas"`
	SkyboxSize     int     `json:"skybox"`
	PSFSigma       float64 `json:"psf_sigma"`
}

// Analyze stages the inputs in a temp dir and decodes the wrapper output.
func (e *StatmorphEngine) Analyze(ctx context.Context, req Request) ([]Result, error) {
	dir, err := os.MkdirTemp("", "astromorph-statmorph-")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(dir)

	sr := statmorphRequest{
		Image:          filepath.Join(dir, "image.fits"),
		Segmap:         filepath.Join(dir, "segmap.fits"),
		Mask:           filepath.Join(dir, "mask.fits"),
		PSF:            filepath.Join(dir, "psf.fits"),
		Labels:         req.Labels,
		Gain:           req.Gain,
		Eta:            req.Eta,
		PetroExtentCAS: req.PetroExtentCAS,
		SkyboxSize:     req.SkyboxSize,
		PSFSigma:       req.PSF.Sigma,
	}
	if err := stageInputs(sr, req); err != nil {
		return nil, err
	}
	reqPath := filepath.Join(dir, "request.json")
	data, err := json.MarshalIndent(sr, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if err := os.WriteFile(reqPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	args := append(append([]string{}, e.args...), reqPath)
	cmd := exec.CommandContext(ctx, e.command, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s failed: %v\nOutput: %s", e.command, err, stderr.String())
	}
	return DecodeResults(out)
}

func stageInputs(sr statmorphRequest, req Request) error {
	if err := imaging.WriteFITS(sr.Image, req.Image); err != nil {
		return fmt.Errorf("stage image: %w", err)
	}
	if err := imaging.WriteLabelsFITS(sr.Segmap, req.SegMap); err != nil {
		return fmt.Errorf("stage segmap: %w", err)
	}
	mask := req.Mask
	if mask == nil {
		mask = imaging.NewMask(req.Image.Width, req.Image.Height)
	}
	if err := imaging.WriteMaskFITS(sr.Mask, mask); err != nil {
		return fmt.Errorf("stage mask: %w", err)
	}
	psf := imaging.New(req.PSF.Size, req.PSF.Size)
	copy(psf.Pix, req.PSF.Data)
	if err := imaging.WriteFITS(sr.PSF, psf); err != nil {
		return fmt.Errorf("stage psf: %w", err)
	}
	return nil
}

var nonFinite = regexp.MustCompile(`-?\bInfinity\b|\bNaN\b`)

// DecodeResults parses a JSON array of result objects. Python-style NaN and
// Infinity literals are read as missing values.
func DecodeResults(data []byte) ([]Result, error) {
	clean := nonFinite.ReplaceAll(data, []byte("null"))
	var raw []map[string]any
	if err := json.Unmarshal(clean, &raw); err != nil {
		return nil, fmt.Errorf("decode engine output: %w", err)
	}
	out := make([]Result, 0, len(raw))
	for _, m := range raw {
		r, err := FromMap(m)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
