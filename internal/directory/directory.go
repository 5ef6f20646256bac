// Package directory resolves object names and positions to catalog records.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"astromorph/internal/catalog"
	"astromorph/internal/geometry"
)

// ErrNotFound is returned when no source matches the query.
var ErrNotFound = errors.New("object not found")

// Object is a resolved target.
type Object struct {
	Name     string
	RADeg    float64
	DecDeg   float64
	RadVel   float64 // km/s
	Redshift float64
	Mag      float64 // B band
}

// RA formats the right ascension as hh:mm:ss.ss.
func (o Object) RA() string { return sexagesimal(o.RADeg/15, false) }

// Dec formats the declination as ±dd:mm:ss.s.
func (o Object) Dec() string { return sexagesimal(o.DecDeg, true) }

// Z is the redshift, derived from the radial velocity when missing.
func (o Object) Z() float64 {
	return geometry.Redshift(o.Redshift, o.RadVel)
}

// Target names what to resolve: a name, or a position when HasPosition.
type Target struct {
	Name        string
	RA, Dec     float64
	HasPosition bool
}

func (t Target) String() string {
	if t.HasPosition {
		return fmt.Sprintf("(%.5f, %+.5f)", t.RA, t.Dec)
	}
	return t.Name
}

// Source looks objects up in a remote service.
type Source interface {
	ByName(ctx context.Context, name string) (Object, error)
	ByPosition(ctx context.Context, ra, dec, radiusDeg float64) (Object, error)
}

// Directory answers from the local table first and falls back to a remote
// source, appending new objects to the table.
type Directory struct {
	mu        sync.Mutex
	cache     *catalog.Table
	remote    Source
	coneDeg   float64
	log       *slog.Logger
	cachePath string
}

// New opens the cache table at cachePath. remote may be nil for offline use.
func New(cachePath string, remote Source, coneArcsec float64, logger *slog.Logger) (*Directory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t, err := catalog.Load(cachePath)
	if err != nil {
		return nil, fmt.Errorf("load object cache: %w", err)
	}
	if t.Len() == 0 {
		t = catalog.New(cachePath, cacheColumns)
	}
	if coneArcsec <= 0 {
		coneArcsec = 2
	}
	return &Directory{cache: t, remote: remote, coneDeg: coneArcsec / 3600, log: logger, cachePath: cachePath}, nil
}

var cacheColumns = []string{"GAL", "ra", "dec", "radvel", "z", "mag"}

// Resolve returns the object for a target.
func (d *Directory) Resolve(ctx context.Context, t Target) (Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t.HasPosition {
		if o, ok := d.nearest(t.RA, t.Dec); ok {
			return o, nil
		}
	} else if o, ok := d.lookup(t.Name); ok {
		return o, nil
	}
	if d.remote == nil {
		return Object{}, fmt.Errorf("%w: %s (offline)", ErrNotFound, t)
	}

	var o Object
	var err error
	if t.HasPosition {
		o, err = d.remote.ByPosition(ctx, t.RA, t.Dec, d.coneDeg)
		if err == nil {
			o.Name = strings.ReplaceAll(o.Name, " ", "")
		}
	} else {
		o, err = d.remote.ByName(ctx, t.Name)
		if err == nil {
			o.Name = t.Name
		}
	}
	if err != nil {
		return Object{}, fmt.Errorf("resolve %s: %w", t, err)
	}
	d.log.Info("resolved object", "target", t.String(), "name", o.Name, "radvel", o.RadVel)
	d.store(o)
	if err := d.cache.Save(); err != nil {
		d.log.Warn("object cache not saved", "path", d.cachePath, "error", err)
	}
	return o, nil
}

// Put records an object in the cache, replacing any entry with its name.
func (d *Directory) Put(o Object) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.store(o)
	return d.cache.Save()
}

func (d *Directory) store(o Object) {
	d.cache.Upsert(o.Name, map[string]any{
		"ra":     o.RADeg,
		"dec":    o.DecDeg,
		"radvel": o.RadVel,
		"z":      o.Redshift,
		"mag":    o.Mag,
	})
}

func (d *Directory) lookup(name string) (Object, bool) {
	if _, ok := d.cache.Get(name); !ok {
		return Object{}, false
	}
	return Object{
		Name:     name,
		RADeg:    d.cache.Float(name, "ra"),
		DecDeg:   d.cache.Float(name, "dec"),
		RadVel:   d.cache.Float(name, "radvel"),
		Redshift: d.cache.Float(name, "z"),
		Mag:      d.cache.Float(name, "mag"),
	}, true
}

func (d *Directory) nearest(ra, dec float64) (Object, bool) {
	best, bestSep := "", math.Inf(1)
	for _, k := range d.cache.Keys() {
		sep := Separation(ra, dec, d.cache.Float(k, "ra"), d.cache.Float(k, "dec"))
		if sep < bestSep {
			best, bestSep = k, sep
		}
	}
	if best == "" || bestSep > d.coneDeg {
		return Object{}, false
	}
	return d.lookup(best)
}

// Separation is the angular distance in degrees between two positions.
func Separation(ra1, dec1, ra2, dec2 float64) float64 {
	const rad = math.Pi / 180
	d1, d2 := dec1*rad, dec2*rad
	dra := (ra2 - ra1) * rad
	// haversine
	h := math.Pow(math.Sin((d2-d1)/2), 2) + math.Cos(d1)*math.Cos(d2)*math.Pow(math.Sin(dra/2), 2)
	return 2 * math.Asin(math.Min(1, math.Sqrt(h))) / rad
}

func sexagesimal(v float64, signed bool) string {
	if math.IsNaN(v) {
		return "--"
	}
	sign := "+"
	if v < 0 {
		sign = "-"
		v = -v
	}
	if !signed {
		sign = ""
		v = math.Mod(v, 24)
	}
	h := math.Floor(v)
	m := math.Floor((v - h) * 60)
	s := ((v-h)*60 - m) * 60
	if signed {
		return fmt.Sprintf("%s%02.0f:%02.0f:%04.1f", sign, h, m, s)
	}
	return fmt.Sprintf("%02.0f:%02.0f:%05.2f", h, m, s)
}
