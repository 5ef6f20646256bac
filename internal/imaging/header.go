package imaging

import (
	"math"
	"strings"
)

// Card is one FITS header keyword.
type Card struct {
	Name    string
	Value   any
	Comment string
}

// Header keeps cards in file order.
type Header struct {
	Cards []Card
}

// Clone copies the card list.
func (h Header) Clone() Header {
	return Header{Cards: append([]Card(nil), h.Cards...)}
}

// Get returns the value of a keyword.
func (h Header) Get(name string) (any, bool) {
	name = strings.ToUpper(name)
	for _, c := range h.Cards {
		if c.Name == name {
			return c.Value, true
		}
	}
	return nil, false
}

// Float returns a numeric keyword.
func (h Header) Float(name string) (float64, bool) {
	v, ok := h.Get(name)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

// Set replaces or appends a keyword.
func (h *Header) Set(name string, value any, comment string) {
	name = strings.ToUpper(name)
	for i := range h.Cards {
		if h.Cards[i].Name == name {
			h.Cards[i].Value = value
			h.Cards[i].Comment = comment
			return
		}
	}
	h.Cards = append(h.Cards, Card{Name: name, Value: value, Comment: comment})
}

// WCS is a gnomonic (TAN) world coordinate system.
type WCS struct {
	CRPix1, CRPix2 float64 // 1-based reference pixel
	CRVal1, CRVal2 float64 // degrees
	CD             [2][2]float64
}

// WCS extracts a TAN solution from CRPIX/CRVAL and CD or CDELT cards.
func (h Header) WCS() (WCS, bool) {
	var w WCS
	var ok1, ok2, ok3, ok4 bool
	w.CRPix1, ok1 = h.Float("CRPIX1")
	w.CRPix2, ok2 = h.Float("CRPIX2")
	w.CRVal1, ok3 = h.Float("CRVAL1")
	w.CRVal2, ok4 = h.Float("CRVAL2")
	if !(ok1 && ok2 && ok3 && ok4) {
		return w, false
	}
	if cd11, ok := h.Float("CD1_1"); ok {
		w.CD[0][0] = cd11
		w.CD[0][1], _ = h.Float("CD1_2")
		w.CD[1][0], _ = h.Float("CD2_1")
		w.CD[1][1], _ = h.Float("CD2_2")
		return w, true
	}
	d1, ok1 := h.Float("CDELT1")
	d2, ok2 := h.Float("CDELT2")
	if !ok1 || !ok2 {
		return w, false
	}
	rot, _ := h.Float("CROTA2")
	r := rot * math.Pi / 180
	w.CD[0][0] = d1 * math.Cos(r)
	w.CD[0][1] = -d2 * math.Sin(r)
	w.CD[1][0] = d1 * math.Sin(r)
	w.CD[1][1] = d2 * math.Cos(r)
	return w, true
}

// PixToWorld maps 0-based pixel coordinates to (ra, dec) in degrees.
func (w WCS) PixToWorld(x, y float64) (float64, float64) {
	dx := x + 1 - w.CRPix1
	dy := y + 1 - w.CRPix2
	xi := (w.CD[0][0]*dx + w.CD[0][1]*dy) * math.Pi / 180
	eta := (w.CD[1][0]*dx + w.CD[1][1]*dy) * math.Pi / 180

	ra0 := w.CRVal1 * math.Pi / 180
	dec0 := w.CRVal2 * math.Pi / 180
	den := math.Cos(dec0) - eta*math.Sin(dec0)
	ra := ra0 + math.Atan2(xi, den)
	dec := math.Atan2(math.Sin(dec0)+eta*math.Cos(dec0), math.Hypot(xi, den))

	raDeg := math.Mod(ra*180/math.Pi+360, 360)
	return raDeg, dec * 180 / math.Pi
}

// SetTAN writes a TAN solution centred on the image.
func (h *Header) SetTAN(width, height int, ra, dec, scaleArcsec float64) {
	deg := scaleArcsec / 3600
	h.Set("CTYPE1", "RA---TAN", "")
	h.Set("CTYPE2", "DEC--TAN", "")
	h.Set("CRPIX1", float64(width+1)/2, "")
	h.Set("CRPIX2", float64(height+1)/2, "")
	h.Set("CRVAL1", ra, "")
	h.Set("CRVAL2", dec, "")
	h.Set("CD1_1", -deg, "")
	h.Set("CD1_2", 0.0, "")
	h.Set("CD2_1", 0.0, "")
	h.Set("CD2_2", deg, "")
}
