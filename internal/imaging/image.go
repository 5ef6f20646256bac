// Package imaging holds the 2-D containers shared by every pipeline stage.
package imaging

import (
	"fmt"
	"math"
)

// Image is a row-major float64 raster. Pix[y*Width+x] is pixel (x, y).
type Image struct {
	Width  int
	Height int
	Pix    []float64
	Header Header
}

// New allocates a zero image.
func New(width, height int) *Image {
	return &Image{Width: width, Height: height, Pix: make([]float64, width*height)}
}

// FromRows builds an image from rows[y][x].
func FromRows(rows [][]float64) (*Image, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	w := len(rows[0])
	img := New(w, len(rows))
	for y, row := range rows {
		if len(row) != w {
			return nil, fmt.Errorf("row %d has %d columns, want %d", y, len(row), w)
		}
		copy(img.Pix[y*w:], row)
	}
	return img, nil
}

func (im *Image) At(x, y int) float64     { return im.Pix[y*im.Width+x] }
func (im *Image) Set(x, y int, v float64) { im.Pix[y*im.Width+x] = v }

// In reports whether (x, y) lies on the raster.
func (im *Image) In(x, y int) bool { return x >= 0 && y >= 0 && x < im.Width && y < im.Height }

// Side is the shorter image dimension.
func (im *Image) Side() int { return min(im.Width, im.Height) }

// Clone deep-copies pixels and header.
func (im *Image) Clone() *Image {
	out := &Image{Width: im.Width, Height: im.Height, Pix: append([]float64(nil), im.Pix...)}
	out.Header = im.Header.Clone()
	return out
}

// AllZero reports whether every finite pixel is zero.
func (im *Image) AllZero() bool {
	for _, v := range im.Pix {
		if v != 0 && !math.IsNaN(v) {
			return false
		}
	}
	return true
}

// Sub returns im - other pixelwise.
func (im *Image) Sub(other *Image) (*Image, error) {
	if im.Width != other.Width || im.Height != other.Height {
		return nil, fmt.Errorf("shape mismatch %dx%d vs %dx%d", im.Width, im.Height, other.Width, other.Height)
	}
	out := &Image{Width: im.Width, Height: im.Height, Pix: make([]float64, len(im.Pix)), Header: im.Header.Clone()}
	for i := range im.Pix {
		out.Pix[i] = im.Pix[i] - other.Pix[i]
	}
	return out, nil
}

// Center returns the geometric center in pixel coordinates (pixel centers at integers).
func (im *Image) Center() (float64, float64) {
	return float64(im.Width-1) / 2, float64(im.Height-1) / 2
}

// Mask is a boolean raster; true means masked.
type Mask struct {
	Width  int
	Height int
	Bits   []bool
}

// NewMask allocates an all-false mask.
func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Bits: make([]bool, width*height)}
}

func (m *Mask) At(x, y int) bool     { return m.Bits[y*m.Width+x] }
func (m *Mask) Set(x, y int, v bool) { m.Bits[y*m.Width+x] = v }

// Count returns the number of masked pixels.
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// Clone deep-copies the mask.
func (m *Mask) Clone() *Mask {
	return &Mask{Width: m.Width, Height: m.Height, Bits: append([]bool(nil), m.Bits...)}
}

// Union returns a new mask masked wherever any input is. Nil inputs are skipped.
func Union(width, height int, masks ...*Mask) *Mask {
	out := NewMask(width, height)
	for _, m := range masks {
		if m == nil {
			continue
		}
		for i, b := range m.Bits {
			if b {
				out.Bits[i] = true
			}
		}
	}
	return out
}

// MaskedAt is nil-safe.
func (m *Mask) MaskedAt(i int) bool {
	return m != nil && m.Bits[i]
}

// Labels is an integer raster; 0 is background.
type Labels struct {
	Width  int
	Height int
	Pix    []int32
}

// NewLabels allocates an all-background label map.
func NewLabels(width, height int) *Labels {
	return &Labels{Width: width, Height: height, Pix: make([]int32, width*height)}
}

func (l *Labels) At(x, y int) int32     { return l.Pix[y*l.Width+x] }
func (l *Labels) Set(x, y int, v int32) { l.Pix[y*l.Width+x] = v }

// Clone deep-copies the label map.
func (l *Labels) Clone() *Labels {
	return &Labels{Width: l.Width, Height: l.Height, Pix: append([]int32(nil), l.Pix...)}
}

// Areas counts pixels per nonzero label.
func (l *Labels) Areas() map[int]int {
	areas := make(map[int]int)
	for _, v := range l.Pix {
		if v != 0 {
			areas[int(v)]++
		}
	}
	return areas
}

// Max returns the largest label.
func (l *Labels) Max() int {
	var m int32
	for _, v := range l.Pix {
		if v > m {
			m = v
		}
	}
	return int(m)
}

// MaskOf returns the pixels carrying label.
func (l *Labels) MaskOf(label int) *Mask {
	m := NewMask(l.Width, l.Height)
	for i, v := range l.Pix {
		if int(v) == label {
			m.Bits[i] = true
		}
	}
	return m
}
