package imaging

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/astrogo/fitsio"
)

// structural keywords are produced by the writer itself
var structural = map[string]struct{}{
	"SIMPLE": {}, "BITPIX": {}, "NAXIS": {}, "NAXIS1": {}, "NAXIS2": {}, "NAXIS3": {},
	"EXTEND": {}, "BZERO": {}, "BSCALE": {}, "END": {}, "PCOUNT": {}, "GCOUNT": {}, "XTENSION": {},
}

// ReadFITS loads the first image HDU carrying data. Cubes keep their first plane.
func ReadFITS(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := DecodeFITS(f)
	if err != nil {
		return nil, fmt.Errorf("fits %s: %w", path, err)
	}
	return img, nil
}

// DecodeFITS reads the first image HDU carrying data from r.
func DecodeFITS(r io.Reader) (*Image, error) {
	ff, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("open fits: %w", err)
	}
	defer ff.Close()

	for _, hdu := range ff.HDUs() {
		img, ok := hdu.(fitsio.Image)
		if !ok {
			continue
		}
		axes := img.Header().Axes()
		if len(axes) < 2 || axes[0] == 0 || axes[1] == 0 {
			continue
		}
		return decodeImage(img)
	}
	return nil, errors.New("no image data")
}

func decodeImage(img fitsio.Image) (*Image, error) {
	hdr := img.Header()
	axes := hdr.Axes()
	width, height := axes[0], axes[1]
	n := width * height

	raw := img.Raw()
	bitpix := hdr.Bitpix()
	size := abs(bitpix) / 8
	if len(raw) < n*size {
		return nil, fmt.Errorf("fits: short data (%d bytes for %dx%d bitpix %d)", len(raw), width, height, bitpix)
	}

	bzero, bscale := 0.0, 1.0
	if c := hdr.Get("BZERO"); c != nil {
		bzero = toFloat(c.Value)
	}
	if c := hdr.Get("BSCALE"); c != nil {
		bscale = toFloat(c.Value)
	}

	out := New(width, height)
	be := binary.BigEndian
	for i := 0; i < n; i++ {
		b := raw[i*size:]
		var v float64
		switch bitpix {
		case 8:
			v = float64(b[0])
		case 16:
			v = float64(int16(be.Uint16(b)))
		case 32:
			v = float64(int32(be.Uint32(b)))
		case 64:
			v = float64(int64(be.Uint64(b)))
		case -32:
			v = float64(math.Float32frombits(be.Uint32(b)))
		case -64:
			v = math.Float64frombits(be.Uint64(b))
		default:
			return nil, fmt.Errorf("fits: unsupported BITPIX %d", bitpix)
		}
		out.Pix[i] = bzero + bscale*v
	}

	for _, key := range hdr.Keys() {
		if _, skip := structural[key]; skip || strings.HasPrefix(key, "NAXIS") {
			continue
		}
		c := hdr.Get(key)
		if c == nil {
			continue
		}
		out.Header.Cards = append(out.Header.Cards, Card{Name: c.Name, Value: c.Value, Comment: c.Comment})
	}
	return out, nil
}

// WriteFITS stores img as a 64-bit float primary HDU.
func WriteFITS(path string, img *Image) error {
	return writeHDU(path, -64, img.Width, img.Height, img.Header, img.Pix)
}

// WriteMaskFITS stores a mask as 0/1 integers.
func WriteMaskFITS(path string, m *Mask) error {
	data := make([]int32, len(m.Bits))
	for i, b := range m.Bits {
		if b {
			data[i] = 1
		}
	}
	return writeHDU(path, 32, m.Width, m.Height, Header{}, data)
}

// WriteLabelsFITS stores a segmentation map as 32-bit integers.
func WriteLabelsFITS(path string, l *Labels) error {
	return writeHDU(path, 32, l.Width, l.Height, Header{}, l.Pix)
}

// ReadLabelsFITS loads a segmentation map written by WriteLabelsFITS.
func ReadLabelsFITS(path string) (*Labels, error) {
	img, err := ReadFITS(path)
	if err != nil {
		return nil, err
	}
	l := NewLabels(img.Width, img.Height)
	for i, v := range img.Pix {
		l.Pix[i] = int32(math.Round(v))
	}
	return l, nil
}

// ReadMaskFITS loads a 0/1 mask.
func ReadMaskFITS(path string) (*Mask, error) {
	img, err := ReadFITS(path)
	if err != nil {
		return nil, err
	}
	m := NewMask(img.Width, img.Height)
	for i, v := range img.Pix {
		m.Bits[i] = v != 0
	}
	return m, nil
}

func writeHDU(path string, bitpix, width, height int, hdr Header, data any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	w, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if err := encodeHDU(w, bitpix, width, height, hdr, data); err != nil {
		w.Close()
		os.Remove(tmp)
		return fmt.Errorf("write fits %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encodeHDU(w *os.File, bitpix, width, height int, hdr Header, data any) error {
	f, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	img := fitsio.NewImage(bitpix, []int{width, height})
	defer img.Close()

	cards := make([]fitsio.Card, 0, len(hdr.Cards))
	for _, c := range hdr.Cards {
		if _, skip := structural[c.Name]; skip {
			continue
		}
		cards = append(cards, fitsio.Card{Name: c.Name, Value: c.Value, Comment: c.Comment})
	}
	if len(cards) > 0 {
		if err := img.Header().Append(cards...); err != nil {
			return err
		}
	}
	if err := img.Write(data); err != nil {
		return err
	}
	if err := f.Write(img); err != nil {
		return err
	}
	return f.Close()
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	}
	return 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
