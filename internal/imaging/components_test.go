package imaging

import "testing"

func maskFromRows(rows []string) *Mask {
	m := NewMask(len(rows[0]), len(rows))
	for y, r := range rows {
		for x, c := range r {
			m.Set(x, y, c == '#')
		}
	}
	return m
}

func TestComponentsEightConnectedAndMinSize(t *testing.T) {
	m := maskFromRows([]string{
		"#.....",
		".#..##",
		"....##",
		"#.....",
	})
	l := Components(m, 2)

	if got := l.Max(); got != 2 {
		t.Fatalf("labels = %d, want 2", got)
	}
	// diagonal pair is one component and comes first in raster order
	if l.At(0, 0) != 1 || l.At(1, 1) != 1 {
		t.Fatalf("diagonal pixels not joined: %v", l.Pix)
	}
	if l.At(4, 1) != 2 {
		t.Fatalf("block label = %d, want 2", l.At(4, 1))
	}
	if l.At(0, 3) != 0 {
		t.Fatalf("single pixel should be dropped")
	}
}

func TestDilateSquare(t *testing.T) {
	m := NewMask(7, 7)
	m.Set(3, 3, true)
	d := Dilate(m, 3)
	if d.Count() != 9 {
		t.Fatalf("count = %d, want 9", d.Count())
	}
	if !d.At(2, 2) || !d.At(4, 4) || d.At(5, 3) {
		t.Fatalf("unexpected footprint")
	}
}

func TestRelabelContiguous(t *testing.T) {
	l := NewLabels(3, 1)
	l.Pix = []int32{7, 0, 3}
	r := Relabel(l)
	if r.Pix[0] != 1 || r.Pix[2] != 2 {
		t.Fatalf("relabel = %v", r.Pix)
	}
}
