package imaging

// neighbors8 lists the 8-connected offsets.
var neighbors8 = [8][2]int{{-1, -1}, {0, -1}, {1, -1}, {-1, 0}, {1, 0}, {-1, 1}, {0, 1}, {1, 1}}

// Components labels 8-connected true pixels of on. Components smaller than
// minPixels are dropped. Labels are 1..K in raster order of each component's first pixel.
func Components(on *Mask, minPixels int) *Labels {
	w, h := on.Width, on.Height
	out := NewLabels(w, h)
	seen := make([]bool, len(on.Bits))
	stack := make([]int, 0, 64)
	members := make([]int, 0, 64)
	next := int32(1)

	for start, set := range on.Bits {
		if !set || seen[start] {
			continue
		}
		members = members[:0]
		stack = append(stack[:0], start)
		seen[start] = true
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			members = append(members, i)
			x, y := i%w, i/w
			for _, d := range neighbors8 {
				nx, ny := x+d[0], y+d[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if on.Bits[j] && !seen[j] {
					seen[j] = true
					stack = append(stack, j)
				}
			}
		}
		if len(members) < minPixels {
			continue
		}
		for _, i := range members {
			out.Pix[i] = next
		}
		next++
	}
	return out
}

// Dilate grows the mask with a size×size square footprint.
func Dilate(m *Mask, size int) *Mask {
	if size <= 1 {
		return m.Clone()
	}
	r0 := (size - 1) / 2
	r1 := size / 2
	w, h := m.Width, m.Height

	// separable: rows then columns
	tmp := NewMask(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !m.Bits[y*w+x] {
				continue
			}
			for dx := -r1; dx <= r0; dx++ {
				if nx := x + dx; nx >= 0 && nx < w {
					tmp.Bits[y*w+nx] = true
				}
			}
		}
	}
	out := NewMask(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !tmp.Bits[y*w+x] {
				continue
			}
			for dy := -r1; dy <= r0; dy++ {
				if ny := y + dy; ny >= 0 && ny < h {
					out.Bits[ny*w+x] = true
				}
			}
		}
	}
	return out
}

// Relabel renumbers nonzero labels to 1..K in raster order of first appearance.
func Relabel(l *Labels) *Labels {
	mapping := make(map[int32]int32)
	out := NewLabels(l.Width, l.Height)
	next := int32(1)
	for i, v := range l.Pix {
		if v == 0 {
			continue
		}
		nv, ok := mapping[v]
		if !ok {
			nv = next
			mapping[v] = nv
			next++
		}
		out.Pix[i] = nv
	}
	return out
}
