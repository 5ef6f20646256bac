package segment

import (
	"container/heap"
	"math"

	"astromorph/internal/imaging"
)

// DeblendOptions controls multi-threshold splitting.
type DeblendOptions struct {
	NLevels  int
	Contrast float64 // minimum child flux fraction of the parent
	MinArea  int
}

// Deblend splits each region that contains two or more significant peaks.
// Thresholds are spaced exponentially between the region minimum and maximum;
// at the lowest level where at least two children pass MinArea and Contrast,
// the region's pixels are flooded from the children in order of decreasing
// brightness. Children are split again recursively.
func Deblend(img *imaging.Image, labels *imaging.Labels, opt DeblendOptions) *imaging.Labels {
	if opt.NLevels <= 0 {
		opt.NLevels = 32
	}
	if opt.MinArea < 1 {
		opt.MinArea = 1
	}
	out := imaging.NewLabels(labels.Width, labels.Height)
	next := int32(1)

	regions := make(map[int32][]int)
	order := []int32{}
	for i, v := range labels.Pix {
		if v == 0 {
			continue
		}
		if _, ok := regions[v]; !ok {
			order = append(order, v)
		}
		regions[v] = append(regions[v], i)
	}

	var split func(pixels []int, depth int)
	split = func(pixels []int, depth int) {
		children := findChildren(img, labels.Width, labels.Height, pixels, opt)
		if len(children) < 2 || depth > 8 {
			for _, i := range pixels {
				out.Pix[i] = next
			}
			next++
			return
		}
		for _, part := range Flood(img, labels.Width, labels.Height, pixels, children) {
			split(part, depth+1)
		}
	}
	for _, l := range order {
		split(regions[l], 0)
	}
	return imaging.Relabel(out)
}

// findChildren returns the seeds (pixel lists) at the first level that splits.
func findChildren(img *imaging.Image, w, h int, pixels []int, opt DeblendOptions) [][]int {
	lo, hi := math.Inf(1), math.Inf(-1)
	var total float64
	for _, i := range pixels {
		v := img.Pix[i]
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		total += v
	}
	if !(hi > lo) || lo <= 0 {
		lo = math.Max(lo, hi*1e-3)
		if !(hi > lo) || lo <= 0 {
			return nil
		}
	}
	for k := 1; k < opt.NLevels; k++ {
		t := lo * math.Pow(hi/lo, float64(k)/float64(opt.NLevels))
		on := imaging.NewMask(w, h)
		for _, i := range pixels {
			on.Bits[i] = img.Pix[i] > t
		}
		comp := imaging.Components(on, opt.MinArea)
		groups := make(map[int32][]int)
		for _, i := range pixels {
			if c := comp.Pix[i]; c != 0 {
				groups[c] = append(groups[c], i)
			}
		}
		var good [][]int
		for c := int32(1); int(c) <= len(groups); c++ {
			g := groups[c]
			var flux float64
			for _, i := range g {
				flux += img.Pix[i]
			}
			if total > 0 && flux/total >= opt.Contrast {
				good = append(good, g)
			}
		}
		if len(good) >= 2 {
			return good
		}
	}
	return nil
}

// Flood assigns every pixel of a connected region to one of the seed groups,
// growing from the brightest pixels first.
func Flood(img *imaging.Image, w, h int, pixels []int, seeds [][]int) [][]int {
	owner := make(map[int]int, len(pixels))
	for _, i := range pixels {
		owner[i] = -1
	}
	pq := &pixelQueue{}
	for s, g := range seeds {
		for _, i := range g {
			owner[i] = s
			heap.Push(pq, pixelItem{idx: i, val: img.Pix[i], owner: s})
		}
	}
	for pq.Len() > 0 {
		it := heap.Pop(pq).(pixelItem)
		x, y := it.idx%w, it.idx/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if (dx == 0 && dy == 0) || nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if o, ok := owner[j]; ok && o == -1 {
					owner[j] = it.owner
					heap.Push(pq, pixelItem{idx: j, val: img.Pix[j], owner: it.owner})
				}
			}
		}
	}
	parts := make([][]int, len(seeds))
	for _, i := range pixels {
		if o := owner[i]; o >= 0 {
			parts[o] = append(parts[o], i)
		}
	}
	return parts
}

type pixelItem struct {
	idx   int
	val   float64
	owner int
}

type pixelQueue []pixelItem

func (q pixelQueue) Len() int { return len(q) }
func (q pixelQueue) Less(i, j int) bool {
	if q[i].val != q[j].val {
		return q[i].val > q[j].val
	}
	return q[i].idx < q[j].idx
}
func (q pixelQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *pixelQueue) Push(x any)   { *q = append(*q, x.(pixelItem)) }
func (q *pixelQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}
