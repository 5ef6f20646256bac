// Package target chooses which segmentation labels get measured.
package target

import (
	"errors"
	"fmt"

	"astromorph/internal/imaging"
	"astromorph/internal/segment"
	"astromorph/internal/stats"
)

// CenterWindow is the side of the central search window in pixels.
const CenterWindow = 10

var (
	// ErrNoCentralObject means no label touches the central window.
	ErrNoCentralObject = errors.New("no object at image center")
	// ErrUnknownLabel means a requested label is not in the map.
	ErrUnknownLabel = errors.New("label not in segmentation map")
)

// Target is one object to measure.
type Target struct {
	Label    int
	Nickname string
}

// Selection is the outcome of target selection.
type Selection struct {
	Targets []Target
	// Others masks every labeled pixel that is not a target.
	Others *imaging.Mask
	// Filtered keeps only target labels.
	Filtered *segment.Map
}

// Labels lists the target label ids in order.
func (s *Selection) Labels() []int {
	out := make([]int, len(s.Targets))
	for i, t := range s.Targets {
		out[i] = t.Label
	}
	return out
}

// Auto picks the most frequent label in the central window; ties go to the
// larger segment, then to the smaller label id.
func Auto(seg *segment.Map, tag string) (*Selection, error) {
	l := seg.Labels
	cx, cy := l.Width/2, l.Height/2
	half := CenterWindow / 2

	counts := make(map[int]int)
	for y := max(cy-half, 0); y < min(cy+half, l.Height); y++ {
		for x := max(cx-half, 0); x < min(cx+half, l.Width); x++ {
			if v := int(l.At(x, y)); v != 0 {
				counts[v]++
			}
		}
	}
	label, ok := stats.Mode(counts, func(a, b int) bool {
		if seg.Areas[a] != seg.Areas[b] {
			return seg.Areas[a] > seg.Areas[b]
		}
		return a < b
	})
	if !ok {
		return nil, ErrNoCentralObject
	}
	return build(seg, []Target{{Label: label, Nickname: tag}}), nil
}

// Explicit keeps labels in the given order. Missing nicknames default to A, B, C...
func Explicit(seg *segment.Map, labels []int, nicknames []string) (*Selection, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: empty target list", ErrUnknownLabel)
	}
	if len(nicknames) != 0 && len(nicknames) != len(labels) {
		return nil, fmt.Errorf("got %d nicknames for %d labels", len(nicknames), len(labels))
	}
	seen := make(map[int]bool, len(labels))
	targets := make([]Target, len(labels))
	for i, l := range labels {
		if _, ok := seg.Areas[l]; !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownLabel, l)
		}
		if seen[l] {
			return nil, fmt.Errorf("label %d listed twice", l)
		}
		seen[l] = true
		name := DefaultNickname(i)
		if len(nicknames) != 0 {
			name = nicknames[i]
		}
		targets[i] = Target{Label: l, Nickname: name}
	}
	return build(seg, targets), nil
}

// DefaultNickname returns A..Z, then AA, AB...
func DefaultNickname(i int) string {
	name := ""
	for {
		name = string(rune('A'+i%26)) + name
		i = i/26 - 1
		if i < 0 {
			return name
		}
	}
}

func build(seg *segment.Map, targets []Target) *Selection {
	ids := make([]int, len(targets))
	keep := make(map[int32]bool, len(targets))
	for i, t := range targets {
		ids[i] = t.Label
		keep[int32(t.Label)] = true
	}
	others := imaging.NewMask(seg.Labels.Width, seg.Labels.Height)
	for i, v := range seg.Labels.Pix {
		if v != 0 && !keep[v] {
			others.Bits[i] = true
		}
	}
	return &Selection{Targets: targets, Others: others, Filtered: seg.Keep(ids)}
}
