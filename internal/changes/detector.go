// Package changes classifies the difference between the live canvas and the
// products depicted by the current rendered image.
package changes

import (
	"sort"

	"github.com/haasonsaas/roomviz/internal/catalog"
)

// Kind is the class of change between the live and visualized sets.
type Kind string

const (
	NoChange Kind = "no_change"
	Initial  Kind = "initial"
	Additive Kind = "additive"
	Reset    Kind = "reset"
)

// Detect classifies live against the visualized quantities. Rules apply in
// order: any visualized product missing from live or with a lower live
// quantity is a reset, an empty visualized set with a non-empty live set is
// initial, new products or higher quantities are additive, and anything
// else is no change.
func Detect(live []catalog.Product, visualized map[string]int) Kind {
	liveQty := catalog.Quantities(live)

	for id, vq := range visualized {
		if vq <= 0 {
			continue
		}
		lq, ok := liveQty[id]
		if !ok || lq < vq {
			return Reset
		}
	}

	if countPositive(visualized) == 0 {
		if len(liveQty) > 0 {
			return Initial
		}
		return NoChange
	}

	for id, lq := range liveQty {
		if lq > visualized[id] {
			return Additive
		}
	}
	return NoChange
}

// NeedsRerender reports whether live differs from the visualized set.
func NeedsRerender(live []catalog.Product, visualized map[string]int) bool {
	return Detect(live, visualized) != NoChange
}

// Delta returns the instances present in live but not yet visualized, in
// canvas order. Quantity increases contribute only the additional units,
// labeled with their final index and count.
func Delta(live []catalog.Product, visualized map[string]int) []catalog.Instance {
	var out []catalog.Instance
	for _, p := range live {
		already := visualized[p.ID]
		if p.Quantity <= already {
			continue
		}
		out = append(out, catalog.ExpandRange(p, already+1)...)
	}
	return out
}

// Removed returns visualized product IDs that are absent from live, sorted.
func Removed(live []catalog.Product, visualized map[string]int) []string {
	liveQty := catalog.Quantities(live)
	var out []string
	for id, vq := range visualized {
		if vq <= 0 {
			continue
		}
		if _, ok := liveQty[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func countPositive(m map[string]int) int {
	n := 0
	for _, v := range m {
		if v > 0 {
			n++
		}
	}
	return n
}
