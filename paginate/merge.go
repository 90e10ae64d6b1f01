package paginate

import (
	"math"
	"sort"

	"github.com/convex-community/convex-go/values"
)

// GetID extracts the identity of an item for merge keying.
type GetID func(values.Value) string

// GetSortKey extracts the sort key the subscription orders by.
type GetSortKey func(values.Value) float64

// MergeWithSubscription overlays the subscription's current snapshot onto
// the loaded pages. Subscription data wins on identity conflicts.
//
// With a sort key, the subscription is taken to cover the window from its
// minimum observed key upward: a loaded item inside that window but absent
// from the snapshot has been deleted, while items below it are older
// history the feed does not report on. The merged view is re-sorted and
// page boundaries collapse, since paged positions no longer apply.
//
// Without a sort key there is no way to bound the window, so the snapshot
// is authoritative for everything: absent loaded items are dropped, new
// items append at the end, and boundaries shift with the removals.
func (p *Paginator) MergeWithSubscription(subItems []values.Value, getID GetID, getSortKey GetSortKey) []values.Value {
	subByID := make(map[string]values.Value, len(subItems))
	consumed := make(map[string]bool, len(subItems))
	for _, item := range subItems {
		subByID[getID(item)] = item
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Merges++

	if getSortKey != nil {
		p.mergeSortedLocked(subItems, subByID, consumed, getID, getSortKey)
	} else {
		p.mergeUnsortedLocked(subItems, subByID, consumed, getID)
	}

	out := make([]values.Value, len(p.items))
	copy(out, p.items)
	return out
}

func (p *Paginator) mergeSortedLocked(subItems []values.Value, subByID map[string]values.Value, consumed map[string]bool, getID GetID, getSortKey GetSortKey) {
	minKey := math.Inf(1)
	for _, item := range subItems {
		if k := getSortKey(item); k < minKey {
			minKey = k
		}
	}

	merged := make([]values.Value, 0, len(p.items)+len(subItems))
	for _, item := range p.items {
		id := getID(item)
		if sub, ok := subByID[id]; ok {
			merged = append(merged, sub)
			consumed[id] = true
			continue
		}
		// Inside the covered window but not in the snapshot: deleted.
		if getSortKey(item) >= minKey {
			continue
		}
		merged = append(merged, item)
	}
	for _, item := range subItems {
		if !consumed[getID(item)] {
			merged = append(merged, item)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return getSortKey(merged[i]) < getSortKey(merged[j])
	})

	p.items = merged
	p.boundaries = []int{0}
}

func (p *Paginator) mergeUnsortedLocked(subItems []values.Value, subByID map[string]values.Value, consumed map[string]bool, getID GetID) {
	merged := make([]values.Value, 0, len(p.items)+len(subItems))
	kept := make([]bool, len(p.items))
	for i, item := range p.items {
		id := getID(item)
		sub, ok := subByID[id]
		if !ok {
			continue
		}
		merged = append(merged, sub)
		consumed[id] = true
		kept[i] = true
	}
	for _, item := range subItems {
		if !consumed[getID(item)] {
			merged = append(merged, item)
		}
	}

	// Boundaries shift down by the number of removals before them.
	boundaries := make([]int, 0, len(p.boundaries))
	keptBefore := make([]int, len(p.items)+1)
	for i, k := range kept {
		keptBefore[i+1] = keptBefore[i]
		if k {
			keptBefore[i+1]++
		}
	}
	for _, b := range p.boundaries {
		nb := keptBefore[b]
		if len(boundaries) == 0 || boundaries[len(boundaries)-1] != nb {
			boundaries = append(boundaries, nb)
		}
	}
	if len(boundaries) == 0 {
		boundaries = []int{0}
	}

	p.items = merged
	p.boundaries = boundaries
}
