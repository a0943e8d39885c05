package wrapped

import "sort"

// sportCounter is a frequency counter that remembers first-seen order.
type sportCounter struct {
	order  []string
	counts map[string]int64
}

func newSportCounter() *sportCounter {
	return &sportCounter{counts: make(map[string]int64)}
}

func (c *sportCounter) add(sport string) {
	if _, ok := c.counts[sport]; !ok {
		c.order = append(c.order, sport)
	}
	c.counts[sport]++
}

// entries returns the counter in first-seen order.
func (c *sportCounter) entries() []SportCount {
	out := make([]SportCount, 0, len(c.order))
	for _, sport := range c.order {
		out = append(out, SportCount{Sport: ptr(sport), Count: c.counts[sport]})
	}
	return out
}

// Dominant returns the sport with the highest count. Ties go to the sport seen first.
// It returns nil for an empty breakdown.
func Dominant(breakdown []SportCount) *string {
	var best *SportCount
	for i := range breakdown {
		if best == nil || breakdown[i].Count > best.Count {
			best = &breakdown[i]
		}
	}
	if best == nil || best.Sport == nil {
		return nil
	}
	return ptr(*best.Sport)
}

// BuildPodium ranks a first-seen ordered breakdown by descending count and returns
// the top three. Equal counts keep first-seen order and unfilled slots are {nil, 0}.
func BuildPodium(breakdown []SportCount) [PodiumSlots]SportCount {
	ranked := make([]SportCount, len(breakdown))
	copy(ranked, breakdown)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})

	var podium [PodiumSlots]SportCount
	for i := 0; i < PodiumSlots && i < len(ranked); i++ {
		podium[i] = ranked[i]
	}
	return podium
}

func ptr[T any](v T) *T {
	return &v
}
