package selector

import (
	"math"
	"math/rand"
	"sort"
)

// RandomWeightedSelector picks items at random with probability proportional to their weight.
// Items must all be added before Next is called concurrently.
type RandomWeightedSelector[T any] struct {
	items      []T
	cumulative []float64
	total      float64
	random     *rand.Rand
}

// NewRandomWeightedSelector creates an empty selector drawing from random, which must be safe for
// concurrent use if Next is called from several goroutines.
func NewRandomWeightedSelector[T any](random *rand.Rand) *RandomWeightedSelector[T] {
	return &RandomWeightedSelector[T]{random: random}
}

// Add registers item with weight. Items with a weight <= 0 are never selected and are dropped.
func (s *RandomWeightedSelector[T]) Add(weight float64, item T) {
	if !(weight > 0) || math.IsInf(weight, 1) {
		return
	}
	s.total += weight
	s.items = append(s.items, item)
	s.cumulative = append(s.cumulative, s.total)
}

// Next returns a random item, or false if no item with a positive weight was added.
func (s *RandomWeightedSelector[T]) Next() (T, bool) {
	var zero T
	if len(s.items) == 0 {
		return zero, false
	}
	u := s.random.Float64() * s.total
	i := sort.Search(len(s.cumulative), func(i int) bool { return s.cumulative[i] > u })
	if i == len(s.items) {
		i--
	}
	return s.items[i], true
}

// Size is the number of selectable items.
func (s *RandomWeightedSelector[T]) Size() int {
	return len(s.items)
}

func (s *RandomWeightedSelector[T]) TotalWeight() float64 {
	return s.total
}
