package sim

import (
	"math"
	"sync"
)

// PricePoint is the price recorded for one round. Price is only meaningful
// when Defined; a round with an empty book side records no price.
type PricePoint struct {
	Round   int     `json:"round"`
	Price   float64 `json:"price"`
	Defined bool    `json:"defined"`
}

// History is the per-round price series of a run, oldest first. It is safe
// for concurrent readers while the driver appends.
type History struct {
	mu     sync.RWMutex
	points []PricePoint
}

func (h *History) append(round int, price float64, defined bool) PricePoint {
	if !defined {
		price = 0
	}
	p := PricePoint{Round: round, Price: price, Defined: defined}
	h.mu.Lock()
	h.points = append(h.points, p)
	h.mu.Unlock()
	return p
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.points)
}

// Last returns the last n prices, fewer when the history is shorter.
// Undefined prices read as NaN.
func (h *History) Last(n int) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n > len(h.points) {
		n = len(h.points)
	}
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	for i, p := range h.points[len(h.points)-n:] {
		if p.Defined {
			out[i] = p.Price
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// Latest returns the most recent point.
func (h *History) Latest() (PricePoint, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.points) == 0 {
		return PricePoint{}, false
	}
	return h.points[len(h.points)-1], true
}

// Points returns a copy of the series starting at round from.
func (h *History) Points(from int) []PricePoint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if from < 0 {
		from = 0
	}
	if from >= len(h.points) {
		return []PricePoint{}
	}
	out := make([]PricePoint, len(h.points)-from)
	copy(out, h.points[from:])
	return out
}
