package agent

import (
	"errors"
	"math/rand"
	"sort"
)

var ErrEmptyPopulation = errors.New("no traders in population")

// Population is the pool of automated traders the driver picks from.
type Population struct {
	traders []*Trader
	rng     *rand.Rand
}

func NewPopulation(rng *rand.Rand) *Population {
	return &Population{rng: rng}
}

func (p *Population) Add(t *Trader) {
	p.traders = append(p.traders, t)
}

func (p *Population) Len() int {
	return len(p.traders)
}

// Count returns how many traders of kind k are in the pool.
func (p *Population) Count(k Kind) int {
	n := 0
	for _, t := range p.traders {
		if t.Kind() == k {
			n++
		}
	}
	return n
}

// Random picks a trader uniformly.
func (p *Population) Random() (*Trader, error) {
	if len(p.traders) == 0 {
		return nil, ErrEmptyPopulation
	}
	return p.traders[p.rng.Intn(len(p.traders))], nil
}

func (p *Population) ApplyInterest(rate, dividend float64) {
	for _, t := range p.traders {
		t.ApplyInterest(rate, dividend)
	}
}

// Traders returns the pool sorted by id.
func (p *Population) Traders() []*Trader {
	out := make([]*Trader, len(p.traders))
	copy(out, p.traders)
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
