package sim

import (
	"fmt"
	"math"

	"github.com/tokenlab/tokensim/sim/trace"
)

// Ecosystem steps several named economies in order, e.g. a primary token and
// a dependent token bought with it.
type Ecosystem struct {
	randomness
	economies  []*TokenEconomy
	shuffle    bool
	unitOfTime string
}

// NewEcosystem groups economies. Every economy needs a unique name; with
// shuffle the execution order is permuted every step.
func NewEcosystem(economies []*TokenEconomy, shuffle bool, unitOfTime string) (*Ecosystem, error) {
	if len(economies) == 0 {
		return nil, fmt.Errorf("%w: ecosystem has no economies", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(economies))
	for _, e := range economies {
		if e.Name() == "" {
			return nil, fmt.Errorf("%w: every economy in an ecosystem needs a name", ErrInvalidConfig)
		}
		if seen[e.Name()] {
			return nil, fmt.Errorf("%w: duplicate economy name %q", ErrInvalidConfig, e.Name())
		}
		seen[e.Name()] = true
	}
	return &Ecosystem{
		economies:  append([]*TokenEconomy(nil), economies...),
		shuffle:    shuffle,
		unitOfTime: defaultString(unitOfTime, "month"),
	}, nil
}

// Execute steps every economy once. It stops at the first economy that halts.
func (s *Ecosystem) Execute() (bool, error) {
	order := s.economies
	if s.shuffle {
		order = append([]*TokenEconomy(nil), s.economies...)
		s.stream().Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	for _, e := range order {
		ok, err := e.Execute()
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (s *Ecosystem) Reset() {
	for _, e := range s.economies {
		e.Reset()
	}
}

// Data joins the economies' tables side by side, suffixing every column with
// "_<name>". Shorter tables are padded with NaN.
func (s *Ecosystem) Data() *Table {
	rows := 0
	parts := make([]*Table, len(s.economies))
	for i, e := range s.economies {
		parts[i] = e.Data()
		rows = max(rows, parts[i].Len())
	}
	out := NewTable()
	out.Rows = make([][]float64, rows)
	for i, part := range parts {
		for _, col := range part.Columns {
			out.Columns = append(out.Columns, col+"_"+s.economies[i].Name())
		}
		for r := 0; r < rows; r++ {
			if r < part.Len() {
				out.Rows[r] = append(out.Rows[r], part.Rows[r]...)
				continue
			}
			for range part.Columns {
				out.Rows[r] = append(out.Rows[r], math.NaN())
			}
		}
	}
	return out
}

// Reseed gives each economy its own scope and the ecosystem a shuffle stream.
func (s *Ecosystem) Reseed(p *PartitionedRNG) {
	s.randomness.Reseed(p, SubsystemShuffle)
	for _, e := range s.economies {
		e.reseedUnder(p, e.Name()+"/")
	}
}

// Clone copies every economy through one Cloner so cross-economy links
// (dependent supply, channeled transactions) point into the copy.
func (s *Ecosystem) Clone() *Ecosystem {
	c := NewCloner()
	cp := &Ecosystem{shuffle: s.shuffle, unitOfTime: s.unitOfTime}
	for _, e := range s.economies {
		cp.economies = append(cp.economies, e.cloneWith(c))
	}
	c.Finish()
	return cp
}

func (s *Ecosystem) Snapshot() Simulation { return s.Clone() }

func (s *Ecosystem) UnitOfTime() string { return s.unitOfTime }

// Economy returns the member named name, or nil.
func (s *Ecosystem) Economy(name string) *TokenEconomy {
	for _, e := range s.economies {
		if e.Name() == name {
			return e
		}
	}
	return nil
}

// SetTrace shares st across every economy.
func (s *Ecosystem) SetTrace(st *trace.SimulationTrace) {
	for _, e := range s.economies {
		e.SetTrace(st)
	}
}
