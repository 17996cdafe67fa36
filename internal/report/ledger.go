package report

import (
	"sort"

	"github.com/23skdu/longbow-parity/internal/compare"
)

// Failure is one invocation's divergence in one round.
type Failure struct {
	Round      int
	Host       any
	Device     any
	Mismatches []compare.Mismatch
}

// Ledger accumulates failures by invocation index over a whole run. It has
// a single writer and must not be shared until the run finishes.
type Ledger struct {
	byIndex map[int][]Failure
	total   int
}

func NewLedger() *Ledger {
	return &Ledger{byIndex: make(map[int][]Failure)}
}

// Add records f for invocation index. Failures with no mismatches are
// ignored.
func (l *Ledger) Add(index int, f Failure) {
	if len(f.Mismatches) == 0 {
		return
	}
	l.byIndex[index] = append(l.byIndex[index], f)
	l.total++
}

// Len is the total number of recorded failures.
func (l *Ledger) Len() int { return l.total }

func (l *Ledger) Empty() bool { return l.total == 0 }

// Invocations returns the indices with at least one failure, ascending.
func (l *Ledger) Invocations() []int {
	out := make([]int, 0, len(l.byIndex))
	for idx := range l.byIndex {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// Failures returns the failures of one invocation in the order recorded.
func (l *Ledger) Failures(index int) []Failure {
	return l.byIndex[index]
}

// Each visits every failure, by ascending invocation index then insertion
// order.
func (l *Ledger) Each(fn func(index int, f Failure)) {
	for _, idx := range l.Invocations() {
		for _, f := range l.byIndex[idx] {
			fn(idx, f)
		}
	}
}
