// Package report aggregates a failure ledger into a ranked summary and
// renders it for people and tools. It makes no pass/fail judgement.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/23skdu/longbow-parity/internal/compare"
)

// DefaultMaxExamples bounds the example pairs shown per field group.
const DefaultMaxExamples = 10

type Options struct {
	MaxExamples int
}

// Example is one (host, device) pair for a field.
type Example struct {
	Round int `cbor:"round"`
	Left  any `cbor:"left"`
	Right any `cbor:"right"`
}

// Group aggregates the mismatches of one field path within an invocation.
type Group struct {
	Path  string `cbor:"path"`
	Count int    `cbor:"count"`
	// Percent is Count relative to the invocation's failures.
	Percent     float64   `cbor:"percent"`
	Examples    []Example `cbor:"examples"`
	More        int       `cbor:"more"`
	MaxAbsDelta float64   `cbor:"max_abs_delta"`
}

// Invocation aggregates the failures of one invocation index.
type Invocation struct {
	Index    int `cbor:"index"`
	Failures int `cbor:"failures"`
	// Percent is Failures relative to the total rounds run.
	Percent float64 `cbor:"percent"`
	Groups  []Group `cbor:"groups"`
}

type Summary struct {
	TotalRounds int          `cbor:"total_rounds"`
	Failures    int          `cbor:"failures"`
	Invocations []Invocation `cbor:"invocations"`
}

// Build ranks invocations by descending failure count and, within each,
// field groups by descending occurrence. Ties break on index and path so
// the output is deterministic.
func Build(l *Ledger, totalRounds int, opts Options) Summary {
	if opts.MaxExamples <= 0 {
		opts.MaxExamples = DefaultMaxExamples
	}
	s := Summary{TotalRounds: totalRounds, Failures: l.Len()}

	for _, idx := range l.Invocations() {
		failures := l.Failures(idx)
		inv := Invocation{
			Index:    idx,
			Failures: len(failures),
			Percent:  percent(len(failures), totalRounds),
		}

		groups := make(map[string]*Group)
		mismatches := make(map[string][]compare.Mismatch)
		for _, f := range failures {
			for _, m := range f.Mismatches {
				g, ok := groups[m.Path]
				if !ok {
					g = &Group{Path: m.Path}
					groups[m.Path] = g
				}
				g.Count++
				if len(g.Examples) < opts.MaxExamples {
					g.Examples = append(g.Examples, Example{Round: f.Round, Left: m.Left, Right: m.Right})
				} else {
					g.More++
				}
				mismatches[m.Path] = append(mismatches[m.Path], m)
			}
		}

		for path, g := range groups {
			g.Percent = percent(g.Count, inv.Failures)
			g.MaxAbsDelta = compare.MaxAbsDelta(mismatches[path])
			inv.Groups = append(inv.Groups, *g)
		}
		sort.Slice(inv.Groups, func(i, j int) bool {
			a, b := inv.Groups[i], inv.Groups[j]
			if a.Count != b.Count {
				return a.Count > b.Count
			}
			return a.Path < b.Path
		})
		s.Invocations = append(s.Invocations, inv)
	}

	sort.SliceStable(s.Invocations, func(i, j int) bool {
		a, b := s.Invocations[i], s.Invocations[j]
		if a.Failures != b.Failures {
			return a.Failures > b.Failures
		}
		return a.Index < b.Index
	})
	return s
}

func percent(n, of int) float64 {
	if of <= 0 {
		return 0
	}
	return 100 * float64(n) / float64(of)
}

// Render writes the human-readable report.
func Render(w io.Writer, s Summary) error {
	p := message.NewPrinter(language.English)

	if _, err := p.Fprintf(w, "%d failures across %d invocations in %d rounds\n",
		s.Failures, len(s.Invocations), s.TotalRounds); err != nil {
		return err
	}
	for _, inv := range s.Invocations {
		if _, err := p.Fprintf(w, "\ninvocation %d: %d failures (%.1f%% of rounds)\n",
			inv.Index, inv.Failures, inv.Percent); err != nil {
			return err
		}
		for _, g := range inv.Groups {
			path := g.Path
			if path == "" {
				path = "<value>"
			}
			line := p.Sprintf("  %s: %d occurrences (%.1f%% of failures)", path, g.Count, g.Percent)
			if g.MaxAbsDelta > 0 {
				line += p.Sprintf(", max |delta| %g", g.MaxAbsDelta)
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
			for _, ex := range g.Examples {
				if _, err := fmt.Fprintf(w, "    round %d: host %v, device %v\n", ex.Round, ex.Left, ex.Right); err != nil {
					return err
				}
			}
			if g.More > 0 {
				if _, err := p.Fprintf(w, "    +%d more\n", g.More); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Report renders the ledger with default options.
func Report(l *Ledger, totalRounds int) string {
	var sb strings.Builder
	_ = Render(&sb, Build(l, totalRounds, Options{}))
	return sb.String()
}

// EncodeCBOR writes s in CBOR for downstream tooling.
func EncodeCBOR(w io.Writer, s Summary) error {
	return cbor.NewEncoder(w).Encode(s)
}

// DecodeCBOR reads a summary written by EncodeCBOR. Example values decode
// as the generic CBOR types.
func DecodeCBOR(r io.Reader) (Summary, error) {
	var s Summary
	err := cbor.NewDecoder(r).Decode(&s)
	return s, err
}
