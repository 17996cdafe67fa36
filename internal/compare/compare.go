// Package compare walks two instances of the same structured value type
// field by field and reports the leaves that differ beyond a tolerance.
package compare

import (
	"math"
	"reflect"
	"strconv"

	"gonum.org/v1/gonum/floats"

	"github.com/23skdu/longbow-parity/internal/cache"
	"github.com/23skdu/longbow-parity/internal/value"
)

// DefaultTolerance is the largest absolute difference at which two
// floating-point leaves still compare equal.
const DefaultTolerance = 0.001

// Mismatch is one leaf-level divergence.
type Mismatch struct {
	Path  string
	Left  any
	Right any
}

// SchemaCache memoizes the field decomposition of each concrete type.
type SchemaCache = cache.Cache[reflect.Type, value.Schema]

var defaultSchemas = cache.NewMapCache[reflect.Type, value.Schema]("schema")

// Comparator is safe for concurrent use.
type Comparator struct {
	tolerance float64
	schemas   SchemaCache
}

type Option func(*Comparator)

func WithTolerance(tol float64) Option {
	return func(c *Comparator) { c.tolerance = tol }
}

// WithCache replaces the process-wide schema cache.
func WithCache(sc SchemaCache) Option {
	return func(c *Comparator) { c.schemas = sc }
}

func New(opts ...Option) *Comparator {
	c := &Comparator{
		tolerance: DefaultTolerance,
		schemas:   defaultSchemas,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tolerance returns the configured float tolerance.
func (c *Comparator) Tolerance() float64 {
	return c.tolerance
}

type frame struct {
	path  string
	left  any
	right any
}

// Compare returns every leaf where a and b diverge. The result is empty iff
// the values are equivalent under the tolerance. Order follows the LIFO
// traversal and is stable for a given pair of inputs.
func (c *Comparator) Compare(a, b any) []Mismatch {
	var out []Mismatch
	stack := []frame{{left: a, right: b}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if equal(f.left, f.right) {
			continue
		}

		if s, ok := f.left.(value.Struct); ok {
			for _, field := range c.schema(s) {
				l, r := field.Get(f.left), field.Get(f.right)
				if equal(l, r) {
					continue
				}
				stack = append(stack, frame{path: join(f.path, field.Name), left: l, right: r})
			}
			continue
		}

		// Arrays of the same type decompose into indexed elements.
		if t := reflect.TypeOf(f.left); t != nil && t.Kind() == reflect.Array && t == reflect.TypeOf(f.right) {
			lv, rv := reflect.ValueOf(f.left), reflect.ValueOf(f.right)
			for i := 0; i < lv.Len(); i++ {
				l, r := lv.Index(i).Interface(), rv.Index(i).Interface()
				if equal(l, r) {
					continue
				}
				stack = append(stack, frame{path: join(f.path, strconv.Itoa(i)), left: l, right: r})
			}
			continue
		}

		if c.leafEqual(f.left, f.right) {
			continue
		}
		out = append(out, Mismatch{Path: f.path, Left: f.left, Right: f.right})
	}
	return out
}

// Diff is the typed entry point; T must be comparable so the fast equality
// path is always valid at the root.
func Diff[T comparable](c *Comparator, a, b T) []Mismatch {
	if a == b {
		return nil
	}
	return c.Compare(a, b)
}

func (c *Comparator) schema(s value.Struct) value.Schema {
	return c.schemas.GetOrCompute(reflect.TypeOf(s), s.Schema)
}

func (c *Comparator) leafEqual(a, b any) bool {
	fa, okA := value.AsFloat64(a)
	fb, okB := value.AsFloat64(b)
	if !okA || !okB {
		return false
	}
	return math.Abs(fa-fb) <= c.tolerance
}

// equal is value equality for comparable dynamic types; anything else is
// treated as unequal and decomposed or reported.
func equal(a, b any) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta != nil && !ta.Comparable() {
		return false
	}
	return a == b
}

func join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

// MaxAbsDelta returns the largest absolute difference across float leaves,
// or 0 when none of the mismatches is a float pair. NaN pairs are skipped.
func MaxAbsDelta(ms []Mismatch) float64 {
	deltas := make([]float64, 0, len(ms))
	for _, m := range ms {
		if d, ok := AbsDelta(m); ok {
			deltas = append(deltas, d)
		}
	}
	if len(deltas) == 0 {
		return 0
	}
	return floats.Max(deltas)
}

// AbsDelta returns |Left-Right| for a float mismatch. ok is false for
// non-float leaves and NaN results.
func AbsDelta(m Mismatch) (float64, bool) {
	l, okL := value.AsFloat64(m.Left)
	r, okR := value.AsFloat64(m.Right)
	if !okL || !okR {
		return 0, false
	}
	d := math.Abs(l - r)
	if math.IsNaN(d) {
		return 0, false
	}
	return d, true
}
