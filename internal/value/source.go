package value

import (
	"encoding/binary"
	"math"
	"math/rand/v2"
)

// Source is a per-worker random byte stream. It is not safe for concurrent
// use; each worker owns one.
//
// A Source may carry a byte budget: once the budget is spent every further
// byte is zero, so a value filled from it has only its leading bytes
// randomized.
type Source struct {
	pcg    *rand.PCG
	budget int
	used   int
	word   uint64
	avail  int
}

// NewSource creates a source for the given seed and stream id.
func NewSource(seed, stream uint64) *Source {
	return &Source{pcg: rand.NewPCG(seed, stream), budget: -1}
}

// Reset reseeds the source and clears its byte budget counter. A budget of
// zero or less means unlimited.
func (s *Source) Reset(seed, stream uint64, maxBytes int) {
	s.pcg.Seed(seed, stream)
	s.used = 0
	s.avail = 0
	if maxBytes > 0 {
		s.budget = maxBytes
	} else {
		s.budget = -1
	}
}

// Read implements io.Reader. It never fails.
func (s *Source) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = s.byte()
	}
	return len(p), nil
}

func (s *Source) byte() byte {
	if s.budget >= 0 && s.used >= s.budget {
		return 0
	}
	s.used++
	if s.avail == 0 {
		s.word = s.pcg.Uint64()
		s.avail = 8
	}
	b := byte(s.word)
	s.word >>= 8
	s.avail--
	return b
}

func (s *Source) Uint8() uint8 {
	return s.byte()
}

func (s *Source) Uint16() uint16 {
	var b [2]byte
	_, _ = s.Read(b[:])
	return binary.LittleEndian.Uint16(b[:])
}

func (s *Source) Uint32() uint32 {
	var b [4]byte
	_, _ = s.Read(b[:])
	return binary.LittleEndian.Uint32(b[:])
}

func (s *Source) Uint64() uint64 {
	var b [8]byte
	_, _ = s.Read(b[:])
	return binary.LittleEndian.Uint64(b[:])
}

func (s *Source) Int32() int32 { return int32(s.Uint32()) }
func (s *Source) Int64() int64 { return int64(s.Uint64()) }
func (s *Source) Bool() bool   { return s.byte()&1 == 1 }

// Float32 reinterprets four random bytes, so NaN, Inf and subnormals occur.
func (s *Source) Float32() float32 {
	return math.Float32frombits(s.Uint32())
}

// Float64 reinterprets eight random bytes.
func (s *Source) Float64() float64 {
	return math.Float64frombits(s.Uint64())
}

// Used returns the number of random bytes produced since the last Reset.
func (s *Source) Used() int {
	return s.used
}

// Float32Range returns a finite value uniformly spread over [lo, hi) using
// 24 random bits.
func (s *Source) Float32Range(lo, hi float32) float32 {
	u := s.Uint32() >> 8
	return lo + (hi-lo)*float32(u)/(1<<24)
}
