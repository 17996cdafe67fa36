package value

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"sync"
)

// Randomizer is implemented by *T for types that fill themselves from a
// random source. The fill must read leaf fields in layout order so that a
// byte budget truncates the value from the tail.
type Randomizer interface {
	Randomize(src *Source)
}

// Generate produces one random T. Types implementing Randomizer fill
// themselves; every other fixed-size type is filled byte by byte through its
// binary layout. No semantic validation is performed.
func Generate[T any](src *Source) T {
	var v T
	if r, ok := any(&v).(Randomizer); ok {
		r.Randomize(src)
		return v
	}
	if err := binary.Read(src, binary.LittleEndian, &v); err != nil {
		panic(fmt.Sprintf("value: cannot randomize %T: %v", v, err))
	}
	return v
}

// Stream derives the per-invocation stream id for a round. Values depend
// only on (seed, round, index), never on how work is split across workers.
func Stream(round, index int) uint64 {
	return uint64(round)<<32 | uint64(uint32(index))
}

// Fill overwrites every slot of buf with a fresh random value. Work is split
// across a bounded pool; each worker owns one Source. maxBytes <= 0 means
// the whole value is randomized.
func Fill[T any](buf []T, seed uint64, round, workers, maxBytes int) {
	if len(buf) == 0 {
		return
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(buf) {
		workers = len(buf)
	}

	var wg sync.WaitGroup
	chunkSize := (len(buf) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * chunkSize
		if start >= len(buf) {
			break
		}
		end := start + chunkSize
		if end > len(buf) {
			end = len(buf)
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			src := NewSource(seed, 0)
			for i := s; i < e; i++ {
				src.Reset(seed, Stream(round, i), maxBytes)
				buf[i] = Generate[T](src)
			}
		}(start, end)
	}
	wg.Wait()
}
