// Package domain holds the sliding-window bloom filter behind decision
// event deduplication.
package domain

import (
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

// SlidingFilter keeps two bloom filter generations. Keys are added to the
// current generation and looked up in both, so rotating every window/2
// keeps each key visible for between half a window and a full window.
type SlidingFilter struct {
	mu          sync.Mutex
	current     *bloom.BloomFilter
	previous    *bloom.BloomFilter
	window      time.Duration
	capacity    uint
	fpRate      float64
	generations uint64
}

// NewSlidingFilter sizes each generation for capacity keys at fpRate.
func NewSlidingFilter(window time.Duration, capacity uint, fpRate float64) *SlidingFilter {
	return &SlidingFilter{
		current:  bloom.NewWithEstimates(capacity, fpRate),
		previous: bloom.NewWithEstimates(capacity, fpRate),
		window:   window,
		capacity: capacity,
		fpRate:   fpRate,
	}
}

// TestAndAdd reports whether key was already present and records it.
func (f *SlidingFilter) TestAndAdd(key []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.previous.Test(key) {
		return true
	}
	return f.current.TestAndAdd(key)
}

// Rotate drops the previous generation and starts a fresh current one.
func (f *SlidingFilter) Rotate() {
	f.mu.Lock()
	f.previous = f.current
	f.current = bloom.NewWithEstimates(f.capacity, f.fpRate)
	f.generations++
	f.mu.Unlock()
}

// Generations returns how many times the filter has rotated.
func (f *SlidingFilter) Generations() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generations
}

// Window returns the configured dedup window.
func (f *SlidingFilter) Window() time.Duration {
	return f.window
}
