//go:build benchmark

// Package benchmarks exercises the frame cache under realistic interactive
// load shapes. Run with: go test -tags benchmark -bench . ./test/benchmarks/
package benchmarks

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/ckhsu1225/vvmviz/internal/cache"
	"github.com/ckhsu1225/vvmviz/internal/frame"
	"github.com/ckhsu1225/vvmviz/internal/grid"
	"github.com/ckhsu1225/vvmviz/pkg/utils"
)

// A typical dashboard frame: one 128x128 plan view.
const benchFrameSide = 128

func benchManager(b *testing.B, entries int, prefetch bool) *cache.Manager {
	b.Helper()
	log := utils.NewLogger(utils.ERROR, io.Discard)
	m := cache.New(&cache.Config{MaxEntries: entries, Prefetch: prefetch}, log)
	b.Cleanup(m.Close)
	return m
}

func benchBundle(b *testing.B, name string) *frame.Bundle {
	b.Helper()
	values := make([]float64, benchFrameSide*benchFrameSide)
	for i := range values {
		values[i] = float64(i%97) * 0.5
	}
	g, err := grid.New(name, []string{"yc", "xc"}, []int{benchFrameSide, benchFrameSide}, values)
	if err != nil {
		b.Fatal(err)
	}
	return &frame.Bundle{Main: g, Var: name}
}

func benchKey(i int) frame.Key {
	return frame.Key{Var: "th", Time: frame.TimeRange{Start: i, End: i}}
}

func BenchmarkCachePut(b *testing.B) {
	m := benchManager(b, 200, false)
	bundle := benchBundle(b, "th")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// Distinct keys so eviction churn is part of the measurement.
		m.Put(benchKey(i), bundle)
	}
}

func BenchmarkCacheGetHit(b *testing.B) {
	const entries = 200
	m := benchManager(b, entries, false)
	bundle := benchBundle(b, "th")
	for i := 0; i < entries; i++ {
		m.Put(benchKey(i), bundle)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok := m.Get(benchKey(i % entries)); !ok {
			b.Fatal("expected hit")
		}
	}
}

func BenchmarkCacheGetMiss(b *testing.B) {
	m := benchManager(b, 200, false)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok := m.Get(benchKey(i)); ok {
			b.Fatal("expected miss")
		}
	}
}

// BenchmarkCacheInteractive models scrubbing through time steps: mostly
// reads over a working set, with the occasional new frame stored.
func BenchmarkCacheInteractive(b *testing.B) {
	const working = 64
	m := benchManager(b, 200, false)
	bundle := benchBundle(b, "th")
	for i := 0; i < working; i++ {
		m.Put(benchKey(i), bundle)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if i%10 == 0 {
				m.Put(benchKey(working+i), bundle)
			} else {
				m.Get(benchKey(i % working))
			}
			i++
		}
	})
}

func BenchmarkCacheStats(b *testing.B) {
	m := benchManager(b, 200, false)
	bundle := benchBundle(b, "th")
	for i := 0; i < 100; i++ {
		m.Put(benchKey(i), bundle)
		m.Get(benchKey(i))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.Stats()
	}
}

// BenchmarkPrefetchRoundTrip measures scheduling a background load and
// waiting for it to land, with an instant loader so the queue dominates.
func BenchmarkPrefetchRoundTrip(b *testing.B) {
	m := benchManager(b, 200, true)
	bundle := benchBundle(b, "th")
	load := func(ctx context.Context, req frame.Request) (*frame.Bundle, error) {
		return bundle, nil
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := frame.Request{Var: fmt.Sprintf("v%d", i), Time: frame.TimeRange{Start: i, End: i}}
		handle := m.PrefetchAsync(req, load)
		if handle == nil {
			b.Fatal("prefetch not scheduled")
		}
		<-handle.Done()
	}
}
