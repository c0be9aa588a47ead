package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"
)

const samplePeriod = 500 * time.Millisecond

// Logger interface for metrics logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Snapshot is a point-in-time view of the Go runtime
type Snapshot struct {
	Goroutines  int     `json:"goroutines"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	HeapSysMB   float64 `json:"heap_sys_mb"`
	NumGC       uint32  `json:"num_gc"`
}

// CaptureSnapshot reads current runtime stats
func CaptureSnapshot() Snapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Snapshot{
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(m.HeapAlloc) / 1024 / 1024,
		HeapSysMB:   float64(m.HeapSys) / 1024 / 1024,
		NumGC:       m.NumGC,
	}
}

// Fields returns the snapshot as alternating key/value pairs for slog
func (s Snapshot) Fields() []interface{} {
	return []interface{}{
		"goroutines", s.Goroutines,
		"heap_alloc_mb", s.HeapAllocMB,
		"heap_sys_mb", s.HeapSysMB,
		"num_gc", s.NumGC,
	}
}

// LogEvery emits a runtime snapshot at each interval until the context
// is cancelled. Meant to run as a goroutine in long-lived workers.
func LogEvery(ctx context.Context, log Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Info("runtime snapshot", CaptureSnapshot().Fields()...)
		}
	}
}

// RuntimeMetrics tracks memory and goroutine usage across one workflow
// execution. A background sampler records the peak while the execution
// runs so long graphs report more than their start and end points.
type RuntimeMetrics struct {
	MemoryStartMB  float64
	MemoryPeakMB   float64
	MemoryEndMB    float64
	GoroutineStart int
	GoroutinePeak  int
	GoroutineEnd   int

	mu       sync.Mutex
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// StartCapture reads the starting stats and begins peak sampling.
// Callers must Finalize to stop the sampler.
func StartCapture() *RuntimeMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	rm := &RuntimeMetrics{
		MemoryStartMB:  float64(m.Alloc) / 1024 / 1024,
		MemoryPeakMB:   float64(m.Alloc) / 1024 / 1024,
		GoroutineStart: runtime.NumGoroutine(),
		GoroutinePeak:  runtime.NumGoroutine(),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	go rm.sampleLoop()
	return rm
}

func (rm *RuntimeMetrics) sampleLoop() {
	defer close(rm.done)
	ticker := time.NewTicker(samplePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-rm.stop:
			return
		case <-ticker.C:
			rm.sample()
		}
	}
}

func (rm *RuntimeMetrics) sample() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	allocMB := float64(m.Alloc) / 1024 / 1024
	goroutines := runtime.NumGoroutine()

	rm.mu.Lock()
	if allocMB > rm.MemoryPeakMB {
		rm.MemoryPeakMB = allocMB
	}
	if goroutines > rm.GoroutinePeak {
		rm.GoroutinePeak = goroutines
	}
	rm.mu.Unlock()
}

// Finalize stops the sampler and records the end stats. Idempotent, so
// error paths can finalize without tracking whether the happy path
// already did.
func (rm *RuntimeMetrics) Finalize() {
	rm.stopOnce.Do(func() { close(rm.stop) })
	<-rm.done
	rm.sample()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	rm.mu.Lock()
	rm.MemoryEndMB = float64(m.Alloc) / 1024 / 1024
	rm.GoroutineEnd = runtime.NumGoroutine()
	rm.mu.Unlock()
}

// Fields returns the capture as alternating key/value pairs for slog
func (rm *RuntimeMetrics) Fields() []interface{} {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return []interface{}{
		"memory_start_mb", rm.MemoryStartMB,
		"memory_peak_mb", rm.MemoryPeakMB,
		"memory_end_mb", rm.MemoryEndMB,
		"goroutine_start", rm.GoroutineStart,
		"goroutine_peak", rm.GoroutinePeak,
		"goroutine_end", rm.GoroutineEnd,
	}
}
