package viewer

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// MaxConsecutiveErrors before the recorder gives up and reports failure
	MaxConsecutiveErrors = 10
	// SlowFrameLogInterval is the minimum time between slow-frame warnings
	SlowFrameLogInterval = 5 * time.Second
	// LatestFrameName is rewritten with every recorded frame
	LatestFrameName = "latest.png"
)

// RecorderConfig controls frame output
type RecorderConfig struct {
	Dir  string // Output directory, created if missing
	Size int    // Frame width and height in pixels
	FPS  int    // Frames per second to attempt
	Keep int    // Numbered frames kept on disk; older slots are overwritten. 0 keeps only latest.png
}

// DefaultRecorderConfig returns the default recorder configuration
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		Dir:  "frames",
		Size: 720,
		FPS:  5,
		Keep: 100,
	}
}

// Recorder periodically renders the latest snapshot to disk.
// Frames are only written when the world tick has advanced.
type Recorder struct {
	source SnapshotSource
	cfg    RecorderConfig

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  int32 // atomic

	// Stats
	framesWritten  uint64 // atomic
	framesSkipped  uint64 // atomic
	writeErrors    uint64 // atomic
	avgRenderNs    int64  // atomic
	lastTick       atomic.Uint64
	lastSlowFrame  time.Time
	consecutiveErr int32 // atomic
	failed         int32 // atomic

	mu       sync.RWMutex
	onFailed func(error)
}

// NewRecorder creates a recorder for a snapshot source
func NewRecorder(source SnapshotSource, cfg RecorderConfig) *Recorder {
	def := DefaultRecorderConfig()
	if cfg.Dir == "" {
		cfg.Dir = def.Dir
	}
	if cfg.Size <= 0 {
		cfg.Size = def.Size
	}
	if cfg.FPS <= 0 {
		cfg.FPS = def.FPS
	}
	if cfg.Keep < 0 {
		cfg.Keep = 0
	}
	return &Recorder{source: source, cfg: cfg}
}

// SetOnFailed sets a callback run once after MaxConsecutiveErrors write failures
func (r *Recorder) SetOnFailed(fn func(error)) {
	r.mu.Lock()
	r.onFailed = fn
	r.mu.Unlock()
}

// Start creates the output directory and begins recording
func (r *Recorder) Start() error {
	if !atomic.CompareAndSwapInt32(&r.running, 0, 1) {
		return nil // Already running
	}
	if err := os.MkdirAll(r.cfg.Dir, 0o755); err != nil {
		atomic.StoreInt32(&r.running, 0)
		return fmt.Errorf("create frame dir: %w", err)
	}

	atomic.StoreInt32(&r.failed, 0)
	atomic.StoreInt32(&r.consecutiveErr, 0)
	r.stopChan = make(chan struct{})
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		interval := time.Second / time.Duration(r.cfg.FPS)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		log.Printf("🎞️ Recorder started: %dpx @ %d FPS into %s", r.cfg.Size, r.cfg.FPS, r.cfg.Dir)

		for {
			select {
			case <-r.stopChan:
				return
			case <-ticker.C:
				if atomic.LoadInt32(&r.failed) == 1 {
					continue
				}
				r.recordOnce(interval)
			}
		}
	}()
	return nil
}

// Stop stops recording and waits for the current frame to finish
func (r *Recorder) Stop() {
	if !atomic.CompareAndSwapInt32(&r.running, 1, 0) {
		return // Not running
	}
	close(r.stopChan)
	r.wg.Wait()
	log.Println("🎞️ Recorder stopped")
}

// RecordNow renders the current snapshot immediately if its tick is new.
// Returns false when there was nothing new to record.
func (r *Recorder) RecordNow() (bool, error) {
	snap := r.source.GetSnapshot()
	if snap == nil || (snap.TickNumber == r.lastTick.Load() && r.framesWrittenCount() > 0) {
		atomic.AddUint64(&r.framesSkipped, 1)
		return false, nil
	}

	start := time.Now()
	var buf bytes.Buffer
	if err := RenderFrame(&buf, snap, r.cfg.Size); err != nil {
		return false, fmt.Errorf("render frame: %w", err)
	}
	elapsed := time.Since(start)
	avg := atomic.LoadInt64(&r.avgRenderNs)
	atomic.StoreInt64(&r.avgRenderNs, (avg*9+elapsed.Nanoseconds())/10)

	n := r.framesWrittenCount()
	if r.cfg.Keep > 0 {
		name := fmt.Sprintf("frame_%04d.png", n%uint64(r.cfg.Keep))
		if err := writeFileAtomic(filepath.Join(r.cfg.Dir, name), buf.Bytes()); err != nil {
			return false, err
		}
	}
	if err := writeFileAtomic(filepath.Join(r.cfg.Dir, LatestFrameName), buf.Bytes()); err != nil {
		return false, err
	}

	r.lastTick.Store(snap.TickNumber)
	atomic.AddUint64(&r.framesWritten, 1)
	return true, nil
}

func (r *Recorder) recordOnce(interval time.Duration) {
	start := time.Now()
	_, err := r.RecordNow()
	if err != nil {
		atomic.AddUint64(&r.writeErrors, 1)
		n := atomic.AddInt32(&r.consecutiveErr, 1)
		if n <= 5 {
			log.Printf("❌ Recorder error (%d/%d): %v", n, MaxConsecutiveErrors, err)
		}
		if n >= MaxConsecutiveErrors && atomic.CompareAndSwapInt32(&r.failed, 0, 1) {
			log.Printf("🔴 Recorder stopped writing after %d consecutive errors", n)
			r.mu.RLock()
			fn := r.onFailed
			r.mu.RUnlock()
			if fn != nil {
				go fn(err)
			}
		}
		return
	}
	atomic.StoreInt32(&r.consecutiveErr, 0)

	if took := time.Since(start); took > interval && time.Since(r.lastSlowFrame) > SlowFrameLogInterval {
		r.lastSlowFrame = time.Now()
		log.Printf("⚠️ Frame took %.0fms (target: %.0fms), lower VIEWER_FPS or VIEWER_SIZE",
			took.Seconds()*1000, interval.Seconds()*1000)
	}
}

func (r *Recorder) framesWrittenCount() uint64 {
	return atomic.LoadUint64(&r.framesWritten)
}

// GetStats returns recorder statistics
func (r *Recorder) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"framesWritten": atomic.LoadUint64(&r.framesWritten),
		"framesSkipped": atomic.LoadUint64(&r.framesSkipped),
		"writeErrors":   atomic.LoadUint64(&r.writeErrors),
		"avgRenderMs":   float64(atomic.LoadInt64(&r.avgRenderNs)) / 1e6,
		"failed":        atomic.LoadInt32(&r.failed) == 1,
		"running":       atomic.LoadInt32(&r.running) == 1,
	}
}

// writeFileAtomic replaces path so readers never see a partial PNG
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish frame: %w", err)
	}
	return nil
}
