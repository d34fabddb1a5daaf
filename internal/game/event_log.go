package game

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	EventBufferSize    = 1024                   // Events queued for the writer
	MaxEventsPerSec    = 10000                  // Journal-wide rate limit
	MaxEventsPerEntity = 100                    // Per-source rate limit per second
	FlushInterval      = 100 * time.Millisecond // Writer flushes at least this often
	SourceIdleTimeout  = 5 * time.Minute        // Source limiters unused this long are dropped
)

// EventLog journals world events as newline-delimited JSON.
//
// Emit never blocks the tick: events go to a bounded queue and a single
// writer goroutine encodes them. When the queue is full, or a source
// exceeds its budget, the new event is dropped and counted. Sequence
// numbers are dense over accepted events, so a gap in a journal means
// lost lines rather than dropped events.
type EventLog struct {
	session string

	queue chan Event
	seqMu sync.Mutex
	seq   uint64

	limiter   *rate.Limiter
	sources   sync.Map // EntityID -> *sourceBudget
	lastSweep atomic.Int64

	running atomic.Bool
	stop    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup

	file *os.File
	out  *bufio.Writer

	total   atomic.Uint64
	dropped atomic.Uint64
	written atomic.Uint64
}

type sourceBudget struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64
}

// NewEventLog creates a journal for one engine session. It discards
// events until Start is called.
func NewEventLog(session string) *EventLog {
	el := &EventLog{
		session: session,
		queue:   make(chan Event, EventBufferSize),
		limiter: rate.NewLimiter(MaxEventsPerSec, MaxEventsPerSec/10),
		stop:    make(chan struct{}),
	}
	el.lastSweep.Store(time.Now().UnixNano())
	return el
}

// Session returns the id stamped on every event.
func (el *EventLog) Session() string {
	return el.session
}

// Start opens path for append and launches the writer. An empty path
// keeps counting and rate limiting without touching disk.
func (el *EventLog) Start(path string) error {
	if el.running.Load() {
		return nil
	}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		el.file = f
		el.out = bufio.NewWriterSize(f, 64<<10)
	}

	el.running.Store(true)
	el.wg.Add(1)
	go el.writeLoop()
	return nil
}

// Stop drains queued events to disk and closes the file.
func (el *EventLog) Stop() {
	el.stopped.Do(func() {
		el.seqMu.Lock()
		el.running.Store(false)
		el.seqMu.Unlock()
		close(el.stop)
		el.wg.Wait()
		if el.file != nil {
			el.out.Flush()
			el.file.Close()
		}
	})
}

// Emit queues an event. It returns false when the journal is stopped,
// rate limited, or full. Entity collisions skip the per-source budget: one
// entity touching many others reports one line per pair each tick.
func (el *EventLog) Emit(ev Event) bool {
	if !el.running.Load() {
		return false
	}
	now := time.Now()
	budgeted := ev.Source != 0 && ev.Type != EventTypeEntityCollision
	if !el.limiter.AllowN(now, 1) || (budgeted && !el.budgetFor(ev.Source, now).AllowN(now, 1)) {
		el.dropped.Add(1)
		return false
	}

	el.seqMu.Lock()
	defer el.seqMu.Unlock()
	// Stop flips running under seqMu, so nothing is queued after the drain
	if !el.running.Load() {
		return false
	}
	ev.Sequence = el.seq + 1
	ev.Session = el.session
	select {
	case el.queue <- ev:
		el.seq++
		el.total.Add(1)
		return true
	default:
		el.dropped.Add(1)
		return false
	}
}

// EmitSimple builds and queues an event in one call.
func (el *EventLog) EmitSimple(eventType EventType, tickNum uint64, source EntityID, payload interface{}) bool {
	return el.Emit(NewEvent(eventType, tickNum, source, payload))
}

// budgetFor returns the limiter of one event source, sweeping idle
// sources at most once per SourceIdleTimeout.
func (el *EventLog) budgetFor(id EntityID, now time.Time) *rate.Limiter {
	if last := el.lastSweep.Load(); now.UnixNano()-last >= int64(SourceIdleTimeout) &&
		el.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		el.sweepSources(now.Add(-SourceIdleTimeout))
	}

	if v, ok := el.sources.Load(id); ok {
		b := v.(*sourceBudget)
		b.lastUsed.Store(now.UnixNano())
		return b.limiter
	}
	b := &sourceBudget{limiter: rate.NewLimiter(MaxEventsPerEntity, MaxEventsPerEntity/10)}
	b.lastUsed.Store(now.UnixNano())
	v, _ := el.sources.LoadOrStore(id, b)
	return v.(*sourceBudget).limiter
}

// sweepSources forgets sources not seen since cutoff. Despawned
// entities never emit again, so their budgets only age out.
func (el *EventLog) sweepSources(cutoff time.Time) int {
	removed := 0
	el.sources.Range(func(key, value any) bool {
		if value.(*sourceBudget).lastUsed.Load() < cutoff.UnixNano() {
			el.sources.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

func (el *EventLog) writeLoop() {
	defer el.wg.Done()

	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()

	var enc *json.Encoder
	if el.out != nil {
		enc = json.NewEncoder(el.out)
	}
	write := func(ev Event) {
		if enc != nil && enc.Encode(ev) == nil {
			el.written.Add(1)
		}
	}

	for {
		select {
		case ev := <-el.queue:
			write(ev)
		case <-ticker.C:
			if el.out != nil {
				el.out.Flush()
			}
		case <-el.stop:
			for {
				select {
				case ev := <-el.queue:
					write(ev)
				default:
					return
				}
			}
		}
	}
}

// GetStats returns journal counters.
func (el *EventLog) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"total":   el.total.Load(),
		"dropped": el.dropped.Load(),
		"written": el.written.Load(),
		"pending": uint64(len(el.queue)),
		"running": el.running.Load(),
		"session": el.session,
	}
}

// GetDroppedCount returns the number of rejected events.
func (el *EventLog) GetDroppedCount() uint64 {
	return el.dropped.Load()
}

// GetTotalCount returns the number of accepted events.
func (el *EventLog) GetTotalCount() uint64 {
	return el.total.Load()
}
