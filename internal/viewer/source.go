// Package viewer renders world snapshots into top-down PNG frames.
package viewer

import (
	"sync/atomic"

	"broadphase/internal/game"
	"broadphase/internal/ipc"
)

// SnapshotSource is an interface for getting world snapshots.
// This allows the Recorder to work with either a local engine or IPC.
type SnapshotSource interface {
	GetSnapshot() *game.Snapshot
}

// LocalEngineSource wraps a local game.Engine as a SnapshotSource
type LocalEngineSource struct {
	engine *game.Engine
}

// NewLocalEngineSource creates a SnapshotSource from a local engine
func NewLocalEngineSource(engine *game.Engine) *LocalEngineSource {
	return &LocalEngineSource{engine: engine}
}

// GetSnapshot returns the latest snapshot from the local engine
func (s *LocalEngineSource) GetSnapshot() *game.Snapshot {
	return s.engine.Snapshot()
}

// IPCSnapshotSource wraps an IPC subscriber as a SnapshotSource
type IPCSnapshotSource struct {
	subscriber *ipc.Subscriber
	lastTick   atomic.Uint64
}

// NewIPCSnapshotSource creates a SnapshotSource from an IPC subscriber.
// It installs the subscriber's snapshot callback.
func NewIPCSnapshotSource(subscriber *ipc.Subscriber) *IPCSnapshotSource {
	source := &IPCSnapshotSource{subscriber: subscriber}
	subscriber.OnSnapshot(func(snap *game.Snapshot) {
		source.lastTick.Store(snap.TickNumber)
	})
	return source
}

// GetSnapshot returns the latest snapshot from IPC
func (s *IPCSnapshotSource) GetSnapshot() *game.Snapshot {
	return s.subscriber.GetLatestSnapshot()
}

// GetTick returns the tick of the last received snapshot
func (s *IPCSnapshotSource) GetTick() uint64 {
	return s.lastTick.Load()
}
