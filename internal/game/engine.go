package game

import (
	"log"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"broadphase/internal/config"
	"broadphase/internal/game/spatial"

	"github.com/google/uuid"
)

// Layer names used by the debug and query helpers
const (
	LayerEntities  = "entities"
	LayerColliders = "colliders"
	LayerRegions   = "regions"
)

// LayerNames lists every layer in a stable order.
var LayerNames = []string{LayerEntities, LayerColliders, LayerRegions}

// Layers are the spatial indexes of one world. Each tree is independent.
type Layers struct {
	Entities  *spatial.Tree[EntityID] // Entity hitboxes, for entity-entity collision and hits
	Colliders *spatial.Tree[EntityID] // Entity block colliders, for placement checks
	Regions   *spatial.Tree[RegionID] // In-progress construction regions
}

// EngineConfig bundles the world and index settings.
type EngineConfig struct {
	World   config.WorldConfig
	Spatial config.SpatialConfig
}

// DefaultEngineConfig returns the default world and index settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{World: config.DefaultWorld(), Spatial: config.DefaultSpatial()}
}

// TreeConfig converts the env-facing settings into the index configuration.
func TreeConfig(c config.SpatialConfig) spatial.Config {
	policy, ok := spatial.ParseMarginPolicy(c.MarginPolicy)
	if !ok {
		log.Printf("⚠️ Unknown margin policy %q, using %s", c.MarginPolicy, policy)
	}
	return spatial.Config{
		MarginRatio:     c.MarginRatio,
		MarginFloor:     c.MarginFloor,
		Policy:          policy,
		VelocityScale:   c.VelocityScale,
		InitialCapacity: c.InitialCapacity,
	}
}

// TickReport summarises one completed tick.
type TickReport struct {
	Tick      uint64
	Duration  time.Duration
	Entities  int
	Events    []Event
	Layers    map[string]spatial.Stats
	Reinserts map[string]uint64 // Reinserts during this tick, per layer
}

// Engine drives the tick loop and owns the world's layers.
//
// Each tick runs in three phases: a write phase that applies queued
// commands, integrates motion and pushes new bounds into the trees; a read
// phase where physics, combat and building query the trees in parallel
// under the read lock; and an apply phase that commits their results.
type Engine struct {
	mu       sync.RWMutex
	stepMu   sync.Mutex // Serialises Step between the ticker and tests
	cfg      config.WorldConfig
	layers   Layers
	entities map[EntityID]*Entity
	order    []EntityID // Live ids in ascending order
	regions  map[RegionID]spatial.Handle

	commands   *CommandQueue[Command]
	cmdBuf     []Command
	intents    tickIntents
	nextEntity atomic.Uint64
	nextRegion atomic.Uint64
	population atomic.Int64 // Live plus queued spawns, for MaxEntities

	tickCount atomic.Uint64
	session   string
	events    []Event
	eventLog  *EventLog
	lastStats map[string]spatial.Stats

	// Latest immutable snapshot for lock-free readers
	snapshot atomic.Pointer[Snapshot]

	// OnTick is called after every tick from the tick goroutine
	OnTick func(TickReport)

	running  bool
	ticker   *time.Ticker
	stopChan chan struct{}
}

// tickIntents are commands that need the read phase.
type tickIntents struct {
	attacks []attackIntent
	places  []BlockPos
}

// tickResults are what the read phase found. Each field is written by
// exactly one goroutine.
type tickResults struct {
	collisions  []CollisionPayload
	melee       []HitPayload
	projectiles []projectileOutcome
	placements  []PlacementPayload
}

// NewEngine creates an engine with empty layers.
func NewEngine(cfg EngineConfig) *Engine {
	w := cfg.World
	if w.TickRate <= 0 {
		w.TickRate = config.DefaultWorld().TickRate
	}
	if w.CommandQueueSize <= 0 {
		w.CommandQueueSize = config.DefaultWorld().CommandQueueSize
	}
	if w.MaxEntities <= 0 {
		w.MaxEntities = config.DefaultWorld().MaxEntities
	}

	treeCfg := TreeConfig(cfg.Spatial)
	session := uuid.NewString()
	commands := NewCommandQueue[Command](w.CommandQueueSize)

	e := &Engine{
		cfg: w,
		layers: Layers{
			Entities:  spatial.NewTree[EntityID](treeCfg),
			Colliders: spatial.NewTree[EntityID](treeCfg),
			Regions:   spatial.NewTree[RegionID](treeCfg),
		},
		entities: make(map[EntityID]*Entity),
		regions:  make(map[RegionID]spatial.Handle),
		commands: commands,
		cmdBuf:   make([]Command, commands.Cap()),
		session:  session,
		eventLog: NewEventLog(session),
		stopChan: make(chan struct{}),
	}
	e.lastStats = e.layerStats()
	e.snapshot.Store(e.buildSnapshot(0, e.lastStats))
	return e
}

// Start begins the tick loop
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	e.ticker = time.NewTicker(time.Second / time.Duration(e.cfg.TickRate))

	go func() {
		for {
			select {
			case <-e.ticker.C:
				e.Step()
			case <-e.stopChan:
				return
			}
		}
	}()

	log.Printf("🎮 World engine started at %d TPS (session %s)", e.cfg.TickRate, e.session)
}

// Stop stops the tick loop
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}

	e.running = false
	if e.ticker != nil {
		e.ticker.Stop()
	}
	close(e.stopChan)
	log.Println("🛑 World engine stopped")
}

// Step runs one tick synchronously and returns its report.
func (e *Engine) Step() TickReport {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()

	start := time.Now()
	dt := 1.0 / float64(e.cfg.TickRate)

	// Write phase
	e.mu.Lock()
	tick := e.tickCount.Add(1)
	e.events = e.events[:0]
	e.drainCommands(tick)
	e.integrate(dt)
	intents := e.intents
	e.intents = tickIntents{}
	e.mu.Unlock()

	// Read phase
	e.mu.RLock()
	results := e.detect(intents)
	e.mu.RUnlock()

	// Apply phase
	e.mu.Lock()
	e.applyResults(tick, results)
	if every := e.cfg.ValidateEvery; every > 0 && tick%uint64(every) == 0 {
		e.validateLayers(tick)
	}
	stats := e.layerStats()
	reinserts := make(map[string]uint64, len(stats))
	var totalReinserts uint64
	for name, s := range stats {
		d := s.Reinserts - e.lastStats[name].Reinserts
		reinserts[name] = d
		totalReinserts += d
	}
	e.lastStats = stats
	e.emit(NewEvent(EventTypeTick, tick, 0, TickPayload{
		Entities:    len(e.entities),
		Reinserts:   int(totalReinserts),
		DeltaTimeNs: int64(dt * 1e9),
	}))
	snap := e.buildSnapshot(tick, stats)
	events := slices.Clone(e.events)
	entities := len(e.entities)
	e.mu.Unlock()

	e.snapshot.Store(snap)

	report := TickReport{
		Tick:      tick,
		Duration:  time.Since(start),
		Entities:  entities,
		Events:    events,
		Layers:    stats,
		Reinserts: reinserts,
	}
	if e.OnTick != nil {
		e.OnTick(report)
	}
	return report
}

// drainCommands applies every queued command in arrival order.
func (e *Engine) drainCommands(tick uint64) {
	n := e.commands.DrainTo(e.cmdBuf)
	for _, cmd := range e.cmdBuf[:n] {
		e.applyCommand(tick, cmd)
	}
	clear(e.cmdBuf[:n])
}

func (e *Engine) applyCommand(tick uint64, cmd Command) {
	switch cmd.Kind {
	case CmdSpawn:
		e.addEntity(tick, cmd.Entity, cmd.Spawn)

	case CmdFire:
		shooter, ok := e.entities[cmd.Source]
		if !ok {
			e.population.Add(-1)
			return
		}
		spec := cmd.Spawn
		spec.Position = shooter.Eye()
		e.addEntity(tick, cmd.Entity, spec)

	case CmdDespawn:
		e.removeEntity(tick, cmd.Entity, "command")

	case CmdSetVelocity:
		if ent, ok := e.entities[cmd.Entity]; ok {
			ent.Velocity = cmd.Vector
		}

	case CmdAttack:
		if _, ok := e.entities[cmd.Entity]; ok {
			e.intents.attacks = append(e.intents.attacks, attackIntent{attacker: cmd.Entity, dir: cmd.Vector})
		}

	case CmdPlace:
		e.intents.places = append(e.intents.places, cmd.Block)

	case CmdReserve:
		e.reserveRegion(tick, cmd.Region, cmd.Box)

	case CmdRelease:
		e.releaseRegion(tick, cmd.Region)
	}
}

func (e *Engine) addEntity(tick uint64, id EntityID, spec SpawnSpec) {
	ent := newEntity(id, spec)
	ent.entityHandle = e.layers.Entities.InsertMoving(ent.Hitbox(), id, ent.Velocity)
	if ent.entityHandle.IsZero() {
		log.Printf("⚠️ Entity %d: hitbox %v rejected", id, ent.Hitbox())
		e.population.Add(-1)
		return
	}
	if ent.Kind != KindProjectile {
		ent.blockHandle = e.layers.Colliders.InsertMoving(ent.BlockCollider(), id, ent.Velocity)
	}
	e.entities[id] = ent
	if i, found := slices.BinarySearch(e.order, id); !found {
		e.order = slices.Insert(e.order, i, id)
	}

	e.emit(NewEvent(EventTypeSpawn, tick, id, SpawnPayload{
		Kind:     ent.Kind.String(),
		Position: ent.Position,
		Owner:    ent.Owner,
	}))
}

func (e *Engine) removeEntity(tick uint64, id EntityID, reason string) {
	ent, ok := e.entities[id]
	if !ok {
		return
	}
	if err := e.layers.Entities.Remove(ent.entityHandle); err != nil {
		log.Printf("⚠️ Entity %d: %v", id, err)
	}
	if !ent.blockHandle.IsZero() {
		if err := e.layers.Colliders.Remove(ent.blockHandle); err != nil {
			log.Printf("⚠️ Entity %d collider: %v", id, err)
		}
	}
	delete(e.entities, id)
	if i, found := slices.BinarySearch(e.order, id); found {
		e.order = slices.Delete(e.order, i, i+1)
	}
	e.population.Add(-1)

	e.emit(NewEvent(EventTypeDespawn, tick, id, DespawnPayload{Reason: reason}))
}

// detect runs the read-only collaborators in parallel.
func (e *Engine) detect(in tickIntents) tickResults {
	var res tickResults
	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		res.collisions = e.detectCollisions()
	}()
	go func() {
		defer wg.Done()
		res.melee = e.resolveMelee(in.attacks)
	}()
	go func() {
		defer wg.Done()
		res.projectiles = e.sweepProjectiles()
	}()
	go func() {
		defer wg.Done()
		res.placements = e.checkPlacements(in.places)
	}()
	wg.Wait()
	return res
}

func (e *Engine) applyResults(tick uint64, res tickResults) {
	for _, pair := range res.collisions {
		e.emit(NewEvent(EventTypeEntityCollision, tick, pair.A, pair))
	}
	e.applyMelee(tick, res.melee)
	e.applyProjectiles(tick, res.projectiles)
	for _, p := range res.placements {
		kind := EventTypePlaceAccepted
		if !p.Accepted {
			kind = EventTypePlaceRejected
		}
		e.emit(NewEvent(kind, tick, 0, p))
	}
}

// validateLayers runs the full invariant check on every tree.
func (e *Engine) validateLayers(tick uint64) {
	for name, err := range e.validateAll() {
		if err == nil {
			continue
		}
		log.Printf("❌ Layer %s failed validation at tick %d: %v", name, tick, err)
		e.emit(NewEvent(EventTypeValidationFailed, tick, 0, ValidationPayload{Layer: name, Error: err.Error()}))
	}
}

func (e *Engine) validateAll() map[string]error {
	return map[string]error{
		LayerEntities:  e.layers.Entities.DebugValidate(),
		LayerColliders: e.layers.Colliders.DebugValidate(),
		LayerRegions:   e.layers.Regions.DebugValidate(),
	}
}

func (e *Engine) layerStats() map[string]spatial.Stats {
	return map[string]spatial.Stats{
		LayerEntities:  e.layers.Entities.Stats(),
		LayerColliders: e.layers.Colliders.Stats(),
		LayerRegions:   e.layers.Regions.Stats(),
	}
}

// emit records an event for the tick report and the event log.
func (e *Engine) emit(ev Event) {
	ev.Session = e.session
	e.events = append(e.events, ev)
	e.eventLog.Emit(ev)
}

// TickCount returns the number of completed ticks.
func (e *Engine) TickCount() uint64 {
	return e.tickCount.Load()
}

// Session returns the id of this engine instance.
func (e *Engine) Session() string {
	return e.session
}

// EventLog returns the engine's event log. It discards events until started.
func (e *Engine) EventLog() *EventLog {
	return e.eventLog
}

// PendingCommands returns the approximate number of queued commands.
func (e *Engine) PendingCommands() int {
	return e.commands.Len()
}

// Config returns the world configuration in use.
func (e *Engine) Config() config.WorldConfig {
	return e.cfg
}
