package spatial

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func mustValidate(t testing.TB, tr *Tree[int]) {
	t.Helper()
	if err := tr.DebugValidate(); err != nil {
		t.Fatalf("DebugValidate: %v", err)
	}
}

func approxBox(a, b AABB, eps float64) bool {
	for i := 0; i < 3; i++ {
		if math.Abs(a.Min[i]-b.Min[i]) > eps || math.Abs(a.Max[i]-b.Max[i]) > eps {
			return false
		}
	}
	return true
}

func TestTreeEmpty(t *testing.T) {
	tr := NewTree[int](DefaultConfig())

	if tr.Len() != 0 || tr.Height() != 0 {
		t.Errorf("empty tree: len=%d height=%d", tr.Len(), tr.Height())
	}
	if _, ok := tr.QueryAny(unitBox(0, 0, 0)); ok {
		t.Error("empty tree should not report overlaps")
	}
	if got := tr.QueryNearest(mgl64.Vec3{}, 3); len(got) != 0 {
		t.Errorf("QueryNearest on empty tree = %v", got)
	}
	if tr.Dump() != nil {
		t.Error("Dump of empty tree should be nil")
	}
	mustValidate(t, tr)
}

func TestTreeInsertRemove(t *testing.T) {
	tr := NewTree[int](DefaultConfig())

	a := tr.Insert(unitBox(0, 0, 0), 1)
	b := tr.Insert(unitBox(5, 0, 0), 2)
	c := tr.Insert(unitBox(10, 0, 0), 3)
	mustValidate(t, tr)

	if tr.Len() != 3 {
		t.Fatalf("Len = %d, want 3", tr.Len())
	}
	if p, ok := tr.Payload(b); !ok || p != 2 {
		t.Errorf("Payload(b) = %d, %v", p, ok)
	}

	if err := tr.Remove(b); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	mustValidate(t, tr)

	if tr.IsValid(b) {
		t.Error("removed handle should be invalid")
	}
	if err := tr.Remove(b); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("second Remove = %v, want ErrInvalidHandle", err)
	}
	if tr.Len() != 2 {
		t.Errorf("Len = %d, want 2", tr.Len())
	}
	if !tr.IsValid(a) || !tr.IsValid(c) {
		t.Error("untouched handles must stay valid")
	}

	if err := tr.Remove(a); err != nil {
		t.Fatal(err)
	}
	if err := tr.Remove(c); err != nil {
		t.Fatal(err)
	}
	if tr.Len() != 0 || tr.Stats().Nodes != 0 {
		t.Errorf("tree not empty after removing everything: %+v", tr.Stats())
	}
	mustValidate(t, tr)
}

func TestHandleRejection(t *testing.T) {
	tr := NewTree[int](DefaultConfig())
	other := NewTree[int](DefaultConfig())

	h := tr.Insert(unitBox(0, 0, 0), 1)
	foreign := other.Insert(unitBox(0, 0, 0), 1)

	tests := []struct {
		name   string
		handle Handle
	}{
		{"zero handle", Handle{}},
		{"foreign handle", foreign},
		{"out of range slot", Handle{tree: h.tree, slot: 99, gen: 1}},
		{"wrong generation", Handle{tree: h.tree, slot: h.slot, gen: h.gen + 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tr.IsValid(tt.handle) {
				t.Error("IsValid = true")
			}
			if err := tr.Update(tt.handle, unitBox(1, 1, 1)); !errors.Is(err, ErrInvalidHandle) {
				t.Errorf("Update err = %v", err)
			}
			if _, err := tr.Bounds(tt.handle); !errors.Is(err, ErrInvalidHandle) {
				t.Errorf("Bounds err = %v", err)
			}
			if _, ok := tr.Payload(tt.handle); ok {
				t.Error("Payload ok = true")
			}
			if err := tr.Remove(tt.handle); !errors.Is(err, ErrInvalidHandle) {
				t.Errorf("Remove err = %v", err)
			}
		})
	}

	if tr.Len() != 1 || !tr.IsValid(h) {
		t.Error("rejected operations must leave the tree untouched")
	}
	mustValidate(t, tr)
}

func TestStaleHandleAfterSlotReuse(t *testing.T) {
	tr := NewTree[int](DefaultConfig())

	old := tr.Insert(unitBox(0, 0, 0), 1)
	if err := tr.Remove(old); err != nil {
		t.Fatal(err)
	}
	fresh := tr.Insert(unitBox(3, 0, 0), 2)

	if fresh.slot != old.slot {
		t.Fatalf("expected slot reuse, got %v then %v", old, fresh)
	}
	if tr.IsValid(old) {
		t.Error("stale handle accepted after slot reuse")
	}
	if p, _ := tr.Payload(fresh); p != 2 {
		t.Errorf("Payload(fresh) = %d, want 2", p)
	}
}

func TestFatBoundsMargin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MarginRatio = 0.1
	cfg.MarginFloor = 0.25
	tr := NewTree[int](cfg)

	tight := AABB{Max: mgl64.Vec3{10, 1, 1}}
	h := tr.Insert(tight, 0)

	fat, err := tr.FatBounds(h)
	if err != nil {
		t.Fatal(err)
	}
	want := AABB{Min: mgl64.Vec3{-1, -0.25, -0.25}, Max: mgl64.Vec3{11, 1.25, 1.25}}
	if !approxBox(fat, want, 1e-12) {
		t.Errorf("FatBounds = %v, want %v", fat, want)
	}
	if b, _ := tr.Bounds(h); b != tight {
		t.Errorf("Bounds = %v, want %v", b, tight)
	}
}

func TestUpdateInPlaceAndReinsert(t *testing.T) {
	tr := NewTree[int](DefaultConfig())
	h := tr.Insert(unitBox(0, 0, 0), 7)
	tr.Insert(unitBox(20, 0, 0), 8)
	fat, _ := tr.FatBounds(h)

	// Small move stays inside the margin
	if err := tr.Update(h, unitBox(0.05, 0, 0)); err != nil {
		t.Fatal(err)
	}
	if got, _ := tr.FatBounds(h); got != fat {
		t.Errorf("in-place update changed fat box: %v -> %v", fat, got)
	}
	if got, _ := tr.Bounds(h); got != unitBox(0.05, 0, 0) {
		t.Errorf("Bounds = %v", got)
	}
	if s := tr.Stats(); s.InPlaceUpdates != 1 || s.Reinserts != 0 {
		t.Errorf("stats after small move = %+v", s)
	}

	// Large move forces a reinsert with a fresh margin
	if err := tr.Update(h, unitBox(5, 5, 5)); err != nil {
		t.Fatal(err)
	}
	got, _ := tr.FatBounds(h)
	if !got.Contains(unitBox(5, 5, 5)) || got.Contains(fat) {
		t.Errorf("reinserted fat box = %v", got)
	}
	if s := tr.Stats(); s.Reinserts != 1 {
		t.Errorf("Reinserts = %d, want 1", s.Reinserts)
	}
	if p, _ := tr.Payload(h); p != 7 {
		t.Errorf("payload lost across reinsert: %d", p)
	}
	mustValidate(t, tr)
}

func TestVelocityMargin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = MarginVelocity
	cfg.VelocityScale = 1
	tr := NewTree[int](cfg)

	h := tr.InsertMoving(unitBox(0, 0, 0), 1, mgl64.Vec3{5, 0, -3})
	fat, _ := tr.FatBounds(h)
	want := AABB{Min: mgl64.Vec3{-0.1, -0.1, -3}, Max: mgl64.Vec3{6, 1.1, 1.1}}
	if !approxBox(fat, want, 1e-12) {
		t.Errorf("FatBounds = %v, want %v", fat, want)
	}

	// Steady motion inside the predicted box is absorbed
	if err := tr.UpdateMoving(h, unitBox(2, 0, -1), mgl64.Vec3{5, 0, -3}); err != nil {
		t.Fatal(err)
	}
	if s := tr.Stats(); s.Reinserts != 0 {
		t.Errorf("steady motion caused %d reinserts", s.Reinserts)
	}

	// Coming to rest shrinks the oversized box
	if err := tr.UpdateMoving(h, unitBox(2, 0, -1), mgl64.Vec3{}); err != nil {
		t.Fatal(err)
	}
	fat, _ = tr.FatBounds(h)
	want = unitBox(2, 0, -1).Expand(mgl64.Vec3{0.1, 0.1, 0.1})
	if !approxBox(fat, want, 1e-12) {
		t.Errorf("FatBounds after rest = %v, want %v", fat, want)
	}
	mustValidate(t, tr)
}

func TestSymmetricPolicyIgnoresVelocity(t *testing.T) {
	tr := NewTree[int](DefaultConfig())
	h := tr.InsertMoving(unitBox(0, 0, 0), 1, mgl64.Vec3{100, 0, 0})
	fat, _ := tr.FatBounds(h)
	if !approxBox(fat, unitBox(0, 0, 0).Expand(mgl64.Vec3{0.1, 0.1, 0.1}), 1e-12) {
		t.Errorf("symmetric fat box = %v", fat)
	}
}

func TestInvertedBoundsNormalized(t *testing.T) {
	tr := NewTree[int](DefaultConfig())
	h := tr.Insert(AABB{Min: mgl64.Vec3{1, 1, 1}, Max: mgl64.Vec3{0, 0, 0}}, 0)
	if b, _ := tr.Bounds(h); b != unitBox(0, 0, 0) {
		t.Errorf("Bounds = %v", b)
	}
	mustValidate(t, tr)
}

func TestNonFiniteBoundsRejected(t *testing.T) {
	tr := NewTree[int](DefaultConfig())
	a := tr.Insert(unitBox(0, 0, 0), 0)
	b := tr.Insert(unitBox(5, 5, 5), 1)
	c := tr.Insert(unitBox(10, 0, 0), 2)
	before := tr.Stats()

	nan := AABB{Min: mgl64.Vec3{math.NaN(), 5, 5}, Max: mgl64.Vec3{6, 6, 6}}
	inf := AABB{Min: mgl64.Vec3{0, 0, 0}, Max: mgl64.Vec3{math.Inf(1), 1, 1}}

	if err := tr.Update(b, nan); !errors.Is(err, ErrInvalidBounds) {
		t.Errorf("Update(NaN) = %v, want ErrInvalidBounds", err)
	}
	if err := tr.UpdateMoving(b, unitBox(5, 5, 5), mgl64.Vec3{math.NaN(), 0, 0}); !errors.Is(err, ErrInvalidBounds) {
		t.Errorf("UpdateMoving(NaN velocity) = %v, want ErrInvalidBounds", err)
	}
	if h := tr.Insert(nan, 3); !h.IsZero() || tr.IsValid(h) {
		t.Errorf("Insert(NaN) = %v, want zero handle", h)
	}
	if h := tr.InsertMoving(inf, 4, mgl64.Vec3{}); !h.IsZero() {
		t.Errorf("InsertMoving(Inf) = %v, want zero handle", h)
	}
	hs := tr.Load([]Entry[int]{{Bounds: nan, Payload: 5}, {Bounds: unitBox(20, 0, 0), Payload: 6}})
	if !hs[0].IsZero() || !tr.IsValid(hs[1]) {
		t.Errorf("Load handles = %v", hs)
	}

	if tr.Len() != 4 {
		t.Errorf("Len = %d, want 4", tr.Len())
	}
	if got, _ := tr.Bounds(b); got != unitBox(5, 5, 5) {
		t.Errorf("rejected update moved B to %v", got)
	}
	if st := tr.Stats(); st.Reinserts != before.Reinserts || st.InPlaceUpdates != before.InPlaceUpdates {
		t.Errorf("rejected updates changed stats: %+v", st)
	}
	for _, h := range []Handle{a, b, c, hs[1]} {
		want, _ := tr.Bounds(h)
		if !collect(tr.QueryAABB(want))[h] {
			t.Errorf("%v not found by its own bounds", h)
		}
	}
	mustValidate(t, tr)
}

func TestClear(t *testing.T) {
	tr := NewTree[int](DefaultConfig())
	var hs []Handle
	for i := 0; i < 50; i++ {
		hs = append(hs, tr.Insert(unitBox(float64(i), 0, 0), i))
	}

	tr.Clear()
	mustValidate(t, tr)

	if tr.Len() != 0 {
		t.Errorf("Len after Clear = %d", tr.Len())
	}
	for _, h := range hs {
		if tr.IsValid(h) {
			t.Fatalf("handle %v survived Clear", h)
		}
	}

	h := tr.Insert(unitBox(0, 0, 0), 99)
	if !tr.IsValid(h) || tr.Len() != 1 {
		t.Error("tree unusable after Clear")
	}
	mustValidate(t, tr)
}

func TestAllIteratesLiveObjects(t *testing.T) {
	tr := NewTree[int](DefaultConfig())
	want := map[Handle]int{}
	for i := 0; i < 10; i++ {
		want[tr.Insert(unitBox(float64(i)*2, 0, 0), i)] = i
	}
	for h, p := range want {
		if p%3 == 0 {
			_ = tr.Remove(h)
			delete(want, h)
		}
	}

	got := map[Handle]int{}
	for h, p := range tr.All() {
		got[h] = p
	}
	if len(got) != len(want) {
		t.Fatalf("All yielded %d objects, want %d", len(got), len(want))
	}
	for h, p := range want {
		if got[h] != p {
			t.Errorf("All[%v] = %d, want %d", h, got[h], p)
		}
	}
}

func randomBox(rng *rand.Rand, world, maxSize float64) AABB {
	lo := mgl64.Vec3{rng.Float64() * world, rng.Float64() * world, rng.Float64() * world}
	size := mgl64.Vec3{rng.Float64() * maxSize, rng.Float64() * maxSize, rng.Float64() * maxSize}
	return AABB{Min: lo, Max: lo.Add(size)}
}

func TestRandomChurnKeepsInvariants(t *testing.T) {
	iterations := 3000
	if testing.Short() {
		iterations = 500
	}

	rng := rand.New(rand.NewSource(42))
	tr := NewTree[int](DefaultConfig())
	live := map[Handle]AABB{}
	var handles []Handle

	for i := 0; i < iterations; i++ {
		switch op := rng.Intn(10); {
		case op < 4 || len(handles) == 0:
			b := randomBox(rng, 100, 4)
			h := tr.Insert(b, i)
			live[h] = b
			handles = append(handles, h)
		case op < 6:
			j := rng.Intn(len(handles))
			h := handles[j]
			if err := tr.Remove(h); err != nil {
				t.Fatalf("Remove(%v): %v", h, err)
			}
			delete(live, h)
			handles[j] = handles[len(handles)-1]
			handles = handles[:len(handles)-1]
		default:
			h := handles[rng.Intn(len(handles))]
			b := live[h]
			b = b.Translate(mgl64.Vec3{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()})
			if err := tr.UpdateMoving(h, b, mgl64.Vec3{rng.NormFloat64(), 0, 0}); err != nil {
				t.Fatalf("Update(%v): %v", h, err)
			}
			live[h] = b
		}

		if i%100 == 0 {
			mustValidate(t, tr)
		}
	}
	mustValidate(t, tr)

	if tr.Len() != len(live) {
		t.Fatalf("Len = %d, want %d", tr.Len(), len(live))
	}
	for h, b := range live {
		got, err := tr.Bounds(h)
		if err != nil || got != b {
			t.Fatalf("Bounds(%v) = %v, %v; want %v", h, got, err, b)
		}
		fat, _ := tr.FatBounds(h)
		if !fat.Contains(b) {
			t.Fatalf("fat box %v does not contain %v", fat, b)
		}
	}
}
