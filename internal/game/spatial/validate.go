package spatial

import (
	"fmt"
	"strings"
)

// ViolationKind classifies a structural problem found by DebugValidate.
type ViolationKind int

const (
	ViolationRootParent ViolationKind = iota
	ViolationBrokenLink
	ViolationNotBinary
	ViolationCycle
	ViolationFreeReachable
	ViolationBoundsNotContained
	ViolationTightEscapesFat
	ViolationHeight
	ViolationHandleMismatch
	ViolationLeafCount
	ViolationNodeAccounting
)

func (k ViolationKind) String() string {
	switch k {
	case ViolationRootParent:
		return "root-parent"
	case ViolationBrokenLink:
		return "broken-link"
	case ViolationNotBinary:
		return "not-binary"
	case ViolationCycle:
		return "cycle"
	case ViolationFreeReachable:
		return "free-reachable"
	case ViolationBoundsNotContained:
		return "bounds-not-contained"
	case ViolationTightEscapesFat:
		return "tight-escapes-fat"
	case ViolationHeight:
		return "height"
	case ViolationHandleMismatch:
		return "handle-mismatch"
	case ViolationLeafCount:
		return "leaf-count"
	case ViolationNodeAccounting:
		return "node-accounting"
	default:
		return fmt.Sprintf("violation(%d)", int(k))
	}
}

// InvariantViolation is one problem at one node (-1 when not node-specific).
type InvariantViolation struct {
	Node   int32         `json:"node"`
	Kind   ViolationKind `json:"kind"`
	Detail string        `json:"detail"`
}

func (v InvariantViolation) String() string {
	return fmt.Sprintf("node %d: %s: %s", v.Node, v.Kind, v.Detail)
}

// ValidationError lists every violation found in one pass.
type ValidationError struct {
	Violations []InvariantViolation
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "spatial: %d invariant violation(s)", len(e.Violations))
	for i, v := range e.Violations {
		if i == 5 {
			fmt.Fprintf(&sb, "; ... %d more", len(e.Violations)-i)
			break
		}
		sb.WriteString("; ")
		sb.WriteString(v.String())
	}
	return sb.String()
}

// DebugValidate walks the whole tree and checks every structural invariant.
// It returns nil or a *ValidationError. O(n); intended for tests and the
// debug endpoint.
func (t *Tree[T]) DebugValidate() error {
	var out []InvariantViolation
	report := func(idx int32, kind ViolationKind, format string, args ...any) {
		out = append(out, InvariantViolation{Node: idx, Kind: kind, Detail: fmt.Sprintf(format, args...)})
	}

	total := int32(len(t.store.nodes))
	inRange := func(idx int32) bool { return idx >= 0 && idx < total }
	visited := make([]bool, total)
	reachable := 0
	leaves := 0

	if t.root != nullNode {
		if !inRange(t.root) {
			report(t.root, ViolationBrokenLink, "root index out of range")
		} else if p := t.n(t.root).parent; p != nullNode {
			report(t.root, ViolationRootParent, "root has parent %d", p)
		}
	}

	stack := make([]int32, 0, stackHint)
	if inRange(t.root) {
		stack = append(stack, t.root)
	}
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[idx] {
			report(idx, ViolationCycle, "node reached twice")
			continue
		}
		visited[idx] = true
		reachable++

		nd := t.n(idx)
		if nd.height < 0 {
			report(idx, ViolationFreeReachable, "free node linked into tree")
			continue
		}

		if nd.left == nullNode || nd.right == nullNode {
			if nd.left != nd.right {
				report(idx, ViolationNotBinary, "exactly one child (%d, %d)", nd.left, nd.right)
				continue
			}
			t.validateLeaf(idx, nd, report)
			leaves++
			continue
		}

		if !inRange(nd.left) || !inRange(nd.right) {
			report(idx, ViolationBrokenLink, "child out of range (%d, %d)", nd.left, nd.right)
			continue
		}
		l, r := t.n(nd.left), t.n(nd.right)
		if l.parent != idx {
			report(nd.left, ViolationBrokenLink, "parent is %d, expected %d", l.parent, idx)
		}
		if r.parent != idx {
			report(nd.right, ViolationBrokenLink, "parent is %d, expected %d", r.parent, idx)
		}
		if !nd.bounds.Contains(l.bounds) || !nd.bounds.Contains(r.bounds) {
			report(idx, ViolationBoundsNotContained, "bounds %v miss a child", nd.bounds)
		}
		if want := 1 + max(l.height, r.height); nd.height != want {
			report(idx, ViolationHeight, "height %d, expected %d", nd.height, want)
		}
		stack = append(stack, nd.right, nd.left)
	}

	if leaves != t.handles.live {
		report(nullNode, ViolationLeafCount, "%d leaves reachable, %d live handles", leaves, t.handles.live)
	}
	for i := range t.handles.slots {
		n := t.handles.slots[i].node
		if n == nullNode {
			continue
		}
		if !inRange(n) || !visited[n] {
			report(n, ViolationHandleMismatch, "live slot %d points at unreachable node", i)
		}
	}

	free := 0
	for idx := t.store.free; idx != nullNode; idx = t.n(idx).parent {
		if !inRange(idx) || free > int(total) {
			report(idx, ViolationNodeAccounting, "free list corrupt")
			break
		}
		free++
	}
	if reachable != t.store.used || reachable+free != int(total) {
		report(nullNode, ViolationNodeAccounting, "%d reachable, %d free, %d used, %d allocated",
			reachable, free, t.store.used, total)
	}

	if len(out) == 0 {
		return nil
	}
	return &ValidationError{Violations: out}
}

func (t *Tree[T]) validateLeaf(idx int32, nd *node, report func(int32, ViolationKind, string, ...any)) {
	if nd.height != 0 {
		report(idx, ViolationHeight, "leaf height %d", nd.height)
	}
	if !nd.bounds.Contains(nd.tight) {
		report(idx, ViolationTightEscapesFat, "tight %v outside fat %v", nd.tight, nd.bounds)
	}
	if nd.slot < 0 || int(nd.slot) >= len(t.handles.slots) {
		report(idx, ViolationHandleMismatch, "leaf slot %d out of range", nd.slot)
		return
	}
	if s := t.handles.slots[nd.slot].node; s != idx {
		report(idx, ViolationHandleMismatch, "slot %d points at node %d", nd.slot, s)
	}
}
