package spatial

import "github.com/go-gl/mathgl/mgl64"

// NodeDump is a flat, serializable view of one reachable node.
type NodeDump struct {
	Index    int32      `json:"index" msgpack:"index"`
	Parent   int32      `json:"parent" msgpack:"parent"`
	Left     int32      `json:"left" msgpack:"left"`
	Right    int32      `json:"right" msgpack:"right"`
	Height   int32      `json:"height" msgpack:"height"`
	Depth    int        `json:"depth" msgpack:"depth"`
	Leaf     bool       `json:"leaf" msgpack:"leaf"`
	Min      mgl64.Vec3 `json:"min" msgpack:"min"`
	Max      mgl64.Vec3 `json:"max" msgpack:"max"`
	TightMin mgl64.Vec3 `json:"tightMin,omitempty" msgpack:"tightMin,omitempty"`
	TightMax mgl64.Vec3 `json:"tightMax,omitempty" msgpack:"tightMax,omitempty"`
	Handle   string     `json:"handle,omitempty" msgpack:"handle,omitempty"`
}

// Dump returns every reachable node in pre-order, root first.
func (t *Tree[T]) Dump() []NodeDump {
	if t.root == nullNode {
		return nil
	}

	type item struct {
		idx   int32
		depth int
	}
	out := make([]NodeDump, 0, t.store.used)
	stack := []item{{t.root, 0}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		nd := t.n(it.idx)
		d := NodeDump{
			Index:  it.idx,
			Parent: nd.parent,
			Left:   nd.left,
			Right:  nd.right,
			Height: nd.height,
			Depth:  it.depth,
			Leaf:   nd.isLeaf(),
			Min:    nd.bounds.Min,
			Max:    nd.bounds.Max,
		}
		if d.Leaf {
			d.TightMin = nd.tight.Min
			d.TightMax = nd.tight.Max
			d.Handle = t.handles.handleOf(nd.slot).String()
		} else {
			stack = append(stack, item{nd.right, it.depth + 1}, item{nd.left, it.depth + 1})
		}
		out = append(out, d)
	}
	return out
}
