package spatial

// nullNode marks an absent parent, child, or free-list link.
const nullNode int32 = -1

// node is one fixed-size arena slot. Leaves have left == right == nullNode.
//
// For a leaf, bounds is the fattened box and tight is the object's true box.
// For an internal node, bounds is the union of both children's bounds.
// Free slots reuse parent as the free-list link and have height -1.
type node struct {
	bounds AABB
	tight  AABB
	parent int32
	left   int32
	right  int32
	height int32
	slot   int32 // handle-table slot of a leaf
}

func (n *node) isLeaf() bool {
	return n.left == nullNode
}

// nodeStore is the arena owning every node of one tree.
type nodeStore struct {
	nodes []node
	free  int32
	used  int
}

func newNodeStore(capacity int) nodeStore {
	return nodeStore{
		nodes: make([]node, 0, capacity),
		free:  nullNode,
	}
}

// alloc returns a zeroed node with all links cleared.
// Pool exhausted: the backing slice grows, indices stay valid.
func (s *nodeStore) alloc() int32 {
	var idx int32
	if s.free != nullNode {
		idx = s.free
		s.free = s.nodes[idx].parent
	} else {
		idx = int32(len(s.nodes))
		s.nodes = append(s.nodes, node{})
	}

	s.nodes[idx] = node{
		parent: nullNode,
		left:   nullNode,
		right:  nullNode,
		slot:   nullNode,
	}
	s.used++
	return idx
}

// release pushes the node onto the free list.
func (s *nodeStore) release(idx int32) {
	s.nodes[idx] = node{
		parent: s.free,
		left:   nullNode,
		right:  nullNode,
		height: -1,
		slot:   nullNode,
	}
	s.free = idx
	s.used--
}

func (s *nodeStore) reset() {
	s.nodes = s.nodes[:0]
	s.free = nullNode
	s.used = 0
}
