package spatial

// balance performs one tree rotation at node a if its children's heights
// differ by more than one, and returns the index of the node now occupying
// a's position.
//
//	     a               p
//	    / \             / \
//	   o   p    =>     a   keep
//	      / \         / \
//	  keep   move    o   move
//
// The taller child p is promoted. Of p's children the taller one stays with
// p; on equal heights the one whose removal gives a the smaller surface area
// stays.
func (t *Tree[T]) balance(a int32) int32 {
	na := t.n(a)
	if na.isLeaf() || na.height < 2 {
		return a
	}

	diff := t.n(na.right).height - t.n(na.left).height
	switch {
	case diff > 1:
		return t.rotate(a, na.right)
	case diff < -1:
		return t.rotate(a, na.left)
	}
	return a
}

func (t *Tree[T]) rotate(a, p int32) int32 {
	na := t.n(a)
	np := t.n(p)

	o := na.left
	if o == p {
		o = na.right
	}
	no := t.n(o)

	f, g := np.left, np.right
	nf, ng := t.n(f), t.n(g)

	keep, move := f, g
	switch {
	case ng.height > nf.height:
		keep, move = g, f
	case ng.height == nf.height:
		if mergedArea(no.bounds, nf.bounds) < mergedArea(no.bounds, ng.bounds) {
			keep, move = g, f
		}
	}

	// p takes a's place under a's parent
	np.parent = na.parent
	if na.parent == nullNode {
		t.root = p
	} else {
		pp := t.n(na.parent)
		if pp.left == a {
			pp.left = p
		} else {
			pp.right = p
		}
	}

	// a adopts move where p used to hang
	if na.left == p {
		na.left = move
	} else {
		na.right = move
	}
	t.n(move).parent = a
	na.parent = p

	np.left = a
	np.right = keep

	nm, nk := t.n(move), t.n(keep)
	na.bounds = no.bounds.Union(nm.bounds)
	na.height = 1 + max(no.height, nm.height)
	np.bounds = na.bounds.Union(nk.bounds)
	np.height = 1 + max(na.height, nk.height)

	t.stats.rotations++
	return p
}
