package ot

// Transform adjusts op, authored against some base document, so that it
// produces the intended edit when applied after concurrent, which was
// authored against the same base and has already been applied.
//
// For operations A and B on the same base the pair of transforms converges:
//
//	apply(apply(doc, A), Transform(B, A)) == apply(apply(doc, B), Transform(A, B))
//
// All positions are interpreted against the pre-effect document state.
func Transform(op, concurrent Operation) Operation {
	switch {
	case op.Kind == Insert && concurrent.Kind == Insert:
		return transformInsertInsert(op, concurrent)
	case op.Kind == Delete && concurrent.Kind == Delete:
		return transformDeleteDelete(op, concurrent)
	case op.Kind == Insert && concurrent.Kind == Delete:
		return transformInsertDelete(op, concurrent)
	default:
		return transformDeleteInsert(op, concurrent)
	}
}

func transformInsertInsert(op, concurrent Operation) Operation {
	switch {
	case op.Position < concurrent.Position:
		return op
	case op.Position > concurrent.Position:
		op.Position += runeLen(concurrent.Text)
		return op
	}
	// Same position: the tie-break must pick the same winner on every
	// replica. Earlier logical timestamp keeps its place; the id comparison
	// settles exact timestamp collisions.
	if op.LogicalTimestamp < concurrent.LogicalTimestamp {
		return op
	}
	if op.LogicalTimestamp == concurrent.LogicalTimestamp && op.ID < concurrent.ID {
		return op
	}
	op.Position += runeLen(concurrent.Text)
	return op
}

func transformDeleteDelete(op, concurrent Operation) Operation {
	opEnd := op.Position + op.Length
	conEnd := concurrent.Position + concurrent.Length

	// Disjoint ranges only shift.
	if opEnd <= concurrent.Position {
		return op
	}
	if op.Position >= conEnd {
		op.Position -= concurrent.Length
		return op
	}

	// Overlapping: the concurrent delete already removed part of the range,
	// so the remaining length shrinks by the overlap, floored at zero.
	overlapStart := max(op.Position, concurrent.Position)
	overlapEnd := min(opEnd, conEnd)
	op.Length -= overlapEnd - overlapStart
	if op.Length < 0 {
		op.Length = 0
	}
	if op.Position > concurrent.Position {
		op.Position = concurrent.Position
	}
	return op
}

func transformInsertDelete(op, concurrent Operation) Operation {
	conEnd := concurrent.Position + concurrent.Length
	switch {
	case op.Position <= concurrent.Position:
		return op
	case op.Position >= conEnd:
		op.Position -= concurrent.Length
		return op
	}
	// Insert landed strictly inside the removed range: collapse to the
	// delete's position.
	op.Position = concurrent.Position
	return op
}

func transformDeleteInsert(op, concurrent Operation) Operation {
	opEnd := op.Position + op.Length
	inserted := runeLen(concurrent.Text)
	switch {
	case opEnd <= concurrent.Position:
		return op
	case op.Position >= concurrent.Position:
		op.Position += inserted
		return op
	}
	// The delete range spans the insert position, so it swallows the
	// inserted text as well. Delete-wins policy; see resolver notes.
	op.Length += inserted
	return op
}

func runeLen(s string) int {
	return len([]rune(s))
}
