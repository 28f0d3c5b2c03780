package ot

import (
	"fmt"
)

// Kind discriminates the two edit primitives a script supports.
type Kind string

const (
	Insert Kind = "insert"
	Delete Kind = "delete"
)

// Operation is a single text edit authored against a known document state.
// Operations are immutable values; Transform returns adjusted copies and
// never mutates its inputs.
type Operation struct {
	ID string `json:"id"`
	// Kind is "insert" or "delete".
	Kind Kind `json:"kind"`
	// Position is the 0-based rune offset in the document the author saw.
	Position int `json:"position"`
	// Text is the inserted text. Insert only.
	Text string `json:"text,omitempty"`
	// Length is the number of runes removed. Delete only.
	Length   int    `json:"length,omitempty"`
	AuthorID string `json:"authorId"`
	// LogicalTimestamp orders concurrent inserts at the same position.
	LogicalTimestamp int64 `json:"logicalTimestamp"`
}

func (op Operation) String() string {
	switch op.Kind {
	case Insert:
		return fmt.Sprintf("insert@%d %q by %s", op.Position, op.Text, op.AuthorID)
	case Delete:
		return fmt.Sprintf("delete@%d len=%d by %s", op.Position, op.Length, op.AuthorID)
	}
	return fmt.Sprintf("unknown op %q", op.Kind)
}

// OutOfRangeError reports an operation whose coordinates do not fit the
// document it was applied to. Stale or corrupt coordinates are rejected
// whole; the document is never partially modified.
type OutOfRangeError struct {
	Op     Operation
	DocLen int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("operation out of range: %s against document of length %d", e.Op, e.DocLen)
}

// Apply replays op against text and returns the resulting document.
// Positions are rune offsets, so multi-byte script content stays intact.
func Apply(text string, op Operation) (string, error) {
	runes := []rune(text)
	switch op.Kind {
	case Insert:
		if op.Position < 0 || op.Position > len(runes) {
			return "", &OutOfRangeError{Op: op, DocLen: len(runes)}
		}
		out := make([]rune, 0, len(runes)+len([]rune(op.Text)))
		out = append(out, runes[:op.Position]...)
		out = append(out, []rune(op.Text)...)
		out = append(out, runes[op.Position:]...)
		return string(out), nil
	case Delete:
		if op.Position < 0 || op.Length < 0 || op.Position+op.Length > len(runes) {
			return "", &OutOfRangeError{Op: op, DocLen: len(runes)}
		}
		out := make([]rune, 0, len(runes)-op.Length)
		out = append(out, runes[:op.Position]...)
		out = append(out, runes[op.Position+op.Length:]...)
		return string(out), nil
	}
	return "", fmt.Errorf("apply: unknown operation kind %q", op.Kind)
}
