package model

import "fmt"

// WriteKind is the mutation a WriteOp performs.
type WriteKind string

const (
	// WriteSet replaces the document, creating it when missing.
	WriteSet WriteKind = "set"
	// WriteUpdate merges top-level fields into an existing document.
	WriteUpdate WriteKind = "update"
	// WriteUpset merges top-level fields, creating the document when missing.
	WriteUpset WriteKind = "upset"
	// WriteRemove deletes the document. Removing a missing document is a no-op.
	WriteRemove WriteKind = "remove"
)

// WriteOp is one pending mutation.
type WriteOp struct {
	Kind WriteKind              `json:"kind"`
	Ref  Ref                    `json:"ref"`
	Data map[string]interface{} `json:"data"`
}

func (op WriteOp) String() string {
	return fmt.Sprintf("%s %s", op.Kind, op.Ref)
}

// Validate checks the op kind and that data accompanies non-remove ops.
func (op WriteOp) Validate() error {
	switch op.Kind {
	case WriteSet, WriteUpdate, WriteUpset:
		if op.Data == nil {
			return fmt.Errorf("%s %s: %w", op.Kind, op.Ref, ErrInvalidQuery)
		}
	case WriteRemove:
	default:
		return fmt.Errorf("unknown write kind %q: %w", op.Kind, ErrInvalidQuery)
	}
	if op.Ref.ID == "" || op.Ref.Collection == "" {
		return fmt.Errorf("%s: %w", op.Kind, ErrInvalidID)
	}
	return nil
}

// Apply computes the document data resulting from op over current, which
// is nil for a missing document. exists is false when the result is a deletion.
func (op WriteOp) Apply(current map[string]interface{}) (data map[string]interface{}, exists bool, err error) {
	switch op.Kind {
	case WriteSet:
		return copyMap(op.Data), true, nil
	case WriteUpdate:
		if current == nil {
			return nil, false, fmt.Errorf("update %s: %w", op.Ref, ErrNotFound)
		}
		return merge(current, op.Data), true, nil
	case WriteUpset:
		if current == nil {
			return copyMap(op.Data), true, nil
		}
		return merge(current, op.Data), true, nil
	case WriteRemove:
		return nil, false, nil
	}
	return nil, false, fmt.Errorf("unknown write kind %q: %w", op.Kind, ErrInvalidQuery)
}

func merge(base, patch map[string]interface{}) map[string]interface{} {
	out := copyMap(base)
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
