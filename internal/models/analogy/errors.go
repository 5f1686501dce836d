package analogy

import "errors"

// Sentinel errors. Callers match them with errors.Is; the model wraps them
// with the offending row or argument.
var (
	// ErrInvalidDimensions is returned by New for non-positive counts, an odd
	// or too small hidden size, or an invalid regularization weight.
	ErrInvalidDimensions = errors.New("analogy: invalid dimensions")

	// ErrIndexOutOfRange is returned when a triple id is outside its table.
	ErrIndexOutOfRange = errors.New("analogy: index out of range")

	// ErrShapeMismatch is returned when labels and batch differ in length.
	ErrShapeMismatch = errors.New("analogy: shape mismatch")

	// ErrEmptyBatch is returned by the training pass for a batch without triples.
	ErrEmptyBatch = errors.New("analogy: empty batch")

	// ErrInvalidLabel is returned for a label other than +1 or -1.
	ErrInvalidLabel = errors.New("analogy: invalid label")

	// ErrInvalidOptions is returned by Train for unusable training options.
	ErrInvalidOptions = errors.New("analogy: invalid training options")
)
