// Package classifier defines the classification boundary and a
// nearest-centroid implementation over byte-histogram features.
//
// Confidence is a distance: lower means a stronger match, and callers
// accept a prediction when the distance is strictly below their threshold.
package classifier

import (
	"context"
	"errors"
)

// Classifier is the model boundary used by consumers and the trainer.
// Implementations must be safe for concurrent Predict calls.
type Classifier interface {
	// Load replaces the model state with a previously serialized artifact.
	Load(data []byte) error

	// Predict scores a sample. found is false when the model is empty or
	// the sample carries no usable signal; confidence is a distance.
	Predict(ctx context.Context, sample []byte) (identityID int64, confidence float64, found bool)

	// Update incrementally folds labeled samples into the model.
	Update(ctx context.Context, samples [][]byte, labels []int64) error

	// Serialize renders the current model state as a portable artifact.
	Serialize() ([]byte, error)
}

// Sentinel errors for model handling.
var (
	ErrBadArtifact    = errors.New("unreadable model artifact")
	ErrLabelMismatch  = errors.New("samples and labels length mismatch")
	ErrNoModelLoaded  = errors.New("no model loaded")
	ErrEmptyBatch     = errors.New("empty training batch")
	ErrInvalidSamples = errors.New("no usable samples in batch")
)
