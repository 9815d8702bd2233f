package collaboration

import (
	"context"

	"github.com/reportcollab/collabd/internal/models"
	"github.com/reportcollab/collabd/internal/services"
)

// ReplicaStore is the CRDT side of the relay.
type ReplicaStore interface {
	ApplyRemoteDelta(ctx context.Context, documentID string, delta []byte) ([]byte, error)
	EncodeFullState(ctx context.Context, documentID string) []byte
	DiffSince(ctx context.Context, documentID string, peerStateVector []string) ([]byte, error)
	StateVector(ctx context.Context, documentID string) []string
}

// Journal is the operation side of the relay.
type Journal interface {
	Submit(ctx context.Context, in services.RecordInput) (*models.Operation, error)
	ListSince(ctx context.Context, documentID string, sinceSequence int64, limit int) ([]models.Operation, error)
}

// Publisher forwards accepted deltas to other instances.
type Publisher interface {
	Publish(ctx context.Context, documentID string, payload []byte) error
}
