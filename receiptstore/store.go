// Package receiptstore records a Receipt for every file a receiver writes to
// disk, keyed by connection and sequence number. Receipts expire after a TTL;
// lookups that miss can rebuild the receipt through a FetchFunc, typically by
// stat'ing the received file.
package receiptstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by fetch functions when no receipt can be rebuilt.
var ErrNotFound = errors.New("receiptstore: receipt not found")

// Receipt describes one file received on a connection.
type Receipt struct {
	ConnID     uint32    `cbor:"1,keyasint" json:"conn_id"`
	Seq        uint32    `cbor:"2,keyasint" json:"seq"`
	Path       string    `cbor:"3,keyasint" json:"path"`
	Size       uint64    `cbor:"4,keyasint" json:"size"`
	Remote     string    `cbor:"5,keyasint,omitempty" json:"remote,omitempty"`
	ReceivedAt time.Time `cbor:"6,keyasint" json:"received_at"`
}

// Key returns the store key for a receipt.
func (r Receipt) Key() string {
	return Key(r.ConnID, r.Seq)
}

// Key builds the store key for file seq of connection connID.
func Key(connID, seq uint32) string {
	return fmt.Sprintf("receipt:%d:%d", connID, seq)
}

// ConnPrefix returns the key prefix shared by all receipts of connID.
func ConnPrefix(connID uint32) string {
	return fmt.Sprintf("receipt:%d:", connID)
}

// FetchFunc rebuilds a receipt on a lookup miss.
type FetchFunc func(ctx context.Context) (Receipt, error)

// Store is the receipt persistence interface. Implementations must be safe for
// concurrent use and must not run more than one fetch per key at a time.
type Store interface {
	// Put records r under r.Key(), replacing any existing receipt.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - r: The receipt to store
	//
	// Returns:
	//   - An error if the operation fails
	Put(ctx context.Context, r Receipt) error

	// GetOrFetch returns the receipt stored under key, or calls fetchFn on a
	// miss and stores its result.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - key: The receipt key (see Key)
	//   - fetchFn: Function to rebuild the receipt if missing
	//
	// Returns:
	//   - The stored or fetched receipt
	//   - An error if retrieval or fetching fails
	GetOrFetch(ctx context.Context, key string, fetchFn FetchFunc) (Receipt, error)

	// Delete removes one receipt.
	Delete(ctx context.Context, key string) error

	// DeleteByPrefix removes all receipts whose key starts with prefix and
	// returns how many were removed.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)

	// Count returns the number of stored receipts.
	Count(ctx context.Context) (int, error)

	// Clear removes all receipts.
	Clear(ctx context.Context) error
}
