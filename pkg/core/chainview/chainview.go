// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

// Package chainview defines the adapter boundary between the mempool and
// the blockchain database. The database itself, its on-disk schema and
// its LMDB-style single-writer storage engine are out of scope for this
// repository -- this package only describes how the mempool consults it.
package chainview

import (
	"context"
	"errors"

	"github.com/tari-go/base-node/pkg/core/txtypes"
)

// ErrNotFound is returned by FetchUTXO when the commitment does not
// correspond to an unspent output on the current best chain.
var ErrNotFound = errors.New("chainview: output not found")

// ChainView is a read-only view onto the best chain that the mempool's
// stateful validator and reorg engine consult. Implementations must be
// safe for concurrent use; the underlying blockchain database is held by
// many components via shared ownership and is internally serialised.
type ChainView interface {
	// FetchUTXO returns the output identified by commitment if it is
	// unspent on the current best chain, or ErrNotFound otherwise.
	FetchUTXO(ctx context.Context, commitment txtypes.Commitment) (txtypes.Output, error)

	// IsSpent reports whether commitment has already been spent on the
	// current best chain.
	IsSpent(ctx context.Context, commitment txtypes.Commitment) (bool, error)

	// FetchChainHeight returns the height of the current best chain tip.
	FetchChainHeight(ctx context.Context) (uint64, error)

	// ValidateBlockTransaction runs full consensus-rule validation of tx
	// against the chain state at tip. The mempool never hard-codes
	// consensus rules; it only calls out to this collaborator.
	ValidateBlockTransaction(ctx context.Context, tx *txtypes.Transaction, tip uint64) error
}

// DependencyError wraps a ChainView I/O failure. It surfaces to
// callers as an error, never as a transaction-validation outcome.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return "chainview: " + e.Op + ": " + e.Err.Error()
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}
