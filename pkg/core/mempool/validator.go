// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

package mempool

import (
	"context"

	"github.com/tari-go/base-node/pkg/core/chainview"
	"github.com/tari-go/base-node/pkg/core/txtypes"
)

// Validator is the mempool's stateful, pluggable validation capability.
// The pool holds one boxed instance and never hard-codes consensus
// rules beyond what it consults here -- different deployments can run
// consensus-only checks or the fuller consensus-plus-maturity rule set
// by swapping the Validator implementation.
//
// unpooledInputs are the commitments insert() could not resolve against
// an in-pool zero-conf parent; these are the only inputs a Validator
// needs to check against the chain, since a pool-internal parent output
// has no maturity (it is not yet confirmed).
type Validator interface {
	Validate(
		ctx context.Context,
		tx *txtypes.Transaction,
		chain chainview.ChainView,
		tip uint64,
		unpooledInputs []txtypes.Commitment,
	) (StorageResponse, error)
}

// ConsensusValidator checks chain-UTXO existence, kernel lock-height and
// the consensus weight ceiling, without enforcing output maturity.
type ConsensusValidator struct {
	MaxBlockWeight uint64
}

// Validate implements Validator.
func (v *ConsensusValidator) Validate(
	ctx context.Context,
	tx *txtypes.Transaction,
	chain chainview.ChainView,
	tip uint64,
	unpooledInputs []txtypes.Commitment,
) (StorageResponse, error) {
	return validateStateful(ctx, tx, chain, tip, unpooledInputs, v.MaxBlockWeight, false)
}

// InputMaturityValidator additionally enforces that every chain-sourced
// input's output maturity has been reached by tip.
type InputMaturityValidator struct {
	MaxBlockWeight uint64
}

// Validate implements Validator.
func (v *InputMaturityValidator) Validate(
	ctx context.Context,
	tx *txtypes.Transaction,
	chain chainview.ChainView,
	tip uint64,
	unpooledInputs []txtypes.Commitment,
) (StorageResponse, error) {
	return validateStateful(ctx, tx, chain, tip, unpooledInputs, v.MaxBlockWeight, true)
}

func validateStateful(
	ctx context.Context,
	tx *txtypes.Transaction,
	chain chainview.ChainView,
	tip uint64,
	unpooledInputs []txtypes.Commitment,
	maxBlockWeight uint64,
	checkMaturity bool,
) (StorageResponse, error) {
	for _, c := range unpooledInputs {
		out, err := chain.FetchUTXO(ctx, c)
		if err == chainview.ErrNotFound {
			// Distinguish a commitment the chain has already seen spent
			// from one it has never seen at all.
			spent, serr := chain.IsSpent(ctx, c)
			if serr != nil {
				return NotStored, dependencyError("is_spent", serr)
			}
			if spent {
				return NotStoredAlreadySpent, nil
			}
			return NotStoredOrphan, nil
		}
		if err != nil {
			return NotStored, dependencyError("fetch_utxo", err)
		}
		if checkMaturity && out.Maturity > tip {
			return NotStored, nil
		}
	}

	// The earliest block a pooled transaction can be mined in is the
	// next one, at height tip+1.
	if tx.LockHeight() > tip+1 {
		return NotStoredTimeLocked, nil
	}

	// Large-tx rejection: a transaction that could never fit in any
	// single block is rejected outright rather than held forever.
	if tx.Weight() > maxBlockWeight {
		return NotStoredConsensus, nil
	}

	return UnconfirmedPool, nil
}
