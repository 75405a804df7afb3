// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

package txtypes

// Per-component weight units used to normalise a transaction's byte size
// into the block-packing metric the mempool sorts by. These mirror the
// fixed-size-component weighting scheme common to Mimblewimble-style
// chains: every input, output and kernel contributes a constant amount
// regardless of its exact serialised length, since range proofs and
// signatures are themselves fixed-size.
const (
	WeightPerInput  uint64 = 1
	WeightPerOutput uint64 = 10
	WeightPerKernel uint64 = 2

	// BaseWeight is charged once per transaction to discourage
	// many-tiny-transaction spam relative to one consolidated transaction.
	BaseWeight uint64 = 1
)

// Output is an unspent transaction output candidate: a commitment plus an
// optional maturity height before which it cannot be spent.
type Output struct {
	Commitment Commitment
	Maturity   uint64
}

// Input references the commitment of the output it spends.
type Input struct {
	Commitment Commitment
}

// Kernel carries a transaction's fee, time-lock and unique excess
// signature.
type Kernel struct {
	Fee        uint64
	LockHeight uint64
	Excess     Commitment
	ExcessSig  ExcessSignature
}

// Transaction is an opaque bundle of inputs, outputs and kernels.
type Transaction struct {
	Inputs  []Input
	Outputs []Output
	Kernels []Kernel
}

// Validate performs the internal-consistency checks the mempool's
// stateless validator runs before touching any pool state: at least one
// kernel, at least one input or output, and no duplicate excess
// signatures within the transaction itself.
func (t *Transaction) Validate() error {
	if len(t.Kernels) == 0 {
		return errNoKernels
	}
	if len(t.Inputs) == 0 && len(t.Outputs) == 0 {
		return errNoInputsOrOutputs
	}
	seen := make(map[SigKey]struct{}, len(t.Kernels))
	for _, k := range t.Kernels {
		key := k.ExcessSig.Key()
		if _, ok := seen[key]; ok {
			return errDuplicateKernelSignature
		}
		seen[key] = struct{}{}
	}
	return nil
}

// PrimarySigKey returns the excess signature of the transaction's first
// kernel, used as the mempool's primary key. Multi-kernel transactions
// are addressed by their first kernel, matching how a single-kernel
// transaction (the common case) is addressed.
func (t *Transaction) PrimarySigKey() SigKey {
	if len(t.Kernels) == 0 {
		return ""
	}
	return t.Kernels[0].ExcessSig.Key()
}

// TotalFee sums the fee across all kernels.
func (t *Transaction) TotalFee() uint64 {
	var total uint64
	for _, k := range t.Kernels {
		total += k.Fee
	}
	return total
}

// LockHeight returns the maximum lock-height across all of the
// transaction's kernels -- the height the transaction becomes valid at.
func (t *Transaction) LockHeight() uint64 {
	var max uint64
	for _, k := range t.Kernels {
		if k.LockHeight > max {
			max = k.LockHeight
		}
	}
	return max
}

// Weight computes the transaction's bytes-normalised weight, used both
// for the per-tx and per-pool caps and for fee-per-gram priority.
func (t *Transaction) Weight() uint64 {
	w := BaseWeight
	w += uint64(len(t.Inputs)) * WeightPerInput
	w += uint64(len(t.Outputs)) * WeightPerOutput
	w += uint64(len(t.Kernels)) * WeightPerKernel
	return w
}

// FeePerGram computes fee / weight, rounded down. Ties in priority are
// broken by insertion order at the call site, never here, since
// FeePerGram is a pure function of immutable transaction fields.
func (t *Transaction) FeePerGram() uint64 {
	w := t.Weight()
	if w == 0 {
		return 0
	}
	return t.TotalFee() / w
}

// InputCommitments returns the commitments spent by this transaction's
// inputs, used by the reorg engine's double-spend sweep.
func (t *Transaction) InputCommitments() []Commitment {
	out := make([]Commitment, len(t.Inputs))
	for i, in := range t.Inputs {
		out[i] = in.Commitment
	}
	return out
}

// OutputCommitments returns the commitments this transaction produces,
// used for zero-conf dependency detection.
func (t *Transaction) OutputCommitments() []Commitment {
	out := make([]Commitment, len(t.Outputs))
	for i, o := range t.Outputs {
		out[i] = o.Commitment
	}
	return out
}
