// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

package mempool

// StorageResponse reports where (if anywhere) a transaction ended up.
// It is always caller-visible, never logged as an error -- validation
// outcomes are data, not failures.
type StorageResponse int

const (
	// NotStored means the transaction was rejected and nothing was
	// mutated.
	NotStored StorageResponse = iota
	// UnconfirmedPool means the transaction is present in the
	// Unconfirmed pool.
	UnconfirmedPool
	// ReorgPool means the transaction is present in the Reorg pool.
	ReorgPool
	// NotStoredOrphan means at least one input is neither an unspent
	// chain UTXO nor an output of an already-Unconfirmed transaction.
	NotStoredOrphan
	// NotStoredTimeLocked means the transaction's kernel lock-height
	// exceeds the height of the next block (current tip height + 1).
	NotStoredTimeLocked
	// NotStoredAlreadySpent means an input is already spent, either by
	// another Unconfirmed entry (mempool-level double spend) or on the
	// chain itself.
	NotStoredAlreadySpent
	// NotStoredConsensus means the transaction fails a consensus-level
	// rule (e.g. it is individually too large to ever fit in a block).
	NotStoredConsensus
)

func (r StorageResponse) String() string {
	switch r {
	case NotStored:
		return "NotStored"
	case UnconfirmedPool:
		return "UnconfirmedPool"
	case ReorgPool:
		return "ReorgPool"
	case NotStoredOrphan:
		return "NotStoredOrphan"
	case NotStoredTimeLocked:
		return "NotStoredTimeLocked"
	case NotStoredAlreadySpent:
		return "NotStoredAlreadySpent"
	case NotStoredConsensus:
		return "NotStoredConsensus"
	default:
		return "Unknown"
	}
}
