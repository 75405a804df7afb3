// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

package txtypes

import "errors"

var (
	errInvalidCommitmentLength   = errors.New("txtypes: commitment must be 32 bytes")
	errInvalidCommitmentEncoding = errors.New("txtypes: commitment is not a valid ristretto point")
	errInvalidSignatureLength    = errors.New("txtypes: excess signature must be 64 bytes")
	errInvalidSignatureEncoding  = errors.New("txtypes: excess signature is not a valid ristretto encoding")
	errNoKernels                 = errors.New("txtypes: transaction has no kernels")
	errNoInputsOrOutputs         = errors.New("txtypes: transaction has no inputs or outputs")
	errDuplicateKernelSignature  = errors.New("txtypes: duplicate kernel excess signature within transaction")
)
