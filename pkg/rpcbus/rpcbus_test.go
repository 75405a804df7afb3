// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

package rpcbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallRoutesToRegisteredHandler(t *testing.T) {
	r := require.New(t)
	b := New()

	ch := make(chan Request, 1)
	b.Register("topic", ch)

	go func() {
		req := <-ch
		req.RespChan <- Response{Result: 42}
	}()

	resp, err := b.Call("topic", NewRequest(nil))
	r.NoError(err)
	r.Equal(42, resp.Result)
}

func TestCallToUnregisteredTopicReturnsError(t *testing.T) {
	r := require.New(t)
	b := New()

	_, err := b.Call("missing", NewRequest(nil))
	r.ErrorIs(err, ErrNotRegistered)
}

func TestUnregisterRemovesHandler(t *testing.T) {
	r := require.New(t)
	b := New()

	ch := make(chan Request, 1)
	b.Register("topic", ch)
	b.Unregister("topic")

	_, err := b.Call("topic", NewRequest(nil))
	r.ErrorIs(err, ErrNotRegistered)
}

func TestNewRequestCarriesParams(t *testing.T) {
	r := require.New(t)
	req := NewRequest("params")
	r.Equal("params", req.Params)
	r.NotNil(req.RespChan)
}
