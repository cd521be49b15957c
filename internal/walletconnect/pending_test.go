package walletconnect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestPendingResolveOnce(t *testing.T) {
	p := newPendingRequests()
	req, err := p.add(1, methodPersonalSign, nil)
	require.NoError(t, err)

	resp := parseResponse(gjson.Parse(`{"id":1,"jsonrpc":"2.0","result":"0x01"}`))
	assert.True(t, p.resolve(resp))
	assert.False(t, p.resolve(resp))

	out := <-req.slot
	require.NoError(t, out.err)
	assert.Equal(t, "0x01", out.resp.result.String())
	assert.Zero(t, p.len())
}

func TestPendingUnknownID(t *testing.T) {
	p := newPendingRequests()
	_, err := p.add(1, methodPersonalSign, nil)
	require.NoError(t, err)
	assert.False(t, p.resolve(&response{id: 2}))
	assert.Equal(t, 1, p.len())
}

func TestPendingApplyRunsBeforeResolve(t *testing.T) {
	p := newPendingRequests()
	req, err := p.add(7, methodSessionRequest, func(r *response) error {
		r.rejected = true
		return ErrSigningRejected
	})
	require.NoError(t, err)

	p.resolve(&response{id: 7})
	out := <-req.slot
	assert.True(t, out.resp.rejected)
	assert.ErrorIs(t, out.err, ErrSigningRejected)
}

func TestPendingFailAllAndClose(t *testing.T) {
	p := newPendingRequests()
	a, _ := p.add(1, methodPersonalSign, nil)
	b, _ := p.add(2, methodSendTransaction, nil)

	assert.Equal(t, 2, p.failAll(ErrRelay))
	assert.ErrorIs(t, (<-a.slot).err, ErrRelay)
	assert.ErrorIs(t, (<-b.slot).err, ErrRelay)

	c, err := p.add(3, methodPersonalSign, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, p.close(ErrCancelled))
	assert.ErrorIs(t, (<-c.slot).err, ErrCancelled)

	_, err = p.add(4, methodPersonalSign, nil)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Zero(t, p.close(ErrRelay))
}

func TestPendingRemove(t *testing.T) {
	p := newPendingRequests()
	_, _ = p.add(1, methodPersonalSign, nil)
	p.remove(1)
	p.remove(1)
	assert.Zero(t, p.len())
	assert.False(t, p.resolve(&response{id: 1}))
}

func TestParseResponse(t *testing.T) {
	r := parseResponse(gjson.Parse(`{"id":5,"jsonrpc":"2.0","error":{"code":-32000,"message":"User rejected"}}`))
	assert.EqualValues(t, 5, r.id)
	assert.True(t, r.failed())
	assert.EqualValues(t, -32000, r.errCode)
	assert.Equal(t, "User rejected", r.errMsg)

	r = parseResponse(gjson.Parse(`{"id":6,"jsonrpc":"2.0","result":"0x","error":null}`))
	assert.False(t, r.failed())
}

func TestPayloadIDIncreases(t *testing.T) {
	last := payloadID()
	for i := 0; i < 1000; i++ {
		id := payloadID()
		require.Greater(t, id, last)
		require.Less(t, id, int64(1)<<53)
		last = id
	}
}

func TestSilentPayload(t *testing.T) {
	assert.True(t, newJSONRpcRequest(methodSessionRequest).IsSilentPayload())
	assert.True(t, newJSONRpcRequest(methodSessionUpdate).IsSilentPayload())
	assert.False(t, newJSONRpcRequest(methodPersonalSign).IsSilentPayload())
	assert.JSONEq(t, `[]`, gjson.Get(newJSONRpcRequest(methodSessionRequest).Marshal(), "params").Raw)
}
