package p2p

import (
	"bytes"
	"testing"

	"github.com/l2labs/bmmnode/auth"
	"github.com/l2labs/bmmnode/types"
	"github.com/stretchr/testify/require"
)

func mkAuthorizedTx(t *testing.T) types.AuthorizedTransaction {
	t.Helper()
	kp, err := auth.GenerateKeyPair()
	require.NoError(t, err)
	tx := types.Transaction{Inputs: []types.OutPoint{types.RegularOutPoint(types.Hash{1}, 0)}}
	at, err := auth.SignAll(tx, []auth.KeyPair{kp})
	require.NoError(t, err)
	return at
}

func TestRequestRoundTrip(t *testing.T) {
	at := mkAuthorizedTx(t)
	for _, req := range []Request{NewGetBlock(7), NewPushTransaction(at)} {
		b, err := types.Encode(req)
		require.NoError(t, err)
		got, err := DecodeRequest(types.NewDecoder(b))
		require.NoError(t, err)
		require.Equal(t, req, got)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	body := types.Body{Coinbase: []types.Output{{Content: types.ValueContent(1)}}}
	root, err := body.ComputeMerkleRoot()
	require.NoError(t, err)
	header := types.Header{MerkleRoot: root}

	cases := []Response{
		NewBlockResponse(header, body),
		NewNoBlockResponse(),
		NewTransactionAcceptedResponse(),
		NewTransactionRejectedResponse(),
	}
	for _, resp := range cases {
		b, err := types.Encode(resp)
		require.NoError(t, err)
		got, err := DecodeResponse(types.NewDecoder(b))
		require.NoError(t, err)
		require.Equal(t, resp, got)
	}
}

func TestPeerStateRoundTrip(t *testing.T) {
	s := PeerState{BlockHeight: 42}
	b, err := types.Encode(s)
	require.NoError(t, err)
	got, err := DecodePeerState(types.NewDecoder(b))
	require.NoError(t, err)
	require.Equal(t, s, got)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, []byte("hello")))
	got, err := readFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	err := writeFrame(&buf, make([]byte, READ_LIMIT+1))
	require.Error(t, err)
	var p2pErr *Error
	require.ErrorAs(t, err, &p2pErr)
	require.Equal(t, ErrCodeReadLimitExceeded, p2pErr.Code)
}

func TestReadFrameRejectsOversizedDeclaredLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0xff}) // little-endian uint32 = 0xff000000
	_, err := readFrame(&buf)
	require.Error(t, err)
	var p2pErr *Error
	require.ErrorAs(t, err, &p2pErr)
	require.Equal(t, ErrCodeReadLimitExceeded, p2pErr.Code)
}
