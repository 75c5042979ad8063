package parentchain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/l2labs/bmmnode/auth"
	"github.com/l2labs/bmmnode/types"
	"github.com/stretchr/testify/require"
)

type fakeParentChain struct {
	t          *testing.T
	responses  map[string]any
	lastParams map[string][]any
}

func newFakeParentChain(t *testing.T) *fakeParentChain {
	return &fakeParentChain{t: t, responses: map[string]any{}, lastParams: map[string][]any{}}
}

func (f *fakeParentChain) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.lastParams[req.Method] = req.Params
		result, ok := f.responses[req.Method]
		if !ok {
			result = map[string]any{}
		}
		resp := rpcResponse{}
		b, err := json.Marshal(result)
		require.NoError(f.t, err)
		resp.Result = b
		require.NoError(f.t, json.NewEncoder(w).Encode(resp))
	}
}

func newAdapterAgainst(t *testing.T, f *fakeParentChain) *Adapter {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return NewAdapter(u.Hostname(), uint16(port), "user", "pass")
}

func TestAttemptBMMBuffersCandidate(t *testing.T) {
	f := newFakeParentChain(t)
	f.responses["createbmmcriticaldatatx"] = map[string]any{"txid": map[string]any{"txid": "abc"}}
	a := newAdapterAgainst(t, f)

	body := types.Body{Coinbase: []types.Output{{Content: types.ValueContent(1)}}}
	root, err := body.ComputeMerkleRoot()
	require.NoError(t, err)
	header := types.Header{MerkleRoot: root}

	err = a.AttemptBMM(context.Background(), 1000, 1, header, body)
	require.NoError(t, err)

	err = a.AttemptBMM(context.Background(), 1000, 1, header, body)
	require.Error(t, err)
	var adapterErr *Error
	require.ErrorAs(t, err, &adapterErr)
	require.Equal(t, ErrCodeBMMAttemptInFlight, adapterErr.Code)
}

func TestConfirmBMMReturnsAndClearsCandidate(t *testing.T) {
	f := newFakeParentChain(t)
	f.responses["createbmmcriticaldatatx"] = map[string]any{"txid": map[string]any{"txid": "abc"}}
	nextHash := hex.EncodeToString(types.Hash{0x02}.Bytes())
	f.responses["getblock"] = map[string]any{"nextblockhash": nextHash}
	f.responses["verifybmm"] = map[string]any{}
	a := newAdapterAgainst(t, f)

	body := types.Body{Coinbase: []types.Output{{Content: types.ValueContent(1)}}}
	root, err := body.ComputeMerkleRoot()
	require.NoError(t, err)
	header := types.Header{MerkleRoot: root, PrevMainHash: types.Hash{0x01}}

	require.NoError(t, a.AttemptBMM(context.Background(), 1000, 1, header, body))

	gotHeader, gotBody, ok, err := a.ConfirmBMM(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, header, gotHeader)
	require.Equal(t, body, gotBody)

	_, _, ok, err = a.ConfirmBMM(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyBMMFailsWithoutNextBlock(t *testing.T) {
	f := newFakeParentChain(t)
	f.responses["getblock"] = map[string]any{"nextblockhash": ""}
	a := newAdapterAgainst(t, f)

	header := types.Header{PrevMainHash: types.Hash{0x03}}
	err := a.VerifyBMM(context.Background(), header)
	require.Error(t, err)
	var adapterErr *Error
	require.ErrorAs(t, err, &adapterErr)
	require.Equal(t, ErrCodeNoNextBlock, adapterErr.Code)
}

func TestGetTwoWayPegDataCombinesDepositsAndStatuses(t *testing.T) {
	f := newFakeParentChain(t)
	kp, err := auth.GenerateKeyPair()
	require.NoError(t, err)
	addr := auth.Address(kp.Public)
	depositTxid := hex.EncodeToString(types.Hash{0x11}.Bytes())
	depositBlock := hex.EncodeToString(types.Hash{0x22}.Bytes())
	f.responses["listsidechaindepositsbyblock"] = []map[string]any{
		{"hashblock": depositBlock, "txid": depositTxid, "nburnindex": 0, "value": 100, "strdest": addr.String()},
	}
	spentTxid := hex.EncodeToString(types.Hash{0x33}.Bytes())
	f.responses["listspentwithdrawals"] = []map[string]any{
		{"nsidechain": 0, "hash": spentTxid},
	}
	f.responses["listfailedwithdrawals"] = []map[string]any{}
	a := newAdapterAgainst(t, f)

	data, err := a.GetTwoWayPegData(context.Background(), types.Hash{0x22}, nil)
	require.NoError(t, err)
	require.Len(t, data.Deposits, 1)
	for _, out := range data.Deposits {
		require.Equal(t, uint64(100), out.GetValue())
		require.Equal(t, addr, out.Address)
	}
	require.Equal(t, types.Hash{0x22}, data.DepositBlockHash)
	spentHash, err := parseHash(spentTxid)
	require.NoError(t, err)
	require.Equal(t, types.WithdrawalBundleConfirmed, data.BundleStatuses[spentHash])
}

func TestBroadcastWithdrawalBundleHexEncodes(t *testing.T) {
	f := newFakeParentChain(t)
	f.responses["receivewithdrawalbundle"] = map[string]any{}
	a := newAdapterAgainst(t, f)

	require.NoError(t, a.BroadcastWithdrawalBundle(context.Background(), []byte{0xde, 0xad, 0xbe, 0xef}))
	params := f.lastParams["receivewithdrawalbundle"]
	require.Len(t, params, 2)
	require.Equal(t, "deadbeef", params[1])
}
