package parentchain

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/l2labs/bmmnode/internal/log"
	"github.com/l2labs/bmmnode/types"
)

var logger = log.Subsystem("parentchain")

// thisSidechain is the sidechain slot number this node occupies on the
// parent chain.
const thisSidechain = 0

// Adapter is the parent-chain adapter. Only one BMM attempt may be in
// flight at a time; attempts are serialized under mu, which also
// guards the candidate buffer.
type Adapter struct {
	client *Client

	mu        sync.Mutex
	candidate *pendingBlock
}

type pendingBlock struct {
	header types.Header
	body   types.Body
}

// NewAdapter builds an Adapter talking to the parent chain's RPC
// interface at host:port.
func NewAdapter(host string, port uint16, user, password string) *Adapter {
	return &Adapter{client: NewClient(host, port, user, password)}
}

// AttemptBMM submits a BMM critical-data transaction committing to
// header.Hash(), then buffers (header, body) as the in-flight
// candidate. Fails ErrCodeBMMAttemptInFlight if a candidate is already
// buffered.
func (a *Adapter) AttemptBMM(ctx context.Context, amountSats uint64, height uint32, header types.Header, body types.Body) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.candidate != nil {
		return &Error{Code: ErrCodeBMMAttemptInFlight}
	}

	root, err := body.ComputeMerkleRoot()
	if err != nil {
		return err
	}
	if root != header.MerkleRoot {
		return fmt.Errorf("parentchain: attempt_bmm: body's merkle root does not match header's")
	}
	hash, err := header.Hash()
	if err != nil {
		return err
	}
	prevMainHex := header.PrevMainHash.String()
	prevBytes := prevMainHex
	if len(prevBytes) > 8 {
		prevBytes = prevBytes[len(prevBytes)-8:]
	}

	amountBTC := float64(amountSats) / 1e8
	var result map[string]any
	err = a.client.Call(ctx, "createbmmcriticaldatatx", []any{
		amountBTC, height, hash.String(), thisSidechain, prevBytes,
	}, &result)
	if err != nil {
		return err
	}

	a.candidate = &pendingBlock{header: header, body: body}
	logger.Info("attempted bmm", "height", height, "hash", hash)
	return nil
}

// ConfirmBMM returns and clears the in-flight candidate once the parent
// chain verifies it as merge-mined. With no candidate buffered, ok is
// false. When verification fails, including when the parent block after
// PrevMainHash does not exist yet, the error is returned instead of
// ok=false and the candidate stays buffered.
func (a *Adapter) ConfirmBMM(ctx context.Context) (header types.Header, body types.Body, ok bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.candidate == nil {
		return types.Header{}, types.Body{}, false, nil
	}
	if err := a.verifyBMM(ctx, a.candidate.header); err != nil {
		return types.Header{}, types.Body{}, false, err
	}
	header, body = a.candidate.header, a.candidate.body
	a.candidate = nil
	return header, body, true, nil
}

// VerifyBMM cross-checks that header is committed in the parent block
// after header.PrevMainHash.
func (a *Adapter) VerifyBMM(ctx context.Context, header types.Header) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.verifyBMM(ctx, header)
}

func (a *Adapter) verifyBMM(ctx context.Context, header types.Header) error {
	var block rpcBlock
	if err := a.client.Call(ctx, "getblock", []any{header.PrevMainHash.String(), 1}, &block); err != nil {
		return err
	}
	if block.NextBlockHash == "" {
		return &Error{Code: ErrCodeNoNextBlock, PrevMainHash: header.PrevMainHash}
	}
	hash, err := header.Hash()
	if err != nil {
		return err
	}
	var result map[string]any
	return a.client.Call(ctx, "verifybmm", []any{block.NextBlockHash, hash.String(), thisSidechain}, &result)
}

// GetMainchainTip returns the parent chain's current best block hash.
func (a *Adapter) GetMainchainTip(ctx context.Context) (types.Hash, error) {
	var hashHex string
	if err := a.client.Call(ctx, "getbestblockhash", nil, &hashHex); err != nil {
		return types.Hash{}, err
	}
	return parseHash(hashHex)
}

// GetTwoWayPegData combines deposit and withdrawal-bundle-status
// lookups into one TwoWayPegData.
func (a *Adapter) GetTwoWayPegData(ctx context.Context, end types.Hash, start *types.Hash) (types.TwoWayPegData, error) {
	deposits, depositBlockHash, err := a.getDepositOutputs(ctx, end, start)
	if err != nil {
		return types.TwoWayPegData{}, err
	}
	statuses, err := a.getWithdrawalBundleStatuses(ctx)
	if err != nil {
		return types.TwoWayPegData{}, err
	}
	return types.TwoWayPegData{
		Deposits:         deposits,
		DepositBlockHash: depositBlockHash,
		BundleStatuses:   statuses,
	}, nil
}

// rpcDeposit assumes the parent chain reports deposit value directly in
// satoshis rather than requiring the caller to parse a raw transaction
// to recover it; full parent-chain transaction parsing is outside this
// core's scope (see DESIGN.md).
type rpcDeposit struct {
	HashBlock  string `json:"hashblock"`
	Txid       string `json:"txid"`
	NBurnIndex uint32 `json:"nburnindex"`
	Value      uint64 `json:"value"`
	StrDest    string `json:"strdest"`
}

func (a *Adapter) getDepositOutputs(ctx context.Context, end types.Hash, start *types.Hash) (map[types.OutPoint]types.Output, types.Hash, error) {
	var startParam any
	if start != nil {
		startParam = start.String()
	}
	var deposits []rpcDeposit
	if err := a.client.Call(ctx, "listsidechaindepositsbyblock", []any{thisSidechain, end.String(), startParam}, &deposits); err != nil {
		return nil, types.Hash{}, err
	}
	outputs := make(map[types.OutPoint]types.Output, len(deposits))
	var lastBlockHash types.Hash
	for _, d := range deposits {
		txid, err := parseHash(d.Txid)
		if err != nil {
			return nil, types.Hash{}, err
		}
		blockHash, err := parseHash(d.HashBlock)
		if err != nil {
			return nil, types.Hash{}, err
		}
		addr, err := types.ParseAddress(d.StrDest)
		if err != nil {
			return nil, types.Hash{}, fmt.Errorf("parentchain: deposit destination %q: %w", d.StrDest, err)
		}
		outpoint := types.DepositOutPoint(types.ParentOutPoint{Txid: txid, Vout: d.NBurnIndex})
		outputs[outpoint] = types.Output{Address: addr, Content: types.ValueContent(d.Value)}
		lastBlockHash = blockHash
	}
	return outputs, lastBlockHash, nil
}

type rpcSpentWithdrawal struct {
	NSideChain int    `json:"nsidechain"`
	Hash       string `json:"hash"`
}

type rpcFailedWithdrawal struct {
	NSideChain int    `json:"nsidechain"`
	Hash       string `json:"hash"`
}

// getWithdrawalBundleStatuses keys each status by the hash the parent
// chain itself reports for the withdrawal transaction. State looks up
// its pending bundle by a local hash of the raw transaction bytes
// instead, so a status reported here only reaches the pending bundle
// if both sides happen to hash the same bytes the same way.
func (a *Adapter) getWithdrawalBundleStatuses(ctx context.Context) (map[types.Hash]types.WithdrawalBundleStatus, error) {
	statuses := make(map[types.Hash]types.WithdrawalBundleStatus)

	var spent []rpcSpentWithdrawal
	if err := a.client.Call(ctx, "listspentwithdrawals", nil, &spent); err != nil {
		return nil, err
	}
	for _, s := range spent {
		if s.NSideChain != thisSidechain {
			continue
		}
		h, err := parseHash(s.Hash)
		if err != nil {
			return nil, err
		}
		statuses[h] = types.WithdrawalBundleConfirmed
	}

	var failed []rpcFailedWithdrawal
	if err := a.client.Call(ctx, "listfailedwithdrawals", nil, &failed); err != nil {
		return nil, err
	}
	for _, f := range failed {
		h, err := parseHash(f.Hash)
		if err != nil {
			return nil, err
		}
		statuses[h] = types.WithdrawalBundleFailed
	}
	return statuses, nil
}

// BroadcastWithdrawalBundle hex-encodes rawTx (the parent-chain
// canonical transaction bytes) and submits it to the parent chain.
func (a *Adapter) BroadcastWithdrawalBundle(ctx context.Context, rawTx []byte) error {
	var result map[string]any
	return a.client.Call(ctx, "receivewithdrawalbundle", []any{thisSidechain, hex.EncodeToString(rawTx)}, &result)
}

type rpcBlock struct {
	NextBlockHash string `json:"nextblockhash"`
}

func parseHash(s string) (types.Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return types.Hash{}, fmt.Errorf("parentchain: invalid hash %q: %w", s, err)
	}
	if len(b) != types.HashSize {
		return types.Hash{}, fmt.Errorf("parentchain: hash %q has %d bytes, want %d", s, len(b), types.HashSize)
	}
	var h types.Hash
	copy(h[:], b)
	return h, nil
}
