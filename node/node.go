// Package node wires Archive, State, MemPool, the parent-chain Adapter
// and the P2P transport into the running sidechain node, opening one
// shared bbolt environment for the storage subsystems.
package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/l2labs/bmmnode/archive"
	"github.com/l2labs/bmmnode/internal/log"
	"github.com/l2labs/bmmnode/mempool"
	"github.com/l2labs/bmmnode/p2p"
	"github.com/l2labs/bmmnode/parentchain"
	"github.com/l2labs/bmmnode/state"
	"github.com/l2labs/bmmnode/types"
	bolt "go.etcd.io/bbolt"
)

var logger = log.Subsystem("node")

const heartbeatInterval = 1 * time.Second
const catchUpInterval = 1 * time.Second

// Node is the sidechain full node: the UTXO/archive/mempool storage
// trio, the parent-chain adapter, and the peer transport.
type Node struct {
	db          *bolt.DB
	archive     *archive.Archive
	state       *state.State
	mempool     *mempool.MemPool
	parentChain *parentchain.Adapter
	net         *p2p.Net
}

// New opens the storage environment and initializes every subsystem.
func New(cfg Config) (*Node, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("node: create datadir: %w", err)
	}
	dbPath := filepath.Join(cfg.DataDir, "data.db")
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("node: open %s: %w", dbPath, err)
	}

	arc, err := archive.Open(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	st, err := state.Open(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	mp, err := mempool.Open(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	net, err := p2p.New(cfg.BindAddr)
	if err != nil {
		db.Close()
		return nil, err
	}

	pc := parentchain.NewAdapter(cfg.ParentHost, cfg.ParentPort, cfg.ParentRPCUser, cfg.ParentRPCPass)

	return &Node{db: db, archive: arc, state: st, mempool: mp, parentChain: pc, net: net}, nil
}

// Close releases the storage environment and the p2p listener.
func (n *Node) Close() error {
	netErr := n.net.Close()
	dbErr := n.db.Close()
	if dbErr != nil {
		return dbErr
	}
	return netErr
}

// SubmitTransaction validates and admits transaction, then broadcasts
// it to every connected peer on a best-effort basis.
func (n *Node) SubmitTransaction(ctx context.Context, authorized types.AuthorizedTransaction) error {
	err := n.state.WithTx(func(tx *bolt.Tx) error {
		if _, err := n.state.ValidateTransaction(tx, authorized); err != nil {
			return err
		}
		return n.mempool.Put(tx, authorized)
	})
	if err != nil {
		return err
	}

	req := p2p.NewPushTransaction(authorized)
	for _, peer := range n.net.Peers() {
		if _, err := peer.SendRequest(ctx, req); err != nil {
			logger.Warn("broadcast push_transaction failed", "peer", peer.Key(), "err", err)
		}
	}
	return nil
}

// GetTransactions is the packing path: take up to n mempool entries,
// drop any that now collide with the running spent set or fail
// validation, and return what remains plus the aggregate fee.
func (n *Node) GetTransactions(n_ int) (included []types.AuthorizedTransaction, aggregateFee uint64, err error) {
	err = n.state.WithTx(func(tx *bolt.Tx) error {
		candidates, err := n.mempool.Take(tx, n_)
		if err != nil {
			return err
		}
		spent := make(map[types.OutPoint]struct{})
		for _, candidate := range candidates {
			collides := false
			for _, in := range candidate.Transaction.Inputs {
				if _, ok := spent[in]; ok {
					collides = true
					break
				}
			}
			txid, txidErr := candidate.Transaction.Txid()
			if txidErr != nil {
				return txidErr
			}
			if collides {
				if err := n.mempool.Delete(tx, txid); err != nil {
					return err
				}
				continue
			}
			fee, err := n.state.ValidateTransaction(tx, candidate)
			if err != nil {
				if err := n.mempool.Delete(tx, txid); err != nil {
					return err
				}
				continue
			}
			for _, in := range candidate.Transaction.Inputs {
				spent[in] = struct{}{}
			}
			included = append(included, candidate)
			aggregateFee += fee
		}
		return nil
	})
	return included, aggregateFee, err
}

// SubmitBlock applies a connected body and its accompanying two-way peg
// data, then best-effort broadcasts any newly pending withdrawal
// bundle. Nothing in this package currently calls
// State.SetPendingWithdrawalBundle, so GetPendingWithdrawalBundle here
// can only ever see a bundle if some other component reserved one
// first (see DESIGN.md).
func (n *Node) SubmitBlock(ctx context.Context, header types.Header, body types.Body) error {
	var lastDepositBlock types.Hash
	err := n.state.WithReadTx(func(tx *bolt.Tx) error {
		var err error
		lastDepositBlock, err = n.state.GetLastDepositBlock(tx)
		return err
	})
	if err != nil {
		return err
	}

	var startHash *types.Hash
	if !lastDepositBlock.IsZero() {
		startHash = &lastDepositBlock
	}
	pegData, err := n.parentChain.GetTwoWayPegData(ctx, header.PrevMainHash, startHash)
	if err != nil {
		return err
	}

	var pendingBundle *types.WithdrawalBundle
	var includedTxids []types.Txid
	err = n.state.WithTx(func(tx *bolt.Tx) error {
		if _, err := n.state.ValidateBody(tx, body); err != nil {
			return err
		}
		if err := n.state.ConnectBody(tx, body); err != nil {
			return err
		}
		if _, err := n.archive.HeightTx(tx); err != nil {
			return err
		}
		if err := n.state.ConnectTwoWayPegData(tx, pegData); err != nil {
			return err
		}
		bundle, ok, err := n.state.GetPendingWithdrawalBundle(tx)
		if err != nil {
			return err
		}
		if ok {
			pendingBundle = &bundle
		}
		if err := n.archive.AppendHeader(tx, header); err != nil {
			return err
		}
		if err := n.archive.PutBody(tx, header, body); err != nil {
			return err
		}
		for _, txn := range body.Transactions {
			txid, err := txn.Txid()
			if err != nil {
				return err
			}
			if err := n.mempool.Delete(tx, txid); err != nil {
				return err
			}
			includedTxids = append(includedTxids, txid)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if pendingBundle != nil {
		if err := n.parentChain.BroadcastWithdrawalBundle(ctx, pendingBundle.Transaction); err != nil {
			logger.Warn("withdrawal bundle broadcast failed", "err", err)
		}
	}
	return nil
}

// Connect dials addr and spawns the peer's request-listener and
// heartbeat-listener tasks.
func (n *Node) Connect(ctx context.Context, addr string) error {
	peer, err := n.net.Connect(ctx, addr)
	if err != nil {
		return err
	}
	n.spawnPeerTasks(ctx, peer)
	return nil
}

// Run spawns the node's three long-running background tasks: the
// accept loop, the heartbeat emitter, and the catch-up loop. It blocks
// until ctx is cancelled.
func (n *Node) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); n.acceptLoop(ctx) }()
	go func() { defer wg.Done(); n.heartbeatEmitter(ctx) }()
	go func() { defer wg.Done(); n.catchUpLoop(ctx) }()
	wg.Wait()
}

func (n *Node) acceptLoop(ctx context.Context) {
	for {
		peer, err := n.net.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("accept failed", "err", err)
			continue
		}
		n.spawnPeerTasks(ctx, peer)
	}
}

func (n *Node) spawnPeerTasks(ctx context.Context, peer *p2p.Peer) {
	go func() {
		if err := peer.ServeRequests(ctx, n.peerListen); err != nil {
			logger.Info("peer request listener exited", "peer", peer.Key(), "err", err)
			n.net.Remove(peer.Key())
		}
	}()
	go func() {
		if err := peer.ListenHeartbeats(ctx); err != nil {
			logger.Info("peer heartbeat listener exited", "peer", peer.Key(), "err", err)
			n.net.Remove(peer.Key())
		}
	}()
}

func (n *Node) heartbeatEmitter(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			height, err := n.archive.GetHeight()
			if err != nil {
				logger.Warn("heartbeat: get_height failed", "err", err)
				continue
			}
			state := p2p.PeerState{BlockHeight: uint32(height)}
			for _, peer := range n.net.Peers() {
				if err := peer.SendHeartbeat(state); err != nil {
					logger.Warn("heartbeat send failed", "peer", peer.Key(), "err", err)
				}
			}
		}
	}
}

func (n *Node) catchUpLoop(ctx context.Context) {
	ticker := time.NewTicker(catchUpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			localHeight, err := n.archive.GetHeight()
			if err != nil {
				logger.Warn("catch_up: get_height failed", "err", err)
				continue
			}
			for _, peer := range n.net.Peers() {
				if uint64(peer.ObservedState().BlockHeight) <= localHeight {
					continue
				}
				resp, err := peer.SendRequest(ctx, p2p.NewGetBlock(uint32(localHeight+1)))
				if err != nil {
					logger.Warn("catch_up: get_block failed", "peer", peer.Key(), "err", err)
					continue
				}
				if !resp.IsBlock() {
					continue
				}
				if err := n.SubmitBlock(ctx, resp.Header, resp.Body); err != nil {
					logger.Warn("catch_up: submit_block failed, dropping peer", "peer", peer.Key(), "err", err)
					n.net.Remove(peer.Key())
				}
			}
		}
	}
}

// peerListen answers a request arriving on a peer's bidirectional
// stream. A PushTransaction failure is propagated so ServeRequests
// tears down the connection to that peer after replying.
func (n *Node) peerListen(ctx context.Context, from *p2p.Peer, req p2p.Request) (p2p.Response, error) {
	if req.IsGetBlock() {
		header, headerOK, err := n.archive.GetHeader(uint64(req.GetBlockHeight))
		if err != nil {
			return p2p.Response{}, err
		}
		body, bodyOK, err := n.archive.GetBody(uint64(req.GetBlockHeight))
		if err != nil {
			return p2p.Response{}, err
		}
		if !headerOK || !bodyOK {
			return p2p.NewNoBlockResponse(), nil
		}
		return p2p.NewBlockResponse(header, body), nil
	}

	authorized := req.PushTransaction
	err := n.state.WithReadTx(func(tx *bolt.Tx) error {
		_, err := n.state.ValidateTransaction(tx, authorized)
		return err
	})
	if err != nil {
		return p2p.NewTransactionRejectedResponse(), err
	}

	if putErr := n.state.WithTx(func(tx *bolt.Tx) error {
		return n.mempool.Put(tx, authorized)
	}); putErr != nil {
		return p2p.NewTransactionRejectedResponse(), putErr
	}

	gossip := p2p.NewPushTransaction(authorized)
	for _, peer := range n.net.Peers() {
		if peer.Key() == from.Key() {
			continue
		}
		if _, err := peer.SendRequest(ctx, gossip); err != nil {
			logger.Warn("re-gossip push_transaction failed", "peer", peer.Key(), "err", err)
		}
	}
	return p2p.NewTransactionAcceptedResponse(), nil
}

// GetUTXOsByAddresses and GetSpentUTXOs expose the wallet/RPC query
// surface.
func (n *Node) GetUTXOsByAddresses(addresses map[types.Address]struct{}) (map[types.OutPoint]types.Output, error) {
	var out map[types.OutPoint]types.Output
	err := n.state.WithReadTx(func(tx *bolt.Tx) error {
		var err error
		out, err = n.state.GetUTXOsByAddresses(tx, addresses)
		return err
	})
	return out, err
}

func (n *Node) GetSpentUTXOs(outpoints []types.OutPoint) ([]types.OutPoint, error) {
	var out []types.OutPoint
	err := n.state.WithReadTx(func(tx *bolt.Tx) error {
		var err error
		out, err = n.state.GetSpentUTXOs(tx, outpoints)
		return err
	})
	return out, err
}

// GetChainHeight and GetBestHash expose the remaining read-only RPC
// surface.
func (n *Node) GetChainHeight() (uint64, error) { return n.archive.GetHeight() }

func (n *Node) GetBestHash() (types.BlockHash, error) { return n.archive.GetBestHash() }
