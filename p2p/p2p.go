// Package p2p implements the encrypted, datagram-capable peer transport
// atop github.com/quic-go/quic-go: a server/client endpoint pair and a
// peer registry. Self-signed certificates are acceptable because peer
// identity is never used for authorization at this layer; client-side
// verification is disabled (see cert.go), which is MITM-vulnerable by
// design (see DESIGN.md).
package p2p

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/l2labs/bmmnode/internal/log"
	"github.com/l2labs/bmmnode/types"
	"github.com/quic-go/quic-go"
)

var logger = log.Subsystem("p2p")

// Net is the node's P2P endpoint pair plus its peer registry.
type Net struct {
	listener   *quic.Listener
	clientTLS  *tls.Config
	quicConfig *quic.Config

	mu    sync.RWMutex
	peers map[string]*Peer
}

func New(bindAddr string) (*Net, error) {
	serverConf, err := serverTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("p2p: server tls config: %w", err)
	}
	quicConfig := &quic.Config{EnableDatagrams: true}
	listener, err := quic.ListenAddr(bindAddr, serverConf, quicConfig)
	if err != nil {
		return nil, fmt.Errorf("p2p: listen %s: %w", bindAddr, err)
	}
	return &Net{
		listener:   listener,
		clientTLS:  clientTLSConfig(),
		quicConfig: quicConfig,
		peers:      make(map[string]*Peer),
	}, nil
}

// Addr returns the local listening address.
func (n *Net) Addr() string { return n.listener.Addr().String() }

// Connect dials addr and registers the resulting peer under its remote
// address.
func (n *Net) Connect(ctx context.Context, addr string) (*Peer, error) {
	conn, err := quic.DialAddr(ctx, addr, n.clientTLS, n.quicConfig)
	if err != nil {
		return nil, fmt.Errorf("p2p: dial %s: %w", addr, err)
	}
	return n.register(conn)
}

// Accept waits for the next incoming connection, refusing (closing) it
// if a peer with the same remote address is already registered.
func (n *Net) Accept(ctx context.Context) (*Peer, error) {
	conn, err := n.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	peer, err := n.register(conn)
	if err != nil {
		conn.CloseWithError(0, "peer already registered")
		return nil, err
	}
	return peer, nil
}

func (n *Net) register(conn quic.Connection) (*Peer, error) {
	key := conn.RemoteAddr().String()
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.peers[key]; ok {
		return nil, &Error{Code: ErrCodePeerAlreadyPresent, Addr: key}
	}
	peer := &Peer{conn: conn, key: key}
	n.peers[key] = peer
	logger.Info("peer registered", "addr", key)
	return peer, nil
}

// Remove drops a peer from the registry.
func (n *Net) Remove(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.peers[key]; ok {
		delete(n.peers, key)
		logger.Info("peer removed", "addr", key)
	}
}

// Peers returns a snapshot of the currently registered peers.
func (n *Net) Peers() []*Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	return out
}

// Close shuts down the listener. Registered peer connections are not
// closed by this call; callers should close peers individually.
func (n *Net) Close() error { return n.listener.Close() }

// Peer is one registered connection, request/response stream plus
// datagram heartbeat channel.
type Peer struct {
	conn quic.Connection
	key  string

	mu            sync.RWMutex
	observedState PeerState
}

// Key is the stable connection identifier this peer is registered
// under (its remote address).
func (p *Peer) Key() string { return p.key }

// ObservedState returns the last heartbeat's reported state.
func (p *Peer) ObservedState() PeerState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.observedState
}

func (p *Peer) setObservedState(s PeerState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observedState = s
}

// SendRequest opens a bidirectional stream, writes req, finishes the
// send side, and waits for the peer's Response: one bidirectional
// stream per RPC, terminated by sender finish.
func (p *Peer) SendRequest(ctx context.Context, req Request) (Response, error) {
	stream, err := p.conn.OpenStreamSync(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("p2p: open stream to %s: %w", p.key, err)
	}
	defer stream.Close()

	payload, err := types.Encode(req)
	if err != nil {
		return Response{}, err
	}
	if err := writeFrame(stream, payload); err != nil {
		return Response{}, err
	}
	if err := stream.Close(); err != nil {
		return Response{}, err
	}

	respBytes, err := readFrame(stream)
	if err != nil {
		return Response{}, err
	}
	resp, err := DecodeResponse(types.NewDecoder(respBytes))
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

// RequestHandler answers a Request on the per-peer request listener.
// Returning a non-nil error tears down the connection to this peer
// after the response (if any) is sent.
type RequestHandler func(ctx context.Context, from *Peer, req Request) (Response, error)

// ServeRequests accepts bidirectional streams from p until ctx is
// cancelled or a stream read/write fails, dispatching each to handler.
func (p *Peer) ServeRequests(ctx context.Context, handler RequestHandler) error {
	for {
		stream, err := p.conn.AcceptStream(ctx)
		if err != nil {
			return err
		}
		reqBytes, err := readFrame(stream)
		if err != nil {
			stream.Close()
			return err
		}
		req, err := DecodeRequest(types.NewDecoder(reqBytes))
		if err != nil {
			stream.Close()
			return err
		}
		resp, handlerErr := handler(ctx, p, req)
		respBytes, encErr := types.Encode(resp)
		if encErr != nil {
			stream.Close()
			return encErr
		}
		if err := writeFrame(stream, respBytes); err != nil {
			stream.Close()
			return err
		}
		if err := stream.Close(); err != nil {
			return err
		}
		if handlerErr != nil {
			return handlerErr
		}
	}
}

// SendHeartbeat fire-and-forgets a PeerState datagram; loss is
// tolerable.
func (p *Peer) SendHeartbeat(state PeerState) error {
	payload, err := types.Encode(state)
	if err != nil {
		return err
	}
	return p.conn.SendDatagram(payload)
}

// ListenHeartbeats reads datagrams from p until ctx is cancelled or a
// read/decode fails, updating p's observed state as they arrive.
func (p *Peer) ListenHeartbeats(ctx context.Context) error {
	for {
		payload, err := p.conn.ReceiveDatagram(ctx)
		if err != nil {
			return err
		}
		state, err := DecodePeerState(types.NewDecoder(payload))
		if err != nil {
			return err
		}
		p.setObservedState(state)
	}
}

// writeFrame writes a length-prefixed (uint32 LE) frame, enforcing
// READ_LIMIT on the sending side too so a misbehaving local caller
// cannot desync the wire.
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > READ_LIMIT {
		return &Error{Code: ErrCodeReadLimitExceeded}
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads a length-prefixed frame, closing the connection (by
// returning an Error) if the declared length exceeds READ_LIMIT.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > READ_LIMIT {
		return nil, &Error{Code: ErrCodeReadLimitExceeded}
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
