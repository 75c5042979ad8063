package p2p

import (
	"fmt"

	"github.com/l2labs/bmmnode/types"
)

// READ_LIMIT bounds any single request or response frame; heartbeat
// datagrams are not checked against it. Exceeding it is a protocol
// violation and closes the connection.
const READ_LIMIT = 1 << 20

const (
	tagGetBlock uint8 = iota
	tagPushTransaction
)

const (
	tagBlock uint8 = iota
	tagNoBlock
	tagTransactionAccepted
	tagTransactionRejected
)

// Request is the sum type carried on a peer's bidirectional request
// stream: GetBlock | PushTransaction.
type Request struct {
	tag             uint8
	GetBlockHeight  uint32
	PushTransaction types.AuthorizedTransaction
}

func NewGetBlock(height uint32) Request {
	return Request{tag: tagGetBlock, GetBlockHeight: height}
}

func NewPushTransaction(tx types.AuthorizedTransaction) Request {
	return Request{tag: tagPushTransaction, PushTransaction: tx}
}

func (r Request) IsGetBlock() bool        { return r.tag == tagGetBlock }
func (r Request) IsPushTransaction() bool { return r.tag == tagPushTransaction }

func (r Request) EncodeTo(e *types.Encoder) error {
	e.WriteByte(r.tag)
	switch r.tag {
	case tagGetBlock:
		e.WriteUint32(r.GetBlockHeight)
		return nil
	case tagPushTransaction:
		return r.PushTransaction.EncodeTo(e)
	default:
		return fmt.Errorf("p2p: unknown request tag %d", r.tag)
	}
}

func DecodeRequest(d *types.Decoder) (Request, error) {
	tag, err := d.ReadByte()
	if err != nil {
		return Request{}, err
	}
	switch tag {
	case tagGetBlock:
		height, err := d.ReadUint32()
		if err != nil {
			return Request{}, err
		}
		return Request{tag: tag, GetBlockHeight: height}, nil
	case tagPushTransaction:
		tx, err := types.DecodeAuthorizedTransaction(d)
		if err != nil {
			return Request{}, err
		}
		return Request{tag: tag, PushTransaction: tx}, nil
	default:
		return Request{}, fmt.Errorf("p2p: unknown request tag %d", tag)
	}
}

// Response is the sum type carried back on the same stream: Block |
// NoBlock | TransactionAccepted | TransactionRejected.
type Response struct {
	tag    uint8
	Header types.Header
	Body   types.Body
}

func NewBlockResponse(header types.Header, body types.Body) Response {
	return Response{tag: tagBlock, Header: header, Body: body}
}

func NewNoBlockResponse() Response            { return Response{tag: tagNoBlock} }
func NewTransactionAcceptedResponse() Response { return Response{tag: tagTransactionAccepted} }
func NewTransactionRejectedResponse() Response { return Response{tag: tagTransactionRejected} }

func (r Response) IsBlock() bool               { return r.tag == tagBlock }
func (r Response) IsNoBlock() bool             { return r.tag == tagNoBlock }
func (r Response) IsTransactionAccepted() bool { return r.tag == tagTransactionAccepted }
func (r Response) IsTransactionRejected() bool { return r.tag == tagTransactionRejected }

func (r Response) EncodeTo(e *types.Encoder) error {
	e.WriteByte(r.tag)
	switch r.tag {
	case tagBlock:
		if err := r.Header.EncodeTo(e); err != nil {
			return err
		}
		return r.Body.EncodeTo(e)
	case tagNoBlock, tagTransactionAccepted, tagTransactionRejected:
		return nil
	default:
		return fmt.Errorf("p2p: unknown response tag %d", r.tag)
	}
}

func DecodeResponse(d *types.Decoder) (Response, error) {
	tag, err := d.ReadByte()
	if err != nil {
		return Response{}, err
	}
	switch tag {
	case tagBlock:
		header, err := types.DecodeHeader(d)
		if err != nil {
			return Response{}, err
		}
		body, err := types.DecodeBody(d)
		if err != nil {
			return Response{}, err
		}
		return Response{tag: tag, Header: header, Body: body}, nil
	case tagNoBlock, tagTransactionAccepted, tagTransactionRejected:
		return Response{tag: tag}, nil
	default:
		return Response{}, fmt.Errorf("p2p: unknown response tag %d", tag)
	}
}

// PeerState is the datagram heartbeat payload.
type PeerState struct {
	BlockHeight uint32
}

func (s PeerState) EncodeTo(e *types.Encoder) error {
	e.WriteUint32(s.BlockHeight)
	return nil
}

func DecodePeerState(d *types.Decoder) (PeerState, error) {
	height, err := d.ReadUint32()
	if err != nil {
		return PeerState{}, err
	}
	return PeerState{BlockHeight: height}, nil
}
