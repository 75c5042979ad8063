package types

import "fmt"

// OutPointKind tags which of the three OutPoint constructions below
// identifies a UTXO's origin.
type OutPointKind uint8

const (
	OutPointRegular  OutPointKind = 0
	OutPointCoinbase OutPointKind = 1
	OutPointDeposit  OutPointKind = 2
)

// ParentOutPoint identifies an output on the parent chain this
// sidechain pegs against, used only as a comparable key for Deposit
// outpoints.
type ParentOutPoint struct {
	Txid Hash
	Vout uint32
}

func (p ParentOutPoint) String() string { return fmt.Sprintf("%s:%d", p.Txid, p.Vout) }

// OutPoint identifies the origin of a UTXO. It is a tagged union over
// three constructions:
//
//   - Regular{txid, vout}: produced by a transaction output.
//   - Coinbase{merkle_root, vout}: produced by a block's coinbase list,
//     keyed by the body's Merkle root so coinbase outpoints are fixed at
//     block-commitment time rather than depending on a nonexistent
//     coinbase txid.
//   - Deposit(parent_outpoint): produced by parsing a parent-chain
//     deposit.
//
// OutPoint is a flat, fully comparable struct (no pointers or slices) so
// it can key a Go map directly.
type OutPoint struct {
	Kind       OutPointKind
	Txid       Txid       // valid iff Kind == OutPointRegular
	MerkleRoot MerkleRoot // valid iff Kind == OutPointCoinbase
	Vout       uint32     // valid iff Kind == OutPointRegular or OutPointCoinbase
	Parent     ParentOutPoint
}

func RegularOutPoint(txid Txid, vout uint32) OutPoint {
	return OutPoint{Kind: OutPointRegular, Txid: txid, Vout: vout}
}

func CoinbaseOutPoint(root MerkleRoot, vout uint32) OutPoint {
	return OutPoint{Kind: OutPointCoinbase, MerkleRoot: root, Vout: vout}
}

func DepositOutPoint(parent ParentOutPoint) OutPoint {
	return OutPoint{Kind: OutPointDeposit, Parent: parent}
}

func (o OutPoint) String() string {
	switch o.Kind {
	case OutPointRegular:
		return fmt.Sprintf("regular %s %d", o.Txid, o.Vout)
	case OutPointCoinbase:
		return fmt.Sprintf("coinbase %s %d", o.MerkleRoot, o.Vout)
	case OutPointDeposit:
		return fmt.Sprintf("deposit %s", o.Parent)
	default:
		return "outpoint(invalid)"
	}
}

func (o OutPoint) EncodeTo(e *Encoder) error {
	e.WriteByte(byte(o.Kind))
	switch o.Kind {
	case OutPointRegular:
		e.WriteHash(o.Txid)
		e.WriteUint32(o.Vout)
	case OutPointCoinbase:
		e.WriteHash(o.MerkleRoot)
		e.WriteUint32(o.Vout)
	case OutPointDeposit:
		e.WriteHash(o.Parent.Txid)
		e.WriteUint32(o.Parent.Vout)
	default:
		return fmt.Errorf("outpoint: invalid kind %d", o.Kind)
	}
	return nil
}

func DecodeOutPoint(d *Decoder) (OutPoint, error) {
	kindByte, err := d.ReadByte()
	if err != nil {
		return OutPoint{}, err
	}
	kind := OutPointKind(kindByte)
	switch kind {
	case OutPointRegular:
		txid, err := d.ReadHash()
		if err != nil {
			return OutPoint{}, err
		}
		vout, err := d.ReadUint32()
		if err != nil {
			return OutPoint{}, err
		}
		return RegularOutPoint(txid, vout), nil
	case OutPointCoinbase:
		root, err := d.ReadHash()
		if err != nil {
			return OutPoint{}, err
		}
		vout, err := d.ReadUint32()
		if err != nil {
			return OutPoint{}, err
		}
		return CoinbaseOutPoint(root, vout), nil
	case OutPointDeposit:
		txid, err := d.ReadHash()
		if err != nil {
			return OutPoint{}, err
		}
		vout, err := d.ReadUint32()
		if err != nil {
			return OutPoint{}, err
		}
		return DepositOutPoint(ParentOutPoint{Txid: txid, Vout: vout}), nil
	default:
		return OutPoint{}, fmt.Errorf("outpoint: unknown kind %d", kind)
	}
}
