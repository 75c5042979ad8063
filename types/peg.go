package types

// WithdrawalBundleStatus tracks a broadcast withdrawal bundle's fate on
// the parent chain.
type WithdrawalBundleStatus uint8

const (
	WithdrawalBundlePending WithdrawalBundleStatus = iota
	WithdrawalBundleConfirmed
	WithdrawalBundleFailed
)

func (s WithdrawalBundleStatus) String() string {
	switch s {
	case WithdrawalBundlePending:
		return "pending"
	case WithdrawalBundleConfirmed:
		return "confirmed"
	case WithdrawalBundleFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// WithdrawalBundle is an aggregated parent-chain transaction paying out
// the sidechain UTXOs it reserves. Transaction is the parent chain's
// own serialized transaction format, opaque to this core.
type WithdrawalBundle struct {
	SpentUTXOs  map[OutPoint]Output
	Transaction []byte
}

func encodeOutPointOutputMap(e *Encoder, m map[OutPoint]Output) error {
	e.WriteCount(len(m))
	keys := make([]OutPoint, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortOutPoints(keys)
	for _, k := range keys {
		if err := k.EncodeTo(e); err != nil {
			return err
		}
		if err := m[k].EncodeTo(e); err != nil {
			return err
		}
	}
	return nil
}

func decodeOutPointOutputMap(d *Decoder) (map[OutPoint]Output, error) {
	n, err := d.ReadCount(maxDecodeListLen)
	if err != nil {
		return nil, err
	}
	m := make(map[OutPoint]Output, n)
	for i := 0; i < n; i++ {
		k, err := DecodeOutPoint(d)
		if err != nil {
			return nil, err
		}
		v, err := DecodeOutput(d)
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

// sortOutPoints gives encodeOutPointOutputMap a deterministic key order,
// since Go map iteration order is randomized and this encoding must be
// reproducible for storage round-trips.
func sortOutPoints(pts []OutPoint) {
	for i := 1; i < len(pts); i++ {
		for j := i; j > 0 && outPointLess(pts[j], pts[j-1]); j-- {
			pts[j], pts[j-1] = pts[j-1], pts[j]
		}
	}
}

func outPointLess(a, b OutPoint) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	switch a.Kind {
	case OutPointRegular:
		if a.Txid != b.Txid {
			return string(a.Txid[:]) < string(b.Txid[:])
		}
		return a.Vout < b.Vout
	case OutPointCoinbase:
		if a.MerkleRoot != b.MerkleRoot {
			return string(a.MerkleRoot[:]) < string(b.MerkleRoot[:])
		}
		return a.Vout < b.Vout
	default:
		if a.Parent.Txid != b.Parent.Txid {
			return string(a.Parent.Txid[:]) < string(b.Parent.Txid[:])
		}
		return a.Parent.Vout < b.Parent.Vout
	}
}

func (w WithdrawalBundle) EncodeTo(e *Encoder) error {
	if err := encodeOutPointOutputMap(e, w.SpentUTXOs); err != nil {
		return err
	}
	e.WriteBytes(w.Transaction)
	return nil
}

func DecodeWithdrawalBundle(d *Decoder) (WithdrawalBundle, error) {
	spent, err := decodeOutPointOutputMap(d)
	if err != nil {
		return WithdrawalBundle{}, err
	}
	tx, err := d.ReadBytes()
	if err != nil {
		return WithdrawalBundle{}, err
	}
	return WithdrawalBundle{SpentUTXOs: spent, Transaction: tx}, nil
}

// TwoWayPegData is what the parent-chain adapter reports back to State
// for one advance of the observed parent-chain tip: new deposits, the
// parent block they were last observed in, and status updates for
// outstanding withdrawal bundles keyed by the bundle's parent-chain
// transaction id.
type TwoWayPegData struct {
	Deposits         map[OutPoint]Output
	DepositBlockHash Hash // zero means "no new parent block observed"
	BundleStatuses   map[Hash]WithdrawalBundleStatus
}

// DisconnectData is the inverse of TwoWayPegData a reorg-aware
// implementation would need to unwind a connected block's peg effects.
// It is not wired into any connect path: append-only chains have no
// reorgs to disconnect. Kept as the documented home for a future
// disconnect_body.
type DisconnectData struct {
	SpentUTXOs        map[OutPoint]Output
	Deposits          []OutPoint
	PendingBundles    []Hash
	SpentBundles      map[Hash][]OutPoint
	SpentWithdrawals  map[OutPoint]Output
	FailedWithdrawals []Hash
}
