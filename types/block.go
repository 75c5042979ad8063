package types

// Body is `{ coinbase, transactions, authorizations }`.
// `authorizations` is the concatenation of all contained transactions'
// authorizations in input order; NewBody below is the convenience
// constructor used by callers building a Body from already-authorized
// transactions.
type Body struct {
	Coinbase       []Output
	Transactions   []Transaction
	Authorizations []Authorization
}

// NewBody flattens a list of authorized transactions into a Body,
// concatenating their authorizations in order.
func NewBody(authorizedTxs []AuthorizedTransaction, coinbase []Output) Body {
	total := 0
	for _, at := range authorizedTxs {
		total += len(at.Authorizations)
	}
	authorizations := make([]Authorization, 0, total)
	transactions := make([]Transaction, 0, len(authorizedTxs))
	for _, at := range authorizedTxs {
		authorizations = append(authorizations, at.Authorizations...)
		transactions = append(transactions, at.Transaction)
	}
	return Body{Coinbase: coinbase, Transactions: transactions, Authorizations: authorizations}
}

func (b Body) EncodeTo(e *Encoder) error {
	e.WriteCount(len(b.Coinbase))
	for _, out := range b.Coinbase {
		if err := out.EncodeTo(e); err != nil {
			return err
		}
	}
	e.WriteCount(len(b.Transactions))
	for _, tx := range b.Transactions {
		if err := tx.EncodeTo(e); err != nil {
			return err
		}
	}
	e.WriteCount(len(b.Authorizations))
	for _, auth := range b.Authorizations {
		if err := auth.EncodeTo(e); err != nil {
			return err
		}
	}
	return nil
}

func DecodeBody(d *Decoder) (Body, error) {
	nCoinbase, err := d.ReadCount(maxDecodeListLen)
	if err != nil {
		return Body{}, err
	}
	// Empty lists decode to nil, as unset slice fields encode, so
	// decode(encode(b)) equals b.
	var coinbase []Output
	if nCoinbase > 0 {
		coinbase = make([]Output, nCoinbase)
	}
	for i := range coinbase {
		coinbase[i], err = DecodeOutput(d)
		if err != nil {
			return Body{}, err
		}
	}
	nTx, err := d.ReadCount(maxDecodeListLen)
	if err != nil {
		return Body{}, err
	}
	var transactions []Transaction
	if nTx > 0 {
		transactions = make([]Transaction, nTx)
	}
	for i := range transactions {
		transactions[i], err = DecodeTransaction(d)
		if err != nil {
			return Body{}, err
		}
	}
	nAuth, err := d.ReadCount(maxDecodeListLen)
	if err != nil {
		return Body{}, err
	}
	var authorizations []Authorization
	if nAuth > 0 {
		authorizations = make([]Authorization, nAuth)
	}
	for i := range authorizations {
		authorizations[i], err = DecodeAuthorization(d)
		if err != nil {
			return Body{}, err
		}
	}
	return Body{Coinbase: coinbase, Transactions: transactions, Authorizations: authorizations}, nil
}

// bodyBindingPair is encoded on its own so ComputeMerkleRoot hashes
// exactly (coinbase, transactions) and nothing else, in particular not
// the authorizations, which are validated separately per input.
type bodyBindingPair struct {
	Coinbase     []Output
	Transactions []Transaction
}

func (p bodyBindingPair) EncodeTo(e *Encoder) error {
	e.WriteCount(len(p.Coinbase))
	for _, out := range p.Coinbase {
		if err := out.EncodeTo(e); err != nil {
			return err
		}
	}
	e.WriteCount(len(p.Transactions))
	for _, tx := range p.Transactions {
		if err := tx.EncodeTo(e); err != nil {
			return err
		}
	}
	return nil
}

// ComputeMerkleRoot binds (coinbase, transactions) cryptographically.
// This construction is fixed across clients since header identity
// depends on it.
func (b Body) ComputeMerkleRoot() (MerkleRoot, error) {
	return HashEncodable(bodyBindingPair{Coinbase: b.Coinbase, Transactions: b.Transactions})
}

// GetInputs returns every input spent across all contained transactions,
// in order, for double-spend pre-collection.
func (b Body) GetInputs() []OutPoint {
	var out []OutPoint
	for _, tx := range b.Transactions {
		out = append(out, tx.Inputs...)
	}
	return out
}

// GetCoinbaseValue sums the coinbase outputs' values.
func (b Body) GetCoinbaseValue() (uint64, error) {
	return sumValues(b.Coinbase)
}

// GetOutputs returns every output the body mints, keyed by its
// (fixed-at-commitment) outpoint: coinbase outputs keyed by
// OutPoint::Coinbase{merkle_root, vout}, transaction outputs keyed by
// OutPoint::Regular{txid, vout}.
func (b Body) GetOutputs() (map[OutPoint]Output, error) {
	root, err := b.ComputeMerkleRoot()
	if err != nil {
		return nil, err
	}
	outputs := make(map[OutPoint]Output, len(b.Coinbase))
	for vout, out := range b.Coinbase {
		outputs[CoinbaseOutPoint(root, uint32(vout))] = out
	}
	for _, tx := range b.Transactions {
		txid, err := tx.Txid()
		if err != nil {
			return nil, err
		}
		for vout, out := range tx.Outputs {
			outputs[RegularOutPoint(txid, uint32(vout))] = out
		}
	}
	return outputs, nil
}

// Header is `{ merkle_root, prev_side_hash, prev_main_hash }`. The
// genesis sentinel for prev_side_hash is the 32-byte zero hash.
type Header struct {
	MerkleRoot   MerkleRoot
	PrevSideHash BlockHash
	PrevMainHash Hash // parent-chain block hash this header commits against
}

func (h Header) EncodeTo(e *Encoder) error {
	e.WriteHash(h.MerkleRoot)
	e.WriteHash(h.PrevSideHash)
	e.WriteHash(h.PrevMainHash)
	return nil
}

func DecodeHeader(d *Decoder) (Header, error) {
	root, err := d.ReadHash()
	if err != nil {
		return Header{}, err
	}
	prevSide, err := d.ReadHash()
	if err != nil {
		return Header{}, err
	}
	prevMain, err := d.ReadHash()
	if err != nil {
		return Header{}, err
	}
	return Header{MerkleRoot: root, PrevSideHash: prevSide, PrevMainHash: prevMain}, nil
}

// Hash is the digest of the header's canonical encoding.
func (h Header) Hash() (BlockHash, error) {
	return HashEncodable(h)
}
