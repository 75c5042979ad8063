package types

// maxDecodeListLen bounds how many elements a single list field may
// decode to. It is a codec-level sanity bound against corrupt input,
// not a consensus rule.
const maxDecodeListLen = 1 << 20

// Transaction is `{ inputs: [OutPoint], outputs: [Output] }`. The input
// list may be empty (deposit-only acceptance paths); the output list may
// be empty.
type Transaction struct {
	Inputs  []OutPoint
	Outputs []Output
}

func (t Transaction) EncodeTo(e *Encoder) error {
	e.WriteCount(len(t.Inputs))
	for _, in := range t.Inputs {
		if err := in.EncodeTo(e); err != nil {
			return err
		}
	}
	e.WriteCount(len(t.Outputs))
	for _, out := range t.Outputs {
		if err := out.EncodeTo(e); err != nil {
			return err
		}
	}
	return nil
}

func DecodeTransaction(d *Decoder) (Transaction, error) {
	nIn, err := d.ReadCount(maxDecodeListLen)
	if err != nil {
		return Transaction{}, err
	}
	// An empty list decodes to nil, as an unset slice field encodes, so
	// decode(encode(t)) equals t.
	var inputs []OutPoint
	if nIn > 0 {
		inputs = make([]OutPoint, nIn)
	}
	for i := range inputs {
		in, err := DecodeOutPoint(d)
		if err != nil {
			return Transaction{}, err
		}
		inputs[i] = in
	}
	nOut, err := d.ReadCount(maxDecodeListLen)
	if err != nil {
		return Transaction{}, err
	}
	var outputs []Output
	if nOut > 0 {
		outputs = make([]Output, nOut)
	}
	for i := range outputs {
		out, err := DecodeOutput(d)
		if err != nil {
			return Transaction{}, err
		}
		outputs[i] = out
	}
	return Transaction{Inputs: inputs, Outputs: outputs}, nil
}

// Txid is the digest of the transaction's canonical byte encoding.
func (t Transaction) Txid() (Txid, error) {
	return HashEncodable(t)
}

// GetValueOut sums the outputs' values, failing on overflow.
func (t Transaction) GetValueOut() (uint64, error) {
	return sumValues(t.Outputs)
}

func sumValues[T interface{ GetValue() uint64 }](items []T) (uint64, error) {
	var total uint64
	for _, item := range items {
		v := item.GetValue()
		next := total + v
		if next < total {
			return 0, ErrValueOverflow
		}
		total = next
	}
	return total, nil
}

// Authorization is one input's proof of spend authority: a public key
// and a signature produced over the canonical bytes of the transaction
// it authorizes.
type Authorization struct {
	PublicKey []byte
	Signature []byte
}

func (a Authorization) EncodeTo(e *Encoder) error {
	e.WriteBytes(a.PublicKey)
	e.WriteBytes(a.Signature)
	return nil
}

func DecodeAuthorization(d *Decoder) (Authorization, error) {
	pk, err := d.ReadBytes()
	if err != nil {
		return Authorization{}, err
	}
	sig, err := d.ReadBytes()
	if err != nil {
		return Authorization{}, err
	}
	return Authorization{PublicKey: pk, Signature: sig}, nil
}

// AuthorizedTransaction is `{ transaction, authorizations }`, with
// |authorizations| == |inputs| and authorization i corresponding to
// input i.
type AuthorizedTransaction struct {
	Transaction    Transaction
	Authorizations []Authorization
}

func (a AuthorizedTransaction) EncodeTo(e *Encoder) error {
	if err := a.Transaction.EncodeTo(e); err != nil {
		return err
	}
	e.WriteCount(len(a.Authorizations))
	for _, auth := range a.Authorizations {
		if err := auth.EncodeTo(e); err != nil {
			return err
		}
	}
	return nil
}

func DecodeAuthorizedTransaction(d *Decoder) (AuthorizedTransaction, error) {
	tx, err := DecodeTransaction(d)
	if err != nil {
		return AuthorizedTransaction{}, err
	}
	n, err := d.ReadCount(maxDecodeListLen)
	if err != nil {
		return AuthorizedTransaction{}, err
	}
	auths := make([]Authorization, n)
	for i := range auths {
		auths[i], err = DecodeAuthorization(d)
		if err != nil {
			return AuthorizedTransaction{}, err
		}
	}
	return AuthorizedTransaction{Transaction: tx, Authorizations: auths}, nil
}

// FilledTransaction pairs a transaction with the UTXOs its inputs
// resolved to, letting validation compute value_in/value_out/fee
// without a second lookup pass.
type FilledTransaction struct {
	Transaction Transaction
	SpentUTXOs  []Output
}

func (f FilledTransaction) GetValueIn() (uint64, error)  { return sumValues(f.SpentUTXOs) }
func (f FilledTransaction) GetValueOut() (uint64, error) { return f.Transaction.GetValueOut() }

// GetFee returns value_in - value_out, or ok=false if value_out exceeds
// value_in.
func (f FilledTransaction) GetFee() (fee uint64, ok bool, err error) {
	valueIn, err := f.GetValueIn()
	if err != nil {
		return 0, false, err
	}
	valueOut, err := f.GetValueOut()
	if err != nil {
		return 0, false, err
	}
	if valueOut > valueIn {
		return 0, false, nil
	}
	return valueIn - valueOut, true, nil
}
