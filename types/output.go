package types

import "fmt"

// ContentKind tags which payload an Output carries.
type ContentKind uint8

const (
	ContentValue      ContentKind = 0
	ContentWithdrawal ContentKind = 1
	ContentCustom     ContentKind = 2
)

// Content is an output's payload: a tagged union of plain sidechain
// value, a request to withdraw to the parent chain, or an opaque custom
// kind reserved for future extension.
type Content struct {
	Kind ContentKind

	Value uint64 // ContentValue

	// ContentWithdrawal
	WithdrawalValue uint64
	MainFee         uint64
	MainAddress     string // parent-chain address, opaque to this core

	Custom []byte // ContentCustom
}

func ValueContent(v uint64) Content {
	return Content{Kind: ContentValue, Value: v}
}

func WithdrawalContent(value, mainFee uint64, mainAddress string) Content {
	return Content{Kind: ContentWithdrawal, WithdrawalValue: value, MainFee: mainFee, MainAddress: mainAddress}
}

func CustomContent(b []byte) Content {
	return Content{Kind: ContentCustom, Custom: b}
}

func (c Content) IsValue() bool      { return c.Kind == ContentValue }
func (c Content) IsWithdrawal() bool { return c.Kind == ContentWithdrawal }
func (c Content) IsCustom() bool     { return c.Kind == ContentCustom }

// GetValue returns the content's contribution to total output value.
// Withdrawals count their `value` field (the amount moved to the parent
// chain), not the miner fee.
func (c Content) GetValue() uint64 {
	switch c.Kind {
	case ContentValue:
		return c.Value
	case ContentWithdrawal:
		return c.WithdrawalValue
	default:
		return 0
	}
}

func (c Content) EncodeTo(e *Encoder) error {
	e.WriteByte(byte(c.Kind))
	switch c.Kind {
	case ContentValue:
		e.WriteUint64(c.Value)
	case ContentWithdrawal:
		e.WriteUint64(c.WithdrawalValue)
		e.WriteUint64(c.MainFee)
		e.WriteString(c.MainAddress)
	case ContentCustom:
		e.WriteBytes(c.Custom)
	default:
		return fmt.Errorf("content: invalid kind %d", c.Kind)
	}
	return nil
}

func DecodeContent(d *Decoder) (Content, error) {
	kindByte, err := d.ReadByte()
	if err != nil {
		return Content{}, err
	}
	kind := ContentKind(kindByte)
	switch kind {
	case ContentValue:
		v, err := d.ReadUint64()
		if err != nil {
			return Content{}, err
		}
		return ValueContent(v), nil
	case ContentWithdrawal:
		value, err := d.ReadUint64()
		if err != nil {
			return Content{}, err
		}
		fee, err := d.ReadUint64()
		if err != nil {
			return Content{}, err
		}
		addr, err := d.ReadString()
		if err != nil {
			return Content{}, err
		}
		return WithdrawalContent(value, fee, addr), nil
	case ContentCustom:
		b, err := d.ReadBytes()
		if err != nil {
			return Content{}, err
		}
		return CustomContent(b), nil
	default:
		return Content{}, fmt.Errorf("content: unknown kind %d", kind)
	}
}

// Output is an address paired with its content.
type Output struct {
	Address Address
	Content Content
}

func (o Output) GetValue() uint64 { return o.Content.GetValue() }

func (o Output) EncodeTo(e *Encoder) error {
	e.WriteHash(Hash(o.Address))
	return o.Content.EncodeTo(e)
}

func DecodeOutput(d *Decoder) (Output, error) {
	addrHash, err := d.ReadHash()
	if err != nil {
		return Output{}, err
	}
	content, err := DecodeContent(d)
	if err != nil {
		return Output{}, err
	}
	return Output{Address: Address(addrHash), Content: content}, nil
}
