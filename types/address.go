package types

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// AddressVersion is the single version byte prefixed before Base58Check
// encoding an Address. A lone version keeps the display format stable
// even though this node only ever mints one address kind.
const AddressVersion byte = 0x3f

// Address is a 32-byte identifier derived deterministically from an
// authorization public key. Equality and ordering are bytewise (it is a
// plain comparable array), so it can key a Go map directly.
type Address Hash

func (a Address) Bytes() []byte { return Hash(a).Bytes() }

func (a Address) IsZero() bool { return Hash(a).IsZero() }

// String renders the Base58Check display form: version byte + 32-byte
// payload + 4-byte checksum.
func (a Address) String() string {
	payload := make([]byte, 0, 1+HashSize)
	payload = append(payload, AddressVersion)
	payload = append(payload, a[:]...)
	checksum := H(payload)
	payload = append(payload, checksum[:4]...)
	return base58.Encode(payload)
}

// ParseAddress decodes the Base58Check display form produced by String.
func ParseAddress(s string) (Address, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("address: base58 decode: %w", err)
	}
	if len(raw) != 1+HashSize+4 {
		return Address{}, fmt.Errorf("address: bad length %d", len(raw))
	}
	version := raw[0]
	payload := raw[:1+HashSize]
	checksum := raw[1+HashSize:]
	want := H(payload)
	if string(want[:4]) != string(checksum) {
		return Address{}, fmt.Errorf("address: checksum mismatch")
	}
	if version != AddressVersion {
		return Address{}, fmt.Errorf("address: unexpected version byte 0x%02x", version)
	}
	var a Address
	copy(a[:], raw[1:1+HashSize])
	return a, nil
}
