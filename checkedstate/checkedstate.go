// Package checkedstate implements the (state, checksum) primitive every peer
// uses to detect divergence. Compute is pure and deterministic: given
// byte-identical canonical serializations, every peer produces the same
// checksum regardless of map key enumeration order.
package checkedstate

import (
	"encoding/base64"
	"encoding/json"

	"github.com/minio/highwayhash"
	"github.com/pkg/errors"
)

// ErrStateNotSerializable is returned when a state value cannot be
// canonically serialized (e.g. it contains a channel or a function value).
var ErrStateNotSerializable = errors.New("state not serializable")

// hashKey is a fixed 32-byte HighwayHash key shipped with the module. It is
// not a secret: checksums here are for divergence detection between
// cooperating peers, not authentication, so every peer using this package
// must use the same key to agree on checksums.
var hashKey = [32]byte{
	0x6d, 0x6f, 0x76, 0x65, 0x78, 0x2d, 0x63, 0x68,
	0x65, 0x63, 0x6b, 0x73, 0x75, 0x6d, 0x2d, 0x76,
	0x31, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06,
	0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e,
}

// Checked is the (state, checksum) pair. The checksum is always the result
// of Compute(State) for whatever State currently holds.
type Checked[S any] struct {
	State    S
	Checksum string
}

// Compute canonically serializes state and returns it paired with a short,
// order-insensitive checksum of that serialization.
func Compute[S any](state S) (Checked[S], error) {
	checksum, err := Checksum(state)
	if err != nil {
		return Checked[S]{}, err
	}
	return Checked[S]{State: state, Checksum: checksum}, nil
}

// Checksum canonically serializes state and hashes it, without allocating a
// Checked wrapper. encoding/json sorts map keys, which is what makes the
// result independent of map enumeration order.
func Checksum(state any) (string, error) {
	canonical, err := json.Marshal(state)
	if err != nil {
		return "", errors.Wrap(ErrStateNotSerializable, err.Error())
	}
	sum := highwayhash.Sum64(canonical, hashKey[:])
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(sum >> (8 * i))
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
