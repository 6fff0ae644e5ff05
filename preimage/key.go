// Package preimage implements the oracle channel the interpreter uses to
// fetch preimages and publish hints: the key taxonomy, the client and
// server codecs for both wire protocols, and the file-pair channel they
// run over.
package preimage

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// KeyType is the first byte of a 32-byte preimage key and determines how
// the rest of the key is interpreted.
type KeyType byte

const (
	// The zero key type is illegal to use.
	_ KeyType = 0
	// LocalKeyType keys are program inputs, indexed by the host.
	LocalKeyType KeyType = 1
	// Keccak256KeyType keys are the keccak256 hash of the preimage, with
	// the first byte overwritten by the key type.
	Keccak256KeyType KeyType = 2
)

// Key is a typed value that can be turned into a 32-byte preimage key.
type Key interface {
	PreimageKey() common.Hash
}

// LocalIndexKey is a program-input index, local to the host context.
type LocalIndexKey uint64

func (k LocalIndexKey) PreimageKey() (out common.Hash) {
	out[0] = byte(LocalKeyType)
	binary.BigEndian.PutUint64(out[24:], uint64(k))
	return
}

// Keccak256Key wraps a keccak256 hash to use it as a typed preimage key.
type Keccak256Key common.Hash

func (k Keccak256Key) PreimageKey() (out common.Hash) {
	out = common.Hash(k)
	out[0] = byte(Keccak256KeyType)
	return
}

var (
	_ Key = LocalIndexKey(0)
	_ Key = Keccak256Key{}
)
