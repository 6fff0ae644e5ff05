package main

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/okx/xlayer-fpvm/preimage"
)

func main() {
	_, _ = os.Stderr.Write([]byte("started!"))

	po := preimage.NewOracleClient(preimage.ClientPreimageChannel())
	hinter := preimage.NewHintWriter(preimage.ClientHinterChannel())

	get := func(k preimage.Key) []byte {
		v, err := po.Get(k)
		if err != nil {
			fmt.Printf("failed to fetch preimage %x: %v\n", k.PreimageKey(), err)
			os.Exit(2)
		}
		return v
	}

	pre := common.BytesToHash(get(preimage.LocalIndexKey(0)))
	diff := common.BytesToHash(get(preimage.LocalIndexKey(1)))
	claimData := get(preimage.LocalIndexKey(2))

	// Hints tell the server which preimages the program is about to access
	// so it can prepare them.
	if err := hinter.Hint([]byte(fmt.Sprintf("fetch-state %x", pre))); err != nil {
		os.Exit(2)
	}
	s := binary.BigEndian.Uint64(get(preimage.Keccak256Key(pre)))

	if err := hinter.Hint([]byte(fmt.Sprintf("fetch-diff %x", diff))); err != nil {
		os.Exit(2)
	}
	diffValues := get(preimage.Keccak256Key(diff))
	a := binary.BigEndian.Uint64(get(preimage.Keccak256Key(common.BytesToHash(diffValues[:32]))))
	b := binary.BigEndian.Uint64(get(preimage.Keccak256Key(common.BytesToHash(diffValues[32:]))))

	fmt.Printf("computing %d * %d + %d\n", s, a, b)
	claim := s*a + b

	claimed := binary.BigEndian.Uint64(claimData)
	if claim == claimed {
		fmt.Printf("claim %d is good!\n", claim)
		os.Exit(0)
	}
	fmt.Printf("claim %d is bad! Expected %d\n", claimed, claim)
	os.Exit(1)
}
