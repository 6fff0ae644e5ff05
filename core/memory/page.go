// Package memory implements the page-addressed sparse memory of the
// emulated 32-bit MIPS thread context, with a binary keccak merkle tree
// over all pages so the whole address space commits to a single root.
package memory

import (
	"encoding/json"
	"fmt"
	"math/bits"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Note: 2**12 = 4 KiB, the minimum physical page size in the Go runtime.
const (
	PageAddrSize = 12
	PageKeySize  = 32 - PageAddrSize
	PageSize     = 1 << PageAddrSize
	PageAddrMask = PageSize - 1
	MaxPageCount = 1 << PageKeySize
	PageKeyMask  = MaxPageCount - 1
)

// pageDepth is the number of hashing levels between a raw 32-byte word of
// page data and the page root.
const pageDepth = PageAddrSize - 5

// Page is a fixed 4 KiB block of memory.
type Page [PageSize]byte

func (p *Page) MarshalJSON() ([]byte, error) {
	return json.Marshal(hexutil.Bytes(p[:]))
}

func (p *Page) UnmarshalJSON(dat []byte) error {
	var buf hexutil.Bytes
	if err := buf.UnmarshalJSON(dat); err != nil {
		return err
	}
	if len(buf) != PageSize {
		return fmt.Errorf("invalid page size %d, expected %d", len(buf), PageSize)
	}
	copy(p[:], buf)
	return nil
}

// HashPair hashes two merkle tree nodes into their parent.
func HashPair(left, right [32]byte) [32]byte {
	return crypto.Keccak256Hash(left[:], right[:])
}

// zeroHashes[i] is the root of a fully-zero subtree i levels tall:
// zeroHashes[0] is a zero word and zeroHashes[i+1] = keccak(zh[i] ++ zh[i]).
var zeroHashes = func() [256][32]byte {
	var out [256][32]byte
	for i := 1; i < 256; i++ {
		out[i] = HashPair(out[i-1], out[i-1])
	}
	return out
}()

// zeroPageCache holds the intermediate nodes of an all-zero page, so a fresh
// page can present its merkle root without hashing anything.
var zeroPageCache = func() [PageSize / 32][32]byte {
	var out [PageSize / 32][32]byte
	for g := 1; g < PageSize/32; g++ {
		out[g] = zeroHashes[pageDepth+1-bits.Len(uint(g))]
	}
	return out
}()

var allCacheValid = func() [PageSize / 32]bool {
	var out [PageSize / 32]bool
	for i := 1; i < PageSize/32; i++ {
		out[i] = true
	}
	return out
}()

// CachedPage pairs page data with the intermediate merkle nodes computed
// over it. Cache entries are indexed by page-local generalized index;
// Ok[g] is set iff Cache[g] matches the data below it.
type CachedPage struct {
	Data  *Page
	Cache [PageSize / 32][32]byte
	Ok    [PageSize / 32]bool
}

func newCachedPage() *CachedPage {
	// A fresh page is all zero, seed it with the precomputed zero cache.
	return &CachedPage{
		Data:  new(Page),
		Cache: zeroPageCache,
		Ok:    allCacheValid,
	}
}

// invalidate clears the validity bits on the path from the 64-byte leaf
// covering pageAddr up to the page root.
func (p *CachedPage) invalidate(pageAddr uint32) {
	// The bottom cache layer covers pairs of raw 32-byte words.
	k := ((1 << PageAddrSize) | pageAddr) >> (5 + 1)
	for k > 0 {
		p.Ok[k] = false
		k >>= 1
	}
}

// InvalidateFull clears the whole validity bitmap.
func (p *CachedPage) InvalidateFull() {
	p.Ok = [PageSize / 32]bool{}
}

// MerkleRoot returns the merkle root over the full page.
func (p *CachedPage) MerkleRoot() [32]byte {
	return p.MerkleizeSubtree(1)
}

// MerkleizeSubtree returns the root of the subtree at the page-local
// generalized index. Indices of bit-length pageDepth+1 address the raw
// 32-byte words of page data; everything above is hashed and cached.
func (p *CachedPage) MerkleizeSubtree(gindex uint64) [32]byte {
	l := uint64(bits.Len64(gindex))
	if l > pageDepth+1 {
		panic(fmt.Errorf("page gindex %d too deep", gindex))
	}
	if l == pageDepth+1 {
		nodeIndex := gindex & (PageSize/32 - 1)
		var out [32]byte
		copy(out[:], p.Data[nodeIndex*32:nodeIndex*32+32])
		return out
	}
	if p.Ok[gindex] {
		return p.Cache[gindex]
	}
	left := p.MerkleizeSubtree(gindex << 1)
	right := p.MerkleizeSubtree(gindex<<1 | 1)
	r := HashPair(left, right)
	p.Cache[gindex] = r
	p.Ok[gindex] = true
	return r
}
