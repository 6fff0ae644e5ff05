package memory

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"slices"

	"golang.org/x/exp/maps"
)

const (
	// MemProofLeafCount is the depth of the memory merkle tree: the path
	// from the root down to a 32-byte word of the 32-bit address space.
	MemProofLeafCount = 28
	// MemProofSize is the byte size of a single memory merkle proof.
	MemProofSize = MemProofLeafCount * 32
)

var (
	// ErrUnalignedAccess is returned for 4-byte memory operations on
	// addresses that are not 4-byte aligned.
	ErrUnalignedAccess = errors.New("unaligned memory access")
	// ErrGindexTooDeep is returned when a generalized index points below
	// the word level of the memory tree.
	ErrGindexTooDeep = errors.New("gindex too deep")
)

// Memory is a sparse memory over the full 32-bit address space. Pages are
// allocated on first write; the merkle tree above the page roots is cached
// in a generalized-index keyed overlay, with absent subtrees standing in as
// precomputed zero hashes.
type Memory struct {
	// generalized index -> merkle hash, or nil if invalidated
	nodes map[uint64]*[32]byte

	// page index -> cached page
	pages map[uint32]*CachedPage

	// Note: pages are never de-allocated, so no ref-counting is needed.

	// Two cache slots: instructions usually stream from one page while data
	// lives in another. This avoids a map lookup on every access.
	lastPageKeys [2]uint32
	lastPage     [2]*CachedPage
}

// New creates an empty Memory with an all-zero address space.
func New() *Memory {
	return &Memory{
		nodes:        make(map[uint64]*[32]byte),
		pages:        make(map[uint32]*CachedPage),
		lastPageKeys: [2]uint32{^uint32(0), ^uint32(0)}, // invalid keys, matching no page
	}
}

// PageCount returns the number of allocated pages.
func (m *Memory) PageCount() int {
	return len(m.pages)
}

// ForEachPage visits every allocated page in arbitrary order.
func (m *Memory) ForEachPage(fn func(pageIndex uint32, page *Page) error) error {
	for pageIndex, cached := range m.pages {
		if err := fn(pageIndex, cached.Data); err != nil {
			return err
		}
	}
	return nil
}

// MerkleizeSubtree returns the merkle root of the subtree at the given
// generalized index of the memory tree.
func (m *Memory) MerkleizeSubtree(gindex uint64) ([32]byte, error) {
	l := uint64(bits.Len64(gindex))
	if l > MemProofLeafCount {
		return [32]byte{}, fmt.Errorf("%w: %d", ErrGindexTooDeep, gindex)
	}
	if l > PageKeySize {
		depthIntoPage := l - 1 - PageKeySize
		pageIndex := (gindex >> depthIntoPage) & PageKeyMask
		if p, ok := m.pages[uint32(pageIndex)]; ok {
			pageGindex := (1 << depthIntoPage) | (gindex & ((1 << depthIntoPage) - 1))
			return p.MerkleizeSubtree(pageGindex), nil
		}
		return zeroHashes[MemProofLeafCount-l], nil // page does not exist
	}
	n, ok := m.nodes[gindex]
	if !ok {
		// no entry: the whole subtree is zero
		return zeroHashes[MemProofLeafCount-l], nil
	}
	if n != nil {
		return *n, nil
	}
	left, err := m.MerkleizeSubtree(gindex << 1)
	if err != nil {
		return [32]byte{}, err
	}
	right, err := m.MerkleizeSubtree(gindex<<1 | 1)
	if err != nil {
		return [32]byte{}, err
	}
	r := HashPair(left, right)
	m.nodes[gindex] = &r
	return r, nil
}

// MerkleRoot returns the single 32-byte commitment to the whole memory.
func (m *Memory) MerkleRoot() ([32]byte, error) {
	return m.MerkleizeSubtree(1)
}

// MerkleProof returns the 32-byte word containing addr followed by the 27
// sibling hashes on its path up to the root, bottom first.
func (m *Memory) MerkleProof(addr uint32) ([MemProofSize]byte, error) {
	var out [MemProofSize]byte
	proof, err := m.traverseBranch(1, addr, 0)
	if err != nil {
		return out, err
	}
	for i := 0; i < MemProofLeafCount; i++ {
		copy(out[i*32:(i+1)*32], proof[i][:])
	}
	return out, nil
}

func (m *Memory) traverseBranch(parent uint64, addr uint32, depth uint8) ([][32]byte, error) {
	if depth == 32-5 {
		leaf, err := m.MerkleizeSubtree(parent)
		if err != nil {
			return nil, err
		}
		proof := make([][32]byte, 0, 32-5+1)
		return append(proof, leaf), nil
	}
	if depth > 32-5 {
		return nil, fmt.Errorf("%w: traversed below the word level at depth %d", ErrGindexTooDeep, depth)
	}
	self := parent << 1
	sibling := self | 1
	if addr&(1<<(31-depth)) != 0 {
		self, sibling = sibling, self
	}
	proof, err := m.traverseBranch(self, addr, depth+1)
	if err != nil {
		return nil, err
	}
	siblingNode, err := m.MerkleizeSubtree(sibling)
	if err != nil {
		return nil, err
	}
	return append(proof, siblingNode), nil
}

func (m *Memory) pageLookup(pageIndex uint32) (*CachedPage, bool) {
	if pageIndex == m.lastPageKeys[0] {
		return m.lastPage[0], true
	}
	if pageIndex == m.lastPageKeys[1] {
		return m.lastPage[1], true
	}
	p, ok := m.pages[pageIndex]

	// only cache existing pages
	if ok {
		m.lastPageKeys[1] = m.lastPageKeys[0]
		m.lastPage[1] = m.lastPage[0]
		m.lastPageKeys[0] = pageIndex
		m.lastPage[0] = p
	}

	return p, ok
}

// AllocPage creates the page at pageIndex and invalidates the overlay path
// from the page position up to the memory root.
func (m *Memory) AllocPage(pageIndex uint32) *CachedPage {
	p := newCachedPage()
	m.pages[pageIndex] = p
	gindex := (uint64(1) << PageKeySize) | uint64(pageIndex)
	for gindex > 0 {
		m.nodes[gindex] = nil
		gindex >>= 1
	}
	return p
}

// SetMemory writes a 32-bit big-endian value at the 4-byte aligned addr,
// allocating the enclosing page if needed.
func (m *Memory) SetMemory(addr uint32, v uint32) error {
	if addr&0x3 != 0 {
		return fmt.Errorf("%w: %#x", ErrUnalignedAccess, addr)
	}
	pageIndex := addr >> PageAddrSize
	pageAddr := addr & PageAddrMask
	p, ok := m.pageLookup(pageIndex)
	if !ok {
		// Pages are allocated just in time: the emulated program may mmap
		// large ranges that it never touches.
		p = m.AllocPage(pageIndex)
		p.invalidate(pageAddr)
	} else {
		prevValid := p.Ok[1]
		p.invalidate(pageAddr)
		// If the page root was already invalid, the overlay path to the
		// memory root is as well.
		if prevValid {
			gindex := (uint64(1) << PageKeySize) | uint64(pageIndex)
			for gindex > 0 {
				m.nodes[gindex] = nil
				gindex >>= 1
			}
		}
	}
	binary.BigEndian.PutUint32(p.Data[pageAddr:pageAddr+4], v)
	return nil
}

// GetMemory reads the 32-bit big-endian value at the 4-byte aligned addr.
// Reads from unallocated pages return zero.
func (m *Memory) GetMemory(addr uint32) (uint32, error) {
	if addr&0x3 != 0 {
		return 0, fmt.Errorf("%w: %#x", ErrUnalignedAccess, addr)
	}
	p, ok := m.pageLookup(addr >> PageAddrSize)
	if !ok {
		return 0, nil
	}
	pageAddr := addr & PageAddrMask
	return binary.BigEndian.Uint32(p.Data[pageAddr : pageAddr+4]), nil
}

// SetMemoryRange consumes r and writes its bytes to consecutive addresses
// starting at addr, crossing page boundaries as needed. Touched pages are
// fully invalidated.
func (m *Memory) SetMemoryRange(addr uint32, r io.Reader) error {
	for {
		pageIndex := addr >> PageAddrSize
		pageAddr := addr & PageAddrMask
		readLen := PageSize - pageAddr
		chunk := make([]byte, readLen)
		n, err := r.Read(chunk)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		p, ok := m.pageLookup(pageIndex)
		if !ok {
			p = m.AllocPage(pageIndex)
		} else {
			gindex := (uint64(1) << PageKeySize) | uint64(pageIndex)
			for gindex > 0 {
				m.nodes[gindex] = nil
				gindex >>= 1
			}
		}
		p.InvalidateFull()
		copy(p.Data[pageAddr:], chunk[:n])
		addr += uint32(n)
	}
}

type pageEntry struct {
	Index uint32 `json:"index"`
	Data  *Page  `json:"data"`
}

func (m *Memory) MarshalJSON() ([]byte, error) {
	pages := make([]pageEntry, 0, len(m.pages))
	for _, k := range m.SortedPageIndexes() {
		pages = append(pages, pageEntry{Index: k, Data: m.pages[k].Data})
	}
	return json.Marshal(pages)
}

func (m *Memory) UnmarshalJSON(data []byte) error {
	var pages []pageEntry
	if err := json.Unmarshal(data, &pages); err != nil {
		return err
	}
	m.nodes = make(map[uint64]*[32]byte)
	m.pages = make(map[uint32]*CachedPage)
	m.lastPageKeys = [2]uint32{^uint32(0), ^uint32(0)}
	m.lastPage = [2]*CachedPage{nil, nil}
	for i, p := range pages {
		if _, ok := m.pages[p.Index]; ok {
			return fmt.Errorf("cannot load duplicate page, entry %d, page index %d", i, p.Index)
		}
		cached := m.AllocPage(p.Index)
		cached.Data = p.Data
		cached.InvalidateFull()
	}
	return nil
}

// Copy returns a deep copy with the same page contents and no shared state.
func (m *Memory) Copy() *Memory {
	out := New()
	for k, page := range m.pages {
		data := new(Page)
		*data = *page.Data
		cached := out.AllocPage(k)
		cached.Data = data
		cached.InvalidateFull()
	}
	return out
}

type memReader struct {
	m     *Memory
	addr  uint32
	count uint32
}

func (r *memReader) Read(dest []byte) (n int, err error) {
	if r.count == 0 {
		return 0, io.EOF
	}

	// The range may span pages and need not be aligned.
	endAddr := r.addr + r.count

	pageIndex := r.addr >> PageAddrSize
	start := r.addr & PageAddrMask
	end := uint32(PageSize)

	if pageIndex == (endAddr >> PageAddrSize) {
		end = endAddr & PageAddrMask
	}
	p, ok := r.m.pageLookup(pageIndex)
	if ok {
		n = copy(dest, p.Data[start:end])
	} else {
		n = copy(dest, make([]byte, end-start)) // default to zeroes
	}
	r.addr += uint32(n)
	r.count -= uint32(n)
	return n, nil
}

// ReadMemoryRange returns a reader over count bytes of memory from addr.
func (m *Memory) ReadMemoryRange(addr uint32, count uint32) io.Reader {
	return &memReader{m: m, addr: addr, count: count}
}

// UsageRaw returns the allocated memory in bytes.
func (m *Memory) UsageRaw() uint64 {
	return uint64(len(m.pages)) * PageSize
}

// Usage returns the allocated memory as a human-readable size.
func (m *Memory) Usage() string {
	total := m.UsageRaw()
	const unit = 1024
	if total < unit {
		return fmt.Sprintf("%d B", total)
	}
	div, exp := uint64(unit), 0
	for n := total / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	// KiB, MiB, GiB, TiB, ...
	return fmt.Sprintf("%.1f %ciB", float64(total)/float64(div), "KMGTPE"[exp])
}

// SortedPageIndexes returns the allocated page indexes in ascending order.
func (m *Memory) SortedPageIndexes() []uint32 {
	indexes := maps.Keys(m.pages)
	slices.Sort(indexes)
	return indexes
}
