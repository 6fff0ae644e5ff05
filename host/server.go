// Package host implements the host side of the preimage oracle: an
// in-memory preimage store that serves the hint and preimage wire
// protocols, and a subprocess-backed oracle for external servers.
package host

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/okx/xlayer-fpvm/preimage"
)

// PreimageServer holds preimages by key and serves them to a VM. It also
// implements the VM-facing oracle interface directly, for in-process use.
type PreimageServer struct {
	mu        sync.RWMutex
	preimages map[common.Hash][]byte

	// hintHandler may prepare preimages ahead of a request; advisory only.
	hintHandler func(hint []byte) error

	logger log.Logger
}

// NewPreimageServer creates an empty preimage store with a no-op hint
// handler.
func NewPreimageServer(logger log.Logger) *PreimageServer {
	return &PreimageServer{
		preimages:   make(map[common.Hash][]byte),
		hintHandler: func(hint []byte) error { return nil },
		logger:      logger,
	}
}

// SetHintHandler replaces the hint handler.
func (s *PreimageServer) SetHintHandler(handler func(hint []byte) error) {
	s.hintHandler = handler
}

// AddPreimage stores data under its keccak256 key and returns the key.
func (s *PreimageServer) AddPreimage(data []byte) common.Hash {
	key := preimage.Keccak256Key(crypto.Keccak256Hash(data)).PreimageKey()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.preimages[key] = data
	s.logger.Debug("Added keccak256 preimage", "key", key, "size", len(data))
	return key
}

// AddLocalData stores program-input data under a local index key.
func (s *PreimageServer) AddLocalData(ident uint64, data []byte) common.Hash {
	key := preimage.LocalIndexKey(ident).PreimageKey()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.preimages[key] = data
	s.logger.Debug("Added local preimage", "ident", ident, "key", key, "size", len(data))
	return key
}

// AddLocalBootData stores the conventional boot inputs of a fault-proof
// program: the claimed output S at index 0, and the operands A and B at
// indexes 1 and 2, all big-endian encoded.
func (s *PreimageServer) AddLocalBootData(claim uint64, a uint64, b uint64) {
	// AddLocalData keeps the slice it is given, so each value gets its own
	s.AddLocalData(0, binary.BigEndian.AppendUint64(nil, claim))
	s.AddLocalData(1, binary.BigEndian.AppendUint64(nil, a))
	s.AddLocalData(2, binary.BigEndian.AppendUint64(nil, b))
}

// GetPreimage retrieves a preimage by raw key. It implements the VM-facing
// oracle interface for in-process use.
func (s *PreimageServer) GetPreimage(key common.Hash) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.preimages[key]
	if !ok {
		return nil, fmt.Errorf("preimage not found for key %s", key)
	}
	return data, nil
}

// Hint feeds a hint to the hint handler.
func (s *PreimageServer) Hint(hint []byte) error {
	return s.hintHandler(hint)
}

// ServePreimageRequests answers preimage requests on rw until the context
// is cancelled or the client hangs up.
func (s *PreimageServer) ServePreimageRequests(ctx context.Context, rw io.ReadWriter) error {
	server := preimage.NewOracleServer(rw)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := server.NextPreimageRequest(s.GetPreimage); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// ServeHintRequests answers hint frames on rw until the context is
// cancelled or the client hangs up.
func (s *PreimageServer) ServeHintRequests(ctx context.Context, rw io.ReadWriter) error {
	reader := preimage.NewHintReader(rw)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := reader.NextHint(func(hint []byte) error {
			s.logger.Debug("Received hint", "hint", string(hint))
			return s.hintHandler(hint)
		}); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
