package preimage

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
)

// Oracle is the client side of the preimage channel: resolve a typed key
// to its full preimage.
type Oracle interface {
	Get(key Key) ([]byte, error)
}

// PreimageGetter resolves a raw 32-byte key on the server side.
type PreimageGetter func(key common.Hash) ([]byte, error)

// OracleClient speaks the request side of the preimage wire protocol: a
// 32-byte key out, a u64 big-endian length and payload back. One request
// is always followed by exactly one response.
type OracleClient struct {
	rw io.ReadWriter
}

func NewOracleClient(rw io.ReadWriter) *OracleClient {
	return &OracleClient{rw: rw}
}

var _ Oracle = (*OracleClient)(nil)

func (o *OracleClient) Get(key Key) ([]byte, error) {
	h := key.PreimageKey()
	if _, err := o.rw.Write(h[:]); err != nil {
		return nil, fmt.Errorf("failed to write preimage request for %s: %w", h, err)
	}

	var length uint64
	if err := binary.Read(o.rw, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("failed to read response length for %s: %w", h, err)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(o.rw, payload); err != nil {
		return nil, fmt.Errorf("failed to read response payload for %s: %w", h, err)
	}
	return payload, nil
}

// OracleServer answers OracleClient requests one at a time.
type OracleServer struct {
	rw io.ReadWriter
}

func NewOracleServer(rw io.ReadWriter) *OracleServer {
	return &OracleServer{rw: rw}
}

// NextPreimageRequest reads one key, resolves it through getter, and
// writes the response. An io.EOF from the key read means the client hung
// up and is returned as-is.
func (o *OracleServer) NextPreimageRequest(getter PreimageGetter) error {
	var key common.Hash
	if _, err := io.ReadFull(o.rw, key[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return io.EOF
		}
		return fmt.Errorf("failed to read preimage request key: %w", err)
	}

	value, err := getter(key)
	if err != nil {
		return fmt.Errorf("failed to serve pre-image %s request: %w", key, err)
	}

	if err := binary.Write(o.rw, binary.BigEndian, uint64(len(value))); err != nil {
		return fmt.Errorf("failed to write response length: %w", err)
	}
	if len(value) > 0 {
		if _, err := o.rw.Write(value); err != nil {
			return fmt.Errorf("failed to write response payload: %w", err)
		}
	}
	return nil
}
