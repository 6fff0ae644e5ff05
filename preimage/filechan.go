package preimage

import (
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
)

// Client file descriptors of the hint and preimage channels, inherited
// from the host process.
const (
	HClientRFd = 3
	HClientWFd = 4
	PClientRFd = 5
	PClientWFd = 6
)

// FileChannel is a bidirectional channel over a distinct reader and writer.
type FileChannel interface {
	io.ReadWriteCloser
}

// ReadWritePair routes reads and writes to two independent streams, closing
// both on Close.
type ReadWritePair struct {
	r io.ReadCloser
	w io.WriteCloser
}

func NewReadWritePair(r io.ReadCloser, w io.WriteCloser) *ReadWritePair {
	return &ReadWritePair{r: r, w: w}
}

func (rw *ReadWritePair) Read(p []byte) (int, error) {
	return rw.r.Read(p)
}

func (rw *ReadWritePair) Write(p []byte) (int, error) {
	return rw.w.Write(p)
}

func (rw *ReadWritePair) Close() error {
	if err := rw.r.Close(); err != nil {
		_ = rw.w.Close()
		return err
	}
	return rw.w.Close()
}

// ClientHinterChannel returns the hint channel as seen from inside a
// spawned client process.
func ClientHinterChannel() *ReadWritePair {
	r := os.NewFile(HClientRFd, "preimage-hint-read")
	w := os.NewFile(HClientWFd, "preimage-hint-write")
	return NewReadWritePair(r, w)
}

// ClientPreimageChannel returns the preimage channel as seen from inside a
// spawned client process.
func ClientPreimageChannel() *ReadWritePair {
	r := os.NewFile(PClientRFd, "preimage-oracle-read")
	w := os.NewFile(PClientWFd, "preimage-oracle-write")
	return NewReadWritePair(r, w)
}

// RawKey passes a 32-byte key through unchanged, for callers that already
// hold a fully typed key.
type RawKey common.Hash

func (k RawKey) PreimageKey() common.Hash {
	return common.Hash(k)
}
