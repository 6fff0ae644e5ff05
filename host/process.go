package host

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/ethereum/go-ethereum/common"

	"github.com/okx/xlayer-fpvm/preimage"
)

// ProcessOracle spawns an external preimage server command and speaks both
// channel protocols with it over inherited pipes. It implements the
// VM-facing oracle interface.
type ProcessOracle struct {
	cmd          *exec.Cmd
	waitErr      chan error
	cancelIO     func()
	oracleClient *preimage.OracleClient
	hintWriter   *preimage.HintWriter
}

// NewProcessOracle starts the given command with the four channel pipes as
// ExtraFiles, placing them at fds 3..6 of the child, in the order the
// client channel constructors expect.
func NewProcessOracle(name string, args ...string) (*ProcessOracle, error) {
	if name == "" {
		return nil, fmt.Errorf("no preimage server command specified")
	}

	hostHintRW, clientHintRW, err := pipePair()
	if err != nil {
		return nil, fmt.Errorf("failed to create hint pipes: %w", err)
	}
	hostOracleRW, clientOracleRW, err := pipePair()
	if err != nil {
		return nil, fmt.Errorf("failed to create preimage pipes: %w", err)
	}

	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{
		clientHintRW.reader,   // fd 3: server reads hints here
		clientHintRW.writer,   // fd 4: server writes acks here
		clientOracleRW.reader, // fd 5: server reads keys here
		clientOracleRW.writer, // fd 6: server writes preimages here
	}

	o := &ProcessOracle{
		cmd:          cmd,
		waitErr:      make(chan error, 1),
		oracleClient: preimage.NewOracleClient(hostOracleRW),
		hintWriter:   preimage.NewHintWriter(hostHintRW),
	}
	o.cancelIO = func() {
		_ = hostHintRW.Close()
		_ = hostOracleRW.Close()
	}

	if err := cmd.Start(); err != nil {
		o.cancelIO()
		return nil, fmt.Errorf("failed to start preimage server %q: %w", name, err)
	}
	// the child inherited its pipe ends, release ours
	_ = clientHintRW.Close()
	_ = clientOracleRW.Close()

	go func() {
		o.waitErr <- cmd.Wait()
	}()
	return o, nil
}

// GetPreimage requests the preimage of a raw key from the server.
func (o *ProcessOracle) GetPreimage(k common.Hash) ([]byte, error) {
	return o.oracleClient.Get(preimage.RawKey(k))
}

// Hint sends one framed hint and waits for the ack.
func (o *ProcessOracle) Hint(v []byte) error {
	return o.hintWriter.Hint(v)
}

// Close shuts the channels down and waits for the server to exit.
func (o *ProcessOracle) Close() error {
	o.cancelIO()
	if o.cmd == nil {
		return nil
	}
	return <-o.waitErr
}

// filePair is one side of a bidirectional pipe pair.
type filePair struct {
	reader *os.File
	writer *os.File
}

func (p *filePair) Read(b []byte) (int, error)  { return p.reader.Read(b) }
func (p *filePair) Write(b []byte) (int, error) { return p.writer.Write(b) }

func (p *filePair) Close() error {
	rErr := p.reader.Close()
	wErr := p.writer.Close()
	if rErr != nil {
		return rErr
	}
	return wErr
}

var _ io.ReadWriteCloser = (*filePair)(nil)

// pipePair builds two connected duplex endpoints out of two OS pipes.
func pipePair() (host *filePair, client *filePair, err error) {
	hostR, clientW, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	clientR, hostW, err := os.Pipe()
	if err != nil {
		_ = hostR.Close()
		_ = clientW.Close()
		return nil, nil, err
	}
	return &filePair{reader: hostR, writer: hostW}, &filePair{reader: clientR, writer: clientW}, nil
}
