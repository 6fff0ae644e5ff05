package preimage

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHintRoundTrip(t *testing.T) {
	clientChan, serverChan := channelPair()
	defer clientChan.Close()
	defer serverChan.Close()

	var got [][]byte
	done := make(chan struct{})
	go func() {
		defer close(done)
		reader := NewHintReader(serverChan)
		for i := 0; i < 3; i++ {
			err := reader.NextHint(func(hint []byte) error {
				got = append(got, append([]byte{}, hint...))
				return nil
			})
			require.NoError(t, err)
		}
	}()

	writer := NewHintWriter(clientChan)
	hints := [][]byte{[]byte("fetch-state 0xdead"), {}, {0x13, 0x37}}
	for _, h := range hints {
		require.NoError(t, writer.Hint(h), "hint blocks until acked")
	}
	<-done
	require.Equal(t, hints, got)
}

func TestHintAckOnRouterError(t *testing.T) {
	clientChan, serverChan := channelPair()
	defer clientChan.Close()
	defer serverChan.Close()

	done := make(chan error, 1)
	go func() {
		reader := NewHintReader(serverChan)
		done <- reader.NextHint(func(hint []byte) error {
			return io.ErrUnexpectedEOF
		})
	}()

	writer := NewHintWriter(clientChan)
	// the ack arrives even though the router failed, so Hint returns
	require.NoError(t, writer.Hint([]byte("doomed")))
	require.Error(t, <-done)
}

func TestHintReaderEOF(t *testing.T) {
	clientChan, serverChan := channelPair()
	go func() {
		_ = clientChan.Close()
	}()
	reader := NewHintReader(serverChan)
	err := reader.NextHint(func([]byte) error { return nil })
	require.ErrorIs(t, err, io.EOF)
}

func TestHintReaderMalformed(t *testing.T) {
	clientChan, serverChan := channelPair()

	go func() {
		// length claims 8 bytes, only 2 arrive before hangup
		_, _ = clientChan.w.Write([]byte{0, 0, 0, 8, 0xAA, 0xBB})
		_ = clientChan.Close()
	}()

	reader := NewHintReader(serverChan)
	err := reader.NextHint(func([]byte) error { return nil })
	require.ErrorIs(t, err, ErrMalformedHint)
}
