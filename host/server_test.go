package host

import (
	"context"
	"encoding/binary"
	"io"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/okx/xlayer-fpvm/preimage"
)

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

func TestPreimageStore(t *testing.T) {
	s := NewPreimageServer(testLogger())

	data := []byte("some preimage data")
	key := s.AddPreimage(data)
	require.EqualValues(t, preimage.Keccak256KeyType, key[0])
	require.Equal(t, crypto.Keccak256Hash(data).Bytes()[1:], key.Bytes()[1:])

	got, err := s.GetPreimage(key)
	require.NoError(t, err)
	require.Equal(t, data, got)

	_, err = s.GetPreimage(preimage.LocalIndexKey(99).PreimageKey())
	require.Error(t, err, "unknown keys fail")
}

func TestLocalData(t *testing.T) {
	s := NewPreimageServer(testLogger())
	key := s.AddLocalData(3, []byte{0xaa})
	require.EqualValues(t, preimage.LocalKeyType, key[0])
	require.EqualValues(t, 3, key[31])

	got, err := s.GetPreimage(key)
	require.NoError(t, err)
	require.Equal(t, []byte{0xaa}, got)
}

func TestLocalBootData(t *testing.T) {
	s := NewPreimageServer(testLogger())
	s.AddLocalBootData(1000, 3, 4)

	claim, err := s.GetPreimage(preimage.LocalIndexKey(0).PreimageKey())
	require.NoError(t, err)
	require.EqualValues(t, 1000, binary.BigEndian.Uint64(claim))
	a, err := s.GetPreimage(preimage.LocalIndexKey(1).PreimageKey())
	require.NoError(t, err)
	require.EqualValues(t, 3, binary.BigEndian.Uint64(a))
	b, err := s.GetPreimage(preimage.LocalIndexKey(2).PreimageKey())
	require.NoError(t, err)
	require.EqualValues(t, 4, binary.BigEndian.Uint64(b))
}

func channelPair() (client *preimage.ReadWritePair, server *preimage.ReadWritePair) {
	aR, aW := io.Pipe()
	bR, bW := io.Pipe()
	return preimage.NewReadWritePair(aR, bW), preimage.NewReadWritePair(bR, aW)
}

func TestServePreimageRequests(t *testing.T) {
	s := NewPreimageServer(testLogger())
	data := []byte("served over the wire")
	s.AddPreimage(data)

	clientChan, serverChan := channelPair()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.ServePreimageRequests(ctx, serverChan)
	}()

	client := preimage.NewOracleClient(clientChan)
	got, err := client.Get(preimage.Keccak256Key(crypto.Keccak256Hash(data)))
	require.NoError(t, err)
	require.Equal(t, data, got)

	require.NoError(t, clientChan.Close())
	require.NoError(t, <-done, "server stops cleanly on client hangup")
}

func TestServeHintRequests(t *testing.T) {
	s := NewPreimageServer(testLogger())
	var hints []string
	s.SetHintHandler(func(hint []byte) error {
		hints = append(hints, string(hint))
		return nil
	})

	clientChan, serverChan := channelPair()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.ServeHintRequests(ctx, serverChan)
	}()

	writer := preimage.NewHintWriter(clientChan)
	require.NoError(t, writer.Hint([]byte("fetch-state 1234")))
	require.NoError(t, writer.Hint([]byte("fetch-diff 5678")))

	require.NoError(t, clientChan.Close())
	require.NoError(t, <-done)
	require.Equal(t, []string{"fetch-state 1234", "fetch-diff 5678"}, hints)
}
