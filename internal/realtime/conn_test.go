package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamConn_WriteAndDrain(t *testing.T) {
	conn := NewStreamConn(4)

	require.NoError(t, conn.Write([]byte("a")))
	require.NoError(t, conn.Write([]byte("b")))

	assert.Equal(t, "a", string(<-conn.Frames()))
	assert.Equal(t, "b", string(<-conn.Frames()))
}

func TestStreamConn_Backpressure(t *testing.T) {
	conn := NewStreamConn(1)

	require.NoError(t, conn.Write([]byte("a")))
	err := conn.Write([]byte("b"))
	assert.ErrorIs(t, err, ErrConnBackpressure)
}

func TestStreamConn_WriteAfterClose(t *testing.T) {
	conn := NewStreamConn(4)
	require.NoError(t, conn.Close())

	err := conn.Write([]byte("a"))
	assert.ErrorIs(t, err, ErrConnClosed)

	select {
	case <-conn.Done():
	default:
		t.Fatal("Done should be closed")
	}
}

func TestStreamConn_CloseIdempotent(t *testing.T) {
	conn := NewStreamConn(4)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
}

func TestStreamConn_UniqueIDs(t *testing.T) {
	a := NewStreamConn(1)
	b := NewStreamConn(1)
	assert.NotEqual(t, a.ID(), b.ID())
}
