package fatvol

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryDeviceReadAt(t *testing.T) {
	data := []byte("0123456789")
	dev := newMemoryDevice(data)

	buf := make([]byte, 4)
	n, err := dev.ReadAt(buf, 3)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []byte("3456"), buf)
}

func TestMemoryDeviceReadAtPastEnd(t *testing.T) {
	dev := newMemoryDevice([]byte("short"))

	buf := make([]byte, 10)
	n, err := dev.ReadAt(buf, 2)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, 3, n)
}

func TestMemoryDeviceReadAtOutOfRange(t *testing.T) {
	dev := newMemoryDevice([]byte("short"))

	_, err := dev.ReadAt(make([]byte, 1), 100)
	require.Error(t, err)
}

func TestMemoryDeviceSize(t *testing.T) {
	dev := newMemoryDevice(make([]byte, 42))
	require.Equal(t, int64(42), dev.Size())
}
