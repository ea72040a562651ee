package fatvol

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVolumeOpenAndListRoot(t *testing.T) {
	content := []byte("hello world")
	image := buildSyntheticFAT12Image("HELLO   TXT", content)

	vol, err := Open(newMemoryDevice(image))
	require.NoError(t, err)
	defer vol.Close()

	require.Equal(t, StateOpen, vol.State())
	require.Equal(t, VariantFAT12, vol.Variant())

	root, err := vol.Root()
	require.NoError(t, err)

	entries, err := root.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	fe := entries[0]
	require.Equal(t, "HELLO.TXT", fe.Name)
	require.False(t, fe.IsDirectory())
	require.Equal(t, uint64(len(content)), fe.Size)
}

func TestVolumeOpenContentReadsFileBytes(t *testing.T) {
	content := []byte("hello world")
	image := buildSyntheticFAT12Image("HELLO   TXT", content)

	vol, err := Open(newMemoryDevice(image))
	require.NoError(t, err)
	defer vol.Close()

	root, err := vol.Root()
	require.NoError(t, err)

	entries, err := root.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	reader, err := vol.OpenContent(entries[0])
	require.NoError(t, err)
	require.Equal(t, int64(len(content)), reader.Size())

	buf := make([]byte, len(content))
	n, err := reader.Read(buf)
	require.NoError(t, err)
	require.Equal(t, len(content), n)
	require.Equal(t, content, buf)

	// A second Read call after reaching the end returns io.EOF.
	_, err = reader.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestVolumeOpenContentRejectsDirectory(t *testing.T) {
	image := buildSyntheticFAT12Image("HELLO   TXT", []byte("x"))

	vol, err := Open(newMemoryDevice(image))
	require.NoError(t, err)
	defer vol.Close()

	dirEntry := &FileEntry{Name: "SUBDIR", Attributes: AttrDirectory}

	_, err = vol.OpenContent(dirEntry)
	require.Error(t, err)
}

func TestVolumeLookupByPath(t *testing.T) {
	content := []byte("hello world")
	image := buildSyntheticFAT12Image("HELLO   TXT", content)

	vol, err := Open(newMemoryDevice(image))
	require.NoError(t, err)
	defer vol.Close()

	fe, err := vol.Lookup("hello.txt")
	require.NoError(t, err)
	require.Equal(t, "HELLO.TXT", fe.Name)

	_, err = vol.Lookup("missing.txt")
	require.Error(t, err)
}

func TestVolumeAbortStopsDirectoryScan(t *testing.T) {
	content := []byte("hello world")
	image := buildSyntheticFAT12Image("HELLO   TXT", content)

	vol, err := Open(newMemoryDevice(image))
	require.NoError(t, err)
	defer vol.Close()

	root, err := vol.Root()
	require.NoError(t, err)

	vol.Abort()
	require.Equal(t, StateAborted, vol.State())

	_, err = root.Entries()
	require.Error(t, err)

	fatErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, CodeAborted, fatErr.Code)
}

func TestVolumeCloseTransitionsState(t *testing.T) {
	image := buildSyntheticFAT12Image("HELLO   TXT", []byte("x"))

	vol, err := Open(newMemoryDevice(image))
	require.NoError(t, err)

	require.NoError(t, vol.Close())
	require.Equal(t, StateClosed, vol.State())
}

func TestVolumeLabelExcludedFromRootListing(t *testing.T) {
	content := []byte("hello world")
	image := buildSyntheticFAT12ImageWithLabel("TESTVOLUME ", "HELLO   TXT", content)

	vol, err := Open(newMemoryDevice(image))
	require.NoError(t, err)
	defer vol.Close()

	label, ok := vol.Label()
	require.True(t, ok)
	require.Equal(t, "TESTVOLUME", label)

	root, err := vol.Root()
	require.NoError(t, err)

	entries, err := root.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "HELLO.TXT", entries[0].Name)
}

func TestVolumeLabelAbsentWhenNoLabelEntry(t *testing.T) {
	image := buildSyntheticFAT12Image("HELLO   TXT", []byte("x"))

	vol, err := Open(newMemoryDevice(image))
	require.NoError(t, err)
	defer vol.Close()

	_, ok := vol.Label()
	require.False(t, ok)
}

func TestVolumeFileEntryByIdentifierRoundTrips(t *testing.T) {
	content := []byte("hello world")
	image := buildSyntheticFAT12Image("HELLO   TXT", content)

	vol, err := Open(newMemoryDevice(image))
	require.NoError(t, err)
	defer vol.Close()

	root, err := vol.Root()
	require.NoError(t, err)

	entries, err := root.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	fe, err := vol.FileEntryByIdentifier(entries[0].Identifier)
	require.NoError(t, err)
	require.Equal(t, entries[0], fe)
}

func TestVolumeFileEntryByIdentifierNotFound(t *testing.T) {
	image := buildSyntheticFAT12Image("HELLO   TXT", []byte("x"))

	vol, err := Open(newMemoryDevice(image))
	require.NoError(t, err)
	defer vol.Close()

	_, err = vol.FileEntryByIdentifier(0xDEADBEEF)
	require.Error(t, err)

	fatErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, CodeNotFound, fatErr.Code)
}

func TestFileReaderSeek(t *testing.T) {
	content := []byte("hello world")
	image := buildSyntheticFAT12Image("HELLO   TXT", content)

	vol, err := Open(newMemoryDevice(image))
	require.NoError(t, err)
	defer vol.Close()

	root, err := vol.Root()
	require.NoError(t, err)

	entries, err := root.Entries()
	require.NoError(t, err)

	reader, err := vol.OpenContent(entries[0])
	require.NoError(t, err)

	pos, err := reader.Seek(6, io.SeekStart)
	require.NoError(t, err)
	require.Equal(t, int64(6), pos)

	buf := make([]byte, 5)
	n, err := reader.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "world", string(buf[:n]))

	pos, err = reader.Seek(-5, io.SeekCurrent)
	require.NoError(t, err)
	require.Equal(t, int64(6), pos)

	pos, err = reader.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	require.Equal(t, int64(len(content)), pos)

	// Seeking past the end clamps rather than erroring.
	pos, err = reader.Seek(100, io.SeekStart)
	require.NoError(t, err)
	require.Equal(t, int64(len(content)), pos)

	n, err = reader.Read(buf)
	require.Equal(t, 0, n)
	require.ErrorIs(t, err, io.EOF)

	_, err = reader.Seek(-1, io.SeekStart)
	require.Error(t, err)
}

func TestVolumeWarningsEmptyOnCleanImage(t *testing.T) {
	image := buildSyntheticFAT12Image("HELLO   TXT", []byte("x"))

	vol, err := Open(newMemoryDevice(image))
	require.NoError(t, err)
	defer vol.Close()

	root, err := vol.Root()
	require.NoError(t, err)

	_, err = root.Entries()
	require.NoError(t, err)

	require.Empty(t, vol.Warnings())
}
