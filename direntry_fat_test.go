package fatvol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testAttrDirectory = 0x10

func buildShortNameField(t *testing.T, name8dot3 string) [11]byte {
	t.Helper()

	require.Len(t, name8dot3, 11)

	var field [11]byte
	copy(field[:], name8dot3)

	return field
}

func buildShortEntry(t *testing.T, name8dot3 string, attrs uint8, firstCluster uint32, size uint32) []byte {
	t.Helper()

	buf := make([]byte, fatDirEntrySize)
	copy(buf[0:11], []byte(name8dot3))
	buf[11] = attrs
	buf[26] = byte(firstCluster)
	buf[27] = byte(firstCluster >> 8)
	buf[20] = byte(firstCluster >> 16)
	buf[21] = byte(firstCluster >> 24)
	buf[28] = byte(size)
	buf[29] = byte(size >> 8)
	buf[30] = byte(size >> 16)
	buf[31] = byte(size >> 24)

	return buf
}

func buildLFNEntry(t *testing.T, sequence uint8, checksum uint8, chars string) []byte {
	t.Helper()
	require.LessOrEqual(t, len(chars), 13)

	padded := []rune(chars)
	for len(padded) < 13 {
		padded = append(padded, 0xFFFF)
	}

	units := encodeUTF16LE(string(padded[:13]))
	// encodeUTF16LE re-encodes 0xFFFF as a rune which round-trips through
	// UTF-16 as a single unit here since it's within the BMP.

	buf := make([]byte, fatDirEntrySize)
	buf[0] = sequence
	copy(buf[1:11], units[0:10])
	buf[11] = 0x0F
	buf[12] = 0x00
	buf[13] = checksum
	copy(buf[14:26], units[10:22])
	buf[26], buf[27] = 0, 0
	copy(buf[28:32], units[22:26])

	return buf
}

func TestFATDirEntryDecoderShortNameOnly(t *testing.T) {
	warnings := &warningList{}
	dec := newFATDirEntryDecoder(DefaultCodepage, warnings)

	entry := buildShortEntry(t, "README  TXT", 0x20, 5, 1024)

	fe, done, err := dec.Feed(0, entry)
	require.NoError(t, err)
	require.False(t, done)
	require.NotNil(t, fe)
	require.Equal(t, "README.TXT", fe.Name)
	require.Equal(t, uint32(5), fe.FirstCluster)
	require.Equal(t, uint64(1024), fe.Size)
}

func TestFATDirEntryDecoderWithLongName(t *testing.T) {
	warnings := &warningList{}
	dec := newFATDirEntryDecoder(DefaultCodepage, warnings)

	shortField := buildShortNameField(t, "LONGN~1 TXT")
	checksum := sumShortName(shortField)

	lfn := buildLFNEntry(t, 0x41, checksum, "long name.txt")

	fe, done, err := dec.Feed(0, lfn)
	require.NoError(t, err)
	require.False(t, done)
	require.Nil(t, fe)

	shortEntry := buildShortEntry(t, "LONGN~1 TXT", 0x20, 9, 42)

	fe, done, err = dec.Feed(32, shortEntry)
	require.NoError(t, err)
	require.False(t, done)
	require.NotNil(t, fe)
	require.Equal(t, "long name.txt", fe.Name)
	require.Equal(t, "LONGN~1.TXT", fe.ShortName)
	require.Len(t, warnings.errors(), 0)
}

func TestFATDirEntryDecoderBadLFNChecksumFallsBackToShortName(t *testing.T) {
	warnings := &warningList{}
	dec := newFATDirEntryDecoder(DefaultCodepage, warnings)

	lfn := buildLFNEntry(t, 0x41, 0xAB, "long name.txt")

	_, _, err := dec.Feed(0, lfn)
	require.NoError(t, err)

	shortEntry := buildShortEntry(t, "LONGN~1 TXT", 0x20, 9, 42)

	fe, _, err := dec.Feed(32, shortEntry)
	require.NoError(t, err)
	require.NotNil(t, fe)
	require.Equal(t, "LONGN~1.TXT", fe.Name)
	require.NotEmpty(t, warnings.errors())
}

func TestFATDirEntryDecoderEndOfDirectory(t *testing.T) {
	warnings := &warningList{}
	dec := newFATDirEntryDecoder(DefaultCodepage, warnings)

	buf := make([]byte, fatDirEntrySize)

	fe, done, err := dec.Feed(0, buf)
	require.NoError(t, err)
	require.True(t, done)
	require.Nil(t, fe)
}

func TestFATDirEntryDecoderSkipsDotEntries(t *testing.T) {
	warnings := &warningList{}
	dec := newFATDirEntryDecoder(DefaultCodepage, warnings)

	dotEntry := buildShortEntry(t, ".          ", testAttrDirectory, 5, 0)

	fe, done, err := dec.Feed(0, dotEntry)
	require.NoError(t, err)
	require.False(t, done)
	require.Nil(t, fe)
}

func TestFATDirEntryDecoderVolumeLabelExcludedAndCaptured(t *testing.T) {
	warnings := &warningList{}
	dec := newFATDirEntryDecoder(DefaultCodepage, warnings)

	labelEntry := buildShortEntry(t, "TESTVOLUME ", uint8(AttrVolumeLabel), 0, 0)

	fe, done, err := dec.Feed(0, labelEntry)
	require.NoError(t, err)
	require.False(t, done)
	require.Nil(t, fe)

	label, ok := dec.Label()
	require.True(t, ok)
	require.Equal(t, "TESTVOLUME", label)

	fileEntry := buildShortEntry(t, "README  TXT", 0x20, 5, 1024)

	fe, _, err = dec.Feed(32, fileEntry)
	require.NoError(t, err)
	require.NotNil(t, fe)
	require.Equal(t, "README.TXT", fe.Name)
}

func TestFATDirEntryDecoderIdentifierIsSlotOffset(t *testing.T) {
	warnings := &warningList{}
	dec := newFATDirEntryDecoder(DefaultCodepage, warnings)

	entry := buildShortEntry(t, "README  TXT", 0x20, 5, 1024)

	fe, _, err := dec.Feed(64, entry)
	require.NoError(t, err)
	require.Equal(t, uint64(64), fe.Identifier)
}

func TestFATDirEntryDecoderRejectsMalformedLFNSequence(t *testing.T) {
	warnings := &warningList{}
	dec := newFATDirEntryDecoder(DefaultCodepage, warnings)

	shortField := buildShortNameField(t, "LONGN~1 TXT")
	checksum := sumShortName(shortField)

	// Sequence number 2 claims to be the last logical entry (0x40 set) but
	// sequence 1 is missing entirely: a gap, not a valid 1..N run.
	lfn := buildLFNEntry(t, 0x42, checksum, "long name.txt")

	_, _, err := dec.Feed(0, lfn)
	require.NoError(t, err)

	shortEntry := buildShortEntry(t, "LONGN~1 TXT", 0x20, 9, 42)

	fe, _, err := dec.Feed(32, shortEntry)
	require.NoError(t, err)
	require.NotNil(t, fe)
	require.Equal(t, "LONGN~1.TXT", fe.Name)
	require.NotEmpty(t, warnings.errors())
}
