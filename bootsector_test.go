package fatvol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildFAT16BootSector(totalSectors uint16, rootEntryCount uint16, fatSize uint16, reservedSectors uint16, numFATs uint8, sectorsPerCluster uint8) []byte {
	buf := make([]byte, bootSectorSize)

	copy(buf[3:11], "MSDOS5.0")
	binary.LittleEndian.PutUint16(buf[11:13], 512)
	buf[13] = sectorsPerCluster
	binary.LittleEndian.PutUint16(buf[14:16], reservedSectors)
	buf[16] = numFATs
	binary.LittleEndian.PutUint16(buf[17:19], rootEntryCount)
	binary.LittleEndian.PutUint16(buf[19:21], totalSectors)
	buf[21] = 0xF8
	binary.LittleEndian.PutUint16(buf[22:24], fatSize)
	buf[510] = 0x55
	buf[511] = 0xAA

	return buf
}

func buildExFATBootSector(fatOffset, fatLength, clusterHeapOffset, clusterCount, rootCluster uint32, volumeLength uint64) []byte {
	buf := make([]byte, bootSectorSize)

	copy(buf[3:11], "EXFAT   ")
	binary.LittleEndian.PutUint64(buf[72:80], volumeLength)
	binary.LittleEndian.PutUint32(buf[80:84], fatOffset)
	binary.LittleEndian.PutUint32(buf[84:88], fatLength)
	binary.LittleEndian.PutUint32(buf[88:92], clusterHeapOffset)
	binary.LittleEndian.PutUint32(buf[92:96], clusterCount)
	binary.LittleEndian.PutUint32(buf[96:100], rootCluster)
	buf[108] = 9  // BytesPerSectorShift -> 512
	buf[109] = 3  // SectorsPerClusterShift -> 8
	buf[110] = 1  // NumberOfFats
	buf[510] = 0x55
	buf[511] = 0xAA

	return buf
}

func TestDecodeBootSectorFAT16(t *testing.T) {
	raw := buildFAT16BootSector(20065, 512, 16, 1, 2, 4)
	device := newMemoryDevice(raw)

	bs, err := decodeBootSector(device)
	require.NoError(t, err)
	require.Equal(t, VariantFAT16, bs.Variant)
	require.Equal(t, uint32(512), bs.BytesPerSector)
	require.Equal(t, uint32(4), bs.SectorsPerCluster)
	require.Equal(t, uint32(2), bs.NumberOfFATs)
	require.Equal(t, uint32(16), bs.FATSizeSectors)
}

func TestDecodeBootSectorExFAT(t *testing.T) {
	raw := buildExFATBootSector(128, 32, 1024, 4096, 5, 65536)
	device := newMemoryDevice(raw)

	bs, err := decodeBootSector(device)
	require.NoError(t, err)
	require.Equal(t, VariantExFAT, bs.Variant)
	require.Equal(t, uint32(512), bs.BytesPerSector)
	require.Equal(t, uint32(8), bs.SectorsPerCluster)
	require.Equal(t, uint32(5), bs.RootDirectoryCluster)
	require.Equal(t, uint32(4096), bs.ClusterCount)
	require.Equal(t, uint32(1024), bs.FirstDataSector)
}

func TestDecodeBootSectorShortRead(t *testing.T) {
	device := newMemoryDevice(make([]byte, 100))

	_, err := decodeBootSector(device)
	require.Error(t, err)
}

func TestDecodeBootSectorRejectsMissingTrailingSignature(t *testing.T) {
	raw := buildFAT16BootSector(20065, 512, 16, 1, 2, 4)
	raw[510] = 0x00
	raw[511] = 0x00
	device := newMemoryDevice(raw)

	_, err := decodeBootSector(device)
	require.Error(t, err)

	fvErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, CodeBadSignature, fvErr.Code)
}

func TestBootSectorClusterToOffset(t *testing.T) {
	bs := &BootSector{BytesPerSector: 512, SectorsPerCluster: 4, FirstDataSector: 100}

	require.Equal(t, uint32(100), bs.ClusterToSector(2))
	require.Equal(t, int64(100*512), bs.ClusterToOffset(2))
	require.Equal(t, uint32(104), bs.ClusterToSector(3))
}
