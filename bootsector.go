package fatvol

import (
	"encoding/binary"

	"github.com/go-restruct/restruct"

	log "github.com/dsoprea/go-logging"
)

// restructByteOrder is the byte order every on-disk structure in this
// package is packed with. FAT and exFAT are both little-endian on disk.
var restructByteOrder = binary.LittleEndian

const fat32ExtensionSize = 54

// Variant identifies which on-disk FAT family a volume uses.
type Variant int

const (
	VariantUnknown Variant = iota
	VariantFAT12
	VariantFAT16
	VariantFAT32
	VariantExFAT
)

func (v Variant) String() string {
	switch v {
	case VariantFAT12:
		return "FAT12"
	case VariantFAT16:
		return "FAT16"
	case VariantFAT32:
		return "FAT32"
	case VariantExFAT:
		return "exFAT"
	default:
		return "unknown"
	}
}

const bootSectorSize = 512

var exfatOemName = [8]byte{'E', 'X', 'F', 'A', 'T', ' ', ' ', ' '}

// rawBIOSParameterBlock is the common leading structure of every FAT1x/32
// boot sector, byte-for-byte, decoded with restruct the same way the
// teacher decodes its own fixed-layout boot sector header.
type rawBIOSParameterBlock struct {
	JumpBoot          [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumberOfFATs      uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	MediaType         uint8
	FATSize16         uint16
	SectorsPerTrack   uint16
	NumberOfHeads     uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
}

// rawFAT32Extension follows rawBIOSParameterBlock on FAT32 volumes only.
type rawFAT32Extension struct {
	FATSize32         uint32
	ExtFlags          uint16
	FSVersion         uint16
	RootCluster       uint32
	FSInfoSector      uint16
	BackupBootSector  uint16
	Reserved          [12]byte
	DriveNumber       uint8
	Reserved1         uint8
	BootSignature     uint8
	VolumeID          uint32
	VolumeLabel       [11]byte
	FileSystemType    [8]byte
}

// rawExFATBootSector is the exFAT boot sector header, grounded directly on
// structures.go's BootSectorHeader: field order and byte offsets are
// load-bearing and must match the on-disk layout exactly.
type rawExFATBootSector struct {
	JumpBoot               [3]byte
	FileSystemName         [8]byte
	MustBeZero             [53]byte
	PartitionOffset        uint64
	VolumeLength            uint64
	FatOffset              uint32
	FatLength              uint32
	ClusterHeapOffset      uint32
	ClusterCount           uint32
	FirstClusterOfRootDirectory uint32
	VolumeSerialNumber     uint32
	FileSystemRevision     uint16
	VolumeFlags            uint16
	BytesPerSectorShift    uint8
	SectorsPerClusterShift uint8
	NumberOfFats           uint8
	DriveSelect            uint8
	PercentInUse           uint8
	Reserved               [7]byte
}

// BootSector is the decoded, variant-neutral boot sector this package's
// decoders downstream actually consume.
type BootSector struct {
	Variant Variant

	BytesPerSector    uint32
	SectorsPerCluster uint32

	ReservedSectorCount uint32
	NumberOfFATs        uint32

	// FAT12/16 only: the fixed root directory region.
	RootEntryCount   uint32
	RootDirSectors   uint32
	FirstRootSector  uint32

	// FAT32/exFAT only.
	RootDirectoryCluster uint32

	// FATOffsetSectors is the sector offset of the active allocation table
	// from the start of the volume. On exFAT this is read directly from the
	// boot sector's FatOffset field rather than derived, because a volume
	// may leave an alignment gap between the FAT region and
	// ClusterHeapOffset that a subtraction-based derivation would miss.
	FATOffsetSectors uint32

	FATSizeSectors   uint32
	TotalSectors     uint64
	FirstDataSector  uint32
	ClusterCount     uint32

	VolumeSerialNumber uint32

	// exFAT only.
	FileSystemRevision uint16
	VolumeFlags        uint16
	PercentInUse       uint8
}

// decodeBootSector reads and decodes the single boot sector at the start of
// the volume, sniffing FAT1x/32 vs. exFAT the same way
// original_source/libfsfat_boot_record.c does: by comparing the OEM name
// field against the literal "EXFAT   " signature.
func decodeBootSector(device BlockDevice) (bs *BootSector, err error) {
	defer func() {
		if state := recover(); state != nil {
			if asErr, ok := state.(error); ok {
				err = wrapError(DomainBootSector, CodeCorruptStructure, "decode boot sector", log.Wrap(asErr))
			} else {
				err = newError(DomainBootSector, CodeCorruptStructure, "decode boot sector: non-error panic")
			}
		}
	}()

	buf := make([]byte, bootSectorSize)

	n, readErr := device.ReadAt(buf, 0)
	if readErr != nil || n < bootSectorSize {
		return nil, wrapError(DomainBootSector, CodeShortRead, "read boot sector", readErr)
	}

	if buf[510] != 0x55 || buf[511] != 0xAA {
		return nil, newError(DomainBootSector, CodeBadSignature, "not a FAT volume")
	}

	var oemProbe [8]byte
	copy(oemProbe[:], buf[3:11])

	if oemProbe == exfatOemName {
		return decodeExFATBootSector(buf)
	}

	return decodeFATBootSector(buf)
}

func decodeExFATBootSector(buf []byte) (*BootSector, error) {
	var raw rawExFATBootSector

	err := restruct.Unpack(buf, restructByteOrder, &raw)
	log.PanicIf(err)

	bytesPerSector := uint32(1) << raw.BytesPerSectorShift
	sectorsPerCluster := uint32(1) << raw.SectorsPerClusterShift

	bs := &BootSector{
		Variant:              VariantExFAT,
		BytesPerSector:       bytesPerSector,
		SectorsPerCluster:    sectorsPerCluster,
		NumberOfFATs:         uint32(raw.NumberOfFats),
		RootDirectoryCluster: raw.FirstClusterOfRootDirectory,
		FATOffsetSectors:     raw.FatOffset,
		FATSizeSectors:       raw.FatLength,
		TotalSectors:         raw.VolumeLength,
		FirstDataSector:      raw.ClusterHeapOffset,
		ClusterCount:         raw.ClusterCount,
		VolumeSerialNumber:   raw.VolumeSerialNumber,
		FileSystemRevision:   raw.FileSystemRevision,
		VolumeFlags:          raw.VolumeFlags,
		PercentInUse:         raw.PercentInUse,
	}

	return bs, nil
}

func decodeFATBootSector(buf []byte) (*BootSector, error) {
	var raw rawBIOSParameterBlock

	err := restruct.Unpack(buf, restructByteOrder, &raw)
	log.PanicIf(err)

	if raw.BytesPerSector == 0 || raw.SectorsPerCluster == 0 {
		return nil, newError(DomainBootSector, CodeBadSignature, "bytes-per-sector or sectors-per-cluster is zero")
	}

	totalSectors := uint64(raw.TotalSectors16)
	if totalSectors == 0 {
		totalSectors = uint64(raw.TotalSectors32)
	}

	rootDirSectors := (uint32(raw.RootEntryCount)*32 + uint32(raw.BytesPerSector) - 1) / uint32(raw.BytesPerSector)

	fatSize := uint32(raw.FATSize16)

	bs := &BootSector{
		BytesPerSector:      uint32(raw.BytesPerSector),
		SectorsPerCluster:   uint32(raw.SectorsPerCluster),
		ReservedSectorCount: uint32(raw.ReservedSectors),
		NumberOfFATs:        uint32(raw.NumberOfFATs),
		RootEntryCount:      uint32(raw.RootEntryCount),
		RootDirSectors:      rootDirSectors,
		TotalSectors:        totalSectors,
	}

	if fatSize == 0 {
		var ext rawFAT32Extension
		if len(buf) < 36+fat32ExtensionSize {
			return nil, newError(DomainBootSector, CodeShortRead, "fat32 extension truncated")
		}

		err := restruct.Unpack(buf[36:], restructByteOrder, &ext)
		log.PanicIf(err)

		fatSize = ext.FATSize32
		bs.RootDirectoryCluster = ext.RootCluster
		bs.VolumeSerialNumber = ext.VolumeID
	}

	bs.FATOffsetSectors = bs.ReservedSectorCount
	bs.FATSizeSectors = fatSize
	bs.FirstRootSector = bs.ReservedSectorCount + bs.NumberOfFATs*fatSize
	bs.FirstDataSector = bs.FirstRootSector + rootDirSectors

	dataSectors := uint32(0)
	if bs.TotalSectors > uint64(bs.FirstDataSector) {
		dataSectors = uint32(bs.TotalSectors) - bs.FirstDataSector
	}

	bs.ClusterCount = dataSectors / bs.SectorsPerCluster

	switch {
	case bs.ClusterCount < 4085:
		bs.Variant = VariantFAT12
	case bs.ClusterCount < 65525:
		bs.Variant = VariantFAT16
	default:
		bs.Variant = VariantFAT32
	}

	return bs, nil
}

// BytesPerCluster is a convenience derived value used throughout the chain
// and directory decoders.
func (bs *BootSector) BytesPerCluster() uint32 {
	return bs.BytesPerSector * bs.SectorsPerCluster
}

// ClusterToSector converts a cluster number (clusters are 2-indexed on
// both FAT and exFAT) into the first logical sector of that cluster.
func (bs *BootSector) ClusterToSector(cluster uint32) uint32 {
	return bs.FirstDataSector + (cluster-2)*bs.SectorsPerCluster
}

// ClusterToOffset converts a cluster number directly into a byte offset
// from the start of the volume.
func (bs *BootSector) ClusterToOffset(cluster uint32) int64 {
	return int64(bs.ClusterToSector(cluster)) * int64(bs.BytesPerSector)
}
