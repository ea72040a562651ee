package fatvol

import (
	log "github.com/dsoprea/go-logging"
)

// Special cluster values, normalized to the widest (32-bit) representation
// regardless of the on-disk entry width. Per-variant bad/EOC ranges are
// collapsed into these two sentinels by AllocationTable.Entry.
const (
	ClusterFree    uint32 = 0x00000000
	ClusterBad     uint32 = 0xFFFFFFF7
	ClusterEOC     uint32 = 0xFFFFFFFF
)

// AllocationTable is the decoded File Allocation Table: an in-memory array
// of next-cluster links, one per cluster, read once at Volume-open time.
// exFAT volumes carry one active table (spec's TexFAT mirror, table index
// 1, is not consumed here: read-only inspection only ever needs the active
// table original_source also defaults to).
type AllocationTable struct {
	variant Variant
	raw     []byte
	count   uint32

	reversed map[uint32]uint32 // optional, built only if requested
}

// readAllocationTable loads the first allocation table for the given boot
// sector. fatIndex selects which of NumberOfFATs copies to read (exFAT's
// second copy only exists when VolumeFlags bit 0, ActiveFat, requests it;
// this package always reads copy 0 unless told otherwise).
func readAllocationTable(device BlockDevice, bs *BootSector, fatIndex uint32, buildReversed bool) (at *AllocationTable, err error) {
	defer func() {
		if state := recover(); state != nil {
			if asErr, ok := state.(error); ok {
				err = wrapError(DomainTable, CodeCorruptStructure, "decode allocation table", log.Wrap(asErr))
			} else {
				err = newError(DomainTable, CodeCorruptStructure, "decode allocation table: non-error panic")
			}
		}
	}()

	fatOffsetSectors := bs.FATOffsetSectors + fatIndex*bs.FATSizeSectors

	offset := int64(fatOffsetSectors) * int64(bs.BytesPerSector)
	length := int64(bs.FATSizeSectors) * int64(bs.BytesPerSector)

	raw := make([]byte, length)

	n, readErr := device.ReadAt(raw, offset)
	if readErr != nil && int64(n) < length {
		return nil, wrapError(DomainTable, CodeShortRead, "read allocation table", readErr)
	}

	at = &AllocationTable{
		variant: bs.Variant,
		raw:     raw,
		count:   bs.ClusterCount + 2,
	}

	if buildReversed {
		at.buildReversedIndex()
	}

	return at, nil
}

// Entry returns the raw next-cluster link for the given cluster number,
// normalized so that any on-disk bad/reserved/EOC encoding collapses to
// ClusterBad (the bad-cluster marker) or ClusterEOC (the reserved range and
// the end-of-chain range) regardless of variant width.
func (at *AllocationTable) Entry(cluster uint32) (uint32, error) {
	if cluster < 2 || cluster >= at.count {
		return 0, newError(DomainTable, CodeOutOfRange, "cluster number out of range")
	}

	switch at.variant {
	case VariantFAT12:
		return at.entryFAT12(cluster), nil
	case VariantFAT16:
		return at.entryFAT16(cluster), nil
	case VariantFAT32:
		return at.entryFAT32(cluster), nil
	case VariantExFAT:
		return at.entryFAT32(cluster), nil
	default:
		return 0, newError(DomainTable, CodeUnsupportedVariant, "unknown variant")
	}
}

// entryFAT12 decodes a 12-bit packed triplet: two entries share three
// bytes, grounded on soypat/fat's clst_fat12 bit-unpacking and
// original_source/libfsfat_allocation_table.c's 12-bit reader.
func (at *AllocationTable) entryFAT12(cluster uint32) uint32 {
	byteOffset := cluster + cluster/2

	if int(byteOffset)+1 >= len(at.raw) {
		return ClusterBad
	}

	pair := uint16(at.raw[byteOffset]) | uint16(at.raw[byteOffset+1])<<8

	var value uint16
	if cluster%2 == 0 {
		value = pair & 0x0FFF
	} else {
		value = pair >> 4
	}

	return normalizeFAT12Value(value)
}

func normalizeFAT12Value(value uint16) uint32 {
	switch {
	case value == 0:
		return ClusterFree
	case value == 0xFF7:
		return ClusterBad
	case value >= 0xFF0:
		return ClusterEOC
	default:
		return uint32(value)
	}
}

func (at *AllocationTable) entryFAT16(cluster uint32) uint32 {
	byteOffset := int(cluster) * 2

	if byteOffset+1 >= len(at.raw) {
		return ClusterBad
	}

	value := uint16(at.raw[byteOffset]) | uint16(at.raw[byteOffset+1])<<8

	switch {
	case value == 0:
		return ClusterFree
	case value == 0xFFF7:
		return ClusterBad
	case value >= 0xFFF0:
		return ClusterEOC
	default:
		return uint32(value)
	}
}

func (at *AllocationTable) entryFAT32(cluster uint32) uint32 {
	byteOffset := int(cluster) * 4

	if byteOffset+3 >= len(at.raw) {
		return ClusterBad
	}

	value := uint32(at.raw[byteOffset]) |
		uint32(at.raw[byteOffset+1])<<8 |
		uint32(at.raw[byteOffset+2])<<16 |
		uint32(at.raw[byteOffset+3])<<24

	value &= 0x0FFFFFFF // top 4 bits are reserved, read but ignored

	switch {
	case value == 0:
		return ClusterFree
	case value == 0x0FFFFFF7:
		return ClusterBad
	case value >= 0x0FFFFFF0:
		return ClusterEOC
	default:
		return value
	}
}

// buildReversedIndex populates an optional cluster->owner-cluster reverse
// map (spec's open question: "reversed allocation-table index"). It is
// never consumed by the core read path; it exists only for diagnostic
// lookups through AllocationTable.Owner.
func (at *AllocationTable) buildReversedIndex() {
	at.reversed = make(map[uint32]uint32)

	for c := uint32(2); c < at.count; c++ {
		next, err := at.Entry(c)
		if err != nil {
			continue
		}

		if next != ClusterFree && next != ClusterBad && next != ClusterEOC {
			at.reversed[next] = c
		}
	}
}

// Owner returns the cluster that links to the given cluster, if the
// reversed index was built (WithReversedAllocationTable).
func (at *AllocationTable) Owner(cluster uint32) (uint32, bool) {
	if at.reversed == nil {
		return 0, false
	}

	owner, ok := at.reversed[cluster]
	return owner, ok
}
