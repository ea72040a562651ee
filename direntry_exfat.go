package fatvol

import (
	"github.com/go-restruct/restruct"

	log "github.com/dsoprea/go-logging"
)

const exfatDirEntrySize = 32

// exfatEntryType (built by decodeEntryType) classifies an exFAT
// directory-entry type byte, grounded on navigator_entry_types.go's EntryType bit-decomposition:
// bit 7 is "in use", bit 6 is primary(0)/secondary(1), bit 5 is
// critical(0)/benign(1), bits 0-4 are the type code within that class.
type exfatEntryType struct {
	typeCode   uint8
	isCritical bool
	isPrimary  bool
	isInUse    bool
}

func decodeEntryType(b uint8) exfatEntryType {
	return exfatEntryType{
		typeCode:   b & 0x1F,
		isCritical: b&0x20 == 0,
		isPrimary:  b&0x40 == 0,
		isInUse:    b&0x80 != 0,
	}
}

const (
	exfatEntryTypeAllocationBitmap   = 0x81
	exfatEntryTypeUpcaseTable        = 0x82
	exfatEntryTypeVolumeLabel        = 0x83
	exfatEntryTypeVolumeGuid         = 0xA0
	exfatEntryTypeTexFATPadding      = 0xA1
	exfatEntryTypeFile               = 0x85
	exfatEntryTypeStreamExtension    = 0xC0
	exfatEntryTypeFileName           = 0xC1
	exfatEntryTypeVendorExtension    = 0xE0
	exfatEntryTypeVendorAllocation   = 0xE1
)

type rawExFATFileEntry struct {
	EntryType               uint8
	SecondaryCount          uint8
	SetChecksum             uint16
	FileAttributes          uint16
	Reserved1               uint16
	CreateTimestamp         uint32
	LastModifiedTimestamp   uint32
	LastAccessedTimestamp   uint32
	Create10msIncrement     uint8
	LastModified10msIncrement uint8
	CreateUtcOffset         uint8
	LastModifiedUtcOffset   uint8
	LastAccessedUtcOffset   uint8
	Reserved2               [7]byte
}

type rawExFATStreamExtensionEntry struct {
	EntryType             uint8
	GeneralSecondaryFlags uint8
	Reserved1             uint8
	NameLength            uint8
	NameHash              uint16
	Reserved2             uint16
	ValidDataLength       uint64
	Reserved3             uint32
	FirstCluster          uint32
	DataLength            uint64
}

type rawExFATFileNameEntry struct {
	EntryType             uint8
	GeneralSecondaryFlags uint8
	FileName              [30]byte
}

// rawExFATVolumeLabelEntry is the 0x83 Volume Label primary entry.
// CharacterCount is zero when the volume carries no label at all, in which
// case the caller never reaches this type (there is no entry to decode).
type rawExFATVolumeLabelEntry struct {
	EntryType      uint8
	CharacterCount uint8
	VolumeLabel    [22]byte // up to 11 UTF-16LE units
	Reserved       [8]byte
}

const (
	streamFlagAllocationPossible = 0x01
	streamFlagNoFatChain         = 0x02
)

// exfatSetChecksum implements the exFAT directory-entry-set checksum:
// checksum = rotr16(checksum, 1) + byte, over every byte of the set except
// the two SetChecksum bytes themselves (offsets 2-3 of the primary entry).
func exfatSetChecksum(entries [][]byte) uint16 {
	var checksum uint16

	for entryIndex, entry := range entries {
		for byteIndex, b := range entry {
			if entryIndex == 0 && (byteIndex == 2 || byteIndex == 3) {
				continue
			}

			checksum = (checksum>>1 | checksum<<15) + uint16(b)
		}
	}

	return checksum
}

// exfatDirEntryDecoder groups a primary File entry (0x85) with its
// SecondaryCount following entries into one FileEntry, grounded on
// navigator.go's EnumerateDirectoryEntries grouping logic and
// navigator_entry_types.go's per-type structs.
type exfatDirEntryDecoder struct {
	cp       Codepage
	warnings *warningList

	active     bool
	setOffset  int64
	raw        rawExFATFileEntry
	entries    [][]byte
	remaining  int

	label    string
	labelSet bool
}

func newExFATDirEntryDecoder(cp Codepage, warnings *warningList) *exfatDirEntryDecoder {
	return &exfatDirEntryDecoder{cp: cp, warnings: warnings}
}

// Label returns the exFAT Volume Label (0x83) entry's decoded text, if the
// walk that populated this decoder passed over one.
func (d *exfatDirEntryDecoder) Label() (string, bool) {
	return d.label, d.labelSet
}

// Feed processes one 32-byte slot at the given absolute device byte offset.
// It returns a non-nil FileEntry once a complete File entry set has been
// consumed.
func (d *exfatDirEntryDecoder) Feed(offset int64, slot []byte) (entry *FileEntry, done bool, err error) {
	if len(slot) < exfatDirEntrySize {
		return nil, false, newError(DomainDirEntry, CodeShortRead, "directory slot truncated")
	}

	entryType := decodeEntryType(slot[0])

	if !entryType.isInUse {
		if d.active {
			// A set was interrupted by a deleted slot; abandon it.
			d.active = false
			d.entries = nil
		}

		if slot[0] == 0x00 {
			return nil, true, nil
		}

		return nil, false, nil
	}

	if d.active {
		d.entries = append(d.entries, append([]byte(nil), slot...))
		d.remaining--

		if d.remaining > 0 {
			return nil, false, nil
		}

		return d.finish()
	}

	if entryType.typeCode == exfatEntryTypeFile&0x1F && entryType.isPrimary {
		var raw rawExFATFileEntry

		if err := restruct.Unpack(slot, restructByteOrder, &raw); err != nil {
			d.warnings.add(wrapError(DomainDirEntry, CodeCorruptStructure, "decode exFAT file entry", err))
			return nil, false, nil
		}

		d.active = true
		d.setOffset = offset
		d.raw = raw
		d.entries = [][]byte{append([]byte(nil), slot...)}
		d.remaining = int(raw.SecondaryCount)

		if d.remaining == 0 {
			return d.finish()
		}

		return nil, false, nil
	}

	if slot[0] == exfatEntryTypeVolumeLabel {
		var vl rawExFATVolumeLabelEntry

		if err := restruct.Unpack(slot, restructByteOrder, &vl); err != nil {
			d.warnings.add(wrapError(DomainDirEntry, CodeCorruptStructure, "decode exFAT volume label entry", err))
			return nil, false, nil
		}

		length := int(vl.CharacterCount)
		if length > 11 {
			length = 11
		}

		d.label = decodeUTF16LE(vl.VolumeLabel[:length*2])
		d.labelSet = true

		return nil, false, nil
	}

	// Non-file primary/secondary records this package recognizes and
	// skips outright: they carry no file-entry semantics of their own.
	switch slot[0] {
	case exfatEntryTypeAllocationBitmap, exfatEntryTypeUpcaseTable,
		exfatEntryTypeVolumeGuid, exfatEntryTypeTexFATPadding,
		exfatEntryTypeVendorExtension, exfatEntryTypeVendorAllocation:
		return nil, false, nil
	}

	d.warnings.add(newError(DomainDirEntry, CodeCorruptStructure, "unrecognized exFAT directory entry type"))

	return nil, false, nil
}

func (d *exfatDirEntryDecoder) finish() (entry *FileEntry, done bool, err error) {
	defer func() {
		d.active = false
		d.entries = nil
	}()

	expected := exfatSetChecksum(d.entries)
	if expected != d.raw.SetChecksum {
		d.warnings.add(newError(DomainDirEntry, CodeCorruptStructure, "exFAT entry-set checksum mismatch"))
		return nil, false, nil
	}

	if len(d.entries) < 2 {
		d.warnings.add(newError(DomainDirEntry, CodeCorruptStructure, "exFAT entry set missing stream extension"))
		return nil, false, nil
	}

	var stream rawExFATStreamExtensionEntry

	err = func() (err error) {
		defer func() {
			if state := recover(); state != nil {
				if asErr, ok := state.(error); ok {
					err = log.Wrap(asErr)
				} else {
					err = newError(DomainDirEntry, CodeCorruptStructure, "decode stream extension: non-error panic")
				}
			}
		}()

		unpackErr := restruct.Unpack(d.entries[1], restructByteOrder, &stream)
		log.PanicIf(unpackErr)

		return nil
	}()

	if err != nil {
		return nil, false, wrapError(DomainDirEntry, CodeCorruptStructure, "decode exFAT stream extension entry", err)
	}

	nameBuf := make([]byte, 0, 30*len(d.entries))

	for _, raw := range d.entries[2:] {
		var fn rawExFATFileNameEntry

		if unpackErr := restruct.Unpack(raw, restructByteOrder, &fn); unpackErr != nil {
			d.warnings.add(wrapError(DomainDirEntry, CodeCorruptStructure, "decode exFAT filename entry", unpackErr))
			return nil, false, nil
		}

		nameBuf = append(nameBuf, fn.FileName[:]...)
	}

	name := decodeUTF16LE(nameBuf)
	if int(stream.NameLength) < len([]rune(name)) {
		name = string([]rune(name)[:stream.NameLength])
	}

	createOffset := utcOffsetFromByte(d.raw.CreateUtcOffset)

	fe := &FileEntry{
		Identifier:       uint64(d.setOffset),
		Name:             name,
		Attributes:       FileAttributes(d.raw.FileAttributes),
		Size:             stream.DataLength,
		FirstCluster:     stream.FirstCluster,
		noFatChain:       stream.GeneralSecondaryFlags&streamFlagNoFatChain != 0,
		CreatedTicks:     ticksPtrFromExFATTimestamp(d.raw.CreateTimestamp, d.raw.Create10msIncrement),
		ModifiedTicks:    ticksPtrFromExFATTimestamp(d.raw.LastModifiedTimestamp, d.raw.LastModified10msIncrement),
		AccessedTicks:    ticksPtrFromExFATTimestamp(d.raw.LastAccessedTimestamp, 0),
		UTCOffsetMinutes: createOffset,
	}

	return fe, false, nil
}

// ticksPtrFromExFATTimestamp decodes exFAT's packed 32-bit timestamp (bits
// 25-31 year-since-1980, 21-24 month, 16-20 day, 11-15 hour, 5-10 minute,
// 0-4 seconds/2) plus an optional 10ms increment field, grounded on
// navigator_entry_types.go's ExfatTimestamp accessors. A zero packed value
// means the field is absent, mirroring FAT1x/32's all-zero-date convention.
func ticksPtrFromExFATTimestamp(packed uint32, tenMsIncrement uint8) *Ticks {
	if packed == 0 {
		return nil
	}

	year := int(packed >> 25 & 0x7F)
	month := int(packed >> 21 & 0x0F)
	day := int(packed >> 16 & 0x1F)
	hour := int(packed >> 11 & 0x1F)
	minute := int(packed >> 5 & 0x3F)
	twoSec := int(packed & 0x1F)

	if month == 0 {
		month = 1
	}

	if day == 0 {
		day = 1
	}

	t := ticksFromFATParts(year, month, day, hour, minute, twoSec, tenMsIncrement)

	return &t
}

// utcOffsetFromByte decodes exFAT's UTC-offset byte: bit 7 set means the
// offset is present, bits 0-6 are a signed 15-minute-increment count.
func utcOffsetFromByte(b uint8) *int16 {
	if b&0x80 == 0 {
		return nil
	}

	raw := int16(b & 0x7F)
	if raw&0x40 != 0 {
		raw = raw - 0x80
	}

	minutes := raw * 15

	return &minutes
}
