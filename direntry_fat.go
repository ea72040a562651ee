package fatvol

import (
	"github.com/go-restruct/restruct"

	log "github.com/dsoprea/go-logging"
)

const fatDirEntrySize = 32

// rawFATDirEntry is the 32-byte 8.3 short-name directory entry, grounded on
// dargueta/disko/drivers/fat/dirent.go's RawDirent.
type rawFATDirEntry struct {
	Name             [11]byte
	Attributes       uint8
	NTReserved       uint8
	CreatedTimeTenth uint8
	CreatedTime      uint16
	CreatedDate      uint16
	AccessedDate     uint16
	FirstClusterHi   uint16
	ModifiedTime     uint16
	ModifiedDate     uint16
	FirstClusterLo   uint16
	FileSize         uint32
}

// rawLFNEntry is a single VFAT long-file-name fragment.
type rawLFNEntry struct {
	SequenceNumber uint8
	Name1          [10]byte // 5 UTF-16LE units
	Attributes     uint8
	Type           uint8
	Checksum       uint8
	Name2          [12]byte // 6 UTF-16LE units
	FirstClusterLo uint16
	Name3          [4]byte // 2 UTF-16LE units
}

const (
	lfnSequenceMask     = 0x1F
	lfnLastLogicalEntry = 0x40
	deletedEntryMarker  = 0xE5
	escapedE5Byte       = 0x05
	entryListTerminator = 0x00
)

// sumShortName computes the VFAT checksum of an 11-byte 8.3 name field,
// grounded on soypat/fat/fat.go's sum_sfn: sum = (sum>>1)+(sum<<7)+byte,
// truncated to a byte at every step.
func sumShortName(name [11]byte) uint8 {
	var sum uint8

	for _, b := range name {
		sum = (sum >> 1) + (sum << 7) + b
	}

	return sum
}

// fatDirEntryDecoder walks a flat run of 32-byte directory-entry slots
// (from either a fixed root-directory region or a cluster-chain directory)
// and groups LFN fragments with the 8.3 entry they precede, the way real
// FAT implementations require: LFN fragments are always written
// immediately before the short entry they name, in descending sequence
// order.
type fatDirEntryDecoder struct {
	cp       Codepage
	pending  []*rawLFNEntry
	warnings *warningList

	label    string
	labelSet bool
}

func newFATDirEntryDecoder(cp Codepage, warnings *warningList) *fatDirEntryDecoder {
	return &fatDirEntryDecoder{cp: cp, warnings: warnings}
}

// Label returns the volume-label short entry's decoded text, if the walk
// that populated this decoder passed over one.
func (d *fatDirEntryDecoder) Label() (string, bool) {
	return d.label, d.labelSet
}

// Feed processes one 32-byte slot at the given absolute device byte offset.
// It returns a decoded FileEntry when the slot completes an entry (i.e. it
// was a short-name record naming a file or directory), or nil if the slot
// was an LFN fragment, a free slot, a volume-label record, or the
// end-of-directory marker. done is true once the end-of-directory marker (a
// leading 0x00 byte) is seen.
func (d *fatDirEntryDecoder) Feed(offset int64, slot []byte) (entry *FileEntry, done bool, err error) {
	if len(slot) < fatDirEntrySize {
		return nil, false, newError(DomainDirEntry, CodeShortRead, "directory slot truncated")
	}

	switch slot[0] {
	case entryListTerminator:
		return nil, true, nil
	case deletedEntryMarker:
		d.pending = d.pending[:0]
		return nil, false, nil
	}

	if FileAttributes(slot[11])&0x0F == 0x0F {
		var lfn rawLFNEntry
		if err := restruct.Unpack(slot, restructByteOrder, &lfn); err != nil {
			d.warnings.add(wrapError(DomainDirEntry, CodeCorruptStructure, "decode LFN fragment", err))
			return nil, false, nil
		}

		d.pending = append(d.pending, &lfn)
		return nil, false, nil
	}

	var raw rawFATDirEntry

	err = func() (err error) {
		defer func() {
			if state := recover(); state != nil {
				if asErr, ok := state.(error); ok {
					err = log.Wrap(asErr)
				} else {
					err = newError(DomainDirEntry, CodeCorruptStructure, "decode short entry: non-error panic")
				}
			}
		}()

		unpackErr := restruct.Unpack(slot, restructByteOrder, &raw)
		log.PanicIf(unpackErr)

		return nil
	}()

	if err != nil {
		d.pending = d.pending[:0]
		return nil, false, wrapError(DomainDirEntry, CodeCorruptStructure, "decode short directory entry", err)
	}

	if FileAttributes(raw.Attributes)&AttrVolumeLabel != 0 {
		d.pending = d.pending[:0]
		d.label = decodeOEMBytes(raw.Name[:], d.cp)
		d.labelSet = true
		return nil, false, nil
	}

	longName, ok := d.assembleLongName(raw.Name)
	d.pending = d.pending[:0]

	shortName := decodeShortNameField(raw.Name, d.cp)

	if shortName == "." || shortName == ".." {
		return nil, false, nil
	}

	name := shortName
	if ok {
		name = longName
	}

	firstCluster := uint32(raw.FirstClusterHi)<<16 | uint32(raw.FirstClusterLo)

	fe := &FileEntry{
		Identifier:    uint64(offset),
		Name:          name,
		ShortName:     shortName,
		Attributes:    FileAttributes(raw.Attributes),
		Size:          uint64(raw.FileSize),
		FirstCluster:  firstCluster,
		CreatedTicks:  ticksFromFATDateTime(raw.CreatedDate, raw.CreatedTime, raw.CreatedTimeTenth),
		ModifiedTicks: ticksFromFATDateTime(raw.ModifiedDate, raw.ModifiedTime, 0),
		AccessedTicks: ticksFromFATDateTime(raw.AccessedDate, 0, 0),
	}

	return fe, false, nil
}

// assembleLongName reassembles any pending LFN fragments into a name,
// validating both the fragment checksum against the short-name field it
// precedes and the fragment sequence structure itself (a 0x40 end-of-name
// flag on the highest sequence number, a strictly decreasing run down to 1
// with no gaps or duplicates). Either kind of mismatch discards the LFN
// (falls back to the short name) and records a warning rather than failing
// the whole scan.
func (d *fatDirEntryDecoder) assembleLongName(shortName [11]byte) (string, bool) {
	if len(d.pending) == 0 {
		return "", false
	}

	expectedChecksum := sumShortName(shortName)

	// LFN fragments are stored in descending sequence order immediately
	// before the short entry; sort them ascending by sequence number so
	// fragments concatenate into the correct left-to-right name order.
	ordered := make([]*rawLFNEntry, len(d.pending))
	copy(ordered, d.pending)

	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			if ordered[j].SequenceNumber&lfnSequenceMask < ordered[i].SequenceNumber&lfnSequenceMask {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}

	if !validLFNSequence(ordered) {
		d.warnings.add(newError(DomainDirEntry, CodeCorruptStructure, "LFN fragment sequence is malformed"))
		return "", false
	}

	var raw []byte

	for _, frag := range ordered {
		if frag.Checksum != expectedChecksum {
			d.warnings.add(newError(DomainDirEntry, CodeCorruptStructure, "LFN fragment checksum mismatch"))
			return "", false
		}

		raw = append(raw, frag.Name1[:]...)
		raw = append(raw, frag.Name2[:]...)
		raw = append(raw, frag.Name3[:]...)
	}

	decoded := []rune(decodeUTF16LE(raw))

	// Trim the 0xFFFF padding and the terminating NUL unicode/utf16 decodes
	// literally; real names never contain either.
	end := len(decoded)
	for end > 0 && (decoded[end-1] == 0 || decoded[end-1] == '￿') {
		end--
	}

	return string(decoded[:end]), true
}

// validLFNSequence checks a run of fragments, already sorted ascending by
// masked sequence number, for the shape a genuine VFAT long name always
// has: sequence numbers 1..N with no gaps or duplicates, and the
// end-of-name flag set on exactly the highest one.
func validLFNSequence(ordered []*rawLFNEntry) bool {
	n := len(ordered)

	for i, frag := range ordered {
		seq := int(frag.SequenceNumber & lfnSequenceMask)
		if seq != i+1 {
			return false
		}

		isLast := frag.SequenceNumber&lfnLastLogicalEntry != 0
		if i == n-1 {
			if !isLast {
				return false
			}
		} else if isLast {
			return false
		}
	}

	return true
}
