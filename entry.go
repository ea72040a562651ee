package fatvol

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// FileAttributes mirrors the FAT/exFAT on-disk attribute byte, shared
// verbatim by both variants (spec §3).
type FileAttributes uint16

const (
	AttrReadOnly FileAttributes = 1 << iota
	AttrHidden
	AttrSystem
	AttrVolumeLabel
	AttrDirectory
	AttrArchive
)

func (a FileAttributes) IsDirectory() bool { return a&AttrDirectory != 0 }
func (a FileAttributes) IsReadOnly() bool  { return a&AttrReadOnly != 0 }
func (a FileAttributes) IsHidden() bool    { return a&AttrHidden != 0 }
func (a FileAttributes) IsSystem() bool    { return a&AttrSystem != 0 }

func (a FileAttributes) String() string {
	flags := ""

	add := func(set bool, c string) {
		if set {
			flags += c
		} else {
			flags += "-"
		}
	}

	add(a.IsReadOnly(), "R")
	add(a.IsHidden(), "H")
	add(a.IsSystem(), "S")
	add(a&AttrVolumeLabel != 0, "L")
	add(a.IsDirectory(), "D")
	add(a&AttrArchive != 0, "A")

	return flags
}

// FileEntry is the variant-neutral, exposed representation of a single
// directory-entry record: what a caller walking a Directory actually sees,
// regardless of whether it was decoded from an 8.3+LFN pair or an exFAT
// entry set.
type FileEntry struct {
	// Identifier addresses this entry stably within its Volume: the
	// absolute device byte offset of its definitive on-disk record (the
	// short-name entry on FAT1x/32, the primary File entry on exFAT).
	Identifier uint64

	Name       string
	ShortName  string // FAT1x/32 only; empty on exFAT
	Attributes FileAttributes

	Size uint64

	FirstCluster uint32
	noFatChain   bool

	// CreatedTicks, ModifiedTicks, AccessedTicks are nil when the on-disk
	// field is absent: FAT1x/32 stores an all-zero date to mean "unset"
	// (AccessedDate commonly is), and exFAT uses an all-zero packed
	// timestamp the same way.
	CreatedTicks  *Ticks
	ModifiedTicks *Ticks
	AccessedTicks *Ticks

	// UTCOffsetMinutes is only meaningful (and only ever non-nil) on exFAT,
	// which optionally stores an explicit UTC offset alongside each
	// timestamp; FAT1x/32 timestamps are always local/unspecified.
	UTCOffsetMinutes *int16
}

// IsDirectory reports whether this entry names a directory.
func (fe *FileEntry) IsDirectory() bool {
	return fe.Attributes.IsDirectory()
}

// CreatedTime, ModifiedTime, AccessedTime convert the stored tick values
// into time.Time, reporting false when the underlying field was absent on
// disk. UTCOffsetMinutes, when set (exFAT only), shifts the returned value
// to reflect the stored offset rather than bare UTC.
func (fe *FileEntry) CreatedTime() (time.Time, bool) {
	return fe.ticksToTime(fe.CreatedTicks)
}

func (fe *FileEntry) ModifiedTime() (time.Time, bool) {
	return fe.ticksToTime(fe.ModifiedTicks)
}

func (fe *FileEntry) AccessedTime() (time.Time, bool) {
	return fe.ticksToTime(fe.AccessedTicks)
}

func (fe *FileEntry) ticksToTime(ticks *Ticks) (time.Time, bool) {
	if ticks == nil {
		return time.Time{}, false
	}

	return fe.applyOffset(ticks.Time()), true
}

func (fe *FileEntry) applyOffset(t time.Time) time.Time {
	if fe.UTCOffsetMinutes == nil {
		return t
	}

	loc := time.FixedZone("", int(*fe.UTCOffsetMinutes)*60)
	return t.In(loc)
}

// String renders a single-line summary, in the spirit of the teacher's
// Dump()-style diagnostic output.
func (fe *FileEntry) String() string {
	kind := "file"
	if fe.IsDirectory() {
		kind = "dir"
	}

	return fmt.Sprintf(
		"FileEntry<NAME=[%s] KIND=[%s] SIZE=(%s) ATTR=[%s] CLUSTER=(%d)>",
		EscapeControlChars(fe.Name), kind, humanize.Bytes(fe.Size), fe.Attributes, fe.FirstCluster)
}

// Dump prints a multi-line, humanized description, mirroring the detail
// view the teacher's Dump() methods (and the now-removed CLI's --detail
// flag) produced.
func (fe *FileEntry) Dump() {
	fmt.Printf("FileEntry\n")
	fmt.Printf("---------\n")
	fmt.Printf("Name: [%s]\n", EscapeControlChars(fe.Name))

	if fe.ShortName != "" {
		fmt.Printf("ShortName: [%s]\n", fe.ShortName)
	}

	fmt.Printf("Attributes: [%s]\n", fe.Attributes)
	fmt.Printf("Size: (%s)\n", humanize.Bytes(fe.Size))
	fmt.Printf("FirstCluster: (%d)\n", fe.FirstCluster)
	created, ok := fe.CreatedTime()
	dumpTime("Created", created, ok)
	modified, ok := fe.ModifiedTime()
	dumpTime("Modified", modified, ok)
	accessed, ok := fe.AccessedTime()
	dumpTime("Accessed", accessed, ok)
}

func dumpTime(label string, t time.Time, ok bool) {
	if !ok {
		fmt.Printf("%s: [unset]\n", label)
		return
	}

	fmt.Printf("%s: [%s]\n", label, t)
}
