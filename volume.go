package fatvol

import (
	"io"
	"strings"
	"sync"
	"sync/atomic"

	log "github.com/dsoprea/go-logging"
)

// VolumeState tracks the Volume Facade's lifecycle, per spec §4.J.
type VolumeState int

const (
	StateUninitialized VolumeState = iota
	StateOpen
	StateAborted
	StateClosed
)

// NotifySink receives diagnostic messages from a Volume, generalizing the
// teacher's bare fmt.Printf-based Dump() calls into an injectable sink.
type NotifySink interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

type noopNotifySink struct{}

func (noopNotifySink) Debugf(format string, args ...interface{}) {}
func (noopNotifySink) Warnf(format string, args ...interface{})  {}

type cachedDevice struct {
	cache *blockCache
	raw   BlockDevice
}

func (cd *cachedDevice) ReadAt(p []byte, off int64) (int, error) {
	data, err := cd.cache.ReadAt(off, len(p))
	if err != nil {
		return 0, err
	}

	n := copy(p, data)

	return n, nil
}

func (cd *cachedDevice) Size() int64  { return cd.raw.Size() }
func (cd *cachedDevice) Close() error { return cd.raw.Close() }

// Volume is the top-level facade over an opened FAT/exFAT filesystem.
type Volume struct {
	state int32 // atomic VolumeState

	device     BlockDevice
	rawDevice  BlockDevice
	bootSector *BootSector
	table      *AllocationTable
	codepage   Codepage
	notify     NotifySink
	warnings   warningList

	abortFlag uint32

	resolver *PathResolver

	labelOnce sync.Once
	label     string
	labelSet  bool

	identifierOnce  sync.Once
	identifierIndex map[uint64]*FileEntry
	identifierErr   error
}

// OpenOption configures a Volume at Open time.
type OpenOption func(*openConfig)

type openConfig struct {
	codepage            Codepage
	cacheCapacity       int
	notify              NotifySink
	reversedAllocTable  bool
	fatIndex            uint32
}

// WithCodepage overrides the OEM codepage used to decode 8.3 short names.
func WithCodepage(cp Codepage) OpenOption {
	return func(c *openConfig) { c.codepage = cp }
}

// WithBlockCache overrides the block cache's segment capacity.
func WithBlockCache(capacity int) OpenOption {
	return func(c *openConfig) { c.cacheCapacity = capacity }
}

// WithNotify installs a NotifySink for diagnostic messages.
func WithNotify(sink NotifySink) OpenOption {
	return func(c *openConfig) { c.notify = sink }
}

// WithReversedAllocationTable builds the optional cluster-owner reverse
// index (spec §9 open question); off by default.
func WithReversedAllocationTable(enabled bool) OpenOption {
	return func(c *openConfig) { c.reversedAllocTable = enabled }
}

// WithFATIndex selects which of NumberOfFATs copies to read; defaults to 0.
func WithFATIndex(index uint32) OpenOption {
	return func(c *openConfig) { c.fatIndex = index }
}

// Open parses the boot sector and allocation table of device and returns a
// ready-to-use Volume. The Volume takes ownership of device and closes it
// when Close is called.
func Open(device BlockDevice, opts ...OpenOption) (vol *Volume, err error) {
	defer func() {
		if state := recover(); state != nil {
			if asErr, ok := state.(error); ok {
				err = wrapError(DomainVolume, CodeCorruptStructure, "open volume", log.Wrap(asErr))
			} else {
				err = newError(DomainVolume, CodeCorruptStructure, "open volume: non-error panic")
			}
		}
	}()

	cfg := &openConfig{
		codepage:      DefaultCodepage,
		cacheCapacity: DefaultCacheCapacity,
		notify:        noopNotifySink{},
	}

	for _, opt := range opts {
		opt(cfg)
	}

	bs, err := decodeBootSector(device)
	if err != nil {
		return nil, err
	}

	cache := newBlockCache(device, cfg.cacheCapacity)
	cd := &cachedDevice{cache: cache, raw: device}

	table, err := readAllocationTable(cd, bs, cfg.fatIndex, cfg.reversedAllocTable)
	if err != nil {
		return nil, err
	}

	vol = &Volume{
		device:     cd,
		rawDevice:  device,
		bootSector: bs,
		table:      table,
		codepage:   cfg.codepage,
		notify:     cfg.notify,
	}

	vol.resolver = newPathResolver(vol)

	atomic.StoreInt32(&vol.state, int32(StateOpen))

	return vol, nil
}

// OpenFile is a convenience wrapper that opens a filesystem image from a
// plain file path.
func OpenFile(path string, volumeOffset int64, opts ...OpenOption) (*Volume, error) {
	device, err := OpenFileDevice(path, volumeOffset, -1)
	if err != nil {
		return nil, err
	}

	return Open(device, opts...)
}

// State returns the Volume's current lifecycle state.
func (vol *Volume) State() VolumeState {
	return VolumeState(atomic.LoadInt32(&vol.state))
}

// Variant reports which on-disk FAT family this volume uses.
func (vol *Volume) Variant() Variant {
	return vol.bootSector.Variant
}

// VolumeSerialNumber returns the volume's serial number, as stored in its
// boot sector.
func (vol *Volume) VolumeSerialNumber() uint32 {
	return vol.bootSector.VolumeSerialNumber
}

// FileSystemRevision returns the exFAT major.minor revision (high byte is
// the major version), or 0 on FAT1x/32 volumes, where the field does not
// exist. Restored from original_source per SPEC_FULL.md §9.
func (vol *Volume) FileSystemRevision() uint16 {
	return vol.bootSector.FileSystemRevision
}

// PercentInUse returns the exFAT cluster-heap percent-in-use hint, or -1
// when unavailable (FAT1x/32, or exFAT's 0xFF "not available" sentinel).
// Restored from original_source per SPEC_FULL.md §9.
func (vol *Volume) PercentInUse() int {
	if vol.bootSector.Variant != VariantExFAT || vol.bootSector.PercentInUse == 0xFF {
		return -1
	}

	return int(vol.bootSector.PercentInUse)
}

// Abort requests cooperative cancellation of any in-progress scan.
// Directory walks poll this flag before each directory-entry slot and
// return a CodeAborted error promptly rather than checking it only at call
// boundaries. Cluster-chain walks and file-content reads do not check the
// flag. After Abort, Root() reports CodeInvalidState.
func (vol *Volume) Abort() {
	atomic.StoreUint32(&vol.abortFlag, 1)
	atomic.StoreInt32(&vol.state, int32(StateAborted))
}

func (vol *Volume) aborted() bool {
	return atomic.LoadUint32(&vol.abortFlag) != 0
}

// Warnings returns the non-fatal anomalies (bad LFN checksums, bad exFAT
// entry-set checksums, unrecognized entry types) accumulated so far.
func (vol *Volume) Warnings() []error {
	return vol.warnings.errors()
}

// Label returns the volume label, decoded from the FAT1x/32 root-directory
// volume-label short entry or the exFAT 0x83 Volume Label entry, and
// whether one was present. The result is computed on first call and
// cached.
func (vol *Volume) Label() (string, bool) {
	vol.labelOnce.Do(func() {
		root, err := vol.Root()
		if err != nil {
			return
		}

		if _, err := root.Entries(); err != nil {
			return
		}

		vol.label, vol.labelSet = root.Label()
	})

	return vol.label, vol.labelSet
}

// FileEntryByIdentifier looks up a FileEntry by the stable identifier
// FileEntry.Identifier carries, recursively indexing the whole directory
// tree on first call.
func (vol *Volume) FileEntryByIdentifier(id uint64) (*FileEntry, error) {
	vol.identifierOnce.Do(func() {
		vol.identifierIndex = make(map[uint64]*FileEntry)

		root, err := vol.Root()
		if err != nil {
			vol.identifierErr = err
			return
		}

		vol.identifierErr = vol.indexDirectory(root)
	})

	if vol.identifierErr != nil {
		return nil, vol.identifierErr
	}

	fe, ok := vol.identifierIndex[id]
	if !ok {
		return nil, newError(DomainVolume, CodeNotFound, "no entry with that identifier")
	}

	return fe, nil
}

func (vol *Volume) indexDirectory(dir *Directory) error {
	entries, err := dir.Entries()
	if err != nil {
		return err
	}

	for _, fe := range entries {
		vol.identifierIndex[fe.Identifier] = fe

		if !fe.IsDirectory() {
			continue
		}

		child, err := vol.directoryForEntry(fe)
		if err != nil {
			return err
		}

		if err := vol.indexDirectory(child); err != nil {
			return err
		}
	}

	return nil
}

// Root returns the Directory over the volume's root directory region.
func (vol *Volume) Root() (*Directory, error) {
	if vol.State() != StateOpen {
		return nil, newError(DomainVolume, CodeInvalidState, "volume is not open")
	}

	return vol.directoryAt(vol.rootSource())
}

func (vol *Volume) rootSource() entrySource {
	bs := vol.bootSector

	if bs.Variant == VariantFAT12 || bs.Variant == VariantFAT16 {
		offset := int64(bs.FirstRootSector) * int64(bs.BytesPerSector)
		length := int64(bs.RootDirSectors) * int64(bs.BytesPerSector)

		return fixedRangeSource{offset: offset, length: length}
	}

	chain := newClusterChain(bs, vol.table, bs.RootDirectoryCluster, false, 0)

	return clusterChainSource{bs: bs, chain: chain}
}

func (vol *Volume) directoryAt(source entrySource) (*Directory, error) {
	return &Directory{vol: vol, source: source, variant: vol.bootSector.Variant}, nil
}

// directoryForEntry returns the Directory backing fe's contents, which
// must be a directory entry.
func (vol *Volume) directoryForEntry(fe *FileEntry) (*Directory, error) {
	if !fe.IsDirectory() {
		return nil, newError(DomainDirectory, CodeNotADirectory, "entry is not a directory")
	}

	chain := clusterChainForEntry(vol.bootSector, vol.table, fe)

	return vol.directoryAt(clusterChainSource{bs: vol.bootSector, chain: chain})
}

// OpenContent returns a random-access reader over fe's file content. fe
// must not be a directory.
func (vol *Volume) OpenContent(fe *FileEntry) (*FileReader, error) {
	if fe.IsDirectory() {
		return nil, newError(DomainVolume, CodeNotADirectory, "cannot open a directory's content")
	}

	fd, err := newFileData(vol, fe)
	if err != nil {
		return nil, err
	}

	return &FileReader{fd: fd}, nil
}

// FileReader is the read-only, random-access handle spec §4.H's "File
// Entry Data Stream" component exposes for a single file's content.
type FileReader struct {
	fd  *fileData
	pos int64
}

func (fr *FileReader) ReadAt(p []byte, off int64) (int, error) {
	return fr.fd.ReadAt(p, off)
}

func (fr *FileReader) Read(p []byte) (int, error) {
	n, err := fr.fd.ReadAt(p, fr.pos)
	fr.pos += int64(n)

	return n, err
}

func (fr *FileReader) Size() int64 {
	return fr.fd.Size()
}

func (fr *FileReader) Extents() []Extent {
	return fr.fd.Extents()
}

// Seek repositions the stream's current offset per io.Seeker semantics
// (io.SeekStart/Current/End). Seeking past the end of the file is allowed
// and clamps to the file's size rather than erroring; the next Read then
// returns io.EOF immediately, matching how a sparse or truncated read
// normally behaves.
func (fr *FileReader) Seek(offset int64, whence int) (int64, error) {
	var base int64

	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = fr.pos
	case io.SeekEnd:
		base = fr.fd.Size()
	default:
		return 0, newError(DomainVolume, CodeOutOfRange, "invalid seek whence")
	}

	pos := base + offset
	if pos < 0 {
		return 0, newError(DomainVolume, CodeOutOfRange, "seek to negative offset")
	}

	if size := fr.fd.Size(); pos > size {
		pos = size
	}

	fr.pos = pos

	return fr.pos, nil
}

// Lookup resolves a slash- or backslash-separated path to a FileEntry,
// relative to the volume root.
func (vol *Volume) Lookup(path string) (*FileEntry, error) {
	return vol.resolver.Lookup(path)
}

// Close releases the underlying device. The Volume transitions to
// StateClosed regardless of its prior state.
func (vol *Volume) Close() error {
	atomic.StoreInt32(&vol.state, int32(StateClosed))

	return vol.rawDevice.Close()
}

// splitPath breaks path into its non-empty components. Leading, trailing,
// and internal empty segments (a leading/trailing slash, or a doubled
// slash like "a//b") are all ignored rather than producing an empty
// component.
func splitPath(path string) []string {
	path = strings.ReplaceAll(path, "\\", "/")

	rawParts := strings.Split(path, "/")
	var parts []string

	for _, p := range rawParts {
		if p != "" {
			parts = append(parts, p)
		}
	}

	return parts
}
