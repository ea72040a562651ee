package fatvol

// entrySource supplies the raw byte ranges of a directory's storage,
// abstracting over the two shapes a directory region can take: a fixed
// byte range (FAT12/16 root directory) or a cluster chain (FAT32/exFAT
// root, and every subdirectory on every variant). Neither the teacher nor
// any single pack example needs both shapes at once; this dual-source
// abstraction is this module's own generalization (see SPEC_FULL.md §4.G).
type entrySource interface {
	// Segments returns the directory's storage as a sequence of
	// contiguous byte ranges, in order.
	Segments() ([]segment, error)
}

type segment struct {
	offset int64
	length int64
}

type fixedRangeSource struct {
	offset int64
	length int64
}

func (s fixedRangeSource) Segments() ([]segment, error) {
	return []segment{{offset: s.offset, length: s.length}}, nil
}

type clusterChainSource struct {
	bs    *BootSector
	chain *ClusterChain
}

func (s clusterChainSource) Segments() ([]segment, error) {
	clusters, err := s.chain.Clusters()
	if err != nil {
		return nil, err
	}

	segments := make([]segment, 0, len(clusters))

	for _, c := range clusters {
		segments = append(segments, segment{
			offset: s.bs.ClusterToOffset(c),
			length: int64(s.bs.BytesPerCluster()),
		})
	}

	return segments, nil
}

// Directory reads the flat list of FileEntry records in a single directory
// region. It does not recurse; subdirectory traversal is the Volume's job
// (volume.go), grounded on tree.go's lazy-per-node loading.
type Directory struct {
	vol     *Volume
	source  entrySource
	variant Variant

	label    string
	labelSet bool
}

// Label returns the volume-label record decoded while last scanning this
// directory (only ever set, and only meaningful, for the root directory),
// and whether one was present. Entries must be called first; before that
// it reports false.
func (d *Directory) Label() (string, bool) {
	return d.label, d.labelSet
}

// Entries decodes every directory-entry record in this directory, skipping
// `.`/`..` and any non-file record the variant's decoder recognizes, and
// accumulating non-fatal anomalies onto vol's warning list rather than
// failing the whole scan.
func (d *Directory) Entries() ([]*FileEntry, error) {
	segments, err := d.source.Segments()
	if err != nil {
		return nil, wrapError(DomainDirectory, CodeCorruptStructure, "resolve directory storage", err)
	}

	entries := make([]*FileEntry, 0, 16)

	switch d.variant {
	case VariantExFAT:
		dec := newExFATDirEntryDecoder(d.vol.codepage, &d.vol.warnings)

		err = d.walk(segments, exfatDirEntrySize, func(offset int64, slot []byte) (bool, error) {
			fe, done, err := dec.Feed(offset, slot)
			if err != nil {
				return false, err
			}

			if fe != nil {
				entries = append(entries, fe)
			}

			return done, nil
		})

		d.label, d.labelSet = dec.Label()
	default:
		dec := newFATDirEntryDecoder(d.vol.codepage, &d.vol.warnings)

		err = d.walk(segments, fatDirEntrySize, func(offset int64, slot []byte) (bool, error) {
			fe, done, err := dec.Feed(offset, slot)
			if err != nil {
				return false, err
			}

			if fe != nil {
				entries = append(entries, fe)
			}

			return done, nil
		})

		d.label, d.labelSet = dec.Label()
	}

	if err != nil {
		return nil, err
	}

	return entries, nil
}

// walk reads segments in order, slicing each into fixed-size directory
// entry slots and handing each slot, along with its absolute device byte
// offset, to feed until feed reports done or the segments are exhausted.
func (d *Directory) walk(segments []segment, slotSize int64, feed func(offset int64, slot []byte) (done bool, err error)) error {
	for _, seg := range segments {
		buf := make([]byte, seg.length)

		n, err := d.vol.device.ReadAt(buf, seg.offset)
		if err != nil && int64(n) < seg.length {
			return wrapError(DomainDirectory, CodeShortRead, "read directory segment", err)
		}

		for off := int64(0); off+slotSize <= int64(len(buf)); off += slotSize {
			if d.vol.aborted() {
				return newError(DomainVolume, CodeAborted, "scan aborted")
			}

			done, err := feed(seg.offset+off, buf[off:off+slotSize])
			if err != nil {
				return err
			}

			if done {
				return nil
			}
		}
	}

	return nil
}
