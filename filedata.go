package fatvol

import "io"

// Extent is one contiguous run of bytes on the underlying device backing
// part of a file's content.
type Extent struct {
	Offset int64
	Length int64
}

// fileData is the io.ReaderAt exposed to callers for a FileEntry's
// content, reading through the Volume's device/cache. Grounded on
// structures.go's WriteFromClusterChain/EnumerateSectors, generalized from
// "write every sector to an io.Writer" into "serve arbitrary-offset reads".
type fileData struct {
	vol     *Volume
	size    int64
	extents []Extent
}

func newFileData(vol *Volume, fe *FileEntry) (*fileData, error) {
	chain := clusterChainForEntry(vol.bootSector, vol.table, fe)

	clusters, err := chain.Clusters()
	if err != nil {
		return nil, wrapError(DomainVolume, CodeCorruptStructure, "resolve file cluster chain", err)
	}

	extents := coalesceClusters(vol.bootSector, clusters)

	return &fileData{
		vol:     vol,
		size:    int64(fe.Size),
		extents: extents,
	}, nil
}

// coalesceClusters merges consecutive clusters into fewer, larger extents,
// the same coalescing the teacher's sector-by-sector WriteFromClusterChain
// walk could perform but never needed to, since it always wrote every
// sector individually to an io.Writer.
func coalesceClusters(bs *BootSector, clusters []uint32) []Extent {
	if len(clusters) == 0 {
		return nil
	}

	extents := make([]Extent, 0, len(clusters))

	runStart := clusters[0]
	runLen := uint32(1)

	flush := func() {
		extents = append(extents, Extent{
			Offset: bs.ClusterToOffset(runStart),
			Length: int64(runLen) * int64(bs.BytesPerCluster()),
		})
	}

	for i := 1; i < len(clusters); i++ {
		if clusters[i] == runStart+runLen {
			runLen++
			continue
		}

		flush()
		runStart = clusters[i]
		runLen = 1
	}

	flush()

	return extents
}

// Extents exposes the underlying contiguous device ranges backing this
// file's content.
func (fd *fileData) Extents() []Extent {
	return fd.extents
}

// ReadAt implements io.ReaderAt over the (possibly non-contiguous) extent
// list, honoring the file's logical size as an end-of-stream boundary the
// way a sparse-allocation-aware reader must.
func (fd *fileData) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, newError(DomainVolume, CodeOutOfRange, "negative read offset")
	}

	if off >= fd.size {
		return 0, io.EOF
	}

	toRead := int64(len(p))
	if off+toRead > fd.size {
		toRead = fd.size - off
	}

	total := 0
	remaining := toRead
	logicalPos := int64(0)
	readAt := off

	for _, ext := range fd.extents {
		if remaining <= 0 {
			break
		}

		extEnd := logicalPos + ext.Length

		if readAt >= extEnd {
			logicalPos = extEnd
			continue
		}

		skip := readAt - logicalPos
		if skip < 0 {
			skip = 0
		}

		avail := ext.Length - skip
		want := remaining
		if want > avail {
			want = avail
		}

		n, err := fd.vol.device.ReadAt(p[total:int64(total)+want], ext.Offset+skip)
		total += n
		readAt += int64(n)
		remaining -= int64(n)

		if err != nil && err != io.EOF {
			return total, wrapError(DomainVolume, CodeShortRead, "read file content", err)
		}

		logicalPos = extEnd
	}

	var err error
	if int64(total) < toRead {
		err = io.EOF
	}

	return total, err
}

// Size returns the file's logical content length in bytes.
func (fd *fileData) Size() int64 {
	return fd.size
}
