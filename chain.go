package fatvol

// maxChainLength bounds cluster-chain walks so that a corrupt table that
// loops back on itself cannot spin forever; grounded on the same defensive
// bound structures.go's EnumerateClusters relies on implicitly by checking
// against the total cluster count.
func maxChainLength(bs *BootSector) int {
	return int(bs.ClusterCount) + 2
}

// ClusterChain walks the sequence of clusters belonging to a single file or
// directory, starting at firstCluster. When noFatChain is true (exFAT's
// "ContentsNotFatChains" bit on the stream-extension entry of a file that
// was written in one contiguous allocation), clusters are assumed to be
// simply sequential rather than following the allocation table, mirroring
// structures.go's EnumerateClusters(..., useFat bool) special case.
type ClusterChain struct {
	bs           *BootSector
	table        *AllocationTable
	firstCluster uint32
	noFatChain   bool
	clusterCount uint32 // only meaningful when noFatChain is true
}

func newClusterChain(bs *BootSector, table *AllocationTable, firstCluster uint32, noFatChain bool, clusterCount uint32) *ClusterChain {
	return &ClusterChain{
		bs:           bs,
		table:        table,
		firstCluster: firstCluster,
		noFatChain:   noFatChain,
		clusterCount: clusterCount,
	}
}

// clusterChainForEntry builds the ClusterChain backing fe's content,
// computing the contiguous-run length from fe.Size when the entry uses
// exFAT's NoFatChain contiguous-allocation mode (the cluster count isn't
// itself an on-disk field; it's implied by the data length and cluster
// size, the way structures.go's EnumerateClusters expects its caller to
// have already worked out before calling with useFat=false).
func clusterChainForEntry(bs *BootSector, table *AllocationTable, fe *FileEntry) *ClusterChain {
	var clusterCount uint32

	if fe.noFatChain {
		bpc := uint64(bs.BytesPerCluster())
		clusterCount = uint32((fe.Size + bpc - 1) / bpc)
	}

	return newClusterChain(bs, table, fe.FirstCluster, fe.noFatChain, clusterCount)
}

// Clusters returns the full, ordered list of clusters in the chain. A
// cycle (a cluster revisited before EOC) is reported as a CodeCycleDetected
// error rather than looping forever.
func (cc *ClusterChain) Clusters() ([]uint32, error) {
	if cc.firstCluster == 0 || cc.firstCluster == ClusterFree {
		return nil, nil
	}

	if cc.noFatChain {
		return cc.contiguousClusters(), nil
	}

	return cc.followFatChain()
}

func (cc *ClusterChain) contiguousClusters() []uint32 {
	clusters := make([]uint32, 0, cc.clusterCount)

	for i := uint32(0); i < cc.clusterCount; i++ {
		clusters = append(clusters, cc.firstCluster+i)
	}

	return clusters
}

func (cc *ClusterChain) followFatChain() ([]uint32, error) {
	seen := make(map[uint32]struct{})
	clusters := make([]uint32, 0, 16)

	current := cc.firstCluster
	limit := maxChainLength(cc.bs)

	for i := 0; i < limit; i++ {
		if current == ClusterEOC || current == ClusterFree {
			break
		}

		if current == ClusterBad {
			return nil, newError(DomainChain, CodeCorruptStructure, "chain references a bad cluster")
		}

		if _, dup := seen[current]; dup {
			return nil, newError(DomainChain, CodeCycleDetected, "cluster chain contains a cycle")
		}

		seen[current] = struct{}{}
		clusters = append(clusters, current)

		next, err := cc.table.Entry(current)
		if err != nil {
			return nil, wrapError(DomainChain, CodeCorruptStructure, "walk cluster chain", err)
		}

		current = next
	}

	return clusters, nil
}
