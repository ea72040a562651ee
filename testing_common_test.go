package fatvol

import "encoding/binary"

// buildSyntheticFAT12Image constructs a minimal, valid FAT12 volume image
// in memory: one boot sector, one FAT sector, one root-directory sector
// holding a single file, and one data cluster holding that file's content.
// Grounded on soypat/fat's test style of constructing FAT images
// programmatically rather than shipping binary fixtures (see
// SPEC_FULL.md's Test tooling section).
func buildSyntheticFAT12Image(fileName11 string, content []byte) []byte {
	const (
		bytesPerSector    = 512
		sectorsPerCluster = 1
		reservedSectors   = 1
		numberOfFATs      = 1
		rootEntryCount    = 16
		fatSizeSectors    = 1
		totalSectors      = 4
	)

	image := make([]byte, totalSectors*bytesPerSector)

	copy(image[0:bytesPerSector], buildFAT16BootSector(totalSectors, rootEntryCount, fatSizeSectors, reservedSectors, numberOfFATs, sectorsPerCluster))

	fatSectorStart := reservedSectors * bytesPerSector
	// Cluster 2 -> EOC, 12-bit packed.
	image[fatSectorStart+3] = 0xFF
	image[fatSectorStart+4] = 0x0F

	rootSectorStart := (reservedSectors + numberOfFATs*fatSizeSectors) * bytesPerSector
	entry := make([]byte, fatDirEntrySize)
	copy(entry[0:11], fileName11)
	entry[11] = byte(AttrArchive)
	binary.LittleEndian.PutUint16(entry[26:28], 2) // FirstClusterLo = cluster 2
	binary.LittleEndian.PutUint32(entry[28:32], uint32(len(content)))
	copy(image[rootSectorStart:rootSectorStart+fatDirEntrySize], entry)

	dataSectorStart := rootSectorStart + rootEntryCount*32
	copy(image[dataSectorStart:dataSectorStart+len(content)], content)

	return image
}

// buildSyntheticFAT12ImageWithLabel is buildSyntheticFAT12Image plus a
// volume-label short entry placed ahead of the file entry in the root
// directory, for exercising Volume.Label() and the exclusion of
// AttrVolumeLabel entries from Directory.Entries().
func buildSyntheticFAT12ImageWithLabel(label11 string, fileName11 string, content []byte) []byte {
	image := buildSyntheticFAT12Image(fileName11, content)

	const (
		bytesPerSector    = 512
		reservedSectors   = 1
		numberOfFATs      = 1
		fatSizeSectors    = 1
	)

	rootSectorStart := (reservedSectors + numberOfFATs*fatSizeSectors) * bytesPerSector

	labelEntry := make([]byte, fatDirEntrySize)
	copy(labelEntry[0:11], label11)
	labelEntry[11] = byte(AttrVolumeLabel)

	fileEntry := make([]byte, fatDirEntrySize)
	copy(fileEntry, image[rootSectorStart:rootSectorStart+fatDirEntrySize])

	copy(image[rootSectorStart:rootSectorStart+fatDirEntrySize], labelEntry)
	copy(image[rootSectorStart+fatDirEntrySize:rootSectorStart+2*fatDirEntrySize], fileEntry)

	return image
}
