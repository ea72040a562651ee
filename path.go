package fatvol

// PathResolver walks directory entries to resolve a slash-separated path
// into a FileEntry, caching each directory's already-listed children so a
// repeated lookup under the same parent does not re-scan it. Grounded on
// tree.go's TreeNode/Tree.Lookup lazy-loading shape, simplified from a
// persistent tree (which assumes the whole volume gets walked once) into a
// per-directory cache keyed by path so far (this package's Directory has
// no notion of a parent pointer the way TreeNode does).
type PathResolver struct {
	vol   *Volume
	cache map[string]map[string]*FileEntry
}

func newPathResolver(vol *Volume) *PathResolver {
	return &PathResolver{
		vol:   vol,
		cache: make(map[string]map[string]*FileEntry),
	}
}

// Lookup resolves path (slash- or backslash-separated, relative to the
// volume root) to its FileEntry. The root itself cannot be addressed this
// way; use Volume.Root() for that.
func (pr *PathResolver) Lookup(path string) (*FileEntry, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, newError(DomainPath, CodeNotFound, "path resolves to the volume root, which has no entry")
	}

	children, err := pr.childrenOf("")
	if err != nil {
		return nil, err
	}

	var current *FileEntry
	soFar := ""

	for i, part := range parts {
		fe, ok := lookupFold(children, part)
		if !ok {
			return nil, newError(DomainPath, CodeNotFound, "path component not found: "+part)
		}

		current = fe

		if soFar == "" {
			soFar = part
		} else {
			soFar = soFar + "/" + part
		}

		if i == len(parts)-1 {
			break
		}

		if !fe.IsDirectory() {
			return nil, newError(DomainPath, CodeNotADirectory, "path component is not a directory: "+part)
		}

		children, err = pr.childrenOf(soFar)
		if err != nil {
			return nil, err
		}
	}

	return current, nil
}

// childrenOf returns the cached (or freshly scanned) child-name index for
// the directory addressed by key ("" means the volume root, otherwise a
// "/"-joined path already resolved by an earlier Lookup call in this
// resolver's lifetime).
func (pr *PathResolver) childrenOf(key string) (map[string]*FileEntry, error) {
	if cached, ok := pr.cache[key]; ok {
		return cached, nil
	}

	var dir *Directory
	var err error

	if key == "" {
		dir, err = pr.vol.Root()
	} else {
		parent, lookupErr := pr.Lookup(key)
		if lookupErr != nil {
			return nil, lookupErr
		}

		dir, err = pr.vol.directoryForEntry(parent)
	}

	if err != nil {
		return nil, err
	}

	entries, err := dir.Entries()
	if err != nil {
		return nil, err
	}

	children := make(map[string]*FileEntry, len(entries))
	for _, fe := range entries {
		children[foldCase(fe.Name)] = fe
	}

	pr.cache[key] = children

	return children, nil
}

func lookupFold(children map[string]*FileEntry, name string) (*FileEntry, bool) {
	fe, ok := children[foldCase(name)]
	return fe, ok
}
