package filesystem

// Flags controls the lookup-vs-create behavior of DirectoryEntry.GetFile and
// DirectoryEntry.GetDirectory.
//
//   - Create=false: plain lookup. A missing entry fails with ErrNotFound, an
//     entry of the wrong kind with ErrTypeMismatch. Exclusive is ignored.
//   - Create=true, Exclusive=false: create the entry if missing, otherwise
//     return the existing one (wrong kind still fails with ErrTypeMismatch).
//   - Create=true, Exclusive=true: creation must be exclusive; any existing
//     entry at the path fails with ErrPathExists.
type Flags struct {
	Create    bool
	Exclusive bool
}
