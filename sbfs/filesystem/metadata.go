package filesystem

import (
	"time"

	"github.com/vfskit/sandboxfs/sbfs/storage"
)

// Metadata holds the state of an entry at the instant it was read.
// Directories report Size 0.
type Metadata struct {
	ModificationTime time.Time `json:"modification_time"`
	Size             int64     `json:"size"`
}

func metadataFrom(info storage.EntryInfo) Metadata {
	md := Metadata{ModificationTime: info.ModTime}
	if !info.IsDir {
		md.Size = info.Size
	}
	return md
}
