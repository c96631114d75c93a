// Package storage keeps attachment blobs in a flat directory.
package storage

import "time"

// FileInfo describes a stored blob.
type FileInfo struct {
	Name     string
	Size     int64
	Checksum string
	ModTime  time.Time
}

// Provider is the interface for attachment blob operations. Names are plain
// file names; anything with a path component is rejected.
type Provider interface {
	// List returns every stored file, skipping hidden and temporary files.
	List() ([]FileInfo, error)
	// Stat describes a single stored file.
	Stat(name string) (FileInfo, error)
	// Read returns the contents of a file.
	Read(name string) ([]byte, error)
	// Write atomically writes content under name.
	Write(name string, content []byte) error
	// Delete removes a file.
	Delete(name string) error
	// Path returns the absolute path of name, for serving and watching.
	Path(name string) (string, error)
	// Root returns the absolute directory the provider manages.
	Root() string
}
