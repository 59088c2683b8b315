package domain

import "path"

// ImageItem is one unit of batch work, created when listed from the remote source.
type ImageItem struct {
	// RelPath is relative to the listed remote directory and may contain subdirectories.
	RelPath   string
	RemoteDir string
	Hash      string
	Size      int64
	Width     int
	Height    int
	Format    string
}

// FullPath is the remote path used as the record's identity together with the hash.
func (i *ImageItem) FullPath() string {
	return JoinRemote(i.RemoteDir, i.RelPath)
}

// Filename is the last path segment.
func (i *ImageItem) Filename() string {
	return path.Base(i.RelPath)
}

// JoinRemote joins a remote root and a relative path the same way on every caller.
func JoinRemote(remoteDir, rel string) string {
	if remoteDir == "" {
		return rel
	}
	return path.Join(remoteDir, rel)
}
