package shardfile

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const (
	filePrefix = "shard_"
	tempInfix  = ".tmp-"
)

// Name returns the file name used for the shard at index.
func Name(index int) string {
	return fmt.Sprintf("%s%d", filePrefix, index)
}

// File is the on-disk home of one shard's mapping. It holds no open handles;
// every Encode and Decode opens and closes what it needs.
type File struct {
	fs   afero.Fs
	path string
}

// New returns the File for the shard at index under dir.
func New(fsys afero.Fs, dir string, index int) *File {
	return &File{
		fs:   fsys,
		path: filepath.Join(dir, Name(index)),
	}
}

// Path returns the target file path.
func (f *File) Path() string { return f.path }

// Decode reads and decodes the shard file. A file that does not exist is an
// empty shard, not an error.
func (f *File) Decode() (map[string]string, error) {
	data, err := afero.ReadFile(f.fs, f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, ioErr("read", f.path, err)
	}

	entries, err := UnmarshalEntries(data)
	if err != nil {
		return nil, &CorruptionError{Path: f.path, Reason: err.Error()}
	}
	return entries, nil
}

// Encode replaces the shard file with the encoding of entries. The write goes
// to a temporary file that is renamed over the target only once it is fully
// on disk, so a failure at any point leaves the previous file intact.
func (f *File) Encode(entries map[string]string) error {
	data := MarshalEntries(entries)
	dir, base := filepath.Split(f.path)
	if dir == "" {
		dir = "."
	}

	tmp, err := afero.TempFile(f.fs, dir, base+tempInfix+"*")
	if err != nil {
		return ioErr("create", f.path, err)
	}
	tmpPath := tmp.Name()

	if err := writeAndSync(tmp, data); err != nil {
		_ = f.fs.Remove(tmpPath)
		return ioErr(err.op, tmpPath, err.err)
	}

	if err := f.fs.Rename(tmpPath, f.path); err != nil {
		_ = f.fs.Remove(tmpPath)
		return ioErr("rename", f.path, err)
	}

	if _, ok := f.fs.(*afero.OsFs); ok {
		if err := syncDir(dir); err != nil {
			return ioErr("sync", dir, err)
		}
	}
	return nil
}

// Remove deletes the shard file. Removing a file that does not exist succeeds.
func (f *File) Remove() error {
	err := f.fs.Remove(f.path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return ioErr("remove", f.path, err)
}

type stepError struct {
	op  string
	err error
}

func writeAndSync(tmp afero.File, data []byte) *stepError {
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return &stepError{"write", err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return &stepError{"sync", err}
	}
	if err := tmp.Close(); err != nil {
		return &stepError{"write", err}
	}
	return nil
}

// RemoveStaleTemp deletes temporary files left in dir by an Encode that was
// interrupted before its rename. It returns the paths it removed.
func RemoveStaleTemp(fsys afero.Fs, dir string) ([]string, error) {
	infos, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, ioErr("read", dir, err)
	}

	var removed []string
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.Contains(name, tempInfix) {
			continue
		}
		p := filepath.Join(dir, name)
		if err := fsys.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, ioErr("remove", p, err)
		}
		removed = append(removed, p)
	}
	return removed, nil
}
