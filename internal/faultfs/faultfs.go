// Package faultfs wraps an afero.Fs with switchable failures and blocking
// points. It exists for tests that need to observe how the store behaves
// when the disk misbehaves.
package faultfs

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// Operations that can be made to fail.
const (
	OpCreate = "create"
	OpRename = "rename"
	OpRemove = "remove"
)

// FS is an afero.Fs whose writes can be failed or stalled on demand.
type FS struct {
	afero.Fs

	mu     sync.Mutex
	fail   map[string]error
	blocks map[string]chan struct{}
	hits   map[string]int
}

// New wraps base. Pass afero.NewMemMapFs() for a purely in-memory disk.
func New(base afero.Fs) *FS {
	return &FS{
		Fs:     base,
		fail:   make(map[string]error),
		blocks: make(map[string]chan struct{}),
		hits:   make(map[string]int),
	}
}

// FailOn makes every subsequent op return err until Reset is called.
func (f *FS) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

// Reset clears all injected failures.
func (f *FS) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = make(map[string]error)
}

// Block stalls file creation for any file whose base name starts with
// prefix until the returned release function is called.
func (f *FS) Block(prefix string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.blocks[prefix] = ch
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.blocks, prefix)
			f.mu.Unlock()
			close(ch)
		})
	}
}

// Hits returns how many times op was attempted.
func (f *FS) Hits(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[op]
}

func (f *FS) check(op, name string) error {
	f.mu.Lock()
	f.hits[op]++
	err := f.fail[op]
	var wait chan struct{}
	if op == OpCreate {
		base := filepath.Base(name)
		for prefix, ch := range f.blocks {
			if strings.HasPrefix(base, prefix) {
				wait = ch
				break
			}
		}
	}
	f.mu.Unlock()

	if wait != nil {
		<-wait
	}
	if err != nil {
		return &os.PathError{Op: op, Path: name, Err: err}
	}
	return nil
}

func (f *FS) Create(name string) (afero.File, error) {
	if err := f.check(OpCreate, name); err != nil {
		return nil, err
	}
	return f.Fs.Create(name)
}

func (f *FS) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&os.O_CREATE != 0 {
		if err := f.check(OpCreate, name); err != nil {
			return nil, err
		}
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func (f *FS) Rename(oldname, newname string) error {
	if err := f.check(OpRename, newname); err != nil {
		return err
	}
	return f.Fs.Rename(oldname, newname)
}

func (f *FS) Remove(name string) error {
	if err := f.check(OpRemove, name); err != nil {
		return err
	}
	return f.Fs.Remove(name)
}
