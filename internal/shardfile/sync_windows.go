//go:build windows

package shardfile

// syncDir is a no-op on Windows, which has no directory fsync.
func syncDir(string) error { return nil }
