package shardfile

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

const (
	// Magic identifies a shard file.
	Magic = "DKSH"

	// Version is the only format version this package writes and reads.
	Version byte = 1

	headerSize   = len(Magic) + 1
	checksumSize = 8
)

// MarshalEntries encodes a full shard mapping. Keys are written in sorted
// order so equal mappings always produce equal bytes.
func MarshalEntries(entries map[string]string) []byte {
	keys := make([]string, 0, len(entries))
	size := headerSize + binary.MaxVarintLen64 + checksumSize
	for k, v := range entries {
		keys = append(keys, k)
		size += len(k) + len(v) + 2*binary.MaxVarintLen64
	}
	sort.Strings(keys)

	buf := make([]byte, 0, size)
	buf = append(buf, Magic...)
	buf = append(buf, Version)
	buf = binary.AppendUvarint(buf, uint64(len(keys)))
	for _, k := range keys {
		v := entries[k]
		buf = binary.AppendUvarint(buf, uint64(len(k)))
		buf = append(buf, k...)
		buf = binary.AppendUvarint(buf, uint64(len(v)))
		buf = append(buf, v...)
	}
	return binary.LittleEndian.AppendUint64(buf, xxhash.Sum64(buf))
}

// UnmarshalEntries decodes bytes produced by MarshalEntries. An empty input
// is a valid empty mapping. The returned error describes the first problem
// found; callers wrap it into a *CorruptionError.
func UnmarshalEntries(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return map[string]string{}, nil
	}
	if len(data) < headerSize+checksumSize {
		return nil, errors.Errorf("file too short (%d bytes)", len(data))
	}
	if string(data[:len(Magic)]) != Magic {
		return nil, errors.New("bad magic")
	}
	if v := data[len(Magic)]; v != Version {
		return nil, errors.Errorf("unsupported version %d", v)
	}

	body := data[:len(data)-checksumSize]
	want := binary.LittleEndian.Uint64(data[len(data)-checksumSize:])
	if got := xxhash.Sum64(body); got != want {
		return nil, errors.Errorf("checksum mismatch: stored %016x, computed %016x", want, got)
	}

	r := bytes.NewReader(body[headerSize:])
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, errors.Wrap(err, "read record count")
	}
	// Each record takes at least two bytes, which bounds the allocation.
	if count > uint64(r.Len()) {
		return nil, errors.Errorf("record count %d exceeds file size", count)
	}

	entries := make(map[string]string, count)
	for i := uint64(0); i < count; i++ {
		key, err := readField(r)
		if err != nil {
			return nil, errors.Wrapf(err, "record %d key", i)
		}
		value, err := readField(r)
		if err != nil {
			return nil, errors.Wrapf(err, "record %d value", i)
		}
		if _, dup := entries[key]; dup {
			return nil, errors.Errorf("record %d: duplicate key %q", i, key)
		}
		entries[key] = value
	}
	if r.Len() != 0 {
		return nil, errors.Errorf("%d trailing bytes after %d records", r.Len(), count)
	}
	return entries, nil
}

func readField(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", errors.Wrap(err, "read length")
	}
	if n > uint64(r.Len()) {
		return "", errors.Wrapf(io.ErrUnexpectedEOF, "length %d exceeds remaining %d bytes", n, r.Len())
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", errors.Wrap(err, "read bytes")
	}
	return string(b), nil
}
