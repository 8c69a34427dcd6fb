package httpapi

import (
	"errors"
	"fmt"

	"github.com/dreamware/diskcache/internal/shard"
	"github.com/dreamware/diskcache/internal/storage"
)

// Error kinds reported in ErrorResponse.Kind.
const (
	KindCorrupt  = "corrupt"
	KindIO       = "io"
	KindClosed   = "closed"
	KindBadInput = "bad_request"
	KindInternal = "internal"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// DeleteResponse is the body of DELETE /kv/{key}.
type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// KeysResponse is the body of GET /keys.
type KeysResponse struct {
	Keys  []string `json:"keys"`
	Count int      `json:"count"`
}

// ShardReport describes one shard in GET /info.
type ShardReport struct {
	shard.ShardInfo
	Operations shard.OperationStats `json:"operations"`
}

// InfoResponse is the body of GET /info.
type InfoResponse struct {
	Dir        string        `json:"dir"`
	ShardCount int           `json:"shard_count"`
	LoadedKeys int           `json:"loaded_keys"`
	LoadedSize int           `json:"loaded_bytes"`
	Shards     []ShardReport `json:"shards"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// StatusError is returned by Client when the server answers with an error
// status. errors.Is matches storage.ErrCorrupt and storage.ErrClosed by kind.
type StatusError struct {
	Code    int
	Kind    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Message)
}

// Is reports whether the server-side failure was target.
func (e *StatusError) Is(target error) bool {
	switch e.Kind {
	case KindCorrupt:
		return target == storage.ErrCorrupt
	case KindClosed:
		return target == storage.ErrClosed
	}
	return false
}

// errorKind classifies a store error for the wire.
func errorKind(err error) string {
	var ioe *storage.IOError
	switch {
	case errors.Is(err, storage.ErrClosed):
		return KindClosed
	case errors.Is(err, storage.ErrCorrupt):
		return KindCorrupt
	case errors.As(err, &ioe):
		return KindIO
	}
	return KindInternal
}
