// Package objectstore provides the uniform list/get/put/copy/delete/exists
// facade over a pluggable storage provider, addressed by
// <scheme>://<bucket>/<key>.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Store is the facade every activity programs against.
type Store interface {
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	Get(ctx context.Context, bucket, key string, sink io.Writer) error
	Put(ctx context.Context, bucket, key string, source io.Reader) error
	Copy(ctx context.Context, bucket, srcKey, dstKey string) error
	Delete(ctx context.Context, bucket, key string) error
	Exists(ctx context.Context, bucket, key string) (bool, error)
}

// Address is a parsed <scheme>://<bucket>/<key> object address.
type Address struct {
	Scheme string
	Bucket string
	Key    string
}

func (a Address) String() string {
	return fmt.Sprintf("%s://%s/%s", a.Scheme, a.Bucket, a.Key)
}

// ParseAddress parses "<scheme>://<bucket>/<key>".
func ParseAddress(raw string) (Address, error) {
	idx := strings.Index(raw, "://")
	if idx < 0 {
		return Address{}, fmt.Errorf("objectstore: invalid address %q: missing scheme", raw)
	}
	scheme := raw[:idx]
	rest := raw[idx+3:]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return Address{}, fmt.Errorf("objectstore: invalid address %q: missing key", raw)
	}
	return Address{Scheme: scheme, Bucket: rest[:slash], Key: rest[slash+1:]}, nil
}

// IoFailure wraps a failing operation with the offending address, per the
// taxonomy's TransientRemote/PermanentRemote distinction being the
// caller's concern, not the facade's — the facade only ever reports that
// I/O failed and where.
type IoFailure struct {
	Op      string
	Address string
	Err     error
}

func (e *IoFailure) Error() string {
	return fmt.Sprintf("objectstore: %s %s: %v", e.Op, e.Address, e.Err)
}

func (e *IoFailure) Unwrap() error { return e.Err }

func wrapErr(op, bucket, key string, err error) error {
	if err == nil {
		return nil
	}
	return &IoFailure{Op: op, Address: fmt.Sprintf("%s/%s", bucket, key), Err: err}
}

// SortedKeys returns names in lexicographic order, the order List must
// return per the outbox-contract invariant downstream callers rely on.
func SortedKeys(keys []string) []string {
	out := make([]string, len(keys))
	copy(out, keys)
	sort.Strings(out)
	return out
}

// FilterSuffix keeps only keys ending in suffix (e.g. ".xml").
func FilterSuffix(keys []string, suffix string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasSuffix(k, suffix) {
			out = append(out, k)
		}
	}
	return out
}

// OutboxKey builds "<name>/outbox/<file>".
func OutboxKey(name, file string) string {
	return fmt.Sprintf("%s/outbox/%s", name, file)
}

// OutboxPrefix builds "<name>/outbox/".
func OutboxPrefix(name string) string {
	return fmt.Sprintf("%s/outbox/", name)
}

// PublishedPrefix builds "<name>/published/<datestamp>/".
func PublishedPrefix(name, datestamp string) string {
	return fmt.Sprintf("%s/published/%s/", name, datestamp)
}

// PublishedKey builds "<name>/published/<datestamp>/<file>".
func PublishedKey(name, datestamp, file string) string {
	return PublishedPrefix(name, datestamp) + file
}

// PublishedBatchKey builds "<name>/published/<datestamp>/batch/<file>".
func PublishedBatchKey(name, datestamp, file string) string {
	return PublishedPrefix(name, datestamp) + "batch/" + file
}
