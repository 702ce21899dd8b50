package state

import (
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cespare/xxhash/v2"

	"github.com/yanun0323/go-autotrader/internal/errors"
	"github.com/yanun0323/go-autotrader/pkg/exception"
)

// SchemaVersion is the checkpoint envelope version written by this build.
const SchemaVersion uint16 = 1

const (
	WorkerPrefix = "worker/"
	PoolPrefix   = "pool/"
)

// WorkerKey returns the checkpoint key of a worker.
func WorkerKey(id string) string { return WorkerPrefix + id }

// PoolKey returns the checkpoint key of a capital pool.
func PoolKey(id string) string { return PoolPrefix + id }

// Record is one versioned checkpoint.
type Record struct {
	Version   uint16    `json:"version"`
	Key       string    `json:"key"`
	Kind      string    `json:"kind"`
	Body      []byte    `json:"body"`
	Checksum  uint64    `json:"checksum"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewRecord encodes body and seals the record.
func NewRecord(key, kind string, body any, now time.Time) (Record, error) {
	if err := ValidateKey(key); err != nil {
		return Record{}, err
	}
	data, err := sonic.Marshal(body)
	if err != nil {
		return Record{}, errors.Wrapf(err, "encode checkpoint body %s", key)
	}
	rec := Record{
		Version:   SchemaVersion,
		Key:       key,
		Kind:      kind,
		Body:      data,
		UpdatedAt: now.UTC(),
	}
	rec.Checksum = rec.sum()
	return rec, nil
}

// Decode unmarshals the body into dst. Fields absent from the body keep the values already in dst.
func (r Record) Decode(dst any) error {
	if err := r.Verify(); err != nil {
		return err
	}
	if err := sonic.Unmarshal(r.Body, dst); err != nil {
		return errors.Wrapf(exception.ErrCheckpointCorrupt, "decode %s: %v", r.Key, err)
	}
	return nil
}

// Verify checks the checksum.
func (r Record) Verify() error {
	if r.Checksum != r.sum() {
		return errors.Wrapf(exception.ErrCheckpointCorrupt, "checksum mismatch %s", r.Key)
	}
	return nil
}

func (r Record) sum() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(r.Key)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(r.Kind)
	_, _ = d.WriteString("\x00")
	_, _ = d.Write(r.Body)
	return d.Sum64()
}

func encodeRecord(r Record) ([]byte, error) {
	return sonic.Marshal(r)
}

func decodeRecord(data []byte) (Record, error) {
	var r Record
	if err := sonic.Unmarshal(data, &r); err != nil {
		return Record{}, errors.Wrapf(exception.ErrCheckpointCorrupt, "decode envelope: %v", err)
	}
	if err := r.Verify(); err != nil {
		return Record{}, err
	}
	return r, nil
}

// ValidateKey accepts keys made of path-safe segments separated by '/'.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return errors.Wrapf(exception.ErrInvalidKey, "key %q", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return errors.Wrapf(exception.ErrInvalidKey, "key %q", key)
		}
		for _, c := range seg {
			ok := c == '-' || c == '_' || c == '.' ||
				(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
			if !ok {
				return errors.Wrapf(exception.ErrInvalidKey, "key %q", key)
			}
		}
	}
	return nil
}
