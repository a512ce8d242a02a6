package offlinequeue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	sqlite "github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// DefaultKey names the persisted snapshot in every driver.
const DefaultKey = "habituals.queue"

var (
	// ErrInvalidDSN indicates that a driver DSN could not be interpreted.
	ErrInvalidDSN = errors.New("offlinequeue: invalid driver dsn")
	// ErrCorruptSnapshot indicates that a persisted blob is not a valid snapshot.
	ErrCorruptSnapshot = errors.New("offlinequeue: corrupt snapshot")
)

// Driver persists one snapshot blob. Read of a missing blob returns an empty snapshot.
type Driver interface {
	Read(ctx context.Context) (Snapshot, error)
	Write(ctx context.Context, snapshot Snapshot) error
	Clear(ctx context.Context) error
}

// ClosableDriver is a Driver that owns a resource.
type ClosableDriver interface {
	Driver
	io.Closer
}

func encodeSnapshot(snapshot Snapshot) ([]byte, error) {
	if snapshot.Ops == nil {
		snapshot.Ops = []MutOp{}
	}
	return json.Marshal(snapshot)
}

func decodeSnapshot(data []byte) (Snapshot, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return emptySnapshot(), nil
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return emptySnapshot(), fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if snapshot.Ops == nil {
		snapshot.Ops = []MutOp{}
	}
	return snapshot, nil
}

// OpenDriver builds a driver from a DSN:
// memory://, file:///path (or a bare path), sqlite:///path, redis://host:port/db.
func OpenDriver(dsn string) (ClosableDriver, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidDSN)
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDSN, err)
	}
	key := DefaultKey
	if override := strings.TrimSpace(parsed.Query().Get("key")); override != "" {
		key = override
	}

	switch strings.ToLower(parsed.Scheme) {
	case "memory", "mem", "inmem":
		return NewMemoryDriver(), nil
	case "", "file":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return NewFileDriver(path)
	case "sqlite":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
		if err != nil {
			return nil, err
		}
		driver, err := NewSQLDriver(db, key)
		if err != nil {
			return nil, err
		}
		driver.ownsDB = true
		return driver, nil
	case "redis", "rediss":
		options, err := redis.ParseURL(stripQueryParam(parsed, "key"))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDSN, err)
		}
		driver := NewRedisDriver(redis.NewClient(options), key)
		driver.ownsClient = true
		return driver, nil
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidDSN, parsed.Scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed.Scheme == "" {
		return strings.TrimSpace(raw), nil
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = parsed.Host + path
	}
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: missing path", ErrInvalidDSN)
	}
	return path, nil
}

func stripQueryParam(parsed *url.URL, name string) string {
	clone := *parsed
	query := clone.Query()
	query.Del(name)
	clone.RawQuery = query.Encode()
	return clone.String()
}
