// Package file implements a queue driver on a shared directory.
//
// Each queue is a directory and each envelope a file named
// "<id>.<state>.json". Claiming an envelope is an atomic rename from
// ".ready.json" to ".reserved.json"; a successful rename is the only claim
// signal, so any number of processes may share the directory without locks.
//
// Envelopes are scanned in filename order. IDs are random, so reservation
// order among eligible envelopes is arbitrary rather than FIFO. There is no
// lease: an envelope reserved by a crashed worker stays reserved until an
// operator calls Recover.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pixelvide/luggage-go/pkg/queue"
)

const (
	stateReady    = "ready"
	stateReserved = "reserved"
	stateDead     = "dead"

	deadDir       = "dead"
	corruptSuffix = ".corrupt"
)

// FileDriver implements queue.Driver on the filesystem.
type FileDriver struct {
	basePath string
	now      func() time.Time
	logger   zerolog.Logger

	// beforeClaim runs between reading a candidate and renaming it.
	beforeClaim func(path string)
}

// Option configures a FileDriver
type Option func(*FileDriver)

// WithClock replaces time.Now for eligibility checks and failure timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *FileDriver) {
		d.now = now
	}
}

// WithLogger sets the logger used to report quarantined records.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *FileDriver) {
		d.logger = logger
	}
}

// NewFileDriver creates a driver rooted at basePath.
func NewFileDriver(basePath string, opts ...Option) *FileDriver {
	d := &FileDriver{
		basePath: filepath.Clean(basePath),
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue writes "<id>.ready.json" atomically.
func (d *FileDriver) Enqueue(ctx context.Context, queueName string, env *queue.Envelope) error {
	dir, err := d.queueDir(queueName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create queue directory: %w", err)
	}
	path, err := envelopePath(dir, env.ID, stateReady)
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// Reserve claims the first eligible ready envelope in filename order.
func (d *FileDriver) Reserve(ctx context.Context, queueName string) (*queue.Envelope, error) {
	dir, err := d.queueDir(queueName)
	if err != nil {
		return nil, err
	}
	// ReadDir returns entries sorted by filename.
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list queue directory: %w", err)
	}

	now := d.now().Unix()
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, suffix(stateReady)) {
			continue
		}
		path := filepath.Join(dir, name)

		data, err := os.ReadFile(path)
		if err != nil {
			// Claimed or removed by someone else since the listing.
			continue
		}
		rec, err := queue.DecodeRecord(data)
		if err != nil {
			d.quarantine(path, err)
			continue
		}
		if rec.AvailableAt > now {
			continue
		}

		if d.beforeClaim != nil {
			d.beforeClaim(path)
		}

		reserved := strings.TrimSuffix(path, suffix(stateReady)) + suffix(stateReserved)
		if err := os.Rename(path, reserved); err != nil {
			// Lost the race; try the next candidate.
			continue
		}

		// The file may have been claimed and released with a later
		// availableAt since it was read. Only the claimed contents count.
		fresh, err := os.ReadFile(reserved)
		if err != nil {
			continue
		}
		freshRec, err := queue.DecodeRecord(fresh)
		if err != nil {
			d.quarantine(reserved, err)
			continue
		}
		if freshRec.AvailableAt > now {
			if err := os.Rename(reserved, path); err != nil {
				d.logger.Warn().Err(err).Str("file", reserved).Msg("Failed to return ineligible envelope to ready")
			}
			continue
		}
		return freshRec.Envelope(), nil
	}
	return nil, nil
}

// Ack deletes the reserved file.
func (d *FileDriver) Ack(ctx context.Context, queueName string, env *queue.Envelope) error {
	dir, err := d.queueDir(queueName)
	if err != nil {
		return err
	}
	path, err := envelopePath(dir, env.ID, stateReserved)
	if err != nil {
		return err
	}
	return removeIfExists(path)
}

// Release rewrites the reserved file with the envelope's current fields and
// renames it back to ready. Without a reserved file it writes a fresh ready
// file instead.
func (d *FileDriver) Release(ctx context.Context, queueName string, env *queue.Envelope) error {
	dir, err := d.queueDir(queueName)
	if err != nil {
		return err
	}
	reserved, err := envelopePath(dir, env.ID, stateReserved)
	if err != nil {
		return err
	}
	ready, err := envelopePath(dir, env.ID, stateReady)
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}

	if _, err := os.Stat(reserved); err == nil {
		if err := writeFileAtomic(reserved, data); err != nil {
			return err
		}
		return os.Rename(reserved, ready)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create queue directory: %w", err)
	}
	return writeFileAtomic(ready, data)
}

// Fail writes the envelope with its error metadata to the dead directory and
// removes the reserved file.
func (d *FileDriver) Fail(ctx context.Context, queueName string, env *queue.Envelope, cause error) error {
	dir, err := d.queueDir(queueName)
	if err != nil {
		return err
	}
	dead := filepath.Join(dir, deadDir)
	if err := os.MkdirAll(dead, 0o755); err != nil {
		return fmt.Errorf("create dead-letter directory: %w", err)
	}
	deadPath, err := envelopePath(dead, env.ID, stateDead)
	if err != nil {
		return err
	}
	data, err := queue.NewDeadLetter(env, cause, d.now()).Encode()
	if err != nil {
		return err
	}
	if err := writeFileAtomic(deadPath, data); err != nil {
		return err
	}

	reserved, err := envelopePath(dir, env.ID, stateReserved)
	if err != nil {
		return err
	}
	return removeIfExists(reserved)
}

// DeadLetters lists the dead-lettered envelopes of a queue, sorted by ID.
// Unreadable dead records are skipped.
func (d *FileDriver) DeadLetters(ctx context.Context, queueName string) ([]*queue.DeadLetter, error) {
	dir, err := d.queueDir(queueName)
	if err != nil {
		return nil, err
	}
	var out []*queue.DeadLetter
	err = scan(filepath.Join(dir, deadDir), stateDead, func(data []byte) {
		if dl, err := queue.DecodeDeadLetter(data); err == nil {
			out = append(out, dl)
		}
	})
	return out, err
}

// Reserved lists envelopes currently held by a worker. After a crash these are
// the stuck envelopes that need Recover.
func (d *FileDriver) Reserved(ctx context.Context, queueName string) ([]*queue.Envelope, error) {
	dir, err := d.queueDir(queueName)
	if err != nil {
		return nil, err
	}
	var out []*queue.Envelope
	err = scan(dir, stateReserved, func(data []byte) {
		if env, err := queue.Decode(data); err == nil {
			out = append(out, env)
		}
	})
	return out, err
}

// Recover puts a stuck reserved envelope back to ready. It is a manual
// operation: nothing calls it automatically.
func (d *FileDriver) Recover(ctx context.Context, queueName string, id string) error {
	dir, err := d.queueDir(queueName)
	if err != nil {
		return err
	}
	reserved, err := envelopePath(dir, id, stateReserved)
	if err != nil {
		return err
	}
	ready, err := envelopePath(dir, id, stateReady)
	if err != nil {
		return err
	}
	if err := os.Rename(reserved, ready); err != nil {
		return fmt.Errorf("recover envelope %s: %w", id, err)
	}
	return nil
}

func (d *FileDriver) queueDir(queueName string) (string, error) {
	name, err := queue.SanitizeQueueName(queueName)
	if err != nil {
		return "", err
	}
	return filepath.Join(d.basePath, name), nil
}

func (d *FileDriver) quarantine(path string, cause error) {
	if err := os.Rename(path, path+corruptSuffix); err != nil {
		d.logger.Warn().Err(err).Str("file", path).Msg("Failed to quarantine corrupt envelope")
		return
	}
	d.logger.Warn().Err(cause).Str("file", path+corruptSuffix).Msg("Quarantined corrupt envelope")
}

func suffix(state string) string {
	return "." + state + ".json"
}

func envelopePath(dir, id, state string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid envelope id %q", id)
	}
	return filepath.Join(dir, id+suffix(state)), nil
}

// scan calls fn with the contents of every "*.<state>.json" file in dir.
func scan(dir, state string, fn func(data []byte)) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix(state)) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		fn(data)
	}
	return nil
}

// writeFileAtomic writes to a temp file in the same directory and renames it
// over path, so readers never observe a partial file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
