// Package naming hands out collision-free output file names.
//
// A name is reserved by creating an empty placeholder file with O_EXCL while
// holding both an in-process mutex and a file lock keyed by the destination
// directory, so the existence check and the reservation cannot interleave
// with another caller, in this process or another one. Lock files live in a
// separate lock directory and never appear among the outputs.
package naming

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/gosimple/slug"
)

const (
	lockDirName  = "conversion-job-service-locks"
	maxAttempts  = 10000
	fallbackBase = "output"
)

var ErrExhausted = errors.New("naming: no free name found")

// Namer reserves a unique file name inside a destination directory.
type Namer interface {
	// NextName returns the path of a freshly reserved placeholder file.
	NextName(ctx context.Context, base, dir string) (string, error)
}

// Claimer is an additional reservation authority consulted before a name
// is taken, e.g. one shared by several service replicas.
type Claimer interface {
	Claim(ctx context.Context, dir, name string) (bool, error)
}

type Option func(*LocalNamer)

func WithClaimer(c Claimer) Option {
	return func(n *LocalNamer) { n.claimer = c }
}

// WithLockDir sets where directory lock files are kept. Processes sharing
// destinations must use the same lock directory. Defaults to a directory
// under os.TempDir().
func WithLockDir(dir string) Option {
	return func(n *LocalNamer) {
		if dir != "" {
			n.lockDir = dir
		}
	}
}

type LocalNamer struct {
	mu      sync.Mutex
	dirs    map[string]*dirState
	claimer Claimer
	lockDir string
}

type dirState struct {
	mu     sync.Mutex
	issued map[string]struct{}
}

func NewLocalNamer(opts ...Option) *LocalNamer {
	n := &LocalNamer{
		dirs:    make(map[string]*dirState),
		lockDir: filepath.Join(os.TempDir(), lockDirName),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *LocalNamer) NextName(ctx context.Context, base, dir string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("naming: resolve %s: %w", dir, err)
	}

	stem, ext := splitBase(base)
	st := n.state(absDir)

	st.mu.Lock()
	defer st.mu.Unlock()

	if err := os.MkdirAll(n.lockDir, 0o755); err != nil {
		return "", fmt.Errorf("naming: lock dir %s: %w", n.lockDir, err)
	}
	lock := flock.New(n.lockPath(absDir))
	if err := lock.Lock(); err != nil {
		return "", fmt.Errorf("naming: lock %s: %w", absDir, err)
	}
	defer func() { _ = lock.Unlock() }()

	for i := 0; i < maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		name := candidate(stem, ext, i)
		if _, taken := st.issued[name]; taken {
			continue
		}

		full := filepath.Join(absDir, name)
		if _, err := os.Lstat(full); err == nil {
			st.issued[name] = struct{}{}
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("naming: stat %s: %w", full, err)
		}

		if n.claimer != nil {
			ok, err := n.claimer.Claim(ctx, absDir, name)
			if err != nil {
				return "", fmt.Errorf("naming: claim %s: %w", name, err)
			}
			if !ok {
				st.issued[name] = struct{}{}
				continue
			}
		}

		f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				st.issued[name] = struct{}{}
				continue
			}
			return "", fmt.Errorf("naming: reserve %s: %w", full, err)
		}
		_ = f.Close()

		st.issued[name] = struct{}{}
		return full, nil
	}

	return "", fmt.Errorf("%w: %s in %s", ErrExhausted, stem+ext, absDir)
}

// lockPath maps a destination directory to its lock file.
func (n *LocalNamer) lockPath(absDir string) string {
	sum := sha256.Sum256([]byte(absDir))
	return filepath.Join(n.lockDir, hex.EncodeToString(sum[:12])+".lock")
}

func (n *LocalNamer) state(dir string) *dirState {
	n.mu.Lock()
	defer n.mu.Unlock()

	st, ok := n.dirs[dir]
	if !ok {
		st = &dirState{issued: make(map[string]struct{})}
		n.dirs[dir] = st
	}
	return st
}

// Release drops a placeholder that was never filled. The name stays
// issued and is not handed out again by this namer.
func Release(reserved string) error {
	info, err := os.Stat(reserved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.Size() != 0 {
		return nil
	}
	return os.Remove(reserved)
}

// BaseName derives an output base name from a document locator.
func BaseName(source, ext string) string {
	name := ""
	if u, err := url.Parse(source); err == nil {
		name = path.Base(strings.TrimSuffix(u.Path, "/"))
		name = strings.TrimSuffix(name, path.Ext(name))
		if name == "" || name == "." || name == "/" {
			name = u.Hostname()
		}
	}

	name = slug.Make(name)
	if name == "" {
		name = fallbackBase
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return name + ext
}

func splitBase(base string) (string, string) {
	base = filepath.Base(strings.TrimSpace(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = fallbackBase
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem = fallbackBase
	}
	return stem, ext
}

func candidate(stem, ext string, i int) string {
	if i == 0 {
		return stem + ext
	}
	return stem + "-" + strconv.Itoa(i) + ext
}
