package archiver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-version"
)

type Capabilities uint8

const (
	// CapStreamProgress allows -bsp1, which makes 7-Zip print percentages
	// to stdout. Older binaries misbehave with it, so it is gated on 15.09.
	CapStreamProgress Capabilities = 1 << iota
)

const streamProgressMinVersion = ">= 15.09"

var streamProgressConstraint = version.MustConstraints(version.NewConstraint(streamProgressMinVersion))

func (c Capabilities) Has(flag Capabilities) bool {
	return c&flag != 0
}

func (c Capabilities) String() string {
	var names []string
	if c.Has(CapStreamProgress) {
		names = append(names, "stream-progress")
	}
	return strings.Join(names, ",")
}

// CapabilitiesFor derives the flag set from a version string as printed
// by the binary ("16.02"). An empty or unparseable version yields the most
// conservative set.
func CapabilitiesFor(rawVersion string) Capabilities {
	if rawVersion == "" {
		return 0
	}
	v, err := version.NewVersion(rawVersion)
	if err != nil {
		return 0
	}

	var caps Capabilities
	if streamProgressConstraint.Check(v) {
		caps |= CapStreamProgress
	}
	return caps
}

type Binary struct {
	Path         string       `json:"path"`
	Version      *float64     `json:"version,omitempty"`
	RawVersion   string       `json:"rawVersion,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
}

func NewBinary(path string, ver *float64, rawVersion string) Binary {
	if rawVersion == "" && ver != nil {
		rawVersion = fmt.Sprintf("%.2f", *ver)
	}
	return Binary{
		Path:         path,
		Version:      ver,
		RawVersion:   rawVersion,
		Capabilities: CapabilitiesFor(rawVersion),
	}
}

type ResolveFunc func(ctx context.Context) (string, error)

type ProbeFunc func(ctx context.Context, binaryPath string) (*float64, string)

// BinaryCache holds the resolved archiver path and probed version. It is
// owned by the caller and can be shared between orchestrators. Resolution
// and probing are serialised on their own mutexes; readers such as
// Snapshot only take the field lock and never wait on a resolve.
type BinaryCache struct {
	resolveMu sync.Mutex
	probeMu   sync.Mutex

	mu         sync.RWMutex
	path       string
	version    *float64
	rawVersion string
	generation uint64
	onResolved []func(path string)
}

func NewBinaryCache() *BinaryCache {
	return &BinaryCache{}
}

func (c *BinaryCache) cachedPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

func (c *BinaryCache) Path(ctx context.Context, resolve ResolveFunc) (string, error) {
	if path := c.cachedPath(); path != "" {
		return path, nil
	}

	c.resolveMu.Lock()
	// Another caller may have resolved while this one waited.
	if path := c.cachedPath(); path != "" {
		c.resolveMu.Unlock()
		return path, nil
	}

	path, err := resolve(ctx)
	if err != nil {
		c.resolveMu.Unlock()
		return "", err
	}

	c.mu.Lock()
	c.path = path
	hooks := append([]func(string){}, c.onResolved...)
	c.mu.Unlock()
	c.resolveMu.Unlock()

	for _, hook := range hooks {
		hook(path)
	}
	return path, nil
}

// Version returns the cached version, probing on first use. A failed
// probe is not cached, so the next call probes again. A probe that
// overlaps Invalidate is not stored.
func (c *BinaryCache) Version(ctx context.Context, binaryPath string, probe ProbeFunc) (*float64, string) {
	c.probeMu.Lock()
	defer c.probeMu.Unlock()

	c.mu.RLock()
	ver, raw, generation := c.version, c.rawVersion, c.generation
	c.mu.RUnlock()
	if ver != nil {
		return ver, raw
	}

	ver, raw = probe(ctx, binaryPath)
	if ver != nil {
		c.mu.Lock()
		if c.generation == generation {
			c.version = ver
			c.rawVersion = raw
		}
		c.mu.Unlock()
	}
	return ver, raw
}

func (c *BinaryCache) Snapshot() (Binary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.path == "" {
		return Binary{}, false
	}
	return NewBinary(c.path, c.version, c.rawVersion), true
}

func (c *BinaryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = ""
	c.version = nil
	c.rawVersion = ""
	c.generation++
}

// OnResolved registers a hook run after each successful first resolution.
func (c *BinaryCache) OnResolved(hook func(path string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onResolved = append(c.onResolved, hook)
}
