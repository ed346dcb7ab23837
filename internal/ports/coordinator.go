package ports

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// Coordinator claims a listening port and maintains this instance's
// advertisement file. It implements shutdown.Component so the
// advertisement is removed before the rest of the process winds down.
type Coordinator struct {
	dir    string
	host   string
	logger *slog.Logger
	pid    int
	alive  func(pid int) bool

	// Set by Advertise; removed on Shutdown.
	ownPort int
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithDirectory overrides the advertisement directory. Used by tests.
func WithDirectory(dir string) CoordinatorOption {
	return func(c *Coordinator) {
		c.dir = dir
	}
}

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithPID overrides the pid written into advertisements. Used by tests.
func WithPID(pid int) CoordinatorOption {
	return func(c *Coordinator) {
		c.pid = pid
	}
}

// WithLivenessProbe overrides the process liveness check. Used by tests.
func WithLivenessProbe(alive func(pid int) bool) CoordinatorOption {
	return func(c *Coordinator) {
		c.alive = alive
	}
}

// NewCoordinator creates a Coordinator advertising in the platform temp
// directory.
func NewCoordinator(host string, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		dir:    os.TempDir(),
		host:   host,
		logger: slog.Default(),
		pid:    os.Getpid(),
		alive:  processAlive,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClaimPort binds the first free port in preferred..preferred+9 and
// returns the listener together with the claimed port. When the whole
// range is bound it fails with ErrPortRangeExhausted.
func (c *Coordinator) ClaimPort(preferred int) (net.Listener, int, error) {
	for port := preferred; port < preferred+PortRangeSize; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(c.host, fmt.Sprintf("%d", port)))
		if err != nil {
			c.logger.Debug("port unavailable", "port", port, "error", err)
			continue
		}
		c.logger.Info("claimed port", "port", port)
		return ln, port, nil
	}
	return nil, 0, fmt.Errorf("%w: tried %d-%d", ErrPortRangeExhausted, preferred, preferred+PortRangeSize-1)
}

// Advertise writes this instance's advertisement for port. The write is
// an atomic-enough overwrite: a sibling reading mid-write at worst sees
// unparsable content once and retries.
func (c *Coordinator) Advertise(port int) error {
	ad := Advertisement{
		Port:      port,
		PID:       c.pid,
		Host:      c.host,
		StartedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(ad)
	if err != nil {
		return fmt.Errorf("encoding advertisement: %w", err)
	}
	path := filepath.Join(c.dir, AdvertisementFilename(port))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing advertisement: %w", err)
	}
	c.ownPort = port
	c.logger.Info("advertised instance", "port", port, "pid", ad.PID, "path", path)
	return nil
}

// ReadAdvertisement returns the advertisement for port if the recorded
// process is still alive. A file whose process is dead, or whose content
// is unparsable, is deleted and reported as ErrNotAdvertised. Liveness
// is re-derived on every call, never trusted from a previous read.
func (c *Coordinator) ReadAdvertisement(port int) (Advertisement, error) {
	path := filepath.Join(c.dir, AdvertisementFilename(port))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Advertisement{}, ErrNotAdvertised
		}
		return Advertisement{}, fmt.Errorf("reading advertisement: %w", err)
	}

	ad, err := ParseAdvertisement(data)
	if err != nil {
		c.logger.Warn("removing unparsable advertisement", "path", path, "error", err)
		_ = os.Remove(path)
		return Advertisement{}, ErrNotAdvertised
	}

	if !c.alive(ad.PID) {
		c.logger.Info("removing stale advertisement", "port", port, "pid", ad.PID)
		_ = os.Remove(path)
		return Advertisement{}, ErrNotAdvertised
	}
	return ad, nil
}

// DiscoverInstances scans the candidate range and returns every valid
// advertisement, lowest port first.
func (c *Coordinator) DiscoverInstances(preferred int) []Advertisement {
	var found []Advertisement
	for port := preferred; port < preferred+PortRangeSize; port++ {
		ad, err := c.ReadAdvertisement(port)
		if err != nil {
			continue
		}
		found = append(found, ad)
	}
	return found
}

// CleanupStale scans the whole advertisement directory, not just the
// known range, and removes every advertisement whose process is dead or
// whose content is unparsable. Returns the number of files removed.
func (c *Coordinator) CleanupStale() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("scanning advertisement directory: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := PortFromFilename(e.Name()); !ok {
			continue
		}
		path := filepath.Join(c.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		ad, err := ParseAdvertisement(data)
		if err == nil && c.alive(ad.PID) {
			continue
		}
		if err := os.Remove(path); err != nil {
			c.logger.Warn("failed to remove stale advertisement", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		c.logger.Info("cleaned up stale advertisements", "removed", removed)
	}
	return removed, nil
}

// Remove deletes this instance's own advertisement file. Missing files
// are a no-op, so it is safe to call more than once.
func (c *Coordinator) Remove() error {
	if c.ownPort == 0 {
		return nil
	}
	path := filepath.Join(c.dir, AdvertisementFilename(c.ownPort))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing advertisement: %w", err)
	}
	return nil
}

// Name implements shutdown.Component.
func (c *Coordinator) Name() string { return "port-advertisement" }

// Shutdown implements shutdown.Component by removing the instance's own
// advertisement.
func (c *Coordinator) Shutdown(_ context.Context) error {
	return c.Remove()
}

// processAlive reports whether a process with the given pid exists.
// Signal 0 performs permission and existence checks without delivering
// anything; EPERM still means the process exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}
