// Package storage provides persistent panel configuration storage using
// LittleFS. It handles atomic writes, version checking, and cleanup of
// temporary files. Only configuration lives in flash; runtime state such
// as the active flag or the input buffer starts fresh on every boot.
package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/tuffrabit/tinygo-status-panel/pkg/config"

	"tinygo.org/x/tinyfs"
	"tinygo.org/x/tinyfs/littlefs"
)

const (
	configDir  = "/config"
	panelFile  = "/config/panel.bin"
	tempSuffix = ".tmp"

	// Encoded config plus LittleFS metadata, rounded up.
	panelFootprint = 160
	dirFootprint   = 100
)

var (
	ErrConfigNotFound  = errors.New("panel config not found")
	ErrFlashFull       = errors.New("insufficient flash space")
	ErrInvalidConfig   = errors.New("invalid panel config data")
	ErrVersionMismatch = errors.New("config version mismatch")
	ErrFilesystem      = errors.New("filesystem error")
)

// Manager handles config persistence using LittleFS.
type Manager struct {
	fs       *littlefs.LFS
	blockDev tinyfs.BlockDevice
	mounted  bool
	log      *slog.Logger
	maxPin   uint8
	wiped    bool
}

// Stats provides information about storage usage.
type Stats struct {
	TotalSpace int64
	UsedSpace  int64
	FreeSpace  int64
	HasConfig  bool
	Wiped      bool // a stale config version was erased at mount
}

// Option customises a Manager.
type Option func(*Manager)

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithMaxPin sets the pin range used to validate configs before saving.
func WithMaxPin(n uint8) Option {
	return func(m *Manager) { m.maxPin = n }
}

// New initializes the storage system with the given block device.
// It mounts the filesystem and performs boot-time cleanup.
// If format is true and mount fails, it will format the filesystem.
func New(blockDev tinyfs.BlockDevice, format bool, opts ...Option) (*Manager, error) {
	lfs := littlefs.New(blockDev)

	// Configure LittleFS for RP2040 flash
	// These are conservative settings for reliability
	lfs.Configure(&littlefs.Config{
		CacheSize:     512,
		LookaheadSize: 128,
	})

	// Try to mount existing filesystem
	err := lfs.Mount()
	if err != nil {
		if !format {
			return nil, fmt.Errorf("%w: mount: %w", ErrFilesystem, err)
		}
		if err := lfs.Format(); err != nil {
			return nil, fmt.Errorf("%w: format: %w", ErrFilesystem, err)
		}
		if err := lfs.Mount(); err != nil {
			return nil, fmt.Errorf("%w: mount: %w", ErrFilesystem, err)
		}
	}

	m := &Manager{
		fs:       lfs,
		blockDev: blockDev,
		mounted:  true,
		log:      slog.Default(),
		maxPin:   255,
	}
	for _, opt := range opts {
		opt(m)
	}

	// Log but don't fail - we can still operate
	if err := m.bootCleanup(); err != nil {
		m.log.Warn("storage cleanup failed", "err", err)
	}

	needsWipe, err := m.checkVersion()
	if err != nil {
		// Unreadable config: treat like first boot, Load will report it.
		m.log.Warn("storage version check failed", "err", err)
		needsWipe = false
	}

	if needsWipe {
		// Version mismatch - wipe the config.
		// The user restores it from the PC tool after a firmware update.
		m.log.Warn("config version mismatch, wiping", "want", config.CurrentVersion)
		if err := m.wipeAll(); err != nil {
			return nil, err
		}
		m.wiped = true
	}

	return m, nil
}

// Close unmounts the filesystem.
func (m *Manager) Close() error {
	if m.mounted {
		m.mounted = false
		return m.fs.Unmount()
	}
	return nil
}

// bootCleanup removes temporary files left over from interrupted writes.
func (m *Manager) bootCleanup() error {
	entries, err := m.readDir(configDir)
	if err != nil {
		// Config dir might not exist yet
		if isNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, tempSuffix) {
			m.log.Info("removing interrupted write", "file", name)
			m.fs.Remove(path.Join(configDir, name))
		}
	}
	return nil
}

// readDir reads the directory entries at the given path.
func (m *Manager) readDir(dirPath string) ([]os.FileInfo, error) {
	f, err := m.fs.Open(dirPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if !f.IsDir() {
		return nil, errors.New("not a directory")
	}

	return f.Readdir(-1)
}

// checkVersion reads the stored config header and reports whether it was
// written by a different format version.
func (m *Manager) checkVersion() (bool, error) {
	var cfg config.PanelConfig
	err := m.read(&cfg)
	switch {
	case errors.Is(err, ErrConfigNotFound):
		// First boot
		return false, nil
	case err != nil:
		return false, err
	}
	return cfg.Version != config.CurrentVersion, nil
}

// wipeAll removes all configuration files.
func (m *Manager) wipeAll() error {
	if err := m.fs.Remove(panelFile); err != nil && !isNotExist(err) {
		return fmt.Errorf("%w: %w", ErrFilesystem, err)
	}
	return nil
}

// ensureDirs creates the config directory if it doesn't exist.
func (m *Manager) ensureDirs() error {
	if err := m.fs.Mkdir(configDir, 0755); err != nil && !isExist(err) {
		return err
	}
	return nil
}

// isExist checks if an error is "already exists".
// LittleFS errors don't always match os.IsExist, so we check the message too.
func isExist(err error) bool {
	if err == nil {
		return false
	}
	if os.IsExist(err) {
		return true
	}
	return strings.Contains(err.Error(), "already exists")
}

// isNotExist is the "no such entry" counterpart of isExist.
func isNotExist(err error) bool {
	if err == nil {
		return false
	}
	if os.IsNotExist(err) {
		return true
	}
	return strings.Contains(err.Error(), "No directory entry")
}

// LoadPanel loads the stored panel configuration.
func (m *Manager) LoadPanel(cfg *config.PanelConfig) error {
	if err := m.read(cfg); err != nil {
		return err
	}
	if cfg.Version != config.CurrentVersion {
		return ErrVersionMismatch
	}
	return nil
}

func (m *Manager) read(cfg *config.PanelConfig) error {
	f, err := m.fs.Open(panelFile)
	if err != nil {
		if isNotExist(err) {
			return ErrConfigNotFound
		}
		return err
	}
	defer f.Close()

	buf := make([]byte, config.Size)
	n, err := f.Read(buf)
	if err != nil {
		return err
	}
	if n != config.Size {
		return ErrInvalidConfig
	}

	return cfg.UnmarshalBinary(buf)
}

// SavePanel validates cfg and saves it atomically. The version field is
// set to CurrentVersion.
func (m *Manager) SavePanel(cfg *config.PanelConfig) error {
	cfg.Version = config.CurrentVersion
	if err := cfg.Validate(m.maxPin); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if !m.canFit() {
		return ErrFlashFull
	}
	if err := m.ensureDirs(); err != nil {
		return err
	}

	data, err := cfg.MarshalBinary()
	if err != nil {
		return err
	}

	return m.atomicWrite(panelFile, data)
}

// LoadOrDefault returns the stored config, or the defaults when none is
// stored or it cannot be read.
func (m *Manager) LoadOrDefault() config.PanelConfig {
	var cfg config.PanelConfig
	if err := m.LoadPanel(&cfg); err != nil {
		if !errors.Is(err, ErrConfigNotFound) {
			m.log.Warn("stored config unusable, using defaults", "err", err)
		}
		return config.Default()
	}
	return cfg
}

// HasPanel reports whether a config file is stored.
func (m *Manager) HasPanel() bool {
	f, err := m.fs.Open(panelFile)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// GetStats returns storage statistics.
func (m *Manager) GetStats() (*Stats, error) {
	// LittleFS doesn't have a direct "free space" call
	// so usage is estimated from what this package stores.
	has := m.HasPanel()
	used := int64(dirFootprint)
	if has {
		used += panelFootprint
	}

	total := m.blockDev.Size()

	return &Stats{
		TotalSpace: total,
		UsedSpace:  used,
		FreeSpace:  total - used,
		HasConfig:  has,
		Wiped:      m.wiped,
	}, nil
}

// canFit is a conservative estimate that a config write will succeed.
func (m *Manager) canFit() bool {
	stats, err := m.GetStats()
	if err != nil {
		return false
	}
	// Temp file plus the existing file plus block alignment.
	return stats.FreeSpace > 2*panelFootprint+512
}

// atomicWrite writes data to a temporary file, syncs it, then renames.
// This ensures atomic updates - the original file is never in a partially written state.
func (m *Manager) atomicWrite(filepath string, data []byte) error {
	tempPath := filepath + tempSuffix

	// Remove temp file if it exists (from interrupted previous write)
	m.fs.Remove(tempPath)

	f, err := m.fs.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		m.fs.Remove(tempPath)
		return err
	}

	// Sync ensures data hits flash
	if syncer, ok := f.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			f.Close()
			m.fs.Remove(tempPath)
			return err
		}
	}

	if err := f.Close(); err != nil {
		m.fs.Remove(tempPath)
		return err
	}

	// Remove existing file if present (LittleFS rename doesn't replace)
	m.fs.Remove(filepath)

	if err := m.fs.Rename(tempPath, filepath); err != nil {
		m.fs.Remove(tempPath)
		return err
	}

	return nil
}

// ForceWipe erases the stored configuration (factory reset).
func (m *Manager) ForceWipe() error {
	m.log.Info("factory reset")
	return m.wipeAll()
}
