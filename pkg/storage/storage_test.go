package storage

import (
	"errors"
	"os"
	"testing"

	"github.com/tuffrabit/tinygo-status-panel/pkg/config"
	"github.com/tuffrabit/tinygo-status-panel/pkg/lcd"

	"tinygo.org/x/tinyfs"
)

func newTestStorage(t *testing.T) (*Manager, *tinyfs.MemBlockDevice) {
	// Create a memory-backed block device simulating RP2040 flash
	// 256 byte page size, 4096 byte block size, 64 blocks = 256KB
	blockDev := tinyfs.NewMemoryDevice(256, 4096, 64)

	mgr, err := New(blockDev, true, WithMaxPin(29))
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	return mgr, blockDev
}

func TestPanelSaveLoad(t *testing.T) {
	mgr, _ := newTestStorage(t)
	defer mgr.Close()

	original := config.Default()
	original.Version = 0
	original.LCDWiring = lcd.WiringI2C
	original.LCDAddress = 0x3F
	original.RefreshIntervalMs = 5000

	if err := mgr.SavePanel(&original); err != nil {
		t.Fatalf("SavePanel failed: %v", err)
	}

	var loaded config.PanelConfig
	if err := mgr.LoadPanel(&loaded); err != nil {
		t.Fatalf("LoadPanel failed: %v", err)
	}

	// Verify version was set
	if loaded.Version != config.CurrentVersion {
		t.Errorf("Version not set: expected %d, got %d", config.CurrentVersion, loaded.Version)
	}
	if loaded != original {
		t.Errorf("Loaded config differs:\n got  %+v\n want %+v", loaded, original)
	}
}

func TestPanelNotFound(t *testing.T) {
	mgr, _ := newTestStorage(t)
	defer mgr.Close()

	var cfg config.PanelConfig
	if err := mgr.LoadPanel(&cfg); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("Expected ErrConfigNotFound, got %v", err)
	}
	if mgr.HasPanel() {
		t.Error("HasPanel should be false on a fresh filesystem")
	}
	if got := mgr.LoadOrDefault(); got != config.Default() {
		t.Error("LoadOrDefault should fall back to defaults")
	}
}

func TestSaveRejectsInvalid(t *testing.T) {
	mgr, _ := newTestStorage(t)
	defer mgr.Close()

	cfg := config.Default()
	cfg.LEDPin = cfg.RowPins[0]
	if err := mgr.SavePanel(&cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
	if mgr.HasPanel() {
		t.Error("Invalid config must not be written")
	}
}

func TestAtomicWrite(t *testing.T) {
	mgr, _ := newTestStorage(t)
	defer mgr.Close()

	// Save initial config
	first := config.Default()
	first.RefreshIntervalMs = 1000
	mgr.SavePanel(&first)

	// Save new version (should atomically replace)
	second := config.Default()
	second.RefreshIntervalMs = 3000
	mgr.SavePanel(&second)

	// Load and verify it's the new version
	var loaded config.PanelConfig
	mgr.LoadPanel(&loaded)

	if loaded.RefreshIntervalMs != 3000 {
		t.Errorf("Expected refresh 3000, got %d", loaded.RefreshIntervalMs)
	}
}

func TestBootCleanupRemovesTempFiles(t *testing.T) {
	blockDev := tinyfs.NewMemoryDevice(256, 4096, 64)
	mgr, err := New(blockDev, true)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	cfg := config.Default()
	if err := mgr.SavePanel(&cfg); err != nil {
		t.Fatalf("SavePanel failed: %v", err)
	}

	// Simulate a write interrupted before the rename.
	f, err := mgr.fs.OpenFile(panelFile+tempSuffix, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	f.Write([]byte{1, 2, 3})
	f.Close()
	mgr.Close()

	mgr2, err := New(blockDev, false)
	if err != nil {
		t.Fatalf("Failed to reopen storage: %v", err)
	}
	defer mgr2.Close()

	if _, err := mgr2.fs.Open(panelFile + tempSuffix); err == nil {
		t.Error("Temp file should be removed at boot")
	}
	if !mgr2.HasPanel() {
		t.Error("Committed config should survive the cleanup")
	}
}

func TestSurvivesRemount(t *testing.T) {
	blockDev := tinyfs.NewMemoryDevice(256, 4096, 64)

	mgr, err := New(blockDev, true)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	cfg := config.Default()
	cfg.IdleDelayMs = 25
	mgr.SavePanel(&cfg)
	mgr.Close()

	// Re-open storage
	mgr2, err := New(blockDev, false)
	if err != nil {
		t.Fatalf("Failed to reopen storage: %v", err)
	}
	defer mgr2.Close()

	// Verify data still exists (because version matches)
	loaded := mgr2.LoadOrDefault()
	if loaded.IdleDelayMs != 25 {
		t.Errorf("Expected idle delay 25 after remount, got %d", loaded.IdleDelayMs)
	}
}

func TestVersionMismatchWipe(t *testing.T) {
	blockDev := tinyfs.NewMemoryDevice(256, 4096, 64)

	mgr, err := New(blockDev, true)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	// Write a config as an older firmware would have.
	stale := config.Default()
	stale.Version = config.CurrentVersion + 1
	data, _ := stale.MarshalBinary()
	if err := mgr.ensureDirs(); err != nil {
		t.Fatalf("ensureDirs failed: %v", err)
	}
	if err := mgr.atomicWrite(panelFile, data); err != nil {
		t.Fatalf("atomicWrite failed: %v", err)
	}

	var cfg config.PanelConfig
	if err := mgr.LoadPanel(&cfg); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("Expected ErrVersionMismatch before remount, got %v", err)
	}
	mgr.Close()

	mgr2, err := New(blockDev, false)
	if err != nil {
		t.Fatalf("Failed to reopen storage: %v", err)
	}
	defer mgr2.Close()

	if mgr2.HasPanel() {
		t.Error("Stale config should be wiped at mount")
	}
	stats, _ := mgr2.GetStats()
	if !stats.Wiped {
		t.Error("Stats should report the wipe")
	}
}

func TestMountWithoutFormatFails(t *testing.T) {
	blockDev := tinyfs.NewMemoryDevice(256, 4096, 64)
	if _, err := New(blockDev, false); !errors.Is(err, ErrFilesystem) {
		t.Errorf("Expected ErrFilesystem on an unformatted device, got %v", err)
	}
}

func TestFactoryReset(t *testing.T) {
	mgr, _ := newTestStorage(t)
	defer mgr.Close()

	cfg := config.Default()
	mgr.SavePanel(&cfg)

	if err := mgr.ForceWipe(); err != nil {
		t.Fatalf("ForceWipe failed: %v", err)
	}
	if mgr.HasPanel() {
		t.Error("Expected config to be wiped")
	}
	// Wiping an empty store is not an error.
	if err := mgr.ForceWipe(); err != nil {
		t.Errorf("Second ForceWipe failed: %v", err)
	}
}

func TestStorageStats(t *testing.T) {
	mgr, blockDev := newTestStorage(t)
	defer mgr.Close()

	stats1, err := mgr.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats1.HasConfig {
		t.Error("Expected no config initially")
	}
	if stats1.TotalSpace != blockDev.Size() {
		t.Errorf("Expected total %d, got %d", blockDev.Size(), stats1.TotalSpace)
	}

	cfg := config.Default()
	mgr.SavePanel(&cfg)

	stats2, err := mgr.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if !stats2.HasConfig {
		t.Error("Expected config after save")
	}
	if stats2.UsedSpace <= stats1.UsedSpace {
		t.Error("Used space should grow after save")
	}
	if stats2.FreeSpace != stats2.TotalSpace-stats2.UsedSpace {
		t.Error("Free space should be total minus used")
	}
}

func BenchmarkPanelSave(b *testing.B) {
	blockDev := tinyfs.NewMemoryDevice(256, 4096, 64)
	mgr, err := New(blockDev, true)
	if err != nil {
		b.Fatalf("Failed to create storage: %v", err)
	}
	defer mgr.Close()

	cfg := config.Default()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mgr.SavePanel(&cfg)
	}
}

func BenchmarkPanelLoad(b *testing.B) {
	blockDev := tinyfs.NewMemoryDevice(256, 4096, 64)
	mgr, err := New(blockDev, true)
	if err != nil {
		b.Fatalf("Failed to create storage: %v", err)
	}
	defer mgr.Close()

	cfg := config.Default()
	mgr.SavePanel(&cfg)

	var loaded config.PanelConfig
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mgr.LoadPanel(&loaded)
	}
}
