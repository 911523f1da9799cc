package kconfig

import (
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsBadSwapSectors(t *testing.T) {
	cfg := Default()
	cfg.SwapSectors = SectorsPerPage + 1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for non-multiple swap sectors")
	}
}

func TestValidateRejectsZeroFrames(t *testing.T) {
	cfg := Default()
	cfg.FramePoolPages = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero frame pool")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boot.json")

	cfg := Default()
	cfg.FramePoolPages = 4
	cfg.SwapSectors = SectorsPerPage * 16

	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.FramePoolPages != cfg.FramePoolPages || loaded.SwapSectors != cfg.SwapSectors {
		t.Fatalf("round trip mismatch: got %+v, want %+v", loaded, cfg)
	}
}
