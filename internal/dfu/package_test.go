package dfu

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeZip(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "update.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPackage(t *testing.T) {
	path := writeZip(t, map[string]string{
		"manifest.json": `{"manifest": {
			"application": {"bin_file": "app.bin", "dat_file": "app.dat"},
			"bootloader": {"bin_file": "bl.bin", "dat_file": "bl.dat"}
		}}`,
		"app.bin": "firmware",
		"app.dat": "init",
		"bl.bin":  "bootloader",
		"bl.dat":  "blinit",
	})

	images, err := LoadPackage(path)
	if err != nil {
		t.Fatalf("LoadPackage() error = %v", err)
	}
	if len(images) != 2 || images[0].Name != "bootloader" || images[1].Name != "application" {
		t.Fatalf("images = %+v, want bootloader then application", images)
	}
	if !bytes.Equal(images[1].Init, []byte("init")) || !bytes.Equal(images[1].Firmware, []byte("firmware")) {
		t.Errorf("application = %q / %q", images[1].Init, images[1].Firmware)
	}
}

func TestLoadPackageErrors(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
	}{
		{"no manifest", map[string]string{"app.bin": "x"}},
		{"bad manifest", map[string]string{"manifest.json": "{"}},
		{"missing file", map[string]string{"manifest.json": `{"manifest": {"application": {"bin_file": "app.bin", "dat_file": "app.dat"}}}`}},
		{"empty manifest", map[string]string{"manifest.json": `{"manifest": {}}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadPackage(writeZip(t, tt.files)); err == nil {
				t.Error("LoadPackage() should fail")
			}
		})
	}
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	dat := filepath.Join(dir, "app.dat")
	bin := filepath.Join(dir, "app.bin")
	os.WriteFile(dat, []byte("init"), 0o644)
	os.WriteFile(bin, []byte("firmware"), 0o644)

	img, err := LoadFiles(dat, bin)
	if err != nil {
		t.Fatalf("LoadFiles() error = %v", err)
	}
	if string(img.Init) != "init" || string(img.Firmware) != "firmware" {
		t.Errorf("image = %q / %q", img.Init, img.Firmware)
	}

	os.WriteFile(bin, nil, 0o644)
	if _, err := LoadFiles(dat, bin); !errors.Is(err, ErrNoImage) {
		t.Errorf("LoadFiles() with empty firmware error = %v, want ErrNoImage", err)
	}
}
