package dfu

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// Image is one init packet and firmware pair.
type Image struct {
	Name     string
	Init     []byte
	Firmware []byte
}

// ErrNoImage is returned for a package without a usable image.
var ErrNoImage = errors.New("dfu: package contains no image")

type manifestImage struct {
	BinFile string `json:"bin_file"`
	DatFile string `json:"dat_file"`
}

type manifest struct {
	Manifest map[string]manifestImage `json:"manifest"`
}

// imageOrder is the order images must be applied in.
var imageOrder = []string{"softdevice_bootloader", "softdevice", "bootloader", "application"}

// LoadPackage reads a Nordic DFU zip and returns its images in update order.
func LoadPackage(path string) ([]*Image, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("dfu: open package: %w", err)
	}
	defer zr.Close()

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}
	mf, ok := files["manifest.json"]
	if !ok {
		return nil, fmt.Errorf("dfu: %s: missing manifest.json", path)
	}
	raw, err := readZipFile(mf)
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("dfu: parse manifest: %w", err)
	}

	var images []*Image
	for _, name := range imageOrder {
		entry, ok := m.Manifest[name]
		if !ok {
			continue
		}
		img := &Image{Name: name}
		for _, part := range []struct {
			file string
			dst  *[]byte
		}{{entry.DatFile, &img.Init}, {entry.BinFile, &img.Firmware}} {
			f, ok := files[part.file]
			if !ok {
				return nil, fmt.Errorf("dfu: %s: manifest names missing file %q", name, part.file)
			}
			if *part.dst, err = readZipFile(f); err != nil {
				return nil, err
			}
		}
		images = append(images, img)
	}
	if len(images) == 0 {
		return nil, ErrNoImage
	}
	return images, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("dfu: open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("dfu: read %s: %w", f.Name, err)
	}
	return data, nil
}

// LoadFiles reads an image from a separate init packet and firmware file.
func LoadFiles(datPath, binPath string) (*Image, error) {
	initPacket, err := os.ReadFile(datPath)
	if err != nil {
		return nil, fmt.Errorf("dfu: read init packet: %w", err)
	}
	fw, err := os.ReadFile(binPath)
	if err != nil {
		return nil, fmt.Errorf("dfu: read firmware: %w", err)
	}
	if len(initPacket) == 0 || len(fw) == 0 {
		return nil, ErrNoImage
	}
	return &Image{Name: "application", Init: initPacket, Firmware: fw}, nil
}
