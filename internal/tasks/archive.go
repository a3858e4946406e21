package tasks

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/desertthunder/rbxbridge/internal/models"
	"github.com/desertthunder/rbxbridge/internal/shared"
)

var zipMagic = []byte("PK\x03\x04")

// isZip reports whether the file at p starts with a local file header.
func isZip(p string) (bool, error) {
	f, err := os.Open(p)
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, len(zipMagic))
	n, err := io.ReadFull(f, head)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return bytes.Equal(head[:n], zipMagic), nil
}

// extractModel copies the archive entry best satisfying format into a temp file in dir.
//
// Extensions are ranked by [models.Format.ArchiveExtensions]; ties go to the earliest entry.
//
// The returned format is derived from the entry's own extension, so a .glb found for a gltf request uploads as glb.
func extractModel(archivePath, dir string, format models.Format, limit int64) (string, string, models.Format, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", "", "", fmt.Errorf("%w: invalid archive: %v", shared.ErrDownloadFailed, err)
	}
	defer zr.Close()

	wanted := format.ArchiveExtensions()
	var names []string
	var entry *zip.File
	rank := len(wanted)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		names = append(names, f.Name)
		if i := slices.Index(wanted, strings.ToLower(path.Ext(f.Name))); i >= 0 && i < rank {
			entry, rank = f, i
		}
	}

	if entry == nil {
		return "", "", "", fmt.Errorf("%w: no %s file in archive (contents: %s)",
			shared.ErrDownloadFailed, strings.Join(wanted, "/"), strings.Join(names, ", "))
	}

	found, ok := models.FormatFromFilename(entry.Name)
	if !ok {
		found = format
	}

	rc, err := entry.Open()
	if err != nil {
		return "", "", "", fmt.Errorf("%w: failed to open %s: %v", shared.ErrDownloadFailed, entry.Name, err)
	}
	defer rc.Close()

	out, err := os.CreateTemp(dir, "rbxbridge-*."+string(found))
	if err != nil {
		return "", "", "", fmt.Errorf("%w: failed to create temp file: %v", shared.ErrDownloadFailed, err)
	}
	outPath := out.Name()

	n, err := io.Copy(out, io.LimitReader(rc, limit+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return outPath, "", "", fmt.Errorf("%w: failed to extract %s: %v", shared.ErrDownloadFailed, entry.Name, err)
	}
	if n > limit {
		return outPath, "", "", fmt.Errorf("%w: %s exceeds %d bytes", shared.ErrDownloadFailed, entry.Name, limit)
	}
	return outPath, entry.Name, found, nil
}
