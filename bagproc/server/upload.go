package server

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// stagedBag is an uploaded bag sitting in the staging area, not yet keyed
// to a registered bag id.
type stagedBag struct {
	root    string // storage root
	tempDir string // staging directory, removed on finalize/discard
	BagDir  string // directory holding the store file
	Size    int64  // uploaded bytes
}

// stageUpload writes the uploaded file into a staging directory and, for
// zip archives, extracts it and locates the directory holding the store
// file.
func stageUpload(root, filename string, src io.Reader) (*stagedBag, error) {
	filename = filepath.Base(filename)
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	tempDir := filepath.Join(root, "temp", stem)
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	uploadPath := filepath.Join(tempDir, filename)
	f, err := os.Create(uploadPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}
	size, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}

	staged := &stagedBag{root: root, tempDir: tempDir, Size: size}

	if strings.EqualFold(filepath.Ext(filename), ".zip") {
		extractDir := filepath.Join(tempDir, stem)
		if err := extractZip(uploadPath, extractDir); err != nil {
			staged.discard()
			return nil, err
		}
		os.Remove(uploadPath)

		bagDir, err := findStoreDir(extractDir)
		if err != nil {
			staged.discard()
			return nil, err
		}
		staged.BagDir = bagDir
	} else {
		// A bare store file is addressed by its directory's name; put it
		// under the canonical name so the staged bag opens.
		if strings.EqualFold(filepath.Ext(filename), ".db3") {
			canonical := filepath.Join(tempDir, stem+"_0.db3")
			if uploadPath != canonical {
				if err := os.Rename(uploadPath, canonical); err != nil {
					staged.discard()
					return nil, fmt.Errorf("failed to stage store file: %w", err)
				}
			}
		}
		staged.BagDir = tempDir
	}
	return staged, nil
}

// finalize moves the bag directory to its permanent per-id location and
// returns the new path.
func (s *stagedBag) finalize(bagID int64) (string, error) {
	finalDir := filepath.Join(s.root, strconv.FormatInt(bagID, 10))
	if err := os.RemoveAll(finalDir); err != nil {
		return "", fmt.Errorf("failed to clear bag directory: %w", err)
	}
	if err := os.Rename(s.BagDir, finalDir); err != nil {
		return "", fmt.Errorf("failed to move bag into place: %w", err)
	}
	os.RemoveAll(s.tempDir)

	// The store file is addressed by its directory's name, which just
	// changed. Rename it so the bag stays openable at its new location.
	matches, _ := filepath.Glob(filepath.Join(finalDir, "*.db3"))
	if len(matches) > 0 {
		canonical := filepath.Join(finalDir, strconv.FormatInt(bagID, 10)+"_0.db3")
		if matches[0] != canonical {
			if err := os.Rename(matches[0], canonical); err != nil {
				return "", fmt.Errorf("failed to rename store file: %w", err)
			}
		}
	}
	return finalDir, nil
}

func (s *stagedBag) discard() {
	os.RemoveAll(s.tempDir)
}

// extractZip unpacks an archive, refusing entries that would escape the
// destination directory.
func extractZip(archivePath, dest string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	for _, entry := range r.File {
		target := filepath.Join(dest, entry.Name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes destination: %s", entry.Name)
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", entry.Name, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", entry.Name, err)
		}
		src, err := entry.Open()
		if err != nil {
			return fmt.Errorf("failed to open archive entry %s: %w", entry.Name, err)
		}
		dst, err := os.Create(target)
		if err != nil {
			src.Close()
			return fmt.Errorf("failed to create %s: %w", entry.Name, err)
		}
		_, err = io.Copy(dst, src)
		src.Close()
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("failed to extract %s: %w", entry.Name, err)
		}
	}
	return nil
}

// findStoreDir locates the directory containing a .db3 store file inside
// an extracted archive.
func findStoreDir(root string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".db3") {
			found = filepath.Dir(path)
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to scan archive contents: %w", err)
	}
	if found == "" {
		return "", errors.New("no store file found in archive")
	}
	return found, nil
}
