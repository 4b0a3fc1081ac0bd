package tier

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"nvr-core/database"
)

// moveFile copies f from its current tier to destTierPath, fsyncs the copy,
// rewrites the row, then removes the source. Spec.md §4.7 "Move semantics":
// the row keeps pointing at the source until the destination write is
// durable, so an interrupted move resumes cleanly on the next sweep.
func moveFile(db database.Database, f database.File, destTierID int, destTierPath string) error {
	destDir := filepath.Join(destTierPath, string(f.Category), string(f.Subcategory), f.CameraID)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create tier directory %s: %v", destDir, err)
	}
	destPath := filepath.Join(destDir, f.Filename)

	if err := copyAndSync(f.Path, destPath); err != nil {
		return fmt.Errorf("failed to copy %s -> %s: %v", f.Path, destPath, err)
	}

	moved := f
	moved.TierID = destTierID
	moved.TierPath = destTierPath
	moved.Path = destPath
	moved.Directory = destDir
	if err := db.MoveFile(f.Path, moved); err != nil {
		// the copy is orphaned but harmless; the source row still points at
		// f.Path so the next sweep will retry the move from scratch.
		return fmt.Errorf("failed to update row for moved file %s: %v", f.Path, err)
	}

	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove source %s after move: %v", f.Path, err)
	}
	return nil
}

// deleteFile removes f from disk and its row. Idempotent on a missing file.
func deleteFile(db database.Database, f database.File) error {
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %v", f.Path, err)
	}
	if err := db.DeleteFile(f.Path); err != nil {
		return fmt.Errorf("failed to delete row for %s: %v", f.Path, err)
	}
	return nil
}

func copyAndSync(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dest, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer dest.Close()

	if _, err := io.Copy(dest, src); err != nil {
		return err
	}
	return dest.Sync()
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// moveBarePath moves a bare path (thumbnail or event clip, slaved to
// a Recording rather than a Files row) into destTierPath, fsyncing the copy
// before removing the source. Returns the new path.
func moveBarePath(srcPath, destTierPath, category, subcategory, cameraID string) (string, error) {
	if srcPath == "" {
		return "", nil
	}
	destDir := filepath.Join(destTierPath, category, subcategory, cameraID)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create tier directory %s: %v", destDir, err)
	}
	destPath := filepath.Join(destDir, filepath.Base(srcPath))
	if err := copyAndSync(srcPath, destPath); err != nil {
		return "", fmt.Errorf("failed to copy %s -> %s: %v", srcPath, destPath, err)
	}
	if err := os.Remove(srcPath); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to remove source %s after move: %v", srcPath, err)
	}
	return destPath, nil
}
