// Package frames persists decoded rasters as JPEG files under a
// deterministic per-topic layout.
package frames

import (
	"errors"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	"github.com/bagworks/bagproc/bagproc/codec"
)

// ErrEncodeFailure marks a raster that could not be compressed. It is
// treated like a decode failure: the message is skipped, not the topic.
var ErrEncodeFailure = errors.New("frame encode failed")

// Frame describes one written image file.
type Frame struct {
	// Path is relative to the writer's root.
	Path   string
	Width  int
	Height int
}

// Writer encodes rasters to JPEG files under Root.
type Writer struct {
	Root    string
	Quality int // 1-100
}

// NewWriter returns a Writer with the quality clamped to the valid range.
func NewWriter(root string, quality int) *Writer {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	return &Writer{Root: root, Quality: quality}
}

// TopicSlug flattens a topic name into a single path segment so nested
// topic names cannot create ambiguous directory trees.
func TopicSlug(topic string) string {
	return strings.ReplaceAll(strings.TrimPrefix(topic, "/"), "/", "_")
}

// Write encodes the raster at <topic-slug>/<timestamp>.jpg under the root
// and returns its descriptor. The timestamp is formatted with six decimal
// places so file order matches message order.
func (w *Writer) Write(topic string, timestamp float64, raster *codec.Raster) (Frame, error) {
	dir := filepath.Join(w.Root, TopicSlug(topic))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Frame{}, fmt.Errorf("failed to create frame directory %s: %w", dir, err)
	}

	name := fmt.Sprintf("%.6f.jpg", timestamp)
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to create frame file %s: %w", path, err)
	}

	if err := jpeg.Encode(f, raster.Image, &jpeg.Options{Quality: w.Quality}); err != nil {
		f.Close()
		os.Remove(path)
		return Frame{}, fmt.Errorf("%w: %v", ErrEncodeFailure, err)
	}
	if err := f.Close(); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrEncodeFailure, err)
	}

	return Frame{
		Path:   filepath.Join(TopicSlug(topic), name),
		Width:  raster.Width,
		Height: raster.Height,
	}, nil
}
