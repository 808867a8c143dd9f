// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package meshfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/Query-farm/meshlink/meshlink"
)

// Format is an on-disk mesh encoding.
type Format int

const (
	FormatBinary Format = iota + 1 // engine mesh blob
	FormatArrow                    // Arrow IPC vertex and face streams
)

func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatArrow:
		return "arrow"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

const (
	extBinary = ".msoup"
	extArrow  = ".mesharrow"
	extZstd   = ".zst"
)

// ErrUnknownFormat is returned for paths whose extension names no format.
var ErrUnknownFormat = errors.New("unknown mesh file format")

// FormatFromPath returns the format named by path's extension and whether
// the file is zstd compressed.
func FormatFromPath(path string) (Format, bool, error) {
	name := strings.ToLower(filepath.Base(path))
	compressed := strings.HasSuffix(name, extZstd)
	name = strings.TrimSuffix(name, extZstd)
	switch filepath.Ext(name) {
	case extBinary:
		return FormatBinary, compressed, nil
	case extArrow:
		return FormatArrow, compressed, nil
	default:
		return 0, false, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

// Write encodes m to w in format f.
func Write(w io.Writer, m *meshlink.Mesh, f Format) error {
	switch f {
	case FormatBinary:
		_, err := w.Write(meshlink.EncodeMesh(m))
		return err
	case FormatArrow:
		return writeArrow(w, m)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, f)
	}
}

// Read decodes a mesh in format f from r.
func Read(r io.Reader, f Format) (*meshlink.Mesh, error) {
	switch f {
	case FormatBinary:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		return meshlink.DecodeMesh(data)
	case FormatArrow:
		return readArrow(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, f)
	}
}

// WriteFile writes m to path in the format its extension names,
// compressing when the name ends in .zst.
func WriteFile(path string, m *meshlink.Mesh) (err error) {
	f, compressed, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriter(file)
	var w io.Writer = bw
	var enc *zstd.Encoder
	if compressed {
		if enc, err = zstd.NewWriter(bw); err != nil {
			return fmt.Errorf("creating zstd writer: %w", err)
		}
		w = enc
	}
	if err := Write(w, m, f); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return fmt.Errorf("finishing zstd stream: %w", err)
		}
	}
	return bw.Flush()
}

// ReadFile reads a mesh from path in the format its extension names.
func ReadFile(path string) (*meshlink.Mesh, error) {
	f, compressed, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var r io.Reader = bufio.NewReader(file)
	if compressed {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	}
	m, err := Read(r, f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return m, nil
}
