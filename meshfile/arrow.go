// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package meshfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/Query-farm/meshlink/meshlink"
)

const sectionKey = "meshlink.section"

// maxSectionSize bounds a section length read from a file.
const maxSectionSize = 1 << 34

func sectionSchema(section string, dt arrow.DataType, names ...string) *arrow.Schema {
	fields := make([]arrow.Field, len(names))
	for i, n := range names {
		fields[i] = arrow.Field{Name: n, Type: dt}
	}
	md := arrow.NewMetadata([]string{sectionKey}, []string{section})
	return arrow.NewSchema(fields, &md)
}

var (
	vertexSchema = sectionSchema("vertices", arrow.PrimitiveTypes.Float32, "x", "y", "z")
	faceSchema   = sectionSchema("faces", arrow.PrimitiveTypes.Uint32, "a", "b", "c")
)

func writeArrow(w io.Writer, m *meshlink.Mesh) error {
	mem := memory.NewGoAllocator()

	xs := array.NewFloat32Builder(mem)
	ys := array.NewFloat32Builder(mem)
	zs := array.NewFloat32Builder(mem)
	defer xs.Release()
	defer ys.Release()
	defer zs.Release()
	for _, v := range m.Vertices {
		xs.Append(v[0])
		ys.Append(v[1])
		zs.Append(v[2])
	}
	if err := writeSection(w, vertexSchema, int64(len(m.Vertices)), xs, ys, zs); err != nil {
		return fmt.Errorf("vertices: %w", err)
	}

	as := array.NewUint32Builder(mem)
	bs := array.NewUint32Builder(mem)
	cs := array.NewUint32Builder(mem)
	defer as.Release()
	defer bs.Release()
	defer cs.Release()
	for _, f := range m.Faces {
		as.Append(f[0])
		bs.Append(f[1])
		cs.Append(f[2])
	}
	if err := writeSection(w, faceSchema, int64(len(m.Faces)), as, bs, cs); err != nil {
		return fmt.Errorf("faces: %w", err)
	}
	return nil
}

func writeSection(w io.Writer, schema *arrow.Schema, rows int64, builders ...array.Builder) error {
	cols := make([]arrow.Array, len(builders))
	for i, b := range builders {
		cols[i] = b.NewArray()
		defer cols[i].Release()
	}
	rec := array.NewRecord(schema, cols, rows)
	defer rec.Release()

	var buf bytes.Buffer
	iw := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	if err := iw.Write(rec); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	if err := iw.Close(); err != nil {
		return fmt.Errorf("closing ipc writer: %w", err)
	}

	var hdr [8]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(buf.Len()))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func readSection(r io.Reader, want *arrow.Schema) (*ipc.Reader, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("reading section length: %w", err)
	}
	n := binary.LittleEndian.Uint64(hdr[:])
	if n > maxSectionSize {
		return nil, fmt.Errorf("section length %d exceeds limit", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("reading section: %w", err)
	}

	rdr, err := ipc.NewReader(bytes.NewReader(data), ipc.WithSchema(want))
	if err != nil {
		return nil, fmt.Errorf("opening ipc stream: %w", err)
	}
	md := rdr.Schema().Metadata()
	wantSection, _ := want.Metadata().GetValue(sectionKey)
	if got, _ := md.GetValue(sectionKey); got != wantSection {
		rdr.Release()
		return nil, fmt.Errorf("expected %s section, found %q", wantSection, got)
	}
	return rdr, nil
}

func readArrow(r io.Reader) (*meshlink.Mesh, error) {
	m := &meshlink.Mesh{}

	vr, err := readSection(r, vertexSchema)
	if err != nil {
		return nil, fmt.Errorf("vertices: %w", err)
	}
	defer vr.Release()
	for vr.Next() {
		rec := vr.Record()
		x := rec.Column(0).(*array.Float32).Float32Values()
		y := rec.Column(1).(*array.Float32).Float32Values()
		z := rec.Column(2).(*array.Float32).Float32Values()
		for i := range x {
			m.Vertices = append(m.Vertices, [3]float32{x[i], y[i], z[i]})
		}
	}
	if err := vr.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("vertices: %w", err)
	}

	fr, err := readSection(r, faceSchema)
	if err != nil {
		return nil, fmt.Errorf("faces: %w", err)
	}
	defer fr.Release()
	for fr.Next() {
		rec := fr.Record()
		a := rec.Column(0).(*array.Uint32).Uint32Values()
		b := rec.Column(1).(*array.Uint32).Uint32Values()
		c := rec.Column(2).(*array.Uint32).Uint32Values()
		for i := range a {
			m.Faces = append(m.Faces, [3]uint32{a[i], b[i], c[i]})
		}
	}
	if err := fr.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("faces: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
