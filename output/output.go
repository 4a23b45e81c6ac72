// Package output records simulation results. A Writer appends scalar time
// series, a Snapshot samples finite element functions at cell centroids, and
// ConvergencePlot draws error against mesh size. Only rank 0 touches the
// file system; every call is collective.
package output

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/notargets/DGBlock/comm"
	"github.com/notargets/DGBlock/fem"
)

type Backend string

const (
	CSV  Backend = "csv"
	PNG  Backend = "png"
	VTX  Backend = "vtx"
	XDMF Backend = "xdmf"
)

// ErrUnavailable reports a backend this build does not provide. Callers
// may continue without output.
var ErrUnavailable = errors.New("output: backend unavailable")

func ParseBackend(s string) (Backend, error) {
	switch b := Backend(s); b {
	case CSV, PNG, VTX, XDMF:
		return b, nil
	}
	return "", fmt.Errorf("output: unknown backend %q", s)
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', 17, 64) }

// Writer appends one row of named scalars per time
type Writer struct {
	comm    *comm.Comm
	backend Backend
	path    string
	fields  []string

	file *os.File
	csv  *csv.Writer

	times  []float64
	series [][]float64
	last   float64
	rows   int
	closed bool
}

// New opens a time series at path. The png backend renders on Close.
func New(c *comm.Comm, backend Backend, path string, fields ...string) (*Writer, error) {
	switch backend {
	case CSV, PNG:
	case VTX, XDMF:
		return nil, fmt.Errorf("%s writer for %s: %w", backend, path, ErrUnavailable)
	default:
		return nil, fmt.Errorf("output: unknown backend %q", backend)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("output: no fields for %s", path)
	}
	w := &Writer{
		comm:    c,
		backend: backend,
		path:    path,
		fields:  append([]string(nil), fields...),
		series:  make([][]float64, len(fields)),
	}
	if backend != CSV {
		return w, nil
	}
	var err error
	if c.Rank() == 0 {
		err = w.openCSV()
	}
	if err = agree(c, err); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) openCSV() error {
	f, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("output: %w", err)
	}
	w.file = f
	w.csv = csv.NewWriter(f)
	if err := w.csv.Write(append([]string{"t"}, w.fields...)); err != nil {
		f.Close()
		return fmt.Errorf("output: %w", err)
	}
	return nil
}

// agree returns rank 0's error on every rank
func agree(c *comm.Comm, err error) error {
	var msg string
	if err != nil {
		msg = err.Error()
	}
	if msg = c.Bcast(0, msg).(string); msg != "" {
		if err != nil {
			return err
		}
		return errors.New(msg)
	}
	return nil
}

// Write appends the values of every field at time t. Times must increase
// from one row to the next and values must agree across ranks. A failed
// write is reported on every rank. Collective.
func (w *Writer) Write(t float64, values ...float64) error {
	if w.closed {
		return fmt.Errorf("output: write to closed %s", w.path)
	}
	if len(values) != len(w.fields) {
		return fmt.Errorf("output: %d values for %d fields", len(values), len(w.fields))
	}
	if err := checkTime(w.path, w.rows, w.last, t); err != nil {
		return err
	}
	var err error
	if w.comm.Rank() == 0 {
		err = w.append(t, values)
	}
	if err = agree(w.comm, err); err != nil {
		return err
	}
	w.last = t
	w.rows++
	return nil
}

func checkTime(path string, rows int, last, t float64) error {
	switch {
	case math.IsNaN(t) || math.IsInf(t, 0):
		return fmt.Errorf("output: time %g in %s", t, path)
	case rows > 0 && t <= last:
		return fmt.Errorf("output: time %g in %s does not follow %g", t, path, last)
	}
	return nil
}

func (w *Writer) append(t float64, values []float64) error {
	w.times = append(w.times, t)
	for i, v := range values {
		w.series[i] = append(w.series[i], v)
	}
	if w.backend != CSV {
		return nil
	}
	row := make([]string, 0, len(values)+1)
	row = append(row, formatFloat(t))
	for _, v := range values {
		row = append(row, formatFloat(v))
	}
	if err := w.csv.Write(row); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	return nil
}

// Close flushes the file or renders the plot. Safe to call twice.
// Collective.
func (w *Writer) Close() error {
	if w == nil || w.closed {
		return nil
	}
	w.closed = true
	var err error
	if w.comm.Rank() == 0 {
		switch w.backend {
		case CSV:
			w.csv.Flush()
			err = errors.Join(w.csv.Error(), w.file.Close())
		case PNG:
			err = historyPlot(w.path, w.times, w.fields, w.series)
		}
	}
	return agree(w.comm, err)
}

// Snapshot writes the values of functions at the centroids of all cells,
// one block of rows per time
type Snapshot struct {
	comm  *comm.Comm
	path  string
	funcs []*fem.Function

	file   *os.File
	csv    *csv.Writer
	last   float64
	rows   int
	closed bool
}

type sample struct {
	Cell int
	X    [2]float64
	Vals []float64
}

// NewSnapshot opens a snapshot file for funcs, which must share a mesh.
// Only the csv backend stores fields.
func NewSnapshot(c *comm.Comm, backend Backend, path string, funcs ...*fem.Function) (*Snapshot, error) {
	if backend != CSV {
		return nil, fmt.Errorf("%s snapshots for %s: %w", backend, path, ErrUnavailable)
	}
	if len(funcs) == 0 {
		return nil, fmt.Errorf("output: no functions for %s", path)
	}
	header := []string{"t", "cell", "x", "y"}
	for _, f := range funcs {
		if f.Space.Mesh != funcs[0].Space.Mesh {
			return nil, fmt.Errorf("output: %s and %s live on different meshes", f.Name, funcs[0].Name)
		}
		n := f.Space.BlockSize() * f.Space.Element.ValueSize()
		for k := 0; k < n; k++ {
			name := f.Name
			if n > 1 {
				name = fmt.Sprintf("%s_%d", f.Name, k)
			}
			header = append(header, name)
		}
	}
	s := &Snapshot{comm: c, path: path, funcs: funcs}
	var err error
	if c.Rank() == 0 {
		if s.file, err = os.Create(path); err == nil {
			s.csv = csv.NewWriter(s.file)
			err = s.csv.Write(header)
		}
		if err != nil {
			err = fmt.Errorf("output: %w", err)
		}
	}
	if err = agree(c, err); err != nil {
		if s.file != nil {
			s.file.Close()
		}
		return nil, err
	}
	return s, nil
}

// Write samples every function at the centroids of the owned cells and
// appends them on rank 0 in cell order. Ghost values must be current.
// Collective.
func (s *Snapshot) Write(t float64) error {
	if s.closed {
		return fmt.Errorf("output: write to closed %s", s.path)
	}
	if err := checkTime(s.path, s.rows, s.last, t); err != nil {
		return err
	}
	m := s.funcs[0].Space.Mesh
	var local []sample
	for _, k := range m.OwnedCells() {
		x := m.Geometry(k).Centroid
		sm := sample{Cell: k, X: x}
		for _, f := range s.funcs {
			sm.Vals = append(sm.Vals, f.Eval(k, x)...)
		}
		local = append(local, sm)
	}
	parts := s.comm.Gather(0, local)
	var err error
	if s.comm.Rank() == 0 {
		rows := make([]sample, m.NumCells())
		for _, p := range parts {
			for _, sm := range p.([]sample) {
				rows[sm.Cell] = sm
			}
		}
		tt := formatFloat(t)
		for _, sm := range rows {
			rec := []string{tt, strconv.Itoa(sm.Cell), formatFloat(sm.X[0]), formatFloat(sm.X[1])}
			for _, v := range sm.Vals {
				rec = append(rec, formatFloat(v))
			}
			if err = s.csv.Write(rec); err != nil {
				break
			}
		}
		s.csv.Flush()
		if err == nil {
			err = s.csv.Error()
		}
	}
	if err = agree(s.comm, err); err != nil {
		return err
	}
	s.last = t
	s.rows++
	return nil
}

// Close flushes and closes the file. Safe to call twice. Collective.
func (s *Snapshot) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	var err error
	if s.comm.Rank() == 0 {
		s.csv.Flush()
		err = errors.Join(s.csv.Error(), s.file.Close())
	}
	return agree(s.comm, err)
}
