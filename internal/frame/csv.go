package frame

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/animus-labs/netsec-pipeline/internal/atomicfile"
)

// ReadCSV parses a header row followed by data rows. Empty fields are
// missing values.
func ReadCSV(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csv is empty")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = trimBOM(header[0])
	}
	f := New(header)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", f.Len()+1, err)
		}
		row := make([]Cell, len(rec))
		for i, v := range rec {
			if v == "" {
				row[i] = Null()
				continue
			}
			row[i] = Value(v)
		}
		f.Rows = append(f.Rows, row)
	}
	return f, nil
}

func ReadCSVFile(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	f, err := ReadCSV(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func (f *Frame) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.Columns); err != nil {
		return err
	}
	rec := make([]string, len(f.Columns))
	for _, row := range f.Rows {
		for i, c := range row {
			rec[i] = ""
			if c.Valid {
				rec[i] = c.String
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile persists the frame atomically, creating parent directories.
func (f *Frame) WriteCSVFile(path string) error {
	return atomicfile.Write(path, f.WriteCSV)
}

// WriteMatrixCSV persists a float matrix with a header row.
func WriteMatrixCSV(path string, header []string, data [][]float64) error {
	return atomicfile.Write(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		rec := make([]string, len(header))
		for i, row := range data {
			if len(row) != len(header) {
				return fmt.Errorf("row %d has %d values, header has %d", i, len(row), len(header))
			}
			for j, v := range row {
				rec[j] = strconv.FormatFloat(v, 'g', -1, 64)
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// ReadMatrixCSV loads a file written by WriteMatrixCSV.
func ReadMatrixCSV(path string) ([]string, [][]float64, error) {
	f, err := ReadCSVFile(path)
	if err != nil {
		return nil, nil, err
	}
	data, err := f.Matrix(f.Columns)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return f.Columns, data, nil
}

func trimBOM(s string) string {
	if len(s) >= 3 && s[0] == 0xEF && s[1] == 0xBB && s[2] == 0xBF {
		return s[3:]
	}
	return s
}
