package transfer

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rudderlabs/redshift-manager/internal/partition"
	"github.com/rudderlabs/redshift-manager/utils/misc"
)

var newline = []byte{'\n'}

// chunkIterator cuts a gzip staging file into per-range chunk files. It reads
// the staging file once, forward only, so a single chunk is resident at a
// time regardless of the extract size.
//
// Cutting is record-aware, counting the same units the extract counted: CSV
// extracts are parsed with encoding/csv, so a quoted field spanning physical
// lines stays inside its record; JSON extracts hold one document per line.
type chunkIterator struct {
	stagingDir string
	stamp      string
	format     Format

	file     *os.File
	gzReader *gzip.Reader

	csvReader *csv.Reader    // csv extracts
	scanner   *bufio.Scanner // json extracts

	ranges []partition.RowRange
	next   int
	row    int64
}

func newChunkIterator(stagingPath, stamp string, format Format, ranges []partition.RowRange, bufferCapacityInK int) (*chunkIterator, error) {
	file, err := os.Open(stagingPath)
	if err != nil {
		return nil, fmt.Errorf("opening staging file: %w", err)
	}
	gzReader, err := gzip.NewReader(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("reading staging file: %w", err)
	}

	it := &chunkIterator{
		stagingDir: filepath.Dir(stagingPath),
		stamp:      stamp,
		format:     format,
		file:       file,
		gzReader:   gzReader,
		ranges:     ranges,
	}
	if format == FormatJSON {
		scanner := bufio.NewScanner(gzReader)
		maxCapacity := bufferCapacityInK * 1024
		scanner.Buffer(make([]byte, maxCapacity), maxCapacity)
		it.scanner = scanner
	} else {
		csvReader := csv.NewReader(gzReader)
		csvReader.FieldsPerRecord = -1
		csvReader.ReuseRecord = true
		it.csvReader = csvReader
	}
	return it, nil
}

func (it *chunkIterator) Next() bool {
	return it.next < len(it.ranges)
}

// Produce writes the next range's records to a fresh gzip chunk file and
// returns its path together with the number of records written. The chunk
// file is removed again if production fails partway.
func (it *chunkIterator) Produce() (string, int64, error) {
	r := it.ranges[it.next]
	it.next++

	chunkPath := filepath.Join(it.stagingDir, fmt.Sprintf("%s_chunk_%d.csv.gz", it.stamp, it.next))
	writer, err := misc.CreateGZ(chunkPath)
	if err != nil {
		return "", 0, fmt.Errorf("creating chunk file: %w", err)
	}

	var written int64
	if it.format == FormatJSON {
		written, err = it.copyLines(writer, r)
	} else {
		written, err = it.copyRecords(writer, r)
	}
	if err != nil {
		_ = writer.Close()
		_ = os.Remove(chunkPath)
		return "", 0, err
	}
	if err := writer.Close(); err != nil {
		_ = os.Remove(chunkPath)
		return "", 0, fmt.Errorf("closing chunk file: %w", err)
	}
	return chunkPath, written, nil
}

func (it *chunkIterator) copyRecords(writer misc.GZipWriter, r partition.RowRange) (int64, error) {
	csvWriter := csv.NewWriter(writer)
	var written int64
	for it.row < r.End {
		record, err := it.csvReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("reading staging record: %w", err)
		}
		if err := csvWriter.Write(record); err != nil {
			return 0, fmt.Errorf("writing chunk record: %w", err)
		}
		it.row++
		written++
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return 0, fmt.Errorf("flushing chunk records: %w", err)
	}
	return written, nil
}

func (it *chunkIterator) copyLines(writer misc.GZipWriter, r partition.RowRange) (int64, error) {
	var written int64
	for it.row < r.End && it.scanner.Scan() {
		if _, err := writer.Write(it.scanner.Bytes()); err != nil {
			return 0, fmt.Errorf("writing chunk row: %w", err)
		}
		if _, err := writer.Write(newline); err != nil {
			return 0, fmt.Errorf("writing chunk row: %w", err)
		}
		it.row++
		written++
	}
	if err := it.scanner.Err(); err != nil {
		return 0, fmt.Errorf("reading staging file: %w", err)
	}
	return written, nil
}

func (it *chunkIterator) Close() error {
	if err := it.gzReader.Close(); err != nil {
		_ = it.file.Close()
		return err
	}
	return it.file.Close()
}
