package misc

import (
	"bufio"
	"compress/gzip"
	"errors"
	"os"
	"regexp"
)

// GZipWriter writes gzip-compressed data to a file through a buffered
// writer. Close flushes and closes all three layers.
type GZipWriter struct {
	File      *os.File
	GzWriter  *gzip.Writer
	BufWriter *bufio.Writer
}

func CreateGZ(path string) (GZipWriter, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o660)
	if err != nil {
		return GZipWriter{}, err
	}
	gzWriter := gzip.NewWriter(file)
	return GZipWriter{
		File:      file,
		GzWriter:  gzWriter,
		BufWriter: bufio.NewWriter(gzWriter),
	}, nil
}

func (w GZipWriter) WriteGZ(s string) error {
	_, err := w.BufWriter.WriteString(s)
	return err
}

func (w GZipWriter) Write(b []byte) (int, error) {
	return w.BufWriter.Write(b)
}

func (w GZipWriter) Close() error {
	if err := w.BufWriter.Flush(); err != nil {
		return err
	}
	if err := w.GzWriter.Close(); err != nil {
		return err
	}
	if err := w.File.Close(); err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrClosed) {
			return nil
		}
		return err
	}
	return nil
}

// TruncateStr truncates a string to the given length limit.
func TruncateStr(str string, limit int) string {
	if len(str) > limit {
		return str[:limit]
	}
	return str
}

// ReplaceMultiRegex applies each expression to the string, substituting every
// match with the mapped replacement. Used to redact secrets out of logged SQL.
func ReplaceMultiRegex(str string, expressions map[string]string) (string, error) {
	replaced := str
	for exp, substitute := range expressions {
		re, err := regexp.Compile(exp)
		if err != nil {
			return "", err
		}
		replaced = re.ReplaceAllString(replaced, substitute)
	}
	return replaced, nil
}
