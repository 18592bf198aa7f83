package misc

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGZipWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv.gz")

	w, err := CreateGZ(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteGZ("a,b,c\n"))
	require.NoError(t, w.WriteGZ("1,2,3\n"))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	content, err := io.ReadAll(gz)
	require.NoError(t, err)
	require.Equal(t, "a,b,c\n1,2,3\n", string(content))
}

func TestTruncateStr(t *testing.T) {
	require.Equal(t, "abc", TruncateStr("abcdef", 3))
	require.Equal(t, "abcdef", TruncateStr("abcdef", 10))
	require.Equal(t, "", TruncateStr("abcdef", 0))
}

func TestReplaceMultiRegex(t *testing.T) {
	redacted, err := ReplaceMultiRegex(
		`COPY t FROM 's3://b/k' CREDENTIALS 'aws_access_key_id=AKIA;aws_secret_access_key=shh' MANIFEST`,
		map[string]string{`CREDENTIALS '[^']*'`: "CREDENTIALS '***'"},
	)
	require.NoError(t, err)
	require.Equal(t, `COPY t FROM 's3://b/k' CREDENTIALS '***' MANIFEST`, redacted)

	_, err = ReplaceMultiRegex("anything", map[string]string{`[`: ""})
	require.Error(t, err)
}
