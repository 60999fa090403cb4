package ziptest

import (
	"os"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
)

// Zstd is the method value of zstd compressed entries for [WriteStandard].
const Zstd = zstd.ZipMethodWinZip

// WriteStandard writes a regular single-file archive with a conventional
// ZIP writer (data descriptors, extended timestamps) and returns path.
func WriteStandard(t testing.TB, path string, files []File) string {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	zw.RegisterCompressor(Zstd, zstd.ZipCompressor())

	for _, file := range files {
		header := &zip.FileHeader{
			Name:     file.Name,
			Method:   file.Method,
			Modified: file.Modified,
		}

		if strings.HasSuffix(file.Name, "/") {
			header.SetMode(os.ModeDir | 0o755)
		} else {
			header.SetMode(0o644)
		}

		w, err := zw.CreateHeader(header)
		require.NoError(t, err)

		if len(file.Content) > 0 {
			_, err = w.Write(file.Content)
			require.NoError(t, err)
		}
	}

	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	return path
}
