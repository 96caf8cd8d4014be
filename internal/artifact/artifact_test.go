package artifact

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalJSONSortsKeysAndCompacts(t *testing.T) {
	v := map[string]any{"b": 1, "a": 2, "c": map[string]any{"z": 1, "y": 2}}
	out, err := CanonicalJSON(v)
	require.NoError(t, err)
	require.Equal(t, `{"a":2,"b":1,"c":{"y":2,"z":1}}`, string(out))
}

func TestCanonicalJSONIsDeterministicAcrossStructAndMap(t *testing.T) {
	type s struct {
		B int `json:"b"`
		A int `json:"a"`
	}
	out1, err := CanonicalJSON(s{B: 1, A: 2})
	require.NoError(t, err)
	out2, err := CanonicalJSON(map[string]any{"b": 1, "a": 2})
	require.NoError(t, err)
	require.Equal(t, string(out2), string(out1))
}

func TestCanonicalJSONPreservesLargeIntegers(t *testing.T) {
	out, err := CanonicalJSON(map[string]any{"n": int64(1_000_000_000_000_000_000)})
	require.NoError(t, err)
	require.Equal(t, `{"n":1000000000000000000}`, string(out))
}

func TestFingerprintFileSmallFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "small.bin")
	content := []byte("hello world")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	dfp, err := FingerprintFile(path)
	require.NoError(t, err)
	require.Equal(t, int64(len(content)), dfp.SizeBytes)
	require.Equal(t, dfp.HeadSHA256, dfp.TailSHA256, "a file smaller than one block hashes identically head and tail")
	require.Equal(t, SHA256Text("hello world"), dfp.HeadSHA256)
}

func TestFingerprintFileLargeFileHeadTailDiffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "large.bin")
	content := make([]byte, fingerprintBlockBytes*3)
	for i := range content {
		content[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(path, content, 0o644))

	dfp, err := FingerprintFile(path)
	require.NoError(t, err)
	require.Equal(t, int64(len(content)), dfp.SizeBytes)
	require.NotEqual(t, dfp.HeadSHA256, dfp.TailSHA256)
}

func TestFileSHA256MissingFileReturnsFalse(t *testing.T) {
	_, ok, err := FileSHA256(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileSHA256MatchesKnownDigest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))
	sum, ok, err := FileSHA256(path)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)
}

func TestMakeRunDirCreatesExpectedLayout(t *testing.T) {
	root := t.TempDir()
	paths, err := MakeRunDir(root, "abc123", "20260101T000000Z")
	require.NoError(t, err)

	require.DirExists(t, paths.RunDir)
	require.True(t, strings.HasSuffix(paths.RunDir, "abc123_20260101T000000Z"))
	require.Equal(t, filepath.Join(paths.RunDir, "spec.json"), paths.SpecJSON)
	require.Equal(t, filepath.Join(paths.RunDir, "manifest.json"), paths.ManifestJSON)
	require.Equal(t, filepath.Join(paths.RunDir, "markout.csv"), paths.MarkoutCSV)
}

func TestMakeRunDirRejectsExistingDirectory(t *testing.T) {
	root := t.TempDir()
	_, err := MakeRunDir(root, "dup", "20260101T000000Z")
	require.NoError(t, err)
	_, err = MakeRunDir(root, "dup", "20260101T000000Z")
	require.Error(t, err)
}

func TestWriteJSONWritesCanonicalWithTrailingNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, WriteJSON(path, map[string]any{"b": 1, "a": 2}))

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "{\"a\":2,\"b\":1}\n", string(body))
}

func TestJSONLWriterAppendsOneRowPerLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.jsonl")
	w, err := OpenJSONL(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(map[string]any{"i": 1}))
	require.NoError(t, w.Append(map[string]any{"i": 2}))
	require.NoError(t, w.Close())

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	require.Equal(t, []string{`{"i":1}`, `{"i":2}`}, lines)
}

func TestJSONLWriterAppendIsTrueAppendAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.jsonl")
	w1, err := OpenJSONL(path)
	require.NoError(t, err)
	require.NoError(t, w1.Append(map[string]any{"i": 1}))
	require.NoError(t, w1.Close())

	w2, err := OpenJSONL(path)
	require.NoError(t, err)
	require.NoError(t, w2.Append(map[string]any{"i": 2}))
	require.NoError(t, w2.Close())

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "{\"i\":1}\n{\"i\":2}\n", string(body))
}

func TestWriteCSVWritesHeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, WriteCSV(path, []string{"a", "b"}, [][]string{{"1", "2"}, {"3", "4"}}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Equal(t, [][]string{{"a", "b"}, {"1", "2"}, {"3", "4"}}, recs)
}
