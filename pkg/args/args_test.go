package args

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCache(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.zwc")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDecode(t *testing.T) {
	path := writeCache(t, "test_data")

	req, err := Decode(FromStrings([]string{"577", path}))
	require.NoError(t, err)
	assert.Equal(t, 577, req.PID)
	assert.Equal(t, path, req.CachePath)
	assert.Equal(t, []byte("test_data"), req.Cache)
}

func TestDecodeEmptyCache(t *testing.T) {
	path := writeCache(t, "")

	req, err := Decode(FromStrings([]string{"1", path}))
	require.NoError(t, err)
	assert.NotNil(t, req.Cache)
	assert.Empty(t, req.Cache)
}

func TestDecodeDeterministic(t *testing.T) {
	path := writeCache(t, "\x00\x01binary\xff")
	raw := FromStrings([]string{"5778", path})

	first, err := Decode(raw)
	require.NoError(t, err)
	second, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDecodeErrors(t *testing.T) {
	path := writeCache(t, "test_data")
	missing := filepath.Join(t.TempDir(), "does-not-exist")

	tests := []struct {
		name string
		raw  [][]byte
		arg  string
		want error
	}{
		{"nil array", nil, "args", ErrMissingArgument},
		{"empty array", [][]byte{}, "pid", ErrMissingArgument},
		{"nil pid", [][]byte{nil, []byte(path)}, "pid", ErrMissingArgument},
		{"nil path", [][]byte{[]byte("1"), nil}, "cache", ErrMissingArgument},
		{"only pid", [][]byte{[]byte("1")}, "cache", ErrMissingArgument},
		{"extra argument", FromStrings([]string{"1", path, "x"}), "args", ErrTooManyArguments},
		{"letters", FromStrings([]string{"five", path}), "pid", ErrInvalidPid},
		{"empty pid", FromStrings([]string{"", path}), "pid", ErrInvalidPid},
		{"non utf8 pid", [][]byte{[]byte("\xfe"), []byte(path)}, "pid", ErrInvalidPid},
		{"zero pid", FromStrings([]string{"0", path}), "pid", ErrInvalidPid},
		{"empty path", FromStrings([]string{"1", ""}), "cache", ErrInvalidPath},
		{"non utf8 path", [][]byte{[]byte("1"), []byte("/tmp/\xfe")}, "cache", ErrInvalidPath},
		{"nul in path", [][]byte{[]byte("1"), []byte("/tmp/a\x00b")}, "cache", ErrInvalidPath},
		{"missing file", FromStrings([]string{"1", missing}), "cache", ErrIO},
		{"directory", FromStrings([]string{"1", t.TempDir()}), "cache", ErrIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Decode(tt.raw)
			require.Error(t, err)
			assert.Nil(t, req)
			assert.ErrorIs(t, err, tt.want)

			var de *DecodeError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.arg, de.Arg)
		})
	}
}

func TestDecodeMissingFileKeepsPathError(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	_, err := Decode(FromStrings([]string{"1", missing}))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParsePID(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"577", 577, false},
		{"5778", 5778, false},
		{"1", 1, false},
		{"2147483647", 2147483647, false},
		{"2147483648", 0, true},
		{"99999999999999999999", 0, true},
		{"-1", 0, true},
		{"+1", 0, true},
		{" 577", 0, true},
		{"577 ", 0, true},
		{"577\n", 0, true},
		{"577abc", 0, true},
		{"0x10", 0, true},
		{"5\x007", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePID([]byte(tt.in))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRestore(t *testing.T) {
	req, err := Restore(42, "/tmp/cache.zwc", []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, &MigrationRequest{PID: 42, CachePath: "/tmp/cache.zwc", Cache: []byte("data")}, req)

	_, err = Restore(0, "/tmp/cache.zwc", []byte("data"))
	assert.ErrorIs(t, err, ErrInvalidPid)
	_, err = Restore(1, "", []byte("data"))
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = Restore(1, "/tmp/cache.zwc", nil)
	assert.ErrorIs(t, err, ErrMissingArgument)
}

func TestFromStrings(t *testing.T) {
	assert.Nil(t, FromStrings(nil))
	assert.Equal(t, [][]byte{[]byte("a"), []byte("")}, FromStrings([]string{"a", ""}))
}
