package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.sst")
	content := []byte("hello sstable")

	f, err := CreateAndWrite(path, content)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, int64(len(content)), f.Size())

	got, err := f.Bytes(0, len(content))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	got, err = f.Bytes(6, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("sst"), got)

	// 越界读要报错
	_, err = f.Bytes(10, 100)
	assert.Error(t, err)
}

func TestSSTFileDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "2.sst")
	f, err := CreateAndWrite(path, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, f.Delete())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// 重复删除是no-op
	assert.NoError(t, f.Delete())
}

func TestCreateAndWriteNoPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "3.sst")
	_, err := CreateAndWrite(path, []byte("data"))
	require.NoError(t, err)

	// 目录里不应该留下临时文件
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "3.sst", entries[0].Name())
}
