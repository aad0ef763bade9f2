package lsmt

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keeAzlynth/LSM/file"
	"github.com/keeAzlynth/LSM/utils"
)

func openTestFile(t *testing.T, opt *Options, sstID uint64) (*file.SSTFile, error) {
	t.Helper()
	return file.OpenSSTFile(filepath.Join(opt.WorkDir, utils.SSTName(sstID)))
}

// 内存file对象，统计读次数，用于验证bloomFilter确实短路了block读取
type memFile struct {
	data  []byte
	reads int
}

func newMemFile(t *testing.T, path string) *memFile {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return &memFile{data: data}
}

func (f *memFile) Size() int64 {
	return int64(len(f.data))
}

func (f *memFile) Bytes(offset, size int) ([]byte, error) {
	f.reads++
	if offset < 0 || offset+size > len(f.data) {
		return nil, fmt.Errorf("read out of range: %d+%d/%d", offset, size, len(f.data))
	}
	return f.data[offset : offset+size], nil
}

func (f *memFile) Close() error  { return nil }
func (f *memFile) Delete() error { return nil }

// sst跨block的prefix范围查询
func TestTablePrefixRangeAcrossBlocks(t *testing.T) {
	opt := testOptions(t.TempDir())
	tbl := buildTestSST(t, opt, 1, func(b *sstBuilder) {
		for i := 0; i < 200; i++ {
			key := []byte(fmt.Sprintf("key_%04d", i))
			require.NoError(t, b.Add(key, []byte(fmt.Sprintf("v%d", i)), 1000))
		}
	})
	defer tbl.DelSST()
	require.Greater(t, tbl.NumBlocks(), 1)

	entries, err := tbl.GetPrefixRange([]byte("key_01"), 1000)
	require.NoError(t, err)
	require.Len(t, entries, 100)
	for i, e := range entries {
		assert.Equal(t, []byte(fmt.Sprintf("key_%04d", 100+i)), e.Key)
	}

	entries, err = tbl.GetPrefixRange([]byte("key_02"), 1000)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// 快照在所有版本之前，什么都不可见
	entries, err = tbl.GetPrefixRange([]byte("key_01"), 999)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// bloomFilter说不存在时不会读任何block
func TestTableBloomAvoidsBlockRead(t *testing.T) {
	opt := testOptions(t.TempDir())
	tbl := buildTestSST(t, opt, 1, func(b *sstBuilder) {
		require.NoError(t, b.Add([]byte("a"), []byte("1"), 1))
		require.NoError(t, b.Add([]byte("b"), []byte("2"), 1))
		require.NoError(t, b.Add([]byte("c"), []byte("3"), 1))
	})
	defer tbl.DelSST()

	// 把文件内容放进可以统计读次数的内存file对象
	mf := newMemFile(t, filepath.Join(opt.WorkDir, utils.SSTName(1)))
	opened, err := OpenTable(1, mf, newBlockCache(16))
	require.NoError(t, err)
	require.NotNil(t, opened.bloom)

	// 找一个bloomFilter判定为不存在的key
	var missing []byte
	for i := 0; i < 1000; i++ {
		candidate := []byte(fmt.Sprintf("missing_%04d", i))
		if !opened.bloom.MayContainKey(candidate) {
			missing = candidate
			break
		}
	}
	require.NotNil(t, missing, "bloom false-positive on 1000 candidates")

	readsBefore := mf.reads
	_, ok := opened.FindBlockIdx(missing, false)
	assert.False(t, ok)
	assert.False(t, opened.KeyExists(missing))
	// bloom短路，一次block读取都没有发生
	assert.Equal(t, readsBefore, mf.reads)

	// 存在的key要能读到
	assert.True(t, opened.KeyExists([]byte("b")))
	assert.Greater(t, mf.reads, readsBefore)
}

// 两次readBlock返回内容一致(经过cache也一样)
func TestTableReadBlockCacheConsistency(t *testing.T) {
	opt := testOptions(t.TempDir())
	tbl := buildTestSST(t, opt, 1, func(b *sstBuilder) {
		for i := 0; i < 100; i++ {
			require.NoError(t, b.Add([]byte(fmt.Sprintf("key_%04d", i)), []byte("v"), 1))
		}
	})
	defer tbl.DelSST()

	b1, err := tbl.readBlock(0)
	require.NoError(t, err)
	b2, err := tbl.readBlock(0)
	require.NoError(t, err)
	assert.Equal(t, b1.data, b2.data)
	assert.Equal(t, b1.offsets, b2.offsets)

	// cache被清掉之后重新从文件解码，内容仍然一致
	tbl.cache.Del(1, 0)
	b3, err := tbl.readBlock(0)
	require.NoError(t, err)
	assert.Equal(t, b1.data, b3.data)
	assert.Equal(t, b1.offsets, b3.offsets)
}

func TestTableFindBlockIdx(t *testing.T) {
	opt := testOptions(t.TempDir())
	opt.BloomFalsePositive = 0 // 关掉bloom，单独测block定位
	tbl := buildTestSST(t, opt, 1, func(b *sstBuilder) {
		for i := 0; i < 200; i += 2 {
			require.NoError(t, b.Add([]byte(fmt.Sprintf("key_%04d", i)), []byte("v"), 1))
		}
	})
	defer tbl.DelSST()

	idx, ok := tbl.FindBlockIdx([]byte("key_0100"), false)
	require.True(t, ok)
	blk, err := tbl.readBlock(idx)
	require.NoError(t, err)
	_, _, ok = blk.getOffsetBinary([]byte("key_0100"))
	assert.True(t, ok)

	// 超出首尾范围
	_, ok = tbl.FindBlockIdx([]byte("aaa"), false)
	assert.False(t, ok)
	_, ok = tbl.FindBlockIdx([]byte("zzz"), false)
	assert.False(t, ok)
}

func TestOpenTableCorrupted(t *testing.T) {
	opt := testOptions(t.TempDir())
	tbl := buildTestSST(t, opt, 1, func(b *sstBuilder) {
		for i := 0; i < 50; i++ {
			require.NoError(t, b.Add([]byte(fmt.Sprintf("key_%04d", i)), []byte("v"), 1))
		}
	})
	path := filepath.Join(opt.WorkDir, utils.SSTName(1))
	defer tbl.DelSST()

	// 文件太小
	small := &memFile{data: []byte{0x00, 0x01, 0x02}}
	_, err := OpenTable(2, small, newBlockCache(16))
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrCorruptedSST)

	// footer里的offset越界
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	bad := append([]byte{}, data...)
	// meta_offset在footer的前4个字节
	for i := 0; i < 4; i++ {
		bad[len(bad)-24+i] = 0xff
	}
	_, err = OpenTable(2, &memFile{data: bad}, newBlockCache(16))
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrCorruptedSST)

	// block数据损坏：open成功但readBlock报corrupted
	bad2 := append([]byte{}, data...)
	bad2[3] ^= 0xff
	opened, err := OpenTable(2, &memFile{data: bad2}, newBlockCache(16))
	require.NoError(t, err)
	_, err = opened.readBlock(0)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrCorruptedBlock)
}

func TestTableDelSST(t *testing.T) {
	opt := testOptions(t.TempDir())
	tbl := buildTestSST(t, opt, 9, func(b *sstBuilder) {
		require.NoError(t, b.Add([]byte("a"), []byte("1"), 1))
	})
	path := filepath.Join(opt.WorkDir, utils.SSTName(9))

	_, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, tbl.DelSST())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
