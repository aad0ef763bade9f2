package lsmt

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keeAzlynth/LSM/utils"
)

func testOptions(dir string) *Options {
	opt := NewDefaultOptions(dir)
	opt.BlockSize = 256
	return opt
}

func buildTestSST(t *testing.T, opt *Options, sstID uint64, fill func(*sstBuilder)) *table {
	t.Helper()
	builder := newSSTBuilder(opt)
	fill(builder)
	cache := newBlockCache(opt.CacheSize)
	tbl, err := builder.Build(cache, filepath.Join(opt.WorkDir, utils.SSTName(sstID)), sstID)
	require.NoError(t, err)
	return tbl
}

func TestBuilderEmptySST(t *testing.T) {
	opt := testOptions(t.TempDir())
	builder := newSSTBuilder(opt)
	_, err := builder.Build(newBlockCache(16), filepath.Join(opt.WorkDir, "1.sst"), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrEmptySST)
}

// block之间有序且不相交：meta[i].lastKey <= meta[i+1].firstKey
func TestBuilderOrderedBlocks(t *testing.T) {
	opt := testOptions(t.TempDir())
	tbl := buildTestSST(t, opt, 1, func(b *sstBuilder) {
		for i := 0; i < 200; i++ {
			key := []byte(fmt.Sprintf("key_%04d", i))
			require.NoError(t, b.Add(key, []byte("value"), 1000))
		}
	})
	defer tbl.DelSST()

	require.Greater(t, tbl.NumBlocks(), 1)
	for i := 0; i+1 < tbl.NumBlocks(); i++ {
		assert.LessOrEqual(t,
			bytes.Compare(tbl.metas[i].lastKey, tbl.metas[i+1].firstKey), 0)
	}
	assert.Equal(t, tbl.metas[0].firstKey, tbl.FirstKey())
	assert.Equal(t, tbl.metas[tbl.NumBlocks()-1].lastKey, tbl.LastKey())
}

// 同一个key的多个版本连续写入时被强制留在同一个block里
func TestBuilderForceWriteGroupsVersions(t *testing.T) {
	opt := testOptions(t.TempDir())
	tbl := buildTestSST(t, opt, 1, func(b *sstBuilder) {
		// 先把block填到接近满
		for i := 0; i < 6; i++ {
			require.NoError(t, b.Add([]byte(fmt.Sprintf("a_%02d", i)), make([]byte, 16), 10))
		}
		// 同一个key的一串版本
		for tx := uint64(20); tx > 14; tx-- {
			require.NoError(t, b.Add([]byte("b_same"), make([]byte, 16), tx))
		}
	})
	defer tbl.DelSST()

	// 所有b_same的版本必须在同一个block里
	holder := -1
	for i := 0; i < tbl.NumBlocks(); i++ {
		blk, err := tbl.readBlock(i)
		require.NoError(t, err)
		for j := 0; j < blk.entryCount(); j++ {
			if bytes.Equal(blk.keyAt(j), []byte("b_same")) {
				if holder == -1 {
					holder = i
				}
				assert.Equal(t, holder, i)
			}
		}
	}
	require.NotEqual(t, -1, holder)
}

func TestBuilderTxRange(t *testing.T) {
	opt := testOptions(t.TempDir())
	tbl := buildTestSST(t, opt, 1, func(b *sstBuilder) {
		require.NoError(t, b.Add([]byte("a"), []byte("1"), 42))
		require.NoError(t, b.Add([]byte("b"), []byte("2"), 7))
		require.NoError(t, b.Add([]byte("c"), []byte("3"), 99))
	})
	defer tbl.DelSST()

	minTx, maxTx := tbl.TxRange()
	assert.Equal(t, uint64(7), minTx)
	assert.Equal(t, uint64(99), maxTx)
}

func TestBuilderEntryTooLarge(t *testing.T) {
	opt := testOptions(t.TempDir())
	builder := newSSTBuilder(opt)
	err := builder.Add([]byte("key"), make([]byte, 1<<17), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrEntryTooLarge)
}

func TestBlockMetaRoundTrip(t *testing.T) {
	metas := []*blockMeta{
		{offset: 0, firstKey: []byte("a"), lastKey: []byte("f")},
		{offset: 300, firstKey: []byte("g"), lastKey: []byte("m")},
		{offset: 777, firstKey: []byte("n"), lastKey: []byte("z")},
	}
	decoded, err := decodeBlockMetas(encodeBlockMetas(metas))
	require.NoError(t, err)
	require.Len(t, decoded, len(metas))
	for i := range metas {
		assert.Equal(t, metas[i].offset, decoded[i].offset)
		assert.Equal(t, metas[i].firstKey, decoded[i].firstKey)
		assert.Equal(t, metas[i].lastKey, decoded[i].lastKey)
	}

	_, err = decodeBlockMetas([]byte{0x01})
	assert.Error(t, err)
}

// build产出的table不需要再读文件就能服务读取，和重新open的结果一致
func TestBuildThenOpenConsistent(t *testing.T) {
	opt := testOptions(t.TempDir())
	tbl := buildTestSST(t, opt, 3, func(b *sstBuilder) {
		for i := 0; i < 100; i++ {
			require.NoError(t, b.Add([]byte(fmt.Sprintf("key_%04d", i)), []byte(fmt.Sprintf("v%d", i)), uint64(i+1)))
		}
	})
	defer tbl.DelSST()

	f, err := openTestFile(t, opt, 3)
	require.NoError(t, err)
	reopened, err := OpenTable(3, f, newBlockCache(16))
	require.NoError(t, err)

	assert.Equal(t, tbl.FirstKey(), reopened.FirstKey())
	assert.Equal(t, tbl.LastKey(), reopened.LastKey())
	assert.Equal(t, tbl.NumBlocks(), reopened.NumBlocks())
	min1, max1 := tbl.TxRange()
	min2, max2 := reopened.TxRange()
	assert.Equal(t, min1, min2)
	assert.Equal(t, max1, max2)

	assert.True(t, reopened.KeyExists([]byte("key_0050")))
	assert.False(t, reopened.KeyExists([]byte("key_9999")))
}
