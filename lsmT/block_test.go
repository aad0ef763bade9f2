package lsmt

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keeAzlynth/LSM/utils"
)

func TestBlockAddEntryCapacity(t *testing.T) {
	b := newBlock(64)

	// 小entry可以放入
	assert.True(t, b.addEntry([]byte("k1"), []byte("v1"), 1, false))

	// 会越界且block非空，拒绝写入
	bigVal := make([]byte, 50)
	assert.False(t, b.addEntry([]byte("k2"), bigVal, 2, false))
	assert.Equal(t, 1, b.entryCount())

	// forceWrite可以强行写入
	assert.True(t, b.addEntry([]byte("k2"), bigVal, 2, true))
	assert.Equal(t, 2, b.entryCount())

	// 两个entry都能round-trip回来
	decoded, err := decodeBlock(b.encode(true), true)
	require.NoError(t, err)
	require.Equal(t, 2, decoded.entryCount())
	e := decoded.getEntry(0)
	assert.Equal(t, []byte("k1"), e.Key)
	assert.Equal(t, []byte("v1"), e.Value)
	assert.Equal(t, uint64(1), e.TxID)
	e = decoded.getEntry(1)
	assert.Equal(t, []byte("k2"), e.Key)
	assert.Equal(t, bigVal, e.Value)
	assert.Equal(t, uint64(2), e.TxID)
}

// 空block上单个超大entry也要能写入，保证推进
func TestBlockOversizeEntryOnEmpty(t *testing.T) {
	b := newBlock(16)
	assert.True(t, b.addEntry([]byte("key"), make([]byte, 100), 1, false))
}

func TestBlockEncodeDecodeRoundTrip(t *testing.T) {
	b := newBlock(utils.BlockSize)
	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key_%04d", i))
		val := []byte(fmt.Sprintf("val_%04d", i))
		require.True(t, b.addEntry(key, val, uint64(i+1), false))
	}

	for _, withHash := range []bool{true, false} {
		decoded, err := decodeBlock(b.encode(withHash), withHash)
		require.NoError(t, err)
		require.Equal(t, b.entryCount(), decoded.entryCount())
		assert.Equal(t, b.data, decoded.data)
		assert.Equal(t, b.offsets, decoded.offsets)
	}
}

func TestBlockDecodeCorrupted(t *testing.T) {
	b := newBlock(utils.BlockSize)
	b.addEntry([]byte("k"), []byte("v"), 1, false)
	encoded := b.encode(true)

	// 翻转一个字节，checksum校验必须失败
	encoded[0] ^= 0xff
	_, err := decodeBlock(encoded, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrCorruptedBlock)

	// 长度不足以容纳footer
	_, err = decodeBlock([]byte{0x01}, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrCorruptedBlock)
}

func TestBlockFirstAndLastKey(t *testing.T) {
	b := newBlock(utils.BlockSize)
	assert.Nil(t, b.getFirstKey())

	b.addEntry([]byte("aaa"), []byte("1"), 1, false)
	b.addEntry([]byte("bbb"), []byte("2"), 1, false)
	b.addEntry([]byte("ccc"), []byte("3"), 1, false)

	first, last := b.getFirstAndLastKey()
	assert.Equal(t, []byte("aaa"), first)
	assert.Equal(t, []byte("ccc"), last)
}

func TestBlockGetOffsetBinary(t *testing.T) {
	b := newBlock(utils.BlockSize)
	for i := 0; i < 20; i += 2 {
		key := []byte(fmt.Sprintf("key_%02d", i))
		b.addEntry(key, []byte("v"), 1, false)
	}

	offset, idx, ok := b.getOffsetBinary([]byte("key_08"))
	require.True(t, ok)
	assert.Equal(t, []byte("key_08"), b.getKey(offset))
	assert.Equal(t, 4, idx)

	// 不存在的key
	_, _, ok = b.getOffsetBinary([]byte("key_09"))
	assert.False(t, ok)
	_, _, ok = b.getOffsetBinary([]byte("zzz"))
	assert.False(t, ok)

	// 空block
	empty := newBlock(utils.BlockSize)
	_, _, ok = empty.getOffsetBinary([]byte("key_08"))
	assert.False(t, ok)
}

// 同key多版本时二分返回其中一个，调用方扫描邻居
func TestBlockBinarySearchDuplicateKeys(t *testing.T) {
	b := newBlock(utils.BlockSize)
	b.addEntry([]byte("a"), []byte("1"), 1, false)
	// 版本按跳表dump的顺序：新版本在前
	b.addEntry([]byte("b"), []byte("v3"), 3, false)
	b.addEntry([]byte("b"), []byte("v2"), 2, false)
	b.addEntry([]byte("b"), []byte("v1"), 1, false)
	b.addEntry([]byte("c"), []byte("1"), 1, false)

	_, idx, ok := b.getOffsetBinary([]byte("b"))
	require.True(t, ok)
	assert.Equal(t, []byte("b"), b.keyAt(idx))
}

func TestBlockPrefixSearch(t *testing.T) {
	b := newBlock(utils.BlockSize)
	for _, k := range []string{"app", "apple", "apply", "apricot", "banana"} {
		b.addEntry([]byte(k), []byte("v"), 5, false)
	}

	begin, ok := b.getPrefixBeginOffsetBinary([]byte("app"))
	require.True(t, ok)
	assert.Equal(t, 0, begin)
	end := b.getPrefixEndOffsetBinary([]byte("app"))
	assert.Equal(t, 3, end)

	_, ok = b.getPrefixBeginOffsetBinary([]byte("xyz"))
	assert.False(t, ok)

	entries := b.getPrefixRange([]byte("ap"), 10)
	require.Len(t, entries, 4)
	assert.Equal(t, []byte("app"), entries[0].Key)
	assert.Equal(t, []byte("apricot"), entries[3].Key)

	// 快照过滤：txid 5 > 3，全部不可见
	entries = b.getPrefixRange([]byte("ap"), 3)
	assert.Empty(t, entries)

	// readTx == 0 不过滤
	entries = b.getPrefixRange([]byte("ap"), 0)
	assert.Len(t, entries, 4)
}

func TestBlockIteratorMVCCSkip(t *testing.T) {
	b := newBlock(utils.BlockSize)
	b.addEntry([]byte("a"), []byte("a2"), 20, false)
	b.addEntry([]byte("a"), []byte("a1"), 10, false)
	b.addEntry([]byte("b"), []byte("b2"), 30, false)
	b.addEntry([]byte("b"), []byte("b1"), 10, false)

	// 快照15：txid 20和30的版本被跳过
	var got []string
	for it := newBlockIterator(b, 0, 15); !it.IsEnd(); it.Next() {
		e := it.Item().Entry()
		got = append(got, fmt.Sprintf("%s=%s", e.Key, e.Value))
	}
	assert.Equal(t, []string{"a=a1", "b=b1"}, got)

	// 空block的迭代器立即end
	empty := newBlock(utils.BlockSize)
	assert.True(t, empty.begin().IsEnd())
}

func TestBlockIteratorSeek(t *testing.T) {
	b := newBlock(utils.BlockSize)
	for i := 0; i < 10; i += 2 {
		b.addEntry([]byte(fmt.Sprintf("key_%02d", i)), []byte("v"), 1, false)
	}

	it := b.getIterator([]byte("key_03"), 10)
	require.True(t, it.Valid())
	assert.Equal(t, []byte("key_04"), it.Item().Entry().Key)

	it.Seek([]byte("zzz"))
	assert.True(t, it.IsEnd())
}
