package lsmt

import (
	"bytes"
	"encoding/binary"
	"sort"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/keeAzlynth/LSM/file"
	"github.com/keeAzlynth/LSM/utils"
)

// table 一个不可变的sst文件的读取侧
// 打开之后block索引、bloomFilter和事务id范围都在内存里，
// block数据按需经过blockCache读取
type table struct {
	sstID       uint64
	f           file.CoreFile
	cache       *blockCache
	metas       []*blockMeta
	bloom       utils.Filter
	metaOffset  uint32
	bloomOffset uint32
	minTx       uint64
	maxTx       uint64
	firstKey    []byte
	lastKey     []byte
	ref         int32
}

// OpenTable 从文件还原table
// 读取顺序：footer -> bloomFilter -> blockMeta数组 -> 首尾key
func OpenTable(sstID uint64, f file.CoreFile, cache *blockCache) (*table, error) {
	fileSize := f.Size()
	if fileSize < int64(footerSize) {
		return nil, errors.Wrapf(utils.ErrCorruptedSST, "file too small: %d", fileSize)
	}

	footer, err := f.Bytes(int(fileSize)-footerSize, footerSize)
	if err != nil {
		return nil, errors.Wrapf(err, "while reading footer: sst %d", sstID)
	}
	t := &table{
		sstID: sstID,
		f:     f,
		cache: cache,
		ref:   1,
	}
	t.metaOffset = binary.LittleEndian.Uint32(footer[0:])
	t.bloomOffset = binary.LittleEndian.Uint32(footer[4:])
	t.minTx = binary.LittleEndian.Uint64(footer[8:])
	t.maxTx = binary.LittleEndian.Uint64(footer[16:])

	if int64(t.metaOffset) > fileSize-int64(footerSize) ||
		int64(t.bloomOffset) > fileSize-int64(footerSize) ||
		t.metaOffset > t.bloomOffset {
		return nil, errors.Wrapf(utils.ErrCorruptedSST,
			"bad offsets: meta=%d bloom=%d size=%d", t.metaOffset, t.bloomOffset, fileSize)
	}

	// bloomFilter是可选的，offset区间为空表示没有启用
	bloomSize := int(fileSize) - footerSize - int(t.bloomOffset)
	if bloomSize > 0 {
		bloomBytes, err := f.Bytes(int(t.bloomOffset), bloomSize)
		if err != nil {
			return nil, errors.Wrapf(err, "while reading bloom: sst %d", sstID)
		}
		bloom, err := utils.DecodeFilter(bloomBytes)
		if err != nil {
			return nil, err
		}
		t.bloom = bloom
	}

	metaBytes, err := f.Bytes(int(t.metaOffset), int(t.bloomOffset-t.metaOffset))
	if err != nil {
		return nil, errors.Wrapf(err, "while reading block meta: sst %d", sstID)
	}
	metas, err := decodeBlockMetas(metaBytes)
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, errors.Wrapf(utils.ErrCorruptedSST, "no blocks: sst %d", sstID)
	}
	// block之间必须有序且不相交
	for i, meta := range metas {
		if bytes.Compare(meta.firstKey, meta.lastKey) > 0 {
			return nil, errors.Wrapf(utils.ErrCorruptedSST, "bad meta %d: first > last", i)
		}
		if i > 0 && bytes.Compare(metas[i-1].lastKey, meta.firstKey) > 0 {
			return nil, errors.Wrapf(utils.ErrCorruptedSST, "overlapping metas %d/%d", i-1, i)
		}
	}
	t.metas = metas
	t.firstKey = metas[0].firstKey
	t.lastKey = metas[len(metas)-1].lastKey
	return t, nil
}

func (t *table) IncrRef() {
	atomic.AddInt32(&t.ref, 1)
}

// 引用减一；引用归零只清理缓存，文件的删除由DelSST显式触发
func (t *table) DecrRef() {
	if atomic.AddInt32(&t.ref, -1) > 0 {
		return
	}
	for i := range t.metas {
		t.cache.Del(t.sstID, i)
	}
}

func (t *table) ID() uint64 {
	return t.sstID
}

func (t *table) NumBlocks() int {
	return len(t.metas)
}

func (t *table) Size() int64 {
	return t.f.Size()
}

func (t *table) FirstKey() []byte {
	return t.firstKey
}

func (t *table) LastKey() []byte {
	return t.lastKey
}

// TxRange 这个sst中所有entry的事务id范围
func (t *table) TxRange() (uint64, uint64) {
	return t.minTx, t.maxTx
}

// FindBlockIdx 定位key可能所在的block
// 非prefix模式先用bloomFilter短路；key落在两个block的间隙时返回false
func (t *table) FindBlockIdx(key []byte, isPrefix bool) (int, bool) {
	if !isPrefix && t.bloom != nil && !t.bloom.MayContainKey(key) {
		return 0, false
	}

	// 第一个lastKey >= key的block
	idx := sort.Search(len(t.metas), func(i int) bool {
		return bytes.Compare(t.metas[i].lastKey, key) >= 0
	})
	if idx >= len(t.metas) {
		return 0, false
	}
	if bytes.Compare(t.metas[idx].firstKey, key) > 0 {
		return 0, false
	}
	return idx, true
}

// readBlock 读取并解码一个block，先查cache，miss再读文件
func (t *table) readBlock(idx int) (*block, error) {
	if idx < 0 || idx >= len(t.metas) {
		return nil, errors.Wrapf(utils.ErrBlockOutOfRange, "idx=%d blocks=%d", idx, len(t.metas))
	}

	if b, ok := t.cache.Get(t.sstID, idx); ok {
		return b, nil
	}

	start := int(t.metas[idx].offset)
	var end int
	if idx+1 < len(t.metas) {
		end = int(t.metas[idx+1].offset)
	} else {
		end = int(t.metaOffset)
	}
	data, err := t.f.Bytes(start, end-start)
	if err != nil {
		return nil, errors.Wrapf(err,
			"failed to read from sstable: %d at offset: %d, len: %d", t.sstID, start, end-start)
	}

	b, err := decodeBlock(data, true)
	if err != nil {
		return nil, errors.Wrapf(err, "sst %d block %d", t.sstID, idx)
	}
	t.cache.Put(t.sstID, idx, b)
	return b, nil
}

// KeyExists 判断key是否存在于这个sst(任意版本)
func (t *table) KeyExists(key []byte) bool {
	if bytes.Compare(key, t.firstKey) < 0 || bytes.Compare(key, t.lastKey) > 0 {
		return false
	}
	idx, ok := t.FindBlockIdx(key, false)
	if !ok {
		return false
	}
	b, err := t.readBlock(idx)
	if err != nil {
		utils.Err(err)
		return false
	}
	_, _, ok = b.getOffsetBinary(key)
	return ok
}

// prefix范围和这个sst是否有交集
func (t *table) prefixOverlaps(prefix []byte) bool {
	if bytes.Compare(prefix, t.lastKey) > 0 {
		return false
	}
	if bytes.Compare(prefix, t.firstKey) < 0 && !utils.MatchPrefix(t.firstKey, prefix) {
		return false
	}
	return true
}

// GetPrefixRange 收集所有以prefix开头且快照可见的entry
// 找出区间[prefix, prefix+0xff]覆盖的所有block，逐个取它们的prefix范围拼接
func (t *table) GetPrefixRange(prefix []byte, readTx uint64) ([]*utils.Entry, error) {
	if !t.prefixOverlaps(prefix) {
		return nil, nil
	}

	sentinel := utils.PrefixSuccessor(prefix)
	// 第一个lastKey >= prefix的block
	idx := sort.Search(len(t.metas), func(i int) bool {
		return bytes.Compare(t.metas[i].lastKey, prefix) >= 0
	})

	var res []*utils.Entry
	for ; idx < len(t.metas); idx++ {
		if bytes.Compare(t.metas[idx].firstKey, sentinel) > 0 {
			break
		}
		b, err := t.readBlock(idx)
		if err != nil {
			return nil, err
		}
		res = append(res, b.getPrefixRange(prefix, readTx)...)
	}
	return res, nil
}

// Begin 返回定位到sst第一个可见entry的迭代器
func (t *table) Begin(txid uint64) *tableIterator {
	titr := &tableIterator{
		t:          t,
		snapshotTx: txid,
	}
	titr.seekToFirst()
	return titr
}

// End 返回end状态的迭代器
func (t *table) End() *tableIterator {
	titr := &tableIterator{
		t:        t,
		blockPos: len(t.metas),
	}
	return titr
}

// GetIterator 定位到key(或prefix)在快照下的下界
// 非prefix模式下bloomFilter判定不存在时直接返回end
func (t *table) GetIterator(key []byte, txid uint64, isPrefix bool) *tableIterator {
	if !isPrefix {
		if bytes.Compare(key, t.firstKey) < 0 || bytes.Compare(key, t.lastKey) > 0 {
			return t.End()
		}
		if t.bloom != nil && !t.bloom.MayContainKey(key) {
			return t.End()
		}
		titr := &tableIterator{
			t:          t,
			snapshotTx: txid,
		}
		titr.Seek(key)
		return titr
	}

	if !t.prefixOverlaps(key) {
		return t.End()
	}
	titr := &tableIterator{
		t:          t,
		snapshotTx: txid,
	}
	titr.Seek(key)
	// 下界处不匹配prefix说明范围为空
	if titr.Valid() && !utils.MatchPrefix(titr.Item().Entry().Key, key) {
		titr.Close()
		return t.End()
	}
	return titr
}

// DelSST 关闭并删除底层文件，同时清理缓存里的block
func (t *table) DelSST() error {
	for i := range t.metas {
		t.cache.Del(t.sstID, i)
	}
	return t.f.Delete()
}
