package lsmt

import (
	"bytes"
	"sort"

	"github.com/keeAzlynth/LSM/utils"
)

// blockIterator 在单个block内前进的游标
// 持有读者的快照事务id，前进时跳过txid > snapshotTx的entry(快照不可见)
// snapshotTx == 0 表示不做MVCC过滤
type blockIterator struct {
	block      *block
	idx        int
	snapshotTx uint64
}

// 定位到idx再跳过不可见的entry
func newBlockIterator(b *block, idx int, snapshotTx uint64) *blockIterator {
	bitr := &blockIterator{
		block:      b,
		idx:        idx,
		snapshotTx: snapshotTx,
	}
	bitr.skipByTxID()
	return bitr
}

// 直接定位到idx，不做快照跳过；用于表示开区间的end边界
func newBlockIteratorRaw(b *block, idx int, snapshotTx uint64) *blockIterator {
	return &blockIterator{
		block:      b,
		idx:        idx,
		snapshotTx: snapshotTx,
	}
}

// 定位到key的下界(第一个key >= 目标的entry)再跳过不可见的
func newBlockIteratorAtKey(b *block, key []byte, snapshotTx uint64) *blockIterator {
	return newBlockIterator(b, b.lowerBound(key), snapshotTx)
}

// 定位到第一个匹配prefix且快照可见的entry，没有时处于end状态
func newBlockIteratorAtPrefix(b *block, prefix []byte, snapshotTx uint64) *blockIterator {
	idx, ok := b.getPrefixBeginOffsetBinary(prefix)
	if !ok {
		return newBlockIteratorRaw(b, b.entryCount(), snapshotTx)
	}
	return newBlockIterator(b, idx, snapshotTx)
}

// 跳过快照不可见的entry
func (bitr *blockIterator) skipByTxID() {
	if bitr.snapshotTx == 0 {
		return
	}
	for bitr.idx < bitr.block.entryCount() && bitr.block.getTxID(int(bitr.block.offsets[bitr.idx])) > bitr.snapshotTx {
		bitr.idx++
	}
}

// 前进一个entry再跳过不可见的
func (bitr *blockIterator) Next() {
	if bitr.IsEnd() {
		return
	}
	bitr.idx++
	bitr.skipByTxID()
}

func (bitr *blockIterator) IsEnd() bool {
	return bitr.idx >= bitr.block.entryCount()
}

func (bitr *blockIterator) Valid() bool {
	return !bitr.IsEnd()
}

// 当前entry
func (bitr *blockIterator) Item() utils.Item {
	return bitr.block.getEntry(bitr.idx)
}

func (bitr *blockIterator) Rewind() {
	bitr.idx = 0
	bitr.skipByTxID()
}

// Seek 定位到key的下界
func (bitr *blockIterator) Seek(key []byte) {
	bitr.idx = bitr.block.lowerBound(key)
	bitr.skipByTxID()
}

func (bitr *blockIterator) Index() int {
	return bitr.idx
}

func (bitr *blockIterator) SnapshotTx() uint64 {
	return bitr.snapshotTx
}

func (bitr *blockIterator) Close() error {
	return nil
}

// 按(block身份, index, snapshot)判等
func (bitr *blockIterator) SameAs(other *blockIterator) bool {
	return bitr.block == other.block &&
		bitr.idx == other.idx &&
		bitr.snapshotTx == other.snapshotTx
}

// tableIterator 跨越一个sst的所有block的前进游标
// end是一个独立状态(bitr == nil)；读block失败时进入end并记录err
type tableIterator struct {
	t          *table
	blockPos   int
	bitr       *blockIterator
	snapshotTx uint64
	err        error
}

// 跳转到整个sst的第一个可见entry
func (titr *tableIterator) seekToFirst() {
	if titr.t.NumBlocks() == 0 {
		titr.setEnd()
		return
	}
	titr.blockPos = 0
	b, err := titr.t.readBlock(titr.blockPos)
	if err != nil {
		titr.fail(err)
		return
	}
	titr.bitr = newBlockIterator(b, 0, titr.snapshotTx)
	// 这个block的entry可能全部不可见，继续向后找
	titr.skipExhaustedBlocks()
}

// 进入end状态
func (titr *tableIterator) setEnd() {
	titr.blockPos = titr.t.NumBlocks()
	titr.bitr = nil
}

// 读取失败：迭代器进入end状态并向消费者暴露err
func (titr *tableIterator) fail(err error) {
	titr.err = err
	titr.setEnd()
}

// 当前block耗尽时跳到后续block的开头
func (titr *tableIterator) skipExhaustedBlocks() {
	for titr.bitr != nil && titr.bitr.IsEnd() {
		titr.blockPos++
		if titr.blockPos >= titr.t.NumBlocks() {
			titr.setEnd()
			return
		}
		b, err := titr.t.readBlock(titr.blockPos)
		if err != nil {
			titr.fail(err)
			return
		}
		titr.bitr = newBlockIterator(b, 0, titr.snapshotTx)
	}
}

// Next 前进block内的游标；当前block耗尽就读下一个block
func (titr *tableIterator) Next() {
	if titr.bitr == nil {
		return
	}
	titr.bitr.Next()
	titr.skipExhaustedBlocks()
}

func (titr *tableIterator) IsEnd() bool {
	return titr.bitr == nil
}

func (titr *tableIterator) Valid() bool {
	return titr.bitr != nil && titr.err == nil
}

// Rewind 回到sst开头
func (titr *tableIterator) Rewind() {
	titr.err = nil
	titr.seekToFirst()
}

// Item 当前entry，Entry中带有txid
func (titr *tableIterator) Item() utils.Item {
	return titr.bitr.Item()
}

// KeyValueTx 当前entry的三元组形式
func (titr *tableIterator) KeyValueTx() ([]byte, []byte, uint64) {
	e := titr.bitr.Item().Entry()
	return e.Key, e.Value, e.TxID
}

// Seek 定位到key在快照下的下界
func (titr *tableIterator) Seek(key []byte) {
	titr.err = nil
	// 第一个lastKey >= key的block
	idx := sort.Search(titr.t.NumBlocks(), func(i int) bool {
		return bytes.Compare(titr.t.metas[i].lastKey, key) >= 0
	})
	if idx >= titr.t.NumBlocks() {
		titr.setEnd()
		return
	}
	b, err := titr.t.readBlock(idx)
	if err != nil {
		titr.fail(err)
		return
	}
	titr.blockPos = idx
	titr.bitr = newBlockIteratorAtKey(b, key, titr.snapshotTx)
	// 下界可能落在后面的block里
	titr.skipExhaustedBlocks()
}

func (titr *tableIterator) Error() error {
	return titr.err
}

func (titr *tableIterator) SnapshotTx() uint64 {
	return titr.snapshotTx
}

func (titr *tableIterator) BlockPos() int {
	return titr.blockPos
}

// Close 释放迭代器；table的生命周期由上层的引用计数管理
func (titr *tableIterator) Close() error {
	titr.bitr = nil
	return nil
}

// 判断两个迭代器是否处于同一个位置
func (titr *tableIterator) SameAs(other *tableIterator) bool {
	if titr.t != other.t {
		return false
	}
	if titr.IsEnd() || other.IsEnd() {
		return titr.IsEnd() && other.IsEnd()
	}
	return titr.blockPos == other.blockPos && titr.bitr.idx == other.bitr.idx
}

// 判断迭代器是否位于other之前，end排在一切位置之后
// 消费范围时用 begin.Valid() && begin.Before(end) 作为循环条件
func (titr *tableIterator) Before(other *tableIterator) bool {
	if titr.IsEnd() {
		return false
	}
	if other.IsEnd() {
		return true
	}
	if titr.blockPos != other.blockPos {
		return titr.blockPos < other.blockPos
	}
	return titr.bitr.idx < other.bitr.idx
}

// IteratorsByMonotonyPredicate 单个sst上通用的范围扫描原语
// predicate在key序上单调：负数表示key太小，0表示在范围内，正数表示key太大
// 返回圈定"在范围内"区域的迭代器对(end为开区间边界)；范围为空或读block失败时ok为false，
// 读block失败时返回的迭代器Error()非nil
func IteratorsByMonotonyPredicate(t *table, txid uint64, predicate func([]byte) int) (*tableIterator, *tableIterator, bool) {
	numBlocks := t.NumBlocks()

	// begin：第一个可能包含predicate==0的block
	beginBlock := sort.Search(numBlocks, func(i int) bool {
		return predicate(t.metas[i].lastKey) >= 0
	})
	if beginBlock >= numBlocks {
		return t.End(), t.End(), false
	}
	b, err := t.readBlock(beginBlock)
	if err != nil {
		// 读block失败：返回带err的end迭代器，消费者通过Error()拿到错误
		end := t.End()
		end.err = err
		return end, end, false
	}
	beginIdx := sort.Search(b.entryCount(), func(i int) bool {
		return predicate(b.keyAt(i)) >= 0
	})
	if beginIdx >= b.entryCount() || predicate(b.keyAt(beginIdx)) != 0 {
		// 第一个 >= 0 的key已经越过了范围
		return t.End(), t.End(), false
	}
	begin := &tableIterator{
		t:          t,
		blockPos:   beginBlock,
		bitr:       newBlockIterator(b, beginIdx, txid),
		snapshotTx: txid,
	}
	begin.skipExhaustedBlocks()

	// end：第一个predicate > 0的entry
	endBlock := sort.Search(numBlocks, func(i int) bool {
		return predicate(t.metas[i].lastKey) > 0
	})
	if endBlock >= numBlocks {
		return begin, t.End(), true
	}
	eb, err := t.readBlock(endBlock)
	if err != nil {
		utils.Err(err)
		return begin, t.End(), true
	}
	endIdx := sort.Search(eb.entryCount(), func(i int) bool {
		return predicate(eb.keyAt(i)) > 0
	})
	end := &tableIterator{
		t:          t,
		blockPos:   endBlock,
		bitr:       newBlockIteratorRaw(eb, endIdx, txid),
		snapshotTx: txid,
	}
	return begin, end, true
}
