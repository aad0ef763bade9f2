package lsmt

import (
	"bytes"
	"container/heap"

	"github.com/keeAzlynth/LSM/utils"
)

// searchHeap 按(key升序, 事务id降序)排列的小顶堆
// 堆顶是最小key的最新版本
type searchHeap []*utils.Entry

func (h searchHeap) Len() int { return len(h) }

func (h searchHeap) Less(i, j int) bool {
	cmp := bytes.Compare(h[i].Key, h[j].Key)
	if cmp != 0 {
		return cmp < 0
	}
	return h[i].TxID > h[j].TxID
}

func (h searchHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *searchHeap) Push(x interface{}) {
	*h = append(*h, x.(*utils.Entry))
}

func (h *searchHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// memIterator 将K个skiplist的entry合并为单个有序流
// 产出的key严格递增，每个key最多产出一个版本(快照下可见的最新非tombstone版本)；
// 单遍前进，堆空即结束
type memIterator struct {
	h      searchHeap
	readTx uint64
	cur    *utils.Entry
}

// 快照不可见(txid > readTx)的entry在入堆时就被过滤掉
func newMemIterator(entries []*utils.Entry, readTx uint64) *memIterator {
	h := make(searchHeap, 0, len(entries))
	for _, e := range entries {
		if readTx != 0 && e.TxID > readTx {
			continue
		}
		h = append(h, e)
	}
	heap.Init(&h)
	mi := &memIterator{
		h:      h,
		readTx: readTx,
	}
	mi.advance()
	return mi
}

// advance 取出下一个key：弹出堆顶key的全部版本，
// 最新版本是tombstone就整个key跳过(在这个快照下已删除)
func (mi *memIterator) advance() {
	mi.cur = nil
	for len(mi.h) > 0 {
		top := heap.Pop(&mi.h).(*utils.Entry)
		for len(mi.h) > 0 && bytes.Equal(mi.h[0].Key, top.Key) {
			heap.Pop(&mi.h)
		}
		if top.IsTombstone() {
			continue
		}
		mi.cur = top
		return
	}
}

func (mi *memIterator) Next() {
	mi.advance()
}

func (mi *memIterator) Valid() bool {
	return mi.cur != nil
}

func (mi *memIterator) Item() utils.Item {
	return mi.cur
}

// Rewind 单遍迭代器不支持回退，保留接口
func (mi *memIterator) Rewind() {
}

// Seek 前进到第一个key >= 目标的位置
func (mi *memIterator) Seek(key []byte) {
	for mi.Valid() && bytes.Compare(mi.cur.Key, key) < 0 {
		mi.advance()
	}
}

func (mi *memIterator) Close() error {
	mi.h = nil
	mi.cur = nil
	return nil
}
