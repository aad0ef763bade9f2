package lsmt

import (
	"sync"

	"github.com/keeAzlynth/LSM/utils"
)

// memTable 写入路径的内存侧：一个可写的current skiplist
// 加上一组已冻结的skiplist(最新的在前)
// current和frozen各有一把读写锁，两把都要拿时先拿current的
type memTable struct {
	opt *Options

	curLock sync.RWMutex
	current *utils.SkipList

	fixLock    sync.RWMutex
	frozen     []*utils.SkipList
	fixedBytes int64
}

// NewMemTable
func NewMemTable(opt *Options) *memTable {
	return &memTable{
		opt:     opt,
		current: utils.NewSkiplist(opt.MemTableSize),
	}
}

// Put 写入一个版本；current超过阈值后冻结它
func (mt *memTable) Put(key, value []byte, txid uint64) {
	mt.curLock.Lock()
	mt.current.Insert(&utils.Entry{Key: key, Value: value, TxID: txid})
	size := mt.current.GetSize()
	mt.curLock.Unlock()

	if size > mt.opt.MemTableSize {
		mt.FreezeCurrent()
	}
}

// PutBatch 批量写入，一次锁获取
func (mt *memTable) PutBatch(pairs []*utils.Entry, txid uint64) {
	mt.curLock.Lock()
	for _, e := range pairs {
		e.TxID = txid
		mt.current.Insert(e)
	}
	size := mt.current.GetSize()
	mt.curLock.Unlock()

	if size > mt.opt.MemTableSize {
		mt.FreezeCurrent()
	}
}

// Remove 写入tombstone
func (mt *memTable) Remove(key []byte, txid uint64) {
	mt.Put(key, nil, txid)
}

// RemoveBatch 批量删除
func (mt *memTable) RemoveBatch(keys [][]byte, txid uint64) {
	pairs := make([]*utils.Entry, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, utils.NewEntry(key, nil))
	}
	mt.PutBatch(pairs, txid)
}

// Get 读取key在readTx快照下可见的最新版本，返回的Entry里带版本事务id
// 先查current，再从新到旧查frozen；tombstone直接短路返回miss，
// 不会继续穿透到更旧的skiplist
func (mt *memTable) Get(key []byte, readTx uint64) (*utils.Entry, bool) {
	mt.curLock.RLock()
	e := mt.current.GetNode(key, readTx)
	mt.curLock.RUnlock()
	if e != nil {
		if e.IsTombstone() {
			return nil, false
		}
		return e, true
	}

	mt.fixLock.RLock()
	defer mt.fixLock.RUnlock()
	for _, sl := range mt.frozen {
		if e := sl.GetNode(key, readTx); e != nil {
			if e.IsTombstone() {
				return nil, false
			}
			return e, true
		}
	}
	return nil, false
}

// GetBatch 批量读取，结果保持输入顺序，miss的位置是nil
func (mt *memTable) GetBatch(keys [][]byte, readTx uint64) []*utils.Entry {
	res := make([]*utils.Entry, len(keys))
	for i, key := range keys {
		if e, ok := mt.Get(key, readTx); ok {
			res[i] = e
		}
	}
	return res
}

// PrefixSearch 收集所有skiplist中匹配prefix的entry，合并成一个有序去重的流
// 收集阶段全程持有两把读锁，entry拷贝出来之后合并不再依赖skiplist
func (mt *memTable) PrefixSearch(prefix []byte, readTx uint64) *memIterator {
	mt.curLock.RLock()
	mt.fixLock.RLock()

	var entries []*utils.Entry
	collect := func(sl *utils.SkipList) {
		it := sl.PrefixSearchBegin(prefix)
		defer it.Close()
		for it.Valid() {
			e := it.Item().Entry()
			if !utils.MatchPrefix(e.Key, prefix) {
				break
			}
			entries = append(entries, &utils.Entry{
				Key:   append([]byte{}, e.Key...),
				Value: append([]byte{}, e.Value...),
				TxID:  e.TxID,
			})
			it.Next()
		}
	}
	collect(mt.current)
	for _, sl := range mt.frozen {
		collect(sl)
	}

	mt.fixLock.RUnlock()
	mt.curLock.RUnlock()

	return newMemIterator(entries, readTx)
}

// Begin 返回跨{current} ∪ frozen的合并迭代器
// 什么都没有时迭代器立即处于end状态
func (mt *memTable) Begin(readTx uint64) *memIterator {
	return mt.PrefixSearch(nil, readTx)
}

// 冻结current，调用方必须同时持有两把写锁
// 冻结后这个skiplist对writer永远不可变，只能被flush
func (mt *memTable) freezeCurrentLocked() {
	if mt.current.NodeCount() == 0 {
		return
	}
	mt.current.SetStatus(utils.SkiplistFreezing)
	size := mt.current.GetSize()

	mt.frozen = append([]*utils.SkipList{mt.current}, mt.frozen...)
	mt.current.SetStatus(utils.SkiplistFrozen)
	mt.fixedBytes += size
	mt.current = utils.NewSkiplist(mt.opt.MemTableSize)
}

// FreezeCurrent 将current移到frozen的头部，换上一个新的空current
func (mt *memTable) FreezeCurrent() {
	mt.curLock.Lock()
	defer mt.curLock.Unlock()
	mt.fixLock.Lock()
	defer mt.fixLock.Unlock()
	mt.freezeCurrentLocked()
}

// Flush 冻结current，然后弹出最旧的frozen skiplist交给调用方构建sst
// 没有可弹的就返回一个空的skiplist
func (mt *memTable) Flush() *utils.SkipList {
	mt.curLock.Lock()
	defer mt.curLock.Unlock()
	mt.fixLock.Lock()
	defer mt.fixLock.Unlock()

	mt.freezeCurrentLocked()
	if len(mt.frozen) == 0 {
		return utils.NewSkiplist(mt.opt.MemTableSize)
	}
	tail := mt.frozen[len(mt.frozen)-1]
	mt.frozen = mt.frozen[:len(mt.frozen)-1]
	mt.fixedBytes -= tail.GetSize()
	return tail
}

// FlushSync 冻结current并取走全部frozen skiplist，从旧到新排列
func (mt *memTable) FlushSync() []*utils.SkipList {
	mt.curLock.Lock()
	defer mt.curLock.Unlock()
	mt.fixLock.Lock()
	defer mt.fixLock.Unlock()

	mt.freezeCurrentLocked()
	res := make([]*utils.SkipList, 0, len(mt.frozen))
	for i := len(mt.frozen) - 1; i >= 0; i-- {
		res = append(res, mt.frozen[i])
	}
	mt.frozen = mt.frozen[:0]
	mt.fixedBytes = 0
	return res
}

// IsFull current是否超过了冻结阈值
func (mt *memTable) IsFull() bool {
	mt.curLock.RLock()
	defer mt.curLock.RUnlock()
	return mt.current.GetSize() > mt.opt.MemTableSize
}

// CurSize current的大小
func (mt *memTable) CurSize() int64 {
	mt.curLock.RLock()
	defer mt.curLock.RUnlock()
	return mt.current.GetSize()
}

// FixedSize 所有frozen skiplist的大小之和
func (mt *memTable) FixedSize() int64 {
	mt.fixLock.RLock()
	defer mt.fixLock.RUnlock()
	return mt.fixedBytes
}

// TotalSize
func (mt *memTable) TotalSize() int64 {
	return mt.CurSize() + mt.FixedSize()
}

// FlushToSST 把一个frozen skiplist按key序喂给builder，产出一个sst文件
// skiplist本身不会被清空，sst落盘成功后由调用方丢弃它
func FlushToSST(sl *utils.SkipList, cache *blockCache, opt *Options, path string, sstID uint64) (*table, error) {
	builder := newSSTBuilder(opt)
	it := sl.Flush()
	defer it.Close()
	for ; it.Valid(); it.Next() {
		e := it.Item().Entry()
		if err := builder.AddEntry(e); err != nil {
			return nil, err
		}
	}
	return builder.Build(cache, path, sstID)
}
