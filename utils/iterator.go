package utils

// 迭代器
type Iterator interface {
	Next()
	Valid() bool
	Rewind()
	Item() Item
	Close() error
	Seek(key []byte)
}

type Item interface {
	Entry() *Entry
}

// SkipListIterator 按第0层的顺序(realKey升序、同key事务id降序)遍历所有版本
type SkipListIterator struct {
	skiplist *SkipList
	node     *skiplistNode
}

// 创建一个新的迭代器
func (s *SkipList) NewSkiplistIterator() *SkipListIterator {
	s.IncrRef()
	return &SkipListIterator{skiplist: s}
}

// Flush 返回一个已经定位到第一个node的迭代器
// 跳表本身不会被清空，memtable会在sst落盘后丢弃整个skiplist
func (s *SkipList) Flush() *SkipListIterator {
	it := s.NewSkiplistIterator()
	it.SeekToFirst()
	return it
}

// PrefixSearchBegin 返回定位到第一个key >= prefix的node的迭代器
// node是否真的匹配prefix由调用方检查(范围可能为空)
func (s *SkipList) PrefixSearchBegin(prefix []byte) *SkipListIterator {
	s.IncrRef()
	node, _ := s.findNear(KeyWithTx(prefix, maxTxID), false, true)
	return &SkipListIterator{skiplist: s, node: node}
}

// PrefixSearchEnd 返回prefix范围的结束位置(开区间)
// 通过搜索哨兵key prefix+0xff 得到第一个不匹配prefix的node，范围到尾时node为nil
func (s *SkipList) PrefixSearchEnd(prefix []byte) *SkipListIterator {
	s.IncrRef()
	node, _ := s.findNear(KeyWithTx(PrefixSuccessor(prefix), maxTxID), false, true)
	return &SkipListIterator{skiplist: s, node: node}
}

// 返回迭代器当前node的内部key(带事务id后缀)
func (si *SkipListIterator) Key() []byte {
	return si.skiplist.arena.getKey(si.node.keyoffset, si.node.keysize)
}

// 返回迭代器当前node的value
func (si *SkipListIterator) Value() []byte {
	return si.node.getValue(si.skiplist.arena)
}

// 返回迭代器当前node的事务id
func (si *SkipListIterator) TxID() uint64 {
	return ParseTxID(si.Key())
}

// 跳转到第一个node
func (si *SkipListIterator) SeekToFirst() {
	si.node = si.skiplist.getNextNode(si.skiplist.getHead(), 0)
}

// 跳转到最后一个node
func (si *SkipListIterator) SeekToLast() {
	si.node = si.skiplist.findLast()
}

// 关闭迭代器
func (si *SkipListIterator) Close() error {
	si.skiplist.DecrRef()
	return nil
}

func (si *SkipListIterator) Next() {
	AssertTrue(si.Valid())
	si.node = si.skiplist.getNextNode(si.node, 0)
}

// 判断是否还有效
func (si *SkipListIterator) Valid() bool {
	return si.node != nil
}

// 从头开始
func (si *SkipListIterator) Rewind() {
	si.SeekToFirst()
}

// 判断两个迭代器是否指向同一个node，用于和PrefixSearchEnd作比较
func (si *SkipListIterator) SameAs(other *SkipListIterator) bool {
	return si.node == other.node
}

// 返回当前的项，key是去掉事务id后缀的realKey
func (si *SkipListIterator) Item() Item {
	internalKey := si.Key()
	return &Entry{
		Key:   ParseKey(internalKey),
		Value: si.Value(),
		TxID:  ParseTxID(internalKey),
	}
}

// 找到一个最接近key，且node.key >= key 的node；key是内部key
func (si *SkipListIterator) Seek(key []byte) {
	si.node, _ = si.skiplist.findNear(key, false, true)
}
