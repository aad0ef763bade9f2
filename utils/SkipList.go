package utils

import (
	"math"
	"sync/atomic"
	"unsafe"
)

const oneLevelSize = int(unsafe.Sizeof(uint32(0)))

// FastRand() <= levelIncrease 的概率是 1/SkiplistPInverse
const levelIncrease = math.MaxUint32 / SkiplistPInverse

// skiplist的状态机：Normal -> Freezing -> Frozen
// 冻结之后writer不会再写入，只能被flush
type SkiplistStatus int32

const (
	SkiplistNormal SkiplistStatus = iota
	SkiplistFreezing
	SkiplistFrozen
)

type skiplistNode struct {
	// 高32位是size，低32位是offset
	value     uint64
	keyoffset uint32
	keysize   uint16
	height    uint16
	level     [MaxLevel]uint32
}

// SkipList 多版本跳表，node的key是 realKey+事务id后缀 的内部key
// 同一个realKey的多个版本是多个node，新版本排在旧版本前面
type SkipList struct {
	height     int32
	headOffset uint32
	ref        int32
	nodeCount  int32
	status     int32
	arena      *Arena
	onClose    func()
}

func (s *SkipList) IncrRef() {
	atomic.AddInt32(&s.ref, 1)
}

func (s *SkipList) DecrRef() {
	newRef := atomic.AddInt32(&s.ref, -1)
	if newRef > 0 {
		return
	}
	// 如果没有被引用，开始释放程序
	if s.onClose != nil {
		s.onClose()
	}
	s.arena = nil
}

func encodingValAsInfo(valOffset, valSize uint32) uint64 {
	return uint64(valSize)<<32 | uint64(valOffset)
}

func decodeValFromInfo(info uint64) (valOffset, valSize uint32) {
	valOffset = uint32(info)
	valSize = uint32(info >> 32)
	return
}

func newNode(arena *Arena, key []byte, val []byte, height int) *skiplistNode {
	nodeOffset := arena.putNode(height)
	keyOffset := arena.putKey(key)
	valOffset := arena.putVal(val)
	valInfo := encodingValAsInfo(valOffset, uint32(len(val)))

	node := arena.getNode(nodeOffset)
	node.value = valInfo
	node.keyoffset = keyOffset
	node.keysize = uint16(len(key))
	node.height = uint16(height)
	return node
}

func NewSkiplist(arenaSize int64) *SkipList {
	arena := newArena(arenaSize)
	// 头节点直接分配 MaxLevel 层的空间
	head := newNode(arena, nil, nil, MaxLevel)
	headOffset := arena.getNodeOffset(head)
	return &SkipList{
		height:     1,
		headOffset: headOffset,
		ref:        1,
		arena:      arena,
	}
}

// 在指定的Arena中，获取[]byte类型的skiplistNode key
func (n *skiplistNode) getKey(arena *Arena) []byte {
	return arena.getKey(n.keyoffset, n.keysize)
}

func (n *skiplistNode) getValueMetaData() (valOffset, valSize uint32) {
	info := atomic.LoadUint64(&n.value)
	valOffset, valSize = decodeValFromInfo(info)
	return
}

func (n *skiplistNode) setValue(valueInfo uint64) {
	atomic.StoreUint64(&n.value, valueInfo)
}

func (n *skiplistNode) getNextNodeOffset(height int) uint32 {
	return atomic.LoadUint32(&n.level[height])
}

func (n *skiplistNode) casNextNodeOffset(height int, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(&n.level[height], old, new)
}

func (n *skiplistNode) getValue(arena *Arena) []byte {
	valOffset, valSize := n.getValueMetaData()
	return arena.getVal(valOffset, valSize)
}

//go:linkname FastRand runtime.fastrand
func FastRand() uint32

func (s *SkipList) randomLevel() int {
	h := 1
	for h < MaxLevel && FastRand() <= levelIncrease {
		h++
	}
	return h
}

func (s *SkipList) getNextNode(node *skiplistNode, height int) *skiplistNode {
	return s.arena.getNode(node.getNextNodeOffset(height))
}

func (s *SkipList) getHead() *skiplistNode {
	return s.arena.getNode(s.headOffset)
}

func (s *SkipList) getHeight() int32 {
	return atomic.LoadInt32(&s.height)
}

// 按照less和allowEqual两个参数获取到一个最接近key的node
// (false,false)：	find a 最接近key的 node，node.key > key；
// (false,true)：	find a 最接近key的 node，node.key >= key；
// (true,false)：	find a 最接近key的 node，node.key < key；
// (true,true)：	find a 最接近key的 node，node.key <= key；
func (s *SkipList) findNear(key []byte, less, allowEqual bool) (*skiplistNode, bool) {
	cur := s.getHead()
	height := int(s.getHeight() - 1)
	for {
		nextNode := s.getNextNode(cur, height)
		// 当前层走到头了
		if nextNode == nil {
			if height > 0 {
				height--
				continue
			}
			// 第0层也走到头，说明skiplist中没有 >= key的node
			if !less {
				return nil, false
			}
			if cur == s.getHead() {
				return nil, false
			}
			return cur, false
		}

		nextKey := nextNode.getKey(s.arena)
		cmp := CompareKeys(key, nextKey)
		if cmp > 0 {
			// key > nextKey，同层往后找
			cur = nextNode
			continue
		}
		if cmp == 0 {
			if allowEqual {
				return nextNode, true
			}
			if !less {
				// 返回相等node的第0层的下一个node
				return s.getNextNode(nextNode, 0), false
			}
			// 要找 < key 的node，往下层找有没有更近的
			if height > 0 {
				height--
				continue
			}
			if cur == s.getHead() {
				return nil, false
			}
			return cur, false
		}
		// key < nextKey
		if height > 0 {
			height--
			continue
		}
		if !less {
			return nextNode, false
		}
		if cur == s.getHead() {
			return nil, false
		}
		return cur, false
	}
}

// 从beforeNode开始在level层找到一个适合key insert的位置，beforeKey < key < nextKey
// 返回beforeOffset 和 nextNodeOffset；两者相等表示已经存在相同的内部key
func (s *SkipList) findInsertForLevel(key []byte, beforeNodeOffset uint32, level int) (uint32, uint32) {
	for {
		beforeNode := s.arena.getNode(beforeNodeOffset)
		nextNodeOffset := beforeNode.getNextNodeOffset(level)
		nextNode := s.arena.getNode(nextNodeOffset)
		if nextNode == nil {
			return beforeNodeOffset, nextNodeOffset
		}
		nextKey := nextNode.getKey(s.arena)
		cmp := CompareKeys(key, nextKey)
		if cmp == 0 {
			return nextNodeOffset, nextNodeOffset
		}
		if cmp < 0 {
			return beforeNodeOffset, nextNodeOffset
		}
		beforeNodeOffset = nextNodeOffset
	}
}

// Insert 插入一个新版本，返回是否插入成功
// 同一个realKey可以有多个不同事务id的版本共存，MVCC依赖这一点；
// (realKey, txid)完全相同时只替换value。
// value为空表示tombstone，和普通版本一样存储。
func (s *SkipList) Insert(e *Entry) bool {
	key := KeyWithTx(e.Key, e.TxID)
	val := e.Value

	sheight := s.getHeight()
	var prevNodes [MaxLevel + 1]uint32
	var nextNodes [MaxLevel + 1]uint32
	prevNodes[sheight] = s.headOffset
	for i := int(sheight) - 1; i >= 0; i-- {
		prevNodes[i], nextNodes[i] = s.findInsertForLevel(key, prevNodes[i+1], i)
		if prevNodes[i] == nextNodes[i] {
			// 相同(realKey, txid)的node已经存在，只替换value
			valueOffset := s.arena.putVal(val)
			valueCode := encodingValAsInfo(valueOffset, uint32(len(val)))
			oldNode := s.arena.getNode(prevNodes[i])
			oldNode.setValue(valueCode)
			return true
		}
	}

	nodeLevel := s.randomLevel()
	newNode := newNode(s.arena, key, val, nodeLevel)
	sheight = s.getHeight()
	for nodeLevel > int(sheight) {
		if atomic.CompareAndSwapInt32(&s.height, sheight, int32(nodeLevel)) {
			break
		}
		sheight = s.getHeight()
	}

	// 从第0层开始插入
	for i := 0; i < nodeLevel; i++ {
		for {
			// nodeLevel可能比插入前的height大，这些层的插入信息还没有初始化
			if s.arena.getNode(prevNodes[i]) == nil {
				prevNodes[i], nextNodes[i] = s.findInsertForLevel(key, s.headOffset, i)
			}
			newNode.level[i] = nextNodes[i]
			prevNode := s.arena.getNode(prevNodes[i])
			// 原子的将prevNode的next[i]换为newNode，保证并发readers看到完整的链接
			if prevNode.casNextNodeOffset(i, nextNodes[i], s.arena.getNodeOffset(newNode)) {
				break
			}
			prevNodes[i], nextNodes[i] = s.findInsertForLevel(key, prevNodes[i], i)
			if prevNodes[i] == nextNodes[i] {
				AssertTruef(i == 0, "Equality can happen only on base level: %d", i)
				valueOffset := s.arena.putVal(val)
				valueCode := encodingValAsInfo(valueOffset, uint32(len(val)))
				oldNode := s.arena.getNode(prevNodes[i])
				oldNode.setValue(valueCode)
				return true
			}
		}
	}
	atomic.AddInt32(&s.nodeCount, 1)
	return true
}

// 定位key在readTx快照下可见的最新版本的node
// readTx == 0 表示不做MVCC过滤，返回最新版本(flush等维护路径使用)
func (s *SkipList) searchNode(key []byte, readTx uint64) *skiplistNode {
	searchTx := readTx
	if searchTx == 0 {
		searchTx = math.MaxUint64
	}
	// 目标内部key排在所有txid > searchTx的版本之后、<= searchTx的版本之前
	target := KeyWithTx(key, searchTx)
	node, _ := s.findNear(target, false, true)
	if node == nil {
		return nil
	}
	if !IsSameKey(target, node.getKey(s.arena)) {
		return nil
	}
	return node
}

// GetNode 返回key在readTx快照下可见的最新版本，tombstone也会原样返回
// 没有可见版本时返回nil
func (s *SkipList) GetNode(key []byte, readTx uint64) *Entry {
	node := s.searchNode(key, readTx)
	if node == nil {
		return nil
	}
	internalKey := node.getKey(s.arena)
	return &Entry{
		Key:   ParseKey(internalKey),
		Value: node.getValue(s.arena),
		TxID:  ParseTxID(internalKey),
	}
}

// Contain 返回key在readTx快照下可见的最新版本的value
// 该版本是tombstone 或者 没有可见版本时返回false
func (s *SkipList) Contain(key []byte, readTx uint64) ([]byte, bool) {
	node := s.searchNode(key, readTx)
	if node == nil {
		return nil, false
	}
	val := node.getValue(s.arena)
	if len(val) == 0 {
		return nil, false
	}
	return val, true
}

func (s *SkipList) findLast() *skiplistNode {
	node := s.getHead()
	level := int(s.getHeight() - 1)
	for {
		nextNode := s.getNextNode(node, level)
		if nextNode != nil {
			node = nextNode
			continue
		}
		if level == 0 {
			if node == s.getHead() {
				return nil
			}
			return node
		}
		level--
	}
}

// GetSize 返回驻留内存的估计值
func (s *SkipList) GetSize() int64 {
	return s.arena.size()
}

// NodeCount 返回node的精确数量(不含头节点)
func (s *SkipList) NodeCount() int {
	return int(atomic.LoadInt32(&s.nodeCount))
}

func (s *SkipList) Status() SkiplistStatus {
	return SkiplistStatus(atomic.LoadInt32(&s.status))
}

func (s *SkipList) SetStatus(status SkiplistStatus) {
	atomic.StoreInt32(&s.status, int32(status))
}

// GetRangeIndex 计算key所属的分桶，上层按桶划分range
func (s *SkipList) GetRangeIndex(key []byte) int {
	return int(Hash(key) % MaxRanges)
}
