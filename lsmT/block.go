package lsmt

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/keeAzlynth/LSM/utils"
)

/*
	block内单个entry的布局：前 ---> 后
	+-----------------------------------------------------------------+
	| key_len:u16 | key | value_len:u16 | value | txid:u64            |
	+-----------------------------------------------------------------+
	都是小端编码；value_len == 0 表示tombstone

	block编码后的布局：
	+-----------------------------------------------------------------+
	| data | offsets(count × u16) | count:u16 | [checksum:u32]        |
	+-----------------------------------------------------------------+
	checksum覆盖它之前的所有字节
*/

// block 容量固定的entry缓冲，entry按key升序排列，同key的多个版本相邻
type block struct {
	data     []byte
	offsets  []uint16
	capacity int
}

func newBlock(capacity int) *block {
	return &block{
		capacity: capacity,
	}
}

func (b *block) isEmpty() bool {
	return len(b.offsets) == 0
}

func (b *block) entryCount() int {
	return len(b.offsets)
}

// 当前逻辑大小：data + offsets + count字段
func (b *block) curSize() int {
	return len(b.data) + len(b.offsets)*utils.U16Size + utils.U16Size
}

// addEntry 追加一个entry，放不下时返回false且不修改任何状态
// block为空 或者 forceWrite 时越界也会写入，保证单个超大entry也能推进
func (b *block) addEntry(key, value []byte, txid uint64, forceWrite bool) bool {
	// key和value的长度都要能用u16表示
	if len(key) > math.MaxUint16 || len(value) > math.MaxUint16 {
		return false
	}
	need := len(key) + len(value) + 3*utils.U16Size + utils.U64Size
	if !forceWrite && b.curSize()+need > b.capacity && !b.isEmpty() {
		return false
	}

	offset := len(b.data)
	var scratch [8]byte
	binary.LittleEndian.PutUint16(scratch[:2], uint16(len(key)))
	b.data = append(b.data, scratch[:2]...)
	b.data = append(b.data, key...)
	binary.LittleEndian.PutUint16(scratch[:2], uint16(len(value)))
	b.data = append(b.data, scratch[:2]...)
	b.data = append(b.data, value...)
	binary.LittleEndian.PutUint64(scratch[:], txid)
	b.data = append(b.data, scratch[:]...)

	b.offsets = append(b.offsets, uint16(offset))
	return true
}

// 以下按offset读取entry的各个字段

func (b *block) getKey(offset int) []byte {
	keyLen := int(binary.LittleEndian.Uint16(b.data[offset:]))
	keyStart := offset + utils.U16Size
	return b.data[keyStart : keyStart+keyLen]
}

func (b *block) getValue(offset int) []byte {
	keyLen := int(binary.LittleEndian.Uint16(b.data[offset:]))
	pos := offset + utils.U16Size + keyLen
	valLen := int(binary.LittleEndian.Uint16(b.data[pos:]))
	valStart := pos + utils.U16Size
	return b.data[valStart : valStart+valLen]
}

func (b *block) getTxID(offset int) uint64 {
	keyLen := int(binary.LittleEndian.Uint16(b.data[offset:]))
	pos := offset + utils.U16Size + keyLen
	valLen := int(binary.LittleEndian.Uint16(b.data[pos:]))
	return binary.LittleEndian.Uint64(b.data[pos+utils.U16Size+valLen:])
}

// 按在offsets中的index读取key
func (b *block) keyAt(idx int) []byte {
	return b.getKey(int(b.offsets[idx]))
}

// 按在offsets中的index取出完整entry
func (b *block) getEntry(idx int) *utils.Entry {
	offset := int(b.offsets[idx])
	return &utils.Entry{
		Key:   b.getKey(offset),
		Value: b.getValue(offset),
		TxID:  b.getTxID(offset),
	}
}

// 获取block的第一个key
func (b *block) getFirstKey() []byte {
	if b.isEmpty() {
		return nil
	}
	return b.keyAt(0)
}

// 获取block的第一个和最后一个key
func (b *block) getFirstAndLastKey() ([]byte, []byte) {
	if b.isEmpty() {
		return nil, nil
	}
	return b.keyAt(0), b.keyAt(len(b.offsets) - 1)
}

// encode 编码为可以落盘的[]byte
func (b *block) encode(withHash bool) []byte {
	total := len(b.data) + len(b.offsets)*utils.U16Size + utils.U16Size
	if withHash {
		total += utils.U32Size
	}
	encoded := make([]byte, total)

	pos := copy(encoded, b.data)
	for _, offset := range b.offsets {
		binary.LittleEndian.PutUint16(encoded[pos:], offset)
		pos += utils.U16Size
	}
	binary.LittleEndian.PutUint16(encoded[pos:], uint16(len(b.offsets)))
	pos += utils.U16Size

	if withHash {
		// checksum覆盖前面的所有字节
		checksum := utils.CalculateChecksum(encoded[:pos])
		binary.LittleEndian.PutUint32(encoded[pos:], checksum)
	}
	return encoded
}

// decodeBlock 还原encode的结果，withHash时校验checksum
func decodeBlock(encoded []byte, withHash bool) (*block, error) {
	footer := utils.U16Size
	if withHash {
		footer += utils.U32Size
	}
	if len(encoded) < footer {
		return nil, errors.Wrapf(utils.ErrCorruptedBlock, "encoded data too small: %d", len(encoded))
	}

	countPos := len(encoded) - utils.U16Size
	if withHash {
		hashPos := len(encoded) - utils.U32Size
		countPos -= utils.U32Size
		checksum := binary.LittleEndian.Uint32(encoded[hashPos:])
		if !utils.VerifyChecksum(encoded[:hashPos], checksum) {
			return nil, errors.Wrap(utils.ErrCorruptedBlock, "block checksum mismatch")
		}
	}

	count := int(binary.LittleEndian.Uint16(encoded[countPos:]))
	offsetsStart := countPos - count*utils.U16Size
	if offsetsStart < 0 {
		return nil, errors.Wrapf(utils.ErrCorruptedBlock, "offsets out of range: count=%d", count)
	}

	b := &block{
		capacity: utils.BlockSize,
		offsets:  make([]uint16, count),
	}
	for i := 0; i < count; i++ {
		b.offsets[i] = binary.LittleEndian.Uint16(encoded[offsetsStart+i*utils.U16Size:])
	}
	b.data = append(b.data, encoded[:offsetsStart]...)
	return b, nil
}

// 第一个key >= target的index，没有时返回entryCount
func (b *block) lowerBound(target []byte) int {
	return sort.Search(len(b.offsets), func(i int) bool {
		return bytes.Compare(b.keyAt(i), target) >= 0
	})
}

// getOffsetBinary 二分查找key的精确匹配，返回(offset, index)
// 同key多版本时返回其中任意一个，调用方自己向两侧扫描想要的版本
func (b *block) getOffsetBinary(key []byte) (int, int, bool) {
	idx := b.lowerBound(key)
	if idx >= len(b.offsets) || !bytes.Equal(b.keyAt(idx), key) {
		return 0, 0, false
	}
	return int(b.offsets[idx]), idx, true
}

// getPrefixBeginOffsetBinary 第一个以prefix开头的entry的index
func (b *block) getPrefixBeginOffsetBinary(prefix []byte) (int, bool) {
	idx := b.lowerBound(prefix)
	if idx >= len(b.offsets) || !utils.MatchPrefix(b.keyAt(idx), prefix) {
		return 0, false
	}
	return idx, true
}

// getPrefixEndOffsetBinary prefix范围的结束index(开区间)
// 等价于二分查找哨兵key prefix+0xff
func (b *block) getPrefixEndOffsetBinary(prefix []byte) int {
	return b.lowerBound(utils.PrefixSuccessor(prefix))
}

// getPrefixRange 扫描[begin, end)，过滤掉快照不可见的entry
// readTx == 0 表示不做MVCC过滤
func (b *block) getPrefixRange(prefix []byte, readTx uint64) []*utils.Entry {
	begin, ok := b.getPrefixBeginOffsetBinary(prefix)
	if !ok {
		return nil
	}
	end := b.getPrefixEndOffsetBinary(prefix)

	var res []*utils.Entry
	for idx := begin; idx < end; idx++ {
		e := b.getEntry(idx)
		if readTx != 0 && e.TxID > readTx {
			continue
		}
		res = append(res, e)
	}
	return res
}

// 迭代器构造

// begin 返回定位到第一个entry的迭代器，不做快照过滤
func (b *block) begin() *blockIterator {
	return newBlockIterator(b, 0, 0)
}

// end 返回end状态的迭代器
func (b *block) end() *blockIterator {
	return newBlockIteratorRaw(b, len(b.offsets), 0)
}

// getIterator 返回定位到key的下界的迭代器
func (b *block) getIterator(key []byte, readTx uint64) *blockIterator {
	return newBlockIteratorAtKey(b, key, readTx)
}

// getPrefixIterator 返回定位到prefix范围开头的迭代器对，范围为空时返回(nil, nil, false)
func (b *block) getPrefixIterator(prefix []byte, readTx uint64) (*blockIterator, *blockIterator, bool) {
	beginIdx, ok := b.getPrefixBeginOffsetBinary(prefix)
	if !ok {
		return nil, nil, false
	}
	begin := newBlockIterator(b, beginIdx, readTx)
	endIdx := b.getPrefixEndOffsetBinary(prefix)
	// end是开区间的边界，不做快照跳过
	end := newBlockIteratorRaw(b, endIdx, readTx)
	return begin, end, true
}
