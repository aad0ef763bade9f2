package utils

import (
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
)

const maxNodeSize = int(unsafe.Sizeof(skiplistNode{}))
const alignOffset = int(unsafe.Sizeof(uint64(0))) - 1

// Arena 是skiplist的node的实际存储，node之间通过在buf上的offset互相引用
type Arena struct {
	n   uint32
	buf []byte
}

func newArena(size int64) *Arena {
	// offset == 0 被当作空指针使用，所以从1开始分配
	res := &Arena{
		n:   1,
		buf: make([]byte, size),
	}
	return res
}

func (a *Arena) allocate(size uint32) uint32 {
	newOffset := atomic.AddUint32(&a.n, size)
	// 保证buf尾部始终留有一个完整node的空间，这样getNode的指针转换不会越界
	if int(newOffset) > len(a.buf)-maxNodeSize {
		growBy := uint32(len(a.buf))
		if growBy > uint32(1<<30) {
			growBy = 1 << 30
		}
		if growBy < size {
			growBy = size
		}
		newBuf := make([]byte, len(a.buf)+int(growBy))
		AssertTrue(len(a.buf) == copy(newBuf, a.buf))
		a.buf = newBuf
	}
	return newOffset - size
}

// 为height层的node分配空间，没有用到的层不分配
func (a *Arena) putNode(height int) uint32 {
	unusedSize := (MaxLevel - height) * oneLevelSize
	allocateSize := maxNodeSize - unusedSize + alignOffset
	offset := a.allocate(uint32(allocateSize))
	// 将offset对齐到8字节，node中有uint64字段需要原子读写
	rwOffset := (offset + uint32(alignOffset)) &^ uint32(alignOffset)
	return rwOffset
}

func (a *Arena) getNode(offset uint32) *skiplistNode {
	if offset == 0 {
		return nil
	}
	return (*skiplistNode)(unsafe.Pointer(&a.buf[offset]))
}

func (a *Arena) putKey(key []byte) uint32 {
	keySize := uint32(len(key))
	offset := a.allocate(keySize)
	keyBuf := a.buf[offset : offset+keySize]
	AssertTrue(len(key) == copy(keyBuf, key))
	return offset
}

func (a *Arena) getKey(keyOffset uint32, keySize uint16) []byte {
	return a.buf[keyOffset : keyOffset+uint32(keySize)]
}

// value直接按原始字节存储，size为0表示tombstone
func (a *Arena) putVal(val []byte) uint32 {
	if len(val) == 0 {
		return 0
	}
	size := uint32(len(val))
	offset := a.allocate(size)
	AssertTrue(len(val) == copy(a.buf[offset:offset+size], val))
	return offset
}

func (a *Arena) getVal(valOffset, valSize uint32) []byte {
	if valSize == 0 {
		return nil
	}
	return a.buf[valOffset : valOffset+valSize]
}

func (a *Arena) getNodeOffset(node *skiplistNode) uint32 {
	if node == nil {
		return 0
	}
	// buf是连续的数组，node的地址减去buf头的地址就是node在buf上的offset
	offset := uintptr(unsafe.Pointer(node)) - uintptr(unsafe.Pointer(&a.buf[0]))
	CondPanic(offset > uintptr(len(a.buf)), errors.New("arena: node outside of buf"))
	return uint32(offset)
}

// 当前已经分配的大小，作为skiplist驻留内存的估计值
func (a *Arena) size() int64 {
	return int64(atomic.LoadUint32(&a.n))
}
