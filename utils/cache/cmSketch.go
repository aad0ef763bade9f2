package cache

import (
	"math/rand"
	"time"
)

// 4次计数冗余，减少hash冲突带来的影响
const cmDepth = 4

// 一行计数槽，每个counter用4个bit
type cmRow []byte

type cmSketch struct {
	rows [cmDepth]cmRow
	// 每一行对应的hash种子
	seed [cmDepth]uint64
	// 取模用的掩码，mask+1 == counter的数量
	mask uint64
}

func newCmRow(numCounters int64) cmRow {
	// 一个byte放两个counter
	return cmRow(make([]byte, numCounters/2))
}

// 对槽位n自增计数
func (r cmRow) incrRow(n uint64) {
	byteIndex := n / 2
	// 奇数槽在高4位
	bitIndex := (n & 1) * 4
	count := (r[byteIndex] >> bitIndex) & 0x0f
	// counter最高计到15
	if count < 15 {
		r[byteIndex] += 1 << bitIndex
	}
}

// 查询槽位n的计数
func (r cmRow) getRow(n uint64) uint8 {
	byteIndex := n / 2
	bitIndex := (n & 1) * 4
	return (r[byteIndex] >> bitIndex) & 0x0f
}

// 保鲜机制：所有计数减半
func (r cmRow) reset() {
	for i := range r {
		// 右移1位整体除2，再把借位到高低counter边界上的bit清掉
		r[i] = r[i] >> 1 & 0x77
	}
}

func (r cmRow) clear() {
	for i := range r {
		r[i] = 0
	}
}

// 找到一个最接近的二次幂
func next2Power(x uint64) uint64 {
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	x++
	return x
}

func newCmSketch(numCounters int64) *cmSketch {
	if numCounters <= 0 {
		panic("cmSketch: invalid numCounters")
	}

	// counter数量取二次幂才能用mask做取模
	numCounters = int64(next2Power(uint64(numCounters)))
	sketch := &cmSketch{
		mask: uint64(numCounters) - 1,
	}

	source := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; i < cmDepth; i++ {
		sketch.rows[i] = newCmRow(numCounters)
		sketch.seed[i] = source.Uint64()
	}
	return sketch
}

// 每一行都做自增
func (cs *cmSketch) Increment(hash uint64) {
	for i := range cs.rows {
		cs.rows[i].incrRow((hash ^ cs.seed[i]) & cs.mask)
	}
}

// 取所有行中最小的计数作为估计值
func (cs *cmSketch) GetEstimate(hash uint64) uint64 {
	min := uint8(255)
	for i := range cs.rows {
		val := cs.rows[i].getRow((hash ^ cs.seed[i]) & cs.mask)
		if val < min {
			min = val
		}
	}
	return uint64(min)
}

// 每一行计数减半
func (cs *cmSketch) Reset() {
	for _, r := range cs.rows {
		r.reset()
	}
}

// 每一行清空
func (cs *cmSketch) Clear() {
	for _, r := range cs.rows {
		r.clear()
	}
}
