package cache

// cache包内部的doorkeeper，和sst用的bloomFilter分开，保证cache可以单独复用
import (
	"math"
)

type BloomFilter struct {
	bitmap []byte
	k      uint8
}

// 对于给定的误判率和entries数量计算每个key需要的bit数
func doorBitsPerKey(entriesNum int, probability float64) int {
	size := -1 * float64(entriesNum) * math.Log(probability) / math.Pow(float64(0.69314718056), 2)
	locs := math.Ceil(size / float64(entriesNum))
	return int(locs)
}

func initFilter(entriesNum, bitsPerKey int) *BloomFilter {
	bf := &BloomFilter{}
	if bitsPerKey < 0 {
		bitsPerKey = 0
	}
	// hash函数数量k，至少1个，最多30个
	k := uint32(float64(bitsPerKey) * 0.69)
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	bf.k = uint8(k)

	// 最小64bit
	size := entriesNum * bitsPerKey
	if size < 64 {
		size = 64
	}
	nBytes := (size + 7) / 8
	// 最后一位存k
	filter := make([]byte, nBytes+1)
	filter[nBytes] = uint8(k)
	bf.bitmap = filter

	return bf
}

// 根据entriesNum和误判率创建doorkeeper
func newFilter(entriesNum int, probability float64) *BloomFilter {
	bitsPerKey := doorBitsPerKey(entriesNum, probability)
	return initFilter(entriesNum, bitsPerKey)
}

// 根据hash值执行插入
func (bf *BloomFilter) Insert(hash uint32) {
	k := bf.k
	if k > 30 {
		return
	}

	size := uint32(8 * (bf.Len() - 1))
	delta := hash>>17 | hash<<15
	for j := uint8(0); j < k; j++ {
		offset := hash % size
		byteOffset := offset / 8
		bitOffset := offset % 8
		bf.bitmap[byteOffset] |= 1 << bitOffset
		hash += delta
	}
}

// 检查hash值是否至少出现过一次
func (bf *BloomFilter) MayContain(hash uint32) bool {
	if bf.Len() < 2 {
		return false
	}
	k := bf.k
	bits := uint32(8 * (bf.Len() - 1))
	delta := hash>>17 | hash<<15
	for j := uint8(0); j < k; j++ {
		offset := hash % bits
		byteOffset := offset / 8
		bitOffset := offset % 8
		if bf.bitmap[byteOffset]&(1<<bitOffset) == 0 {
			return false
		}
		hash += delta
	}
	return true
}

// 检查是否出现过，没出现过就记录，返回之前是否出现过
func (bf *BloomFilter) Allow(hash uint32) bool {
	if bf == nil {
		return true
	}
	already := bf.MayContain(hash)
	if !already {
		bf.Insert(hash)
	}
	return already
}

// 全部置0
func (bf *BloomFilter) reset() {
	if bf == nil {
		return
	}
	for i := range bf.bitmap {
		bf.bitmap[i] = 0
	}
}

func (bf *BloomFilter) Len() int32 {
	return int32(len(bf.bitmap))
}
