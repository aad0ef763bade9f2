package utils

import (
	"math"

	"github.com/pkg/errors"
)

const seed = 0xbc9f1d34
const m = 0xc6a4a793

// Filter 是编码后的bloomFilter本体，最后一个byte是hash函数的个数k
// 编码格式就是[]byte本身，可以直接写入sst文件
type Filter []byte

// 对于给定的误判率P和给定的entries数量
// 计算出size的最优解，返回计算hash函数个数k的前提值
// size = bitsperkey * entriesNum
// k = bitsperkey * 0.69
func BitsPerKey(entriesNum int, probability float64) int {
	size := -1 * float64(entriesNum) * math.Log(probability) / math.Pow(float64(0.69314718056), 2)
	locs := math.Ceil(size / float64(entriesNum))
	return int(locs)
}

// 将keys(hash值)插入到bloomFilter中
func insertFilter(keys []uint32, bitsPerKey int) []byte {
	if bitsPerKey < 0 {
		bitsPerKey = 0
	}
	k := uint32(float64(bitsPerKey) * 0.69)
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}

	size := uint32(len(keys) * bitsPerKey)
	if size < 64 {
		size = 64
	}
	nBytes := (size + 7) / 8
	nBits := nBytes * 8
	filter := make([]byte, nBytes+1)
	for _, hash := range keys {
		delta := hash>>17 | hash<<15
		for j := uint32(0); j < k; j++ {
			offset := hash % nBits
			byteOffset := offset / 8
			bitOffset := offset % 8
			filter[byteOffset] |= 1 << bitOffset
			hash += delta
		}
	}
	filter[nBytes] = uint8(k)
	return filter
}

// 创建一个bloomFilter
func NewFilter(keys []uint32, bitsPerKey int) Filter {
	return Filter(insertFilter(keys, bitsPerKey))
}

// 从sst文件中读出的字节还原Filter
func DecodeFilter(buf []byte) (Filter, error) {
	if len(buf) < 2 {
		return nil, errors.Wrapf(ErrCorruptedSST, "bloom filter too small: %d", len(buf))
	}
	if k := buf[len(buf)-1]; k < 1 || k > 30 {
		return nil, errors.Wrapf(ErrCorruptedSST, "bloom filter bad k: %d", k)
	}
	return Filter(buf), nil
}

// 计算hash值
func Hash(key []byte) uint32 {
	hash := uint32(seed) ^ uint32(len(key))*m
	// 每次处理key的前四个byte
	for ; len(key) >= 4; key = key[4:] {
		hash += uint32(key[0]) | uint32(key[1])<<8 | uint32(key[2])<<16 | uint32(key[3])<<24
		hash *= m
		hash ^= hash >> 16
	}
	// 处理剩下的key
	switch len(key) {
	case 3:
		hash += uint32(key[2]) << 16
		fallthrough
	case 2:
		hash += uint32(key[1]) << 8
		fallthrough
	case 1:
		hash += uint32(key[0])
		hash *= m
		hash ^= hash >> 24
	}
	return hash
}

// 判断是否有可能存在于bloomFilter，false表示一定不存在
func (f Filter) MayContain(hash uint32) bool {
	if len(f) < 2 {
		return false
	}
	k := f[len(f)-1]
	bits := uint32(8 * (len(f) - 1))
	delta := hash>>17 | hash<<15
	for j := uint8(0); j < k; j++ {
		offset := hash % bits
		byteOffset := offset / 8
		bitOffset := offset % 8
		if f[byteOffset]&(1<<bitOffset) == 0 {
			return false
		}
		hash += delta
	}
	return true
}

// 判断key是否有可能存在于bloomFilter
func (f Filter) MayContainKey(key []byte) bool {
	return f.MayContain(Hash(key))
}
