package utils

import (
	"hash/crc32"
	"unsafe"
)

// skiplist
const (
	// MaxLevel 跳表的最大层数
	MaxLevel = 16
	// SkiplistPInverse 每升一层的概率是 1/SkiplistPInverse (p = 0.25)
	SkiplistPInverse = 4
	// MaxRanges GetRangeIndex的分桶数量
	MaxRanges = 256
)

// memtable / sstable
const (
	// MaxMemTableSize 活跃skiplist超过这个大小就会被冻结
	MaxMemTableSize int64 = 2 << 20
	// MaxSSTableSize 单个sst文件的目标上限
	MaxSSTableSize int64 = 4 << 20
	// BlockSize 每个block的容量
	BlockSize = 4 << 10
	// BlockCacheCapacity blockCache中可以缓存的block个数
	BlockCacheCapacity = 1024
	// LSMLevelRatio 相邻两层的大小比例，由上层的level manager使用
	LSMLevelRatio = 4
)

// bloom filter
const (
	BloomExpectedSize = 65536
	BloomErrorRate    = 0.1
)

// file
const (
	SSTableSuffix         = ".sst"
	DefaultFileMode       = 0666
	Mi              int64 = 1 << 20
)

// codec
var (
	// CastagnoliCrcTable 计算block的checksum用的CRC32多项式表
	CastagnoliCrcTable = crc32.MakeTable(crc32.Castagnoli)
)

const U16Size = int(unsafe.Sizeof(uint16(0)))
const U32Size = int(unsafe.Sizeof(uint32(0)))
const U64Size = int(unsafe.Sizeof(uint64(0)))
