package lsmt

import "github.com/keeAzlynth/LSM/utils"

// Options
type Options struct {
	// 工作目录，sst文件都放在这里
	WorkDir string
	// 活跃skiplist的冻结阈值
	MemTableSize int64
	// 单个sst文件的目标上限
	SSTableMaxSz int64
	// 每个block的容量
	BlockSize int
	// bloomFilter的期望误判率，<=0表示不启用bloomFilter
	BloomFalsePositive float64
	// blockCache可以缓存的block个数
	CacheSize int
}

// NewDefaultOptions 默认配置
func NewDefaultOptions(workDir string) *Options {
	return &Options{
		WorkDir:            workDir,
		MemTableSize:       utils.MaxMemTableSize,
		SSTableMaxSz:       utils.MaxSSTableSize,
		BlockSize:          utils.BlockSize,
		BloomFalsePositive: utils.BloomErrorRate,
		CacheSize:          utils.BlockCacheCapacity,
	}
}
