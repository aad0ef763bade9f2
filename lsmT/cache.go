package lsmt

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/keeAzlynth/LSM/utils"
	afCache "github.com/keeAzlynth/LSM/utils/cache"
)

// blockCache 按(sstID, blockIdx)缓存解码后的block
// 淘汰策略由utils/cache实现，sst层必须容忍put之后的miss
type blockCache struct {
	blocks *afCache.Cache
}

// 创建新cache
func newBlockCache(capacity int) *blockCache {
	if capacity <= 0 {
		capacity = utils.BlockCacheCapacity
	}
	return &blockCache{
		blocks: afCache.NewCache(capacity),
	}
}

// 缓存key，fid和blockIdx各占4字节
func blockCacheKey(sstID uint64, idx int) []byte {
	utils.CondPanic(sstID >= math.MaxUint32, fmt.Errorf("sstID >= math.MaxUint32"))
	utils.CondPanic(idx < 0 || uint32(idx) >= math.MaxUint32, fmt.Errorf("idx >= math.MaxUint32"))

	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[:4], uint32(sstID))
	binary.BigEndian.PutUint32(buf[4:], uint32(idx))
	return buf
}

// Get 查询缓存
func (c *blockCache) Get(sstID uint64, idx int) (*block, bool) {
	if c == nil {
		return nil, false
	}
	val, ok := c.blocks.Get(blockCacheKey(sstID, idx))
	if !ok || val == nil {
		return nil, false
	}
	b, ok := val.(*block)
	return b, ok
}

// Put 插入缓存
func (c *blockCache) Put(sstID uint64, idx int, b *block) {
	if c == nil {
		return
	}
	c.blocks.Set(blockCacheKey(sstID, idx), b)
}

// Del 淘汰某个block
func (c *blockCache) Del(sstID uint64, idx int) {
	if c == nil {
		return
	}
	c.blocks.Del(blockCacheKey(sstID, idx))
}
