package cache

import (
	"container/list"
	"sync"
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

/*
	基于Window-TinyLFU的缓存，blockCache用它来缓存sst的block；

	所有数据都先进入Window-LRU；WLRU满了之后弹出链表末尾的节点W，
	尝试放入segmented-LRU：先进入probation A1，A1中的数据再次被访问会晋升到protected A2；
	W加入A1之前先经过doorkeeper(bloomFilter)快速判断是否至少出现过一次，
	再用cmSketch的计数和A1的淘汰候选作对比，计数小的不允许进入；

	从SLRU中被淘汰不会删除计数信息和doorkeeper的记录，热点数据可以很快回到缓存中。
*/

// WLRU占总容量的百分比
const wlruPct = 1

// cmSketch和doorkeeper保鲜的访问次数系数
const resetFactor = 10

type Cache struct {
	m sync.RWMutex
	// 准入窗口
	wlru *windowLRU
	// 主缓存
	slru *segmentedLRU
	// doorkeeper，快速判断是否至少被访问过一次
	door *BloomFilter
	// 计数器
	cs *cmSketch
	// 对Cache的访问数据量
	total int32
	// 需要reset的阈值
	threshold int32
	// 数据存储的map
	data map[uint64]*list.Element
}

// 根据size创建cache，size指的是需要缓存的block个数
// 其中1%的空间是WLRU，剩下的空间80%是protected A2、20%是probation A1
func NewCache(size int) *Cache {
	if size < 3 {
		size = 3
	}
	wlruSize := (wlruPct * size) / 100
	if wlruSize < 1 {
		wlruSize = 1
	}

	slruSize := size - wlruSize
	a1Size := int(0.2 * float64(slruSize))
	if a1Size < 1 {
		a1Size = 1
	}

	data := make(map[uint64]*list.Element, size)

	return &Cache{
		wlru:      newWindowLRU(wlruSize, data),
		slru:      newSLRU(data, a1Size, size-a1Size-wlruSize),
		door:      newFilter(size, 0.001),
		cs:        newCmSketch(int64(size)),
		threshold: int32(resetFactor * size),
		data:      data,
	}
}

func (c *Cache) set(key, value interface{}) bool {
	// keyHash用于定位，conflictHash用于校验冲突
	keyHash, conflictHash := c.keyToHash(key)

	item := storeItem{
		stage:    0,
		key:      keyHash,
		conflict: conflictHash,
		value:    value,
	}

	// 所有的数据都先加入到WLRU中，满了就从WLRU中淘汰一个
	eitem, evicted := c.wlru.add(item)
	if !evicted {
		return true
	}

	// WLRU淘汰出来的eitem要进入SLRU，先看SLRU是否还有空位
	victim := c.slru.victim()
	if victim == nil {
		c.slru.add(eitem)
		return true
	}

	// doorkeeper中没出现过说明只被访问过一次，不值得进入SLRU
	if !c.door.Allow(uint32(eitem.key)) {
		return true
	}

	// 准入策略：对比两者的估计访问次数，淘汰候选更热就不替换
	vcount := c.cs.GetEstimate(victim.key)
	ocount := c.cs.GetEstimate(eitem.key)
	if vcount > ocount {
		return true
	}
	c.slru.add(eitem)
	return true
}

// Set 写入缓存，加写锁
func (c *Cache) Set(key, value interface{}) bool {
	c.m.Lock()
	defer c.m.Unlock()
	return c.set(key, value)
}

func (c *Cache) get(key interface{}) (interface{}, bool) {
	c.total++
	// 保鲜：访问量到达阈值后将计数减半，让新热点能够替换旧热点
	if c.total >= c.threshold {
		c.cs.Reset()
		c.door.reset()
		c.total = 0
	}

	keyHash, conflictHash := c.keyToHash(key)
	element, ok := c.data[keyHash]
	if !ok {
		// 没有命中也要在doorkeeper和计数器中记录这次访问
		c.door.Allow(uint32(keyHash))
		c.cs.Increment(keyHash)
		return nil, false
	}

	item := element.Value.(*storeItem)
	// conflictHash不一致说明keyHash撞上了别的key
	if item.conflict != conflictHash {
		c.door.Allow(uint32(keyHash))
		c.cs.Increment(keyHash)
		return nil, false
	}

	c.door.Allow(uint32(keyHash))
	c.cs.Increment(item.key)
	val := item.value
	if item.stage == 0 {
		c.wlru.get(element)
	} else {
		c.slru.get(element)
	}
	return val, true
}

// Get 读取缓存，加写锁(get会更新计数器、doorkeeper和LRU链表)
func (c *Cache) Get(key interface{}) (interface{}, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	return c.get(key)
}

func (c *Cache) del(key interface{}) (interface{}, bool) {
	keyHash, conflictHash := c.keyToHash(key)

	element, ok := c.data[keyHash]
	if !ok {
		return 0, false
	}
	item := element.Value.(*storeItem)
	if conflictHash != 0 && (conflictHash != item.conflict) {
		return 0, false
	}
	// 只在data中删除，doorkeeper和cmSketch的记录留到reset时清理
	delete(c.data, keyHash)
	return item.conflict, true
}

// Del 删除一个key，加写锁
func (c *Cache) Del(key interface{}) (interface{}, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	return c.del(key)
}

type stringStruct struct {
	str unsafe.Pointer
	len int
}

//go:noescape
//go:linkname memhash runtime.memhash
func memhash(p unsafe.Pointer, h, s uintptr) uintptr

// MemHash 是Go用于map的hash函数，每个进程都不一样，不可用于持久化的散列，
// 但这里只用于进程内的缓存定位，所以没有影响
func MemHash(data []byte) uint64 {
	ss := (*stringStruct)(unsafe.Pointer(&data))
	return uint64(memhash(ss.str, 0, uintptr(ss.len)))
}

func MemHashString(str string) uint64 {
	ss := (*stringStruct)(unsafe.Pointer(&str))
	return uint64(memhash(ss.str, 0, uintptr(ss.len)))
}

// 类型判断做hash
func (c *Cache) keyToHash(key interface{}) (uint64, uint64) {
	if key == nil {
		return 0, 0
	}
	switch k := key.(type) {
	case uint64:
		return k, 0
	case string:
		return MemHashString(k), xxhash.Sum64String(k)
	case []byte:
		return MemHash(k), xxhash.Sum64(k)
	case int:
		return uint64(k), 0
	case uint32:
		return uint64(k), 0
	case int64:
		return uint64(k), 0
	default:
		panic("Key type not supported")
	}
}

// test
func (c *Cache) String() string {
	var s string
	s += c.wlru.String() + " | " + c.slru.String()
	return s
}
