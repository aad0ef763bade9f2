package cache

import (
	"container/list"
	"fmt"
)

// windowLRU 准入窗口，新数据一律先从这里过
type windowLRU struct {
	// 数据实际存储的位置，索引是key的hash值
	data map[uint64]*list.Element
	// 容量上限
	cap int
	// 用于lru淘汰策略
	list *list.List
}

// list.Element.Value中存储的实际的数据
type storeItem struct {
	// 现在位于哪个阶段
	// stage == 0 ：windowLRU
	// stage == 1 ：segmentedLRU A1 probation
	// stage == 2 ：segmentedLRU A2 protected
	stage int
	// 经过hash函数处理后的keyHash
	key uint64
	// 用于校验
	conflict uint64
	// 实际的value
	value interface{}
}

// 向WLRU中添加数据，返回被淘汰掉的item 和 是否触发了淘汰
func (wl *windowLRU) add(newItem storeItem) (eItem storeItem, evicted bool) {
	if wl.list.Len() < wl.cap {
		// 没满，头插法直接放入
		wl.data[newItem.key] = wl.list.PushFront(&newItem)
		return storeItem{}, false
	}

	// 满了，从尾部淘汰
	element := wl.list.Back()
	item := element.Value.(*storeItem)
	delete(wl.data, item.key)

	// 复用链表节点：被淘汰的item换出来，newItem写进去
	eItem, *item = *item, newItem
	wl.data[item.key] = element
	wl.list.MoveToFront(element)
	return eItem, true
}

// 命中时只需要调整在WLRU中的位置，返回值由外层封装
func (wl *windowLRU) get(element *list.Element) {
	wl.list.MoveToFront(element)
}

func newWindowLRU(size int, data map[uint64]*list.Element) *windowLRU {
	return &windowLRU{
		data: data,
		cap:  size,
		list: list.New(),
	}
}

// 测试用
func (wl *windowLRU) String() string {
	var res string
	for e := wl.list.Front(); e != nil; e = e.Next() {
		res += fmt.Sprintf("%v", e.Value.(*storeItem).value)
	}
	return res
}
