package utils

// 最外层的写入结构，(key, value, 事务id)三元组
// value为空表示tombstone(删除标记)
type Entry struct {
	Key   []byte
	Value []byte
	TxID  uint64
}

// 根据传入的key和value初始化创建entry
func NewEntry(key, value []byte) *Entry {
	return &Entry{
		Key:   key,
		Value: value,
	}
}

// 设置entry的事务id
func (e *Entry) WithTxID(txid uint64) *Entry {
	e.TxID = txid
	return e
}

// 使得Entry结构满足Item接口
func (e *Entry) Entry() *Entry {
	return e
}

// 判断entry是否是删除标记
func (e *Entry) IsTombstone() bool {
	return len(e.Value) == 0
}

// 计算Entry在block中编码后的大小
// key_len(u16) + key + value_len(u16) + value + txid(u64)
func (e *Entry) EncodedSize() int {
	return U16Size + len(e.Key) + U16Size + len(e.Value) + U64Size
}

// 预估entry在skiplist中的驻留大小，height是所在node的高度
func (e *Entry) EstimateSize(height int) int64 {
	return int64((len(e.Key) + len(e.Value) + U64Size) * height)
}
