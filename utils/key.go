// key处理相关

package utils

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

/*
	skiplist内部key的布局：前 ---> 后
	+--------------------------------------------------+
	| realKey | (MaxUint64 - txid) : 8bytes big-endian |
	+--------------------------------------------------+
	后缀取反可以让同一个realKey下txid大的版本(新版本)排在前面
*/

// 搜索时表示"不做MVCC过滤"的事务id
const maxTxID uint64 = math.MaxUint64

// 获取realKey
func ParseKey(sourceKey []byte) (realKey []byte) {
	if len(sourceKey) < 8 {
		realKey = sourceKey
		return
	}
	// 后8位是事务id
	realKey = sourceKey[:len(sourceKey)-8]
	return
}

// 获取事务id
func ParseTxID(sourceKey []byte) (txid uint64) {
	if len(sourceKey) < 8 {
		txid = 0
		return
	}
	// 事务id在后8位
	txid = math.MaxUint64 - binary.BigEndian.Uint64(sourceKey[len(sourceKey)-8:])
	return
}

// 判断是不是相同的realKey
func IsSameKey(key1, key2 []byte) bool {
	// 只考虑realKey部分
	return bytes.Equal(ParseKey(key1), ParseKey(key2))
}

// 为realKey添加上事务id后缀
func KeyWithTx(key []byte, txid uint64) []byte {
	res := make([]byte, len(key)+8)
	copy(res, key)
	binary.BigEndian.PutUint64(res[len(key):], math.MaxUint64-txid)
	return res
}

// 0 if key1 == key2,
// -1 if key1 < key2,
// +1 if key1 > key2.
// 先比较realKey部分，realKey相同再比较事务id后缀(新版本在前)
func CompareKeys(key1, key2 []byte) (res int) {
	CondPanic(len(key1) < 8 || len(key2) < 8, fmt.Errorf("%s,%s <8", string(key1), string(key2)))
	res = bytes.Compare(key1[:len(key1)-8], key2[:len(key2)-8])
	if res != 0 {
		return
	}
	res = bytes.Compare(key1[len(key1)-8:], key2[len(key2)-8:])
	return
}

// copy
func SafeCopy(needKey, key []byte) []byte {
	return append(needKey[:0], key...)
}

// 判断key是否以prefix开头
func MatchPrefix(key, prefix []byte) bool {
	return bytes.HasPrefix(key, prefix)
}

// 比prefix开头的所有key都大的哨兵key
func PrefixSuccessor(prefix []byte) []byte {
	res := make([]byte, len(prefix)+1)
	copy(res, prefix)
	res[len(prefix)] = 0xff
	return res
}
