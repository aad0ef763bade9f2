package lsmt

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/keeAzlynth/LSM/file"
	"github.com/keeAzlynth/LSM/utils"
)

/*
	sst文件整体的结构：前 ---> 后
	+------------------------------------------------------------------------------+
	| block 0 | ... | block N-1 | blockMeta数组 | bloomFilter |       footer        |
	|                                                        | meta_offset:u32     |
	|                                                        | bloom_offset:u32    |
	|                                                        | min_txid:u64        |
	|                                                        | max_txid:u64        |
	+------------------------------------------------------------------------------+
	都是小端编码；footer固定24字节，字段顺序不可变
*/

const footerSize = 2*utils.U32Size + 2*utils.U64Size

// blockMeta sst中每个block的索引项
type blockMeta struct {
	// block在文件中的起始offset
	offset   uint32
	firstKey []byte
	lastKey  []byte
}

/*
blockMeta数组的编码：
count:u32 | { offset:u32 | first_key_len:u16 | first_key | last_key_len:u16 | last_key } × count
*/
func encodeBlockMetas(metas []*blockMeta) []byte {
	size := utils.U32Size
	for _, meta := range metas {
		size += utils.U32Size + 2*utils.U16Size + len(meta.firstKey) + len(meta.lastKey)
	}
	buf := make([]byte, size)

	binary.LittleEndian.PutUint32(buf, uint32(len(metas)))
	pos := utils.U32Size
	for _, meta := range metas {
		binary.LittleEndian.PutUint32(buf[pos:], meta.offset)
		pos += utils.U32Size
		binary.LittleEndian.PutUint16(buf[pos:], uint16(len(meta.firstKey)))
		pos += utils.U16Size
		pos += copy(buf[pos:], meta.firstKey)
		binary.LittleEndian.PutUint16(buf[pos:], uint16(len(meta.lastKey)))
		pos += utils.U16Size
		pos += copy(buf[pos:], meta.lastKey)
	}
	return buf
}

func decodeBlockMetas(buf []byte) ([]*blockMeta, error) {
	if len(buf) < utils.U32Size {
		return nil, errors.Wrapf(utils.ErrCorruptedSST, "block meta too small: %d", len(buf))
	}
	count := int(binary.LittleEndian.Uint32(buf))
	pos := utils.U32Size

	metas := make([]*blockMeta, 0, count)
	for i := 0; i < count; i++ {
		if pos+utils.U32Size+utils.U16Size > len(buf) {
			return nil, errors.Wrapf(utils.ErrCorruptedSST, "block meta truncated at %d", i)
		}
		meta := &blockMeta{}
		meta.offset = binary.LittleEndian.Uint32(buf[pos:])
		pos += utils.U32Size

		firstLen := int(binary.LittleEndian.Uint16(buf[pos:]))
		pos += utils.U16Size
		if pos+firstLen+utils.U16Size > len(buf) {
			return nil, errors.Wrapf(utils.ErrCorruptedSST, "block meta truncated at %d", i)
		}
		meta.firstKey = append(meta.firstKey, buf[pos:pos+firstLen]...)
		pos += firstLen

		lastLen := int(binary.LittleEndian.Uint16(buf[pos:]))
		pos += utils.U16Size
		if pos+lastLen > len(buf) {
			return nil, errors.Wrapf(utils.ErrCorruptedSST, "block meta truncated at %d", i)
		}
		meta.lastKey = append(meta.lastKey, buf[pos:pos+lastLen]...)
		pos += lastLen

		metas = append(metas, meta)
	}
	return metas, nil
}

// sstBuilder 流式构建sst：entry攒进block，block满了编码进输出缓冲，
// 最后补上blockMeta数组、bloomFilter和footer一次性落盘
type sstBuilder struct {
	opt      *Options
	curBlock *block
	metas    []*blockMeta
	// 已完成block的输出缓冲
	buf []byte
	// 当前block的首尾key
	firstKey []byte
	lastKey  []byte
	// 所有写入过的key的hash，build时生成bloomFilter
	keyHashes []uint32
	minTx     uint64
	maxTx     uint64
}

func newSSTBuilder(opt *Options) *sstBuilder {
	return &sstBuilder{
		opt:      opt,
		curBlock: newBlock(opt.BlockSize),
		minTx:    math.MaxUint64,
	}
}

// Add 追加一个entry，key必须不小于之前所有的key
// 同一个key的多个版本连续写入时强制写进同一个block(尽力而为，不是硬性保证)
func (sb *sstBuilder) Add(key, value []byte, txid uint64) error {
	if len(sb.firstKey) == 0 {
		sb.firstKey = utils.SafeCopy(sb.firstKey, key)
	}

	if sb.opt.BloomFalsePositive > 0 {
		sb.keyHashes = append(sb.keyHashes, utils.Hash(key))
	}

	if txid < sb.minTx {
		sb.minTx = txid
	}
	if txid > sb.maxTx {
		sb.maxTx = txid
	}

	// 和上一个key相同说明是同一个key的另一个版本，强制塞进当前block
	forceWrite := bytes.Equal(key, sb.lastKey)
	if sb.curBlock.addEntry(key, value, txid, forceWrite) {
		sb.lastKey = utils.SafeCopy(sb.lastKey, key)
		return nil
	}

	// 当前block满了，封装它并在新block上重试
	sb.finishBlock()
	if !sb.curBlock.addEntry(key, value, txid, true) {
		// 空block上强制写入仍然失败，只能是entry本身超过了编码上限
		return errors.Wrapf(utils.ErrEntryTooLarge, "key=%d value=%d bytes", len(key), len(value))
	}
	sb.firstKey = utils.SafeCopy(sb.firstKey, key)
	sb.lastKey = utils.SafeCopy(sb.lastKey, key)
	return nil
}

// AddEntry Add的Entry形式
func (sb *sstBuilder) AddEntry(e *utils.Entry) error {
	return sb.Add(e.Key, e.Value, e.TxID)
}

// finishBlock 编码当前block追加到输出缓冲，记录blockMeta，再换上一个空block
func (sb *sstBuilder) finishBlock() {
	if sb.curBlock.isEmpty() {
		return
	}
	encoded := sb.curBlock.encode(true)
	sb.metas = append(sb.metas, &blockMeta{
		offset:   uint32(len(sb.buf)),
		firstKey: append([]byte{}, sb.firstKey...),
		lastKey:  append([]byte{}, sb.lastKey...),
	})
	sb.buf = append(sb.buf, encoded...)

	sb.curBlock = newBlock(sb.opt.BlockSize)
	sb.firstKey = sb.firstKey[:0]
	sb.lastKey = sb.lastKey[:0]
}

// EstimatedSize 已完成部分的大小
func (sb *sstBuilder) EstimatedSize() int {
	return len(sb.buf)
}

// ReachedCapacity 判断是否该切新的sst了
func (sb *sstBuilder) ReachedCapacity() bool {
	return int64(len(sb.buf)) > sb.opt.SSTableMaxSz
}

// Build 完成整个sst：原子写入path，返回可以直接服务读请求的table
// 元数据直接带在返回的table上，不需要再读一次文件
func (sb *sstBuilder) Build(cache *blockCache, path string, sstID uint64) (*table, error) {
	sb.finishBlock()
	if len(sb.metas) == 0 {
		return nil, errors.Wrapf(utils.ErrEmptySST, "path=%s", path)
	}

	metaOffset := uint32(len(sb.buf))
	sb.buf = append(sb.buf, encodeBlockMetas(sb.metas)...)

	bloomOffset := uint32(len(sb.buf))
	var bloom utils.Filter
	if sb.opt.BloomFalsePositive > 0 {
		bitsPerKey := utils.BitsPerKey(len(sb.keyHashes), sb.opt.BloomFalsePositive)
		bloom = utils.NewFilter(sb.keyHashes, bitsPerKey)
		sb.buf = append(sb.buf, bloom...)
	}

	var footer [footerSize]byte
	binary.LittleEndian.PutUint32(footer[0:], metaOffset)
	binary.LittleEndian.PutUint32(footer[4:], bloomOffset)
	binary.LittleEndian.PutUint64(footer[8:], sb.minTx)
	binary.LittleEndian.PutUint64(footer[16:], sb.maxTx)
	sb.buf = append(sb.buf, footer[:]...)

	f, err := file.CreateAndWrite(path, sb.buf)
	if err != nil {
		return nil, errors.Wrapf(err, "while building sst: %s", path)
	}

	t := &table{
		sstID:       sstID,
		f:           f,
		cache:       cache,
		metas:       sb.metas,
		bloom:       bloom,
		metaOffset:  metaOffset,
		bloomOffset: bloomOffset,
		minTx:       sb.minTx,
		maxTx:       sb.maxTx,
		firstKey:    sb.metas[0].firstKey,
		lastKey:     sb.metas[len(sb.metas)-1].lastKey,
		ref:         1,
	}
	return t, nil
}
