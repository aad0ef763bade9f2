package utils

import (
	"hash/crc32"
	"path"
	"strconv"
	"strings"
)

// 根据fileName获取到sst的FID
func FID(fileName string) uint64 {
	fileName = path.Base(fileName)
	if !strings.HasSuffix(fileName, SSTableSuffix) {
		return 0
	}
	fileName = strings.TrimSuffix(fileName, SSTableSuffix)
	id, err := strconv.Atoi(fileName)
	if err != nil {
		Err(err)
		return 0
	}
	return uint64(id)
}

// 根据FID生成sst的文件名
func SSTName(fid uint64) string {
	return strconv.FormatUint(fid, 10) + SSTableSuffix
}

// 计算checksum
func CalculateChecksum(data []byte) uint32 {
	return crc32.Checksum(data, CastagnoliCrcTable)
}

// 校验checksum
func VerifyChecksum(data []byte, expected uint32) bool {
	return CalculateChecksum(data) == expected
}
