package file

import (
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/pkg/errors"
)

// SSTFile sst的只读文件对象，随机读是并发安全的
type SSTFile struct {
	fd      *os.File
	path    string
	size    int64
	deleted int32
}

// OpenSSTFile 以只读方式打开一个已经存在的sst文件
func OpenSSTFile(path string) (*SSTFile, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "while opening sst: %s", path)
	}
	info, err := fd.Stat()
	if err != nil {
		_ = fd.Close()
		return nil, errors.Wrapf(err, "while stating sst: %s", path)
	}
	return &SSTFile{
		fd:   fd,
		path: path,
		size: info.Size(),
	}, nil
}

// CreateAndWrite 一次性写入整个文件并重新以只读打开
// 先写临时文件再rename，保证path上不会出现半截的sst
func CreateAndWrite(path string, data []byte) (*SSTFile, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return nil, errors.Wrapf(err, "while creating temp for: %s", path)
	}
	tmpPath := tmp.Name()
	// 任何一步失败都把临时文件清理掉
	cleanup := func(err error) (*SSTFile, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return nil, err
	}

	if _, err = tmp.Write(data); err != nil {
		return cleanup(errors.Wrapf(err, "while writing sst: %s", path))
	}
	if err = tmp.Sync(); err != nil {
		return cleanup(errors.Wrapf(err, "while syncing sst: %s", path))
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, errors.Wrapf(err, "while closing sst: %s", path)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, errors.Wrapf(err, "while renaming sst: %s", path)
	}
	return OpenSSTFile(path)
}

// Size 返回文件大小
func (f *SSTFile) Size() int64 {
	return f.size
}

// Bytes 从offset开始读取size个字节
func (f *SSTFile) Bytes(offset, size int) ([]byte, error) {
	if offset < 0 || size < 0 || int64(offset)+int64(size) > f.size {
		return nil, errors.Errorf("read out of range: offset=%d size=%d filesize=%d",
			offset, size, f.size)
	}
	buf := make([]byte, size)
	if _, err := f.fd.ReadAt(buf, int64(offset)); err != nil {
		return nil, errors.Wrapf(err, "while reading sst: %s at %d", f.path, offset)
	}
	return buf, nil
}

// Close
func (f *SSTFile) Close() error {
	return f.fd.Close()
}

// Delete 关闭并删除文件
func (f *SSTFile) Delete() error {
	if !atomic.CompareAndSwapInt32(&f.deleted, 0, 1) {
		return nil
	}
	if err := f.fd.Close(); err != nil {
		return errors.Wrapf(err, "while closing sst: %s", f.path)
	}
	return os.Remove(f.path)
}

// Path 返回文件路径
func (f *SSTFile) Path() string {
	return f.path
}
