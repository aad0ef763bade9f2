package utils

import (
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	gopath = path.Join(os.Getenv("GOPATH"), "src") + "/"
)

// 错误类型，在操作边界(open/readBlock/build/addEntry)返回
var (
	// ErrCorruptedBlock block的checksum校验失败，或者长度不足以容纳footer
	ErrCorruptedBlock = errors.New("corrupted block")
	// ErrCorruptedSST sst的footer格式错误，或者meta的offset越界
	ErrCorruptedSST = errors.New("corrupted sstable")
	// ErrEntryTooLarge 单个entry强制写入空block仍然失败：key或value超过了u16长度字段的上限(65535字节)
	ErrEntryTooLarge = errors.New("entry too large for block")
	// ErrEmptySST 没有任何block时调用了build
	ErrEmptySST = errors.New("build empty sstable")
	// ErrBlockOutOfRange 请求的block index越界
	ErrBlockOutOfRange = errors.New("block out of index")
)

func Panic(err error) {
	if err != nil {
		panic(err)
	}
}

// CondPanic 如果condition为true，会panic
func CondPanic(condition bool, err error) {
	if condition {
		Panic(err)
	}
}

func AssertTrue(b bool) {
	if !b {
		log.Fatalf("%+v", errors.Errorf("Assert failed"))
	}
}

func AssertTruef(b bool, fmt string, args ...interface{}) {
	if !b {
		log.Fatalf("%+v", errors.Errorf(fmt, args...))
	}
}

func location(deep int, fullPath bool) string {
	_, file, line, ok := runtime.Caller(deep)
	if !ok {
		file = "???"
		line = 0
	}

	if fullPath {
		if strings.HasPrefix(file, gopath) {
			file = file[len(gopath):]
		}
	} else {
		file = filepath.Base(file)
	}
	return file + ":" + strconv.Itoa(line)
}

// Err err
func Err(err error) error {
	if err != nil {
		fmt.Printf("%s %s\n", location(2, true), err)
	}
	return err
}

// WarpErr 在err上附加说明信息
func WarpErr(format string, err error) error {
	if err != nil {
		return errors.Wrapf(err, format)
	}
	return nil
}
