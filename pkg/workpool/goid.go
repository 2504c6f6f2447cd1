package workpool

import (
	"bytes"
	"runtime"
	"strconv"
)

// goid 从 runtime.Stack 的首行 "goroutine N [running]:" 里取出协程id，
// 作为提交亲和性散列的依据。
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
