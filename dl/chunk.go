package dl

import (
	"context"
	"sync"
)

const (
	chunk_status_fail = chunkStatus(iota - 1)
	chunk_status_wait
	chunk_status_downloading
	chunk_status_success
)

type chunkStatus int

type chunk struct {
	index      int
	status     chunkStatus
	start      int64 //区间起始字节
	end        int64 //区间结束字节（含）
	filepath   string
	lock       sync.Mutex
	cancel     context.CancelFunc
	ctx        context.Context
	retryTimes int32 //重试的次数
}

func (c *chunk) succeeded() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.status == chunk_status_success
}
