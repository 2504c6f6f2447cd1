package dl

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/imroc/req/v3"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/timerzz/nio"
	"golang.org/x/net/context"

	"github.com/timerzz/dman/pkg/utils"
)

// Chunked 并行分片下载：把资源按Range均分成多个分片并发拉取，
// 全部成功后按序合并，再原子重命名到目标文件。
// 任何一个分片重试耗尽就整体失败，不会留下半成品输出文件。
type Chunked struct {
	cfg    Config
	url    string
	output string
	tmp    string

	chunks []*chunk

	pool   *ants.Pool  //协程池
	client *req.Client //http客户端

	cancel context.CancelFunc
	ctx    context.Context

	downloadSize int64 //累计写盘的字节数
	total        int64
	complete     int64
	dlChannel    chan *chunk

	errOnce sync.Once
	err     error

	logger *logrus.Entry
}

func NewChunked(cfg Config, url, output string, logger *logrus.Entry) *Chunked {
	client := req.C().SetRedirectPolicy(req.MaxRedirectPolicy(10))
	if cfg.Proxy != "" {
		client = client.SetProxyURL(cfg.Proxy)
	}
	if cfg.Timeout != nil {
		client = client.SetTimeout(*cfg.Timeout).SetTLSHandshakeTimeout(*cfg.Timeout)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Chunked{
		cfg:    cfg,
		url:    url,
		output: output,
		client: client,
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Cancel 协作式中止，进行中的分片在下一次读写时退出
func (c *Chunked) Cancel() {
	c.fail(errors.New("download cancelled"))
}

// DownloadSize 已经下载的大小
func (c *Chunked) DownloadSize() int64 {
	return atomic.LoadInt64(&c.downloadSize)
}

// Progress 已完成分片数和总分片数
func (c *Chunked) Progress() (int64, int64) {
	return atomic.LoadInt64(&c.complete), atomic.LoadInt64(&c.total)
}

func (c *Chunked) Run() (err error) {
	began := time.Now()

	size, err := c.remoteSize()
	if err != nil {
		return err
	}

	if err = c.mkTmp(); err != nil {
		return err
	}
	defer func() {
		for os.RemoveAll(c.tmp) != nil {
		}
	}()

	if c.pool, err = ants.NewPool(c.cfg.maxChunks()); err != nil {
		return err
	}
	defer c.pool.Release()

	c.initChunks(size)

	// dlChannel不关闭，retryLoop靠ctx退出；容量覆盖同时在途的重试
	c.dlChannel = make(chan *chunk, c.cfg.maxChunks())

	go c.retryLoop()

	go func() {
		for _, ck := range c.chunks {
			var cc = ck
			if c.ctx.Err() == nil {
				if err := c.pool.Submit(func() {
					c.execute(cc)
				}); err != nil {
					c.logger.Errorf("提交任务失败：%v", err)
				}
			}
		}
	}()

	if err = c.merge(); err != nil {
		return err
	}
	c.logger.Infof("分片下载完成: %s, %s, 平均 %s", c.output,
		utils.FormatSize(c.DownloadSize()), utils.RateFormat(began, c.DownloadSize()))
	return nil
}

// remoteSize HEAD探测资源大小，拿不到长度就没法分片
func (c *Chunked) remoteSize() (int64, error) {
	resp, err := c.client.R().SetContext(c.ctx).Head(c.url)
	if err != nil {
		return 0, errors.Wrap(err, "获取远程文件大小失败")
	}
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("HTTP error: %d", resp.StatusCode)
	}
	if resp.ContentLength <= 0 {
		return 0, errors.New("远程文件大小未知，无法分片下载")
	}
	return resp.ContentLength, nil
}

func (c *Chunked) mkTmp() error {
	c.tmp = fmt.Sprintf("%s.tmp", c.output)
	if err := os.MkdirAll(c.tmp, 0755); err != nil {
		return errors.Wrap(err, "创建临时目录失败")
	}
	return nil
}

func (c *Chunked) initChunks(size int64) {
	n := int64(c.cfg.maxChunks())
	if n > size {
		n = size
	}
	chunkSize := size / n
	c.chunks = make([]*chunk, 0, n)
	for i := int64(0); i < n; i++ {
		ck := &chunk{
			index: int(i),
			start: i * chunkSize,
			end:   (i+1)*chunkSize - 1,
		}
		if i == n-1 {
			ck.end = size - 1
		}
		ck.ctx, ck.cancel = context.WithCancel(c.ctx)
		c.chunks = append(c.chunks, ck)
	}
	atomic.StoreInt64(&c.total, n)
}

func (c *Chunked) execute(ck *chunk) {
	if c.ctx.Err() != nil {
		return
	}
	if err := c.downloadChunk(ck); err != nil {
		if int(atomic.AddInt32(&ck.retryTimes, 1)) <= c.cfg.RetryCount {
			c.logger.Warnf("分片 %d 下载失败，准备重试: %v", ck.index, err)
			go func() {
				c.dlChannel <- ck
			}()
			return
		}
		ck.lock.Lock()
		ck.status = chunk_status_fail
		ck.lock.Unlock()
		c.logger.Errorf("分片 %d 下载失败: %v", ck.index, err)
		c.fail(errors.Wrapf(err, "分片 %d 重试耗尽", ck.index))
	}
}

func (c *Chunked) downloadChunk(ck *chunk) error {
	if ck.succeeded() {
		return nil
	}
	ck.lock.Lock()
	ck.status = chunk_status_downloading
	ck.lock.Unlock()

	tmpFile, err := os.CreateTemp(c.tmp, fmt.Sprintf("tmp_*.%d", ck.index))
	if err != nil {
		return err
	}
	defer os.Remove(tmpFile.Name())

	rng := fmt.Sprintf("bytes=%d-%d", ck.start, ck.end)
	resp, err := c.client.R().
		SetContext(ck.ctx).
		SetHeader("Range", rng).
		SetOutput(nio.NWriter(tmpFile, func(n int) { atomic.AddInt64(&c.downloadSize, int64(n)) })).
		Get(c.url)

	_ = tmpFile.Close()

	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return errors.Errorf("HTTP error: %d", resp.StatusCode)
	}

	finalFile := filepath.Join(c.tmp, fmt.Sprintf("%d.part", ck.index))
	if err = os.Rename(tmpFile.Name(), finalFile); err != nil {
		return errors.Wrapf(err, "重命名%s失败", tmpFile.Name())
	}

	ck.lock.Lock()
	ck.status = chunk_status_success
	ck.filepath = finalFile
	ck.lock.Unlock()

	atomic.AddInt64(&c.complete, 1)
	ck.cancel()
	return nil
}

// merge 按分片顺序等待并拼接，全部成功后原子重命名到目标路径
func (c *Chunked) merge() error {
	defer c.cancel()

	merged, err := os.CreateTemp(c.tmp, "merged_*")
	if err != nil {
		return err
	}
	defer merged.Close()

	for _, ck := range c.chunks {
		select {
		case <-c.ctx.Done():
		case <-ck.ctx.Done():
		}
		if !ck.succeeded() {
			if e := c.firstErr(); e != nil {
				return e
			}
			return c.ctx.Err()
		}

		err := func() error {
			f, err := os.Open(ck.filepath)
			if err != nil {
				return err
			}
			_, err = io.Copy(merged, f)
			_ = f.Close()
			_ = os.Remove(ck.filepath)
			return err
		}()
		if err != nil {
			return err
		}
	}

	if err = merged.Close(); err != nil {
		return err
	}
	return os.Rename(merged.Name(), c.output)
}

func (c *Chunked) retryLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ck := <-c.dlChannel:
			if ck == nil {
				continue
			}
			if err := c.pool.Submit(func() {
				c.execute(ck)
			}); err != nil {
				c.logger.Errorf("提交任务失败：%v", err)
			}
		}
	}
}

// fail 只记录第一个错误，并撤销整个下载
func (c *Chunked) fail(err error) {
	c.errOnce.Do(func() {
		c.err = err
		c.cancel()
	})
}

func (c *Chunked) firstErr() error {
	return c.err
}
