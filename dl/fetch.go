package dl

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/imroc/req/v3"
	"github.com/pkg/errors"
)

// ErrAborted 由写入端或进度回调主动中止时返回，和传输错误区分开
var ErrAborted = errors.New("download aborted")

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/58.0.3029.110 Safari/537.3"

const progressInterval = 200 * time.Millisecond

// progressFunc 进度回调，total是响应体总长度，received是已收到的字节数，
// 返回false表示中止下载
type progressFunc func(total, received int64) bool

// fetch 执行一次带Range的GET，把响应体写进sink。
// 每次调用独立创建并释放自己的客户端。
func fetch(cfg Config, url string, start, end int64, timeout time.Duration, sink io.Writer, progress progressFunc) error {
	client := req.C().
		SetRedirectPolicy(req.MaxRedirectPolicy(10))
	if ua := cfg.UserAgent; ua != "" {
		client.SetUserAgent(ua)
	} else {
		client.SetUserAgent(defaultUserAgent)
	}
	if cfg.Proxy != "" {
		client.SetProxyURL(cfg.Proxy)
	}
	if timeout > 0 {
		client.SetTimeout(timeout).SetTLSHandshakeTimeout(timeout)
	}
	defer client.GetClient().CloseIdleConnections()

	var abort atomic.Bool
	r := client.R().SetOutput(&guardWriter{w: sink, abort: &abort})
	if start > 0 || end > 0 {
		rng := fmt.Sprintf("bytes=%d-", start)
		if end > start {
			rng += strconv.FormatInt(end, 10)
		}
		r.SetHeader("Range", rng)
	}
	if progress != nil {
		r.SetDownloadCallbackWithInterval(func(info req.DownloadInfo) {
			if info.Response == nil || info.Response.Response == nil {
				return
			}
			total := info.Response.ContentLength
			if total < 0 {
				total = 0
			}
			if !progress(total, info.DownloadedSize) {
				abort.Store(true)
			}
		}, progressInterval)
	}

	resp, err := r.Get(url)
	if err != nil {
		if abort.Load() || errors.Is(err, ErrAborted) {
			return ErrAborted
		}
		return err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return errors.Errorf("HTTP error: %d", resp.StatusCode)
	}
	return nil
}

// guardWriter 中止标记置位后拒绝后续写入
type guardWriter struct {
	w     io.Writer
	abort *atomic.Bool
}

func (g *guardWriter) Write(p []byte) (int, error) {
	if g.abort.Load() {
		return 0, ErrAborted
	}
	n, err := g.w.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return n, err
}
