package dl

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/timerzz/nio"
)

type Status int32

const (
	StatusIdle Status = iota
	StatusDownloading
	StatusPaused
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusDownloading:
		return "Downloading"
	case StatusPaused:
		return "Paused"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	case StatusCancelled:
		return "Cancelled"
	}
	return "Unknown"
}

// ProgressCallback 在worker协程上同步调用
type ProgressCallback func(downloaded, total int64)

// Task 一个URL到文件的下载任务。
// rangeStart是下一次GET的起始字节，除了SetRange预设之外只有Resume会改它；
// downloaded以写盘字节为准，保证断点续传的字节数和磁盘文件一致。
type Task struct {
	url        string
	outputPath string

	cfg Config

	rangeStart atomic.Int64
	rangeEnd   atomic.Int64
	downloaded atomic.Int64
	total      atomic.Int64

	status          atomic.Int32
	cancelRequested atomic.Bool
	timeout         atomic.Int64 //纳秒

	// gen 每次发起GET自增一次，旧请求的写入/进度回调全部失效，
	// 避免暂停后立刻恢复时旧请求继续写文件
	gen atomic.Int64

	lastLogPercent atomic.Int32

	mu         sync.Mutex
	file       *os.File
	errMsg     string
	progressCb ProgressCallback

	logger *logrus.Entry
}

func NewTask(url, outputPath string, cfg Config, logger *logrus.Entry) *Task {
	t := &Task{
		url:        url,
		outputPath: outputPath,
		cfg:        cfg,
		logger:     logger,
	}
	t.timeout.Store(int64(cfg.timeout()))
	t.lastLogPercent.Store(-1)
	t.logger.Infof("创建下载任务: %s", url)
	return t
}

func (t *Task) URL() string        { return t.url }
func (t *Task) OutputPath() string { return t.outputPath }

func (t *Task) Status() Status         { return Status(t.status.Load()) }
func (t *Task) DownloadedSize() int64  { return t.downloaded.Load() }
func (t *Task) TotalSize() int64       { return t.total.Load() }
func (t *Task) RangeStart() int64      { return t.rangeStart.Load() }
func (t *Task) Timeout() time.Duration { return time.Duration(t.timeout.Load()) }

func (t *Task) SetTimeout(d time.Duration) {
	t.timeout.Store(int64(d))
}

// SetRange 设置请求的字节区间，end为0表示直到资源末尾
func (t *Task) SetRange(start, end int64) {
	t.rangeStart.Store(start)
	t.rangeEnd.Store(end)
}

func (t *Task) SetProgressCallback(cb ProgressCallback) {
	t.mu.Lock()
	t.progressCb = cb
	t.mu.Unlock()
}

func (t *Task) Progress() float64 {
	total := t.total.Load()
	if total == 0 {
		return 0
	}
	return float64(t.downloaded.Load()) / float64(total) * 100
}

func (t *Task) ErrorMessage() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errMsg
}

func (t *Task) setErrorMessage(msg string) {
	t.mu.Lock()
	t.errMsg = msg
	t.mu.Unlock()
}

// Start 只允许从Idle或Failed发起，阻塞到下载结束，
// 返回true表示最终进入Completed
func (t *Task) Start() bool {
	if s := t.Status(); s != StatusIdle && s != StatusFailed {
		t.logger.Warnf("当前状态 %s 不能开始下载: %s", s, t.url)
		return false
	}
	t.cancelRequested.Store(false)
	t.setErrorMessage("")
	return t.perform()
}

// Pause 置取消标记并进入Paused，进行中的GET在下一次写入或进度回调时中止。
// 返回后downloaded可能还会短暂增长，直到那次中止发生。
func (t *Task) Pause() bool {
	if t.Status() != StatusDownloading {
		t.logger.Warnf("任务不在下载中，无法暂停: %s", t.url)
		return false
	}
	t.logger.Infof("暂停下载: %s", t.url)
	t.cancelRequested.Store(true)
	t.status.Store(int32(StatusPaused))
	return true
}

// Resume 从downloaded处重新发起GET，必须在worker上调用（会阻塞）
func (t *Task) Resume() bool {
	if t.Status() != StatusPaused {
		t.logger.Warnf("任务不在暂停状态，无法恢复: %s", t.url)
		return false
	}
	t.logger.Infof("从字节 %d 恢复下载: %s", t.downloaded.Load(), t.url)
	t.rangeStart.Store(t.downloaded.Load())
	t.cancelRequested.Store(false)
	t.setErrorMessage("")
	return t.perform()
}

// Cancel 幂等；终态（Completed/Cancelled）下是无操作
func (t *Task) Cancel() bool {
	for {
		s := t.Status()
		if s == StatusCompleted || s == StatusCancelled {
			return true
		}
		if t.status.CompareAndSwap(int32(s), int32(StatusCancelled)) {
			break
		}
	}
	t.logger.Infof("取消下载: %s", t.url)
	t.cancelRequested.Store(true)
	return true
}

func (t *Task) perform() bool {
	gen := t.gen.Add(1)
	t.status.Store(int32(StatusDownloading))
	t.downloaded.Store(t.rangeStart.Load())
	t.lastLogPercent.Store(-1)
	t.logger.Infof("开始下载: %s", t.url)

	sink := nio.NWriter(&taskWriter{t: t, gen: gen}, func(n int) {
		t.downloaded.Add(int64(n))
	})
	err := fetch(t.cfg, t.url, t.rangeStart.Load(), t.rangeEnd.Load(), t.Timeout(), sink, func(total, received int64) bool {
		return t.onProgress(gen, total, received)
	})
	t.closeFile(gen)

	if t.cancelRequested.Load() || t.gen.Load() != gen {
		// Pause或Cancel已经改过状态了
		return false
	}
	if err != nil {
		t.logger.Errorf("下载失败 %s: %v", t.url, err)
		t.setErrorMessage(err.Error())
		t.status.Store(int32(StatusFailed))
		return false
	}

	if total := t.total.Load(); total > 0 {
		t.downloaded.Store(total)
		t.invokeCallback()
	}
	t.status.Store(int32(StatusCompleted))
	t.logger.Infof("下载完成: %s", t.url)
	return true
}

func (t *Task) onProgress(gen, total, received int64) bool {
	if t.cancelRequested.Load() || t.gen.Load() != gen {
		return false
	}
	start := t.rangeStart.Load()
	if total > 0 {
		t.total.Store(start + total)
	}
	// downloaded只由写盘端累加，不用received覆盖

	t.invokeCallback()

	// 每越过一个10%边界记一条日志
	if tt := t.total.Load(); tt > 0 {
		cur := int32(t.downloaded.Load() * 100 / tt)
		if last := t.lastLogPercent.Load(); cur/10 > last/10 {
			t.lastLogPercent.Store(cur)
			t.logger.Infof("下载进度 %s: %d%% (%d/%d bytes)", t.url, cur, t.downloaded.Load(), tt)
		}
	}
	return true
}

func (t *Task) invokeCallback() {
	t.mu.Lock()
	cb := t.progressCb
	t.mu.Unlock()
	if cb != nil {
		cb(t.downloaded.Load(), t.total.Load())
	}
}

// openFile 第一个字节到达时才打开输出文件；
// 断点续传（rangeStart>0）用追加模式，否则截断
func (t *Task) openFile() (*os.File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		return t.file, nil
	}
	flag := os.O_CREATE | os.O_WRONLY
	if t.rangeStart.Load() > 0 {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}
	f, err := os.OpenFile(t.outputPath, flag, 0644)
	if err != nil {
		t.logger.Errorf("打开输出文件失败 %s: %v", t.outputPath, err)
		return nil, err
	}
	t.file = f
	return f, nil
}

// closeFile 只允许当前代的请求关文件，换代后文件归新请求所有
func (t *Task) closeFile(gen int64) {
	if t.gen.Load() != gen {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		_ = t.file.Close()
		t.file = nil
	}
}

// taskWriter 写盘回调：取消或换代之后拒绝写入
type taskWriter struct {
	t   *Task
	gen int64
}

func (w *taskWriter) Write(p []byte) (int, error) {
	t := w.t
	if t.cancelRequested.Load() || t.gen.Load() != w.gen {
		return 0, ErrAborted
	}
	f, err := t.openFile()
	if err != nil {
		return 0, err
	}
	return f.Write(p)
}
