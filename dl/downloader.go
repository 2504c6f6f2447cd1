package dl

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/timerzz/dman/pkg/workpool"
)

// DownLoader 进程级任务注册表：分配任务id，把Start/Resume派发到线程池。
// 注册表锁从不跨越派发、网络或写socket持有。
type DownLoader struct {
	cfg    Config
	pool   *workpool.Pool
	logger *logrus.Entry

	mu     sync.Mutex
	tasks  map[int]*Task
	nextID int
}

func New(cfg Config, pool *workpool.Pool, logger *logrus.Entry) *DownLoader {
	return &DownLoader{
		cfg:    cfg,
		pool:   pool,
		logger: logger,
		tasks:  make(map[int]*Task),
	}
}

// AddTask 分配一个新id并注册任务，id在进程生命周期内不复用
func (d *DownLoader) AddTask(url, outputPath string) int {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	task := NewTask(url, outputPath, d.cfg, d.logger.WithField("task", id))
	d.tasks[id] = task
	d.mu.Unlock()
	d.logger.Infof("添加下载任务 %d: %s", id, url)
	return id
}

// RemoveTask 先取消再移除
func (d *DownLoader) RemoveTask(id int) bool {
	d.mu.Lock()
	task, ok := d.tasks[id]
	if ok {
		task.Cancel()
		delete(d.tasks, id)
	}
	d.mu.Unlock()
	if !ok {
		d.logger.Warnf("移除不存在的任务: %d", id)
		return false
	}
	d.logger.Infof("移除任务 %d: %s", id, task.URL())
	return true
}

// GetTask 返回的句柄生命周期独立于注册表
func (d *DownLoader) GetTask(id int) *Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tasks[id]
}

// TaskIDs 无序快照
func (d *DownLoader) TaskIDs() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]int, 0, len(d.tasks))
	for id := range d.tasks {
		ids = append(ids, id)
	}
	return ids
}

func (d *DownLoader) TaskCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}

func (d *DownLoader) ActiveTaskCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	var count int
	for _, task := range d.tasks {
		if s := task.Status(); s == StatusDownloading || s == StatusPaused {
			count++
		}
	}
	return count
}

// StartTask 把task.Start派发到线程池，立刻返回
func (d *DownLoader) StartTask(id int) bool {
	task := d.GetTask(id)
	if task == nil {
		d.logger.Warnf("启动不存在的任务: %d", id)
		return false
	}
	if err := d.pool.Submit(func() { task.Start() }); err != nil {
		d.logger.Errorf("提交任务失败：%v", err)
		return false
	}
	return true
}

// PauseTask 同步执行
func (d *DownLoader) PauseTask(id int) bool {
	task := d.GetTask(id)
	if task == nil {
		d.logger.Warnf("暂停不存在的任务: %d", id)
		return false
	}
	return task.Pause()
}

// ResumeTask Resume会阻塞，所以派发到线程池
func (d *DownLoader) ResumeTask(id int) bool {
	task := d.GetTask(id)
	if task == nil {
		d.logger.Warnf("恢复不存在的任务: %d", id)
		return false
	}
	if err := d.pool.Submit(func() { task.Resume() }); err != nil {
		d.logger.Errorf("提交任务失败：%v", err)
		return false
	}
	return true
}

// CancelTask 同步执行
func (d *DownLoader) CancelTask(id int) bool {
	task := d.GetTask(id)
	if task == nil {
		d.logger.Warnf("取消不存在的任务: %d", id)
		return false
	}
	return task.Cancel()
}

// StartAll 先拿快照再逐个派发，不在锁内提交
func (d *DownLoader) StartAll() bool {
	for _, id := range d.TaskIDs() {
		d.StartTask(id)
	}
	return true
}

func (d *DownLoader) PauseAll() bool {
	for _, id := range d.TaskIDs() {
		d.PauseTask(id)
	}
	return true
}

func (d *DownLoader) ResumeAll() bool {
	for _, id := range d.TaskIDs() {
		d.ResumeTask(id)
	}
	return true
}

func (d *DownLoader) CancelAll() bool {
	for _, id := range d.TaskIDs() {
		d.CancelTask(id)
	}
	return true
}
