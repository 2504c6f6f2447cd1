package workpool

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var ErrStopped = errors.New("workpool: 线程池已停止")

// Pool 每个worker一个FIFO队列，提交按协程id散列到固定队列，
// 空闲worker随机挑一个受害者队列窃取任务。
type Pool struct {
	queues []*taskQueue
	stop   atomic.Bool
	wg     sync.WaitGroup
	alive  atomic.Int32

	logger *logrus.Entry
}

type taskQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	tasks []func()
}

func (q *taskQueue) push(fn func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *taskQueue) pop() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, false
	}
	fn := q.tasks[0]
	q.tasks = q.tasks[1:]
	return fn, true
}

func (q *taskQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func New(size int, logger *logrus.Entry) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		queues: make([]*taskQueue, size),
		logger: logger,
	}
	for i := range p.queues {
		q := &taskQueue{}
		q.cond = sync.NewCond(&q.mu)
		p.queues[i] = q
	}
	for i := range p.queues {
		p.wg.Add(1)
		go p.workerLoop(i)
	}
	return p
}

// Submit 提交任务。队列按提交者的协程id选取，同一个提交者的突发任务
// 会落在同一个队列上，由窃取来平衡负载。
func (p *Pool) Submit(fn func()) error {
	if fn == nil {
		return errors.New("workpool: 任务不能为空")
	}
	if p.stop.Load() {
		return ErrStopped
	}
	p.queues[int(goid()%uint64(len(p.queues)))].push(fn)
	return nil
}

func (p *Pool) workerLoop(index int) {
	defer p.wg.Done()
	p.alive.Add(1)
	defer p.alive.Add(-1)

	own := p.queues[index]
	for !p.stop.Load() {
		if fn, ok := own.pop(); ok {
			p.run(fn)
			continue
		}

		// 自己的队列空了，随机挑一个受害者窃取。
		// 每一步最多只持有一把队列锁，不存在交叉死锁。
		if n := len(p.queues); n > 1 {
			if victim := rand.Intn(n); victim != index {
				if fn, ok := p.queues[victim].pop(); ok {
					p.run(fn)
					continue
				}
			}
		}

		own.mu.Lock()
		for len(own.tasks) == 0 && !p.stop.Load() {
			own.cond.Wait()
		}
		own.mu.Unlock()
	}
}

// run 单个任务的panic不能杀死worker
func (p *Pool) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("任务执行异常: %v", r)
		}
	}()
	fn()
}

// Stop 置停止标记并唤醒全部worker，等待它们退出。
// 其他队列里未执行的任务不保证被执行。
func (p *Pool) Stop() {
	if !p.stop.CompareAndSwap(false, true) {
		return
	}
	for _, q := range p.queues {
		q.cond.Broadcast()
	}
	p.wg.Wait()
}

// Pending 各队列长度之和
func (p *Pool) Pending() int {
	var total int
	for _, q := range p.queues {
		total += q.size()
	}
	return total
}

// ActiveWorkers 存活的worker数量
func (p *Pool) ActiveWorkers() int {
	return int(p.alive.Load())
}
