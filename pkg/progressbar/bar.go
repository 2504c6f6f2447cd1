package progressbar

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

const barWidth = 24

type cfg struct {
	width int
	title string
}

// Set 管理多个任务的进度条，按任务id各占一行重绘
type Set struct {
	mu    sync.Mutex
	bars  map[int]int //任务id -> 百分比
	out   io.Writer
	lines int

	cfg cfg
}

func NewSet(out io.Writer, opts ...Option) *Set {
	c := cfg{width: barWidth, title: "Task"}
	for _, opt := range opts {
		opt(&c)
	}
	return &Set{
		bars: make(map[int]int),
		out:  out,
		cfg:  c,
	}
}

// Update 更新某个任务的百分比并重绘
func (s *Set) Update(id, percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars[id] = percent
	s.render()
}

// Clear 清掉所有进度条
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars = make(map[int]int)
	s.lines = 0
}

func (s *Set) render() {
	// 光标回退到进度区顶部，整块重绘
	if s.lines > 0 {
		fmt.Fprintf(s.out, "\033[%dA", s.lines)
	}
	ids := make([]int, 0, len(s.bars))
	for id := range s.bars {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		percent := s.bars[id]
		filled := percent * s.cfg.width / 100
		fmt.Fprintf(s.out, "\r%s %d: [%s%s] %d%%\n", s.cfg.title, id,
			strings.Repeat("#", filled), strings.Repeat(" ", s.cfg.width-filled), percent)
	}
	s.lines = len(ids)
}

type Option func(*cfg)

func WithWidth(w int) Option {
	return func(c *cfg) {
		if w > 0 {
			c.width = w
		}
	}
}

func WithTitle(title string) Option {
	return func(c *cfg) {
		c.title = title
	}
}
