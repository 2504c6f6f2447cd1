package server

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/timerzz/dman/dl"
)

func (s *Server) registerCommands() {
	s.handlers = map[string]handlerFunc{
		"HELP":    s.cmdHelp,
		"ADD":     s.cmdAdd,
		"START":   s.cmdStart,
		"PAUSE":   s.cmdPause,
		"RESUME":  s.cmdResume,
		"CANCEL":  s.cmdCancel,
		"LIST":    s.cmdList,
		"STATUS":  s.cmdStatus,
		"THREADS": s.cmdThreads,
	}
}

func (s *Server) cmdHelp(_ []string, _ *subscriber) string {
	return "Available commands: HELP, ADD, START, PAUSE, RESUME, CANCEL, LIST, STATUS, THREADS"
}

// cmdAdd 注册任务并给这条连接挂上进度回调，
// 回调只持有subscriber，连接关了就变成空操作
func (s *Server) cmdAdd(args []string, sub *subscriber) string {
	if len(args) < 2 {
		return "ERROR Usage: ADD <url> <output_path>"
	}
	url, outputPath := args[0], args[1]
	id := s.dl.AddTask(url, outputPath)
	if task := s.dl.GetTask(id); task != nil {
		task.SetProgressCallback(func(downloaded, total int64) {
			if total > 0 {
				sub.send(fmt.Sprintf("PROGRESS %d:%d%%", id, downloaded*100/total))
			}
		})
	}
	return fmt.Sprintf("OK %d", id)
}

// taskID 缺省或不是数字时返回false；START/PAUSE/RESUME/CANCEL据此按"全部任务"处理，
// STATUS据此返回用法错误
func taskID(args []string) (int, bool) {
	if len(args) == 0 {
		return 0, false
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, false
	}
	return id, true
}

func (s *Server) cmdStart(args []string, _ *subscriber) string {
	id, ok := taskID(args)
	if !ok {
		if s.dl.StartAll() {
			return "OK Started all tasks"
		}
		return "ERROR Failed to start all tasks"
	}
	if s.dl.StartTask(id) {
		return fmt.Sprintf("OK Started task %d", id)
	}
	return fmt.Sprintf("ERROR Failed to start task %d", id)
}

func (s *Server) cmdPause(args []string, _ *subscriber) string {
	id, ok := taskID(args)
	if !ok {
		if s.dl.PauseAll() {
			return "OK Paused all tasks"
		}
		return "ERROR Failed to pause all tasks"
	}
	if s.dl.PauseTask(id) {
		return fmt.Sprintf("OK Paused task %d", id)
	}
	return fmt.Sprintf("ERROR Failed to pause task %d", id)
}

func (s *Server) cmdResume(args []string, _ *subscriber) string {
	id, ok := taskID(args)
	if !ok {
		if s.dl.ResumeAll() {
			return "OK Resumed all tasks"
		}
		return "ERROR Failed to resume all tasks"
	}
	if s.dl.ResumeTask(id) {
		return fmt.Sprintf("OK Resumed task %d", id)
	}
	return fmt.Sprintf("ERROR Failed to resume task %d", id)
}

func (s *Server) cmdCancel(args []string, _ *subscriber) string {
	id, ok := taskID(args)
	if !ok {
		if s.dl.CancelAll() {
			return "OK Cancelled all tasks"
		}
		return "ERROR Failed to cancel all tasks"
	}
	if s.dl.CancelTask(id) {
		return fmt.Sprintf("OK Cancelled task %d", id)
	}
	return fmt.Sprintf("ERROR Failed to cancel task %d", id)
}

func (s *Server) cmdList(_ []string, _ *subscriber) string {
	ids := s.dl.TaskIDs()
	sort.Ints(ids)

	type row struct {
		id   int
		task *dl.Task
	}
	rows := make([]row, 0, len(ids))
	for _, id := range ids {
		if task := s.dl.GetTask(id); task != nil {
			rows = append(rows, row{id, task})
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "OK %d tasks:", len(rows))
	for _, r := range rows {
		fmt.Fprintf(&b, "\n%d: %s => %s [%s] %d/%d bytes",
			r.id, r.task.URL(), r.task.OutputPath(), r.task.Status(),
			r.task.DownloadedSize(), r.task.TotalSize())
	}
	return b.String()
}

func (s *Server) cmdStatus(args []string, _ *subscriber) string {
	id, ok := taskID(args)
	if !ok {
		return "ERROR Usage: STATUS <task_id>"
	}
	task := s.dl.GetTask(id)
	if task == nil {
		return fmt.Sprintf("ERROR Task not found: %d", id)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "OK URL: %s\n", task.URL())
	fmt.Fprintf(&b, "Output: %s\n", task.OutputPath())
	fmt.Fprintf(&b, "Status: %s\n", task.Status())
	fmt.Fprintf(&b, "Progress: %.2f%%\n", task.Progress())
	fmt.Fprintf(&b, "Downloaded: %d bytes\n", task.DownloadedSize())
	fmt.Fprintf(&b, "Total size: %d bytes", task.TotalSize())
	if msg := task.ErrorMessage(); msg != "" {
		fmt.Fprintf(&b, "\nError: %s", msg)
	}
	return b.String()
}

func (s *Server) cmdThreads(_ []string, _ *subscriber) string {
	return fmt.Sprintf("OK Thread pool status:\n- Pending tasks: %d\n- Active threads: %d",
		s.pool.Pending(), s.pool.ActiveWorkers())
}
