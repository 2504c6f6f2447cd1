package server

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"

	"github.com/timerzz/dman/dl"
	"github.com/timerzz/dman/pkg/workpool"
)

type handlerFunc func(args []string, sub *subscriber) string

// Server TCP控制面。accept到的连接交给线程池处理，
// 连接上的命令同步应答，PROGRESS帧异步插在应答之间。
type Server struct {
	cfg    Config
	dl     *dl.DownLoader
	pool   *workpool.Pool
	logger *logrus.Entry

	running  atomic.Bool
	listener net.Listener
	wg       sync.WaitGroup

	handlers map[string]handlerFunc

	subMu sync.Mutex
	subs  map[*subscriber]struct{}
}

func NewServer(cfg Config, d *dl.DownLoader, pool *workpool.Pool, logger *logrus.Entry) *Server {
	s := &Server{
		cfg:    cfg,
		dl:     d,
		pool:   pool,
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
	}
	s.registerCommands()
	return s
}

// Start 绑定端口并启动accept循环，绑定失败直接报错
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("服务已经在运行")
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		s.running.Store(false)
		return errors.Wrapf(err, "监听端口 %d 失败", s.cfg.Port)
	}
	maxConns := s.cfg.MaxConns
	if maxConns <= 0 {
		maxConns = DefaultMaxConns
	}
	s.listener = netutil.LimitListener(ln, maxConns)
	s.logger.Infof("服务启动，监听 %s", s.listener.Addr())

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr 实际监听地址（端口0时由系统分配）
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop 关监听并断开所有连接
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.logger.Info("正在停止服务...")
	_ = s.listener.Close()

	s.subMu.Lock()
	for sub := range s.subs {
		sub.close()
	}
	s.subMu.Unlock()

	s.wg.Wait()
	s.logger.Info("服务已停止")
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() {
				s.logger.Errorf("accept失败: %v", err)
				continue
			}
			return
		}
		if err := s.pool.Submit(func() { s.handleConn(conn) }); err != nil {
			s.logger.Errorf("提交连接处理失败：%v", err)
			_ = conn.Close()
		}
	}
}

func (s *Server) handleConn(conn net.Conn) {
	s.logger.Infof("客户端接入: %s", conn.RemoteAddr())
	sub := newSubscriber(conn)

	s.subMu.Lock()
	s.subs[sub] = struct{}{}
	s.subMu.Unlock()

	defer func() {
		sub.close()
		s.subMu.Lock()
		delete(s.subs, sub)
		s.subMu.Unlock()
		s.logger.Infof("客户端断开: %s", conn.RemoteAddr())
	}()

	reader := bufio.NewReaderSize(conn, 1024)
	for s.running.Load() {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			cmd := strings.TrimRight(line, "\r\n")
			s.logger.Debugf("收到命令: %q", cmd)
			sub.send(s.dispatch(cmd, sub))
		}
		if err != nil {
			return
		}
	}
}

// dispatch 命令处理中的panic在这里兜住，作为ERROR应答返回
func (s *Server) dispatch(line string, sub *subscriber) (resp string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("处理命令 %q 异常: %v", line, r)
			resp = fmt.Sprintf("ERROR %v", r)
		}
	}()

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "ERROR Empty command"
	}
	cmd := strings.ToUpper(fields[0])
	h, ok := s.handlers[cmd]
	if !ok {
		s.logger.Warnf("未知命令: %s", cmd)
		return "ERROR Unknown command: " + cmd
	}
	return h(fields[1:], sub)
}
