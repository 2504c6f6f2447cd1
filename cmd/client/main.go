package main

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/timerzz/dman/pkg/progressbar"
)

func main() {
	var (
		host string
		port int
	)
	app := &cli.App{
		Name:  "dman-client",
		Usage: "下载服务的交互式客户端",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "host",
				Value:       "127.0.0.1",
				Usage:       "服务端地址",
				Destination: &host,
			},
			&cli.IntFlag{
				Name:        "port",
				Value:       10280,
				Usage:       "服务端端口",
				Destination: &port,
			},
		},
		Action: func(*cli.Context) error {
			addr := net.JoinHostPort(host, strconv.Itoa(port))
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				return err
			}
			defer conn.Close()
			fmt.Printf("Connected to %s\n", addr)

			bars := progressbar.NewSet(os.Stdout)
			done := make(chan struct{})
			go func() {
				defer close(done)
				scanner := bufio.NewScanner(conn)
				scanner.Buffer(make([]byte, 1024), 64*1024)
				for scanner.Scan() {
					line := strings.TrimRight(scanner.Text(), "\r")
					if id, percent, ok := parseProgress(line); ok {
						bars.Update(id, percent)
						continue
					}
					fmt.Println(line)
				}
				fmt.Println("Disconnected from server")
			}()

			stdin := bufio.NewScanner(os.Stdin)
			for stdin.Scan() {
				line := strings.TrimSpace(stdin.Text())
				if line == "" {
					continue
				}
				if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
					break
				}
				if _, err := conn.Write([]byte(line + "\r\n")); err != nil {
					return err
				}
			}
			_ = conn.Close()
			<-done
			return nil
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// parseProgress 解析 "PROGRESS <id>:<percent>%" 帧
func parseProgress(line string) (id, percent int, ok bool) {
	if !strings.HasPrefix(line, "PROGRESS ") {
		return 0, 0, false
	}
	idStr, pctStr, found := strings.Cut(strings.TrimPrefix(line, "PROGRESS "), ":")
	if !found {
		return 0, 0, false
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return 0, 0, false
	}
	percent, err = strconv.Atoi(strings.TrimSuffix(pctStr, "%"))
	if err != nil {
		return 0, 0, false
	}
	return id, percent, true
}
