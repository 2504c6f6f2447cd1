package server

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort     = 10280
	DefaultThreads  = 8
	DefaultMaxConns = 128
)

// Config 服务端配置，可以从YAML文件加载，命令行参数优先
type Config struct {
	Port     int    `yaml:"port"`
	Threads  int    `yaml:"threads"`
	MaxConns int    `yaml:"max_conns"`
	Timeout  int    `yaml:"timeout"` //秒
	Proxy    string `yaml:"proxy"`
	LogLevel string `yaml:"log_level"`
}

func DefaultConfig() Config {
	return Config{
		Port:     DefaultPort,
		Threads:  DefaultThreads,
		MaxConns: DefaultMaxConns,
		Timeout:  30,
		LogLevel: "info",
	}
}

// LoadConfig 读取YAML配置，缺省值先填好再覆盖
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "读取配置文件失败")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "解析配置文件失败")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return cfg, errors.Errorf("无效的端口: %d", cfg.Port)
	}
	if cfg.Threads < 1 {
		return cfg, errors.Errorf("无效的线程数: %d", cfg.Threads)
	}
	return cfg, nil
}

func (c Config) TimeoutDuration() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}
