package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 队列后端配置
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// QueueConfig 定义消息队列配置
type QueueConfig struct {
	Outbound string // 出站队列名，默认 "outbound"
	Inbound  string // 入站队列名，默认 "inbound"
}

// DispatcherConfig 定义出站调度器配置
type DispatcherConfig struct {
	BatchSize                int           // 每个轮询周期最多处理的消息数，默认 10
	PollInterval             time.Duration // 队列为空时的休眠间隔，默认 2s
	SendTimeout              time.Duration // 单次发送超时，默认 30s
	RatePerSec               float64       // 发送速率上限，0 表示不限速
	Workers                  int           // 并行发送 worker 数，默认 1（顺序处理）
	AllowCrossTenantFallback bool          // 是否允许跨租户的最后兜底服务商
}

// FetcherConfig 定义入站拉取器配置
type FetcherConfig struct {
	Enabled     bool          // 是否启用入站拉取
	Interval    time.Duration // 轮询间隔，默认 1m
	IMAPWindow  int           // IMAP 单次拉取窗口，默认 50
	POP3Window  int           // POP3 单次拉取窗口，默认 20
	DialTimeout time.Duration // 邮箱连接超时，默认 30s
}

// SMTPConfig 定义 SMTP 提交服务配置（面向传统 SMTP 客户端的中继入口）
type SMTPConfig struct {
	Enabled   bool   // 是否启用 SMTP 提交入口
	BindAddr  string // 监听地址，默认 ":587"
	Domain    string // 服务器域名，用于 HELO/EHLO 响应
	AuthToken string // 提交认证口令（AUTH PLAIN 的密码位），留空表示只校验租户
}

// StorageConfig 定义附件文件存储配置
type StorageConfig struct {
	AttachmentDir string // 附件存储根目录，默认 "./data/attachments"
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server     ServerConfig     // HTTP 服务器配置
	CORS       CORSConfig       // 跨域配置
	Log        LogConfig        // 日志配置
	Database   DatabaseConfig   // 数据库配置
	Redis      RedisConfig      // Redis 配置
	Queue      QueueConfig      // 队列配置
	Dispatcher DispatcherConfig // 出站调度器配置
	Fetcher    FetcherConfig    // 入站拉取器配置
	SMTP       SMTPConfig       // SMTP 提交服务配置
	Storage    StorageConfig    // 附件存储配置
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//   1. 系统环境变量（最高优先级）
//   2. .env 文件（如果存在）
//   3. 默认值
//
// 环境变量前缀: MAILRELAY_
// 例如: MAILRELAY_SERVER_HOST, MAILRELAY_DATABASE_DSN
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	viper.SetEnvPrefix("mailrelay")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("queue.outbound", "outbound")
	viper.SetDefault("queue.inbound", "inbound")
	viper.SetDefault("dispatcher.batch_size", 10)
	viper.SetDefault("dispatcher.poll_interval", "2s")
	viper.SetDefault("dispatcher.send_timeout", "30s")
	viper.SetDefault("dispatcher.rate_per_sec", 0)
	viper.SetDefault("dispatcher.workers", 1)
	viper.SetDefault("dispatcher.allow_cross_tenant_fallback", true)
	viper.SetDefault("fetcher.enabled", true)
	viper.SetDefault("fetcher.interval", "1m")
	viper.SetDefault("fetcher.imap_window", 50)
	viper.SetDefault("fetcher.pop3_window", 20)
	viper.SetDefault("fetcher.dial_timeout", "30s")
	viper.SetDefault("smtp.enabled", false)
	viper.SetDefault("smtp.bind_addr", ":587")
	viper.SetDefault("smtp.domain", "localhost")
	viper.SetDefault("smtp.auth_token", "")
	viper.SetDefault("storage.attachment_dir", "./data/attachments")

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	dbType := strings.ToLower(viper.GetString("database.type"))
	if dbType != "" && dbType != "mysql" && dbType != "postgres" {
		return nil, fmt.Errorf("invalid database.type %q: must be mysql, postgres or empty", dbType)
	}
	if dbType != "" && viper.GetString("database.dsn") == "" {
		return nil, fmt.Errorf("database.dsn is required when database.type is set")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
		},
		Database: DatabaseConfig{
			Type:            dbType,
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: durationOr("database.conn_max_lifetime", 5*time.Minute),
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Queue: QueueConfig{
			Outbound: viper.GetString("queue.outbound"),
			Inbound:  viper.GetString("queue.inbound"),
		},
		Dispatcher: DispatcherConfig{
			BatchSize:                viper.GetInt("dispatcher.batch_size"),
			PollInterval:             durationOr("dispatcher.poll_interval", 2*time.Second),
			SendTimeout:              durationOr("dispatcher.send_timeout", 30*time.Second),
			RatePerSec:               viper.GetFloat64("dispatcher.rate_per_sec"),
			Workers:                  viper.GetInt("dispatcher.workers"),
			AllowCrossTenantFallback: viper.GetBool("dispatcher.allow_cross_tenant_fallback"),
		},
		Fetcher: FetcherConfig{
			Enabled:     viper.GetBool("fetcher.enabled"),
			Interval:    durationOr("fetcher.interval", time.Minute),
			IMAPWindow:  viper.GetInt("fetcher.imap_window"),
			POP3Window:  viper.GetInt("fetcher.pop3_window"),
			DialTimeout: durationOr("fetcher.dial_timeout", 30*time.Second),
		},
		SMTP: SMTPConfig{
			Enabled:   viper.GetBool("smtp.enabled"),
			BindAddr:  viper.GetString("smtp.bind_addr"),
			Domain:    viper.GetString("smtp.domain"),
			AuthToken: viper.GetString("smtp.auth_token"),
		},
		Storage: StorageConfig{
			AttachmentDir: viper.GetString("storage.attachment_dir"),
		},
	}

	return cfg, nil
}

// durationOr 解析时长配置，非法时使用默认值
func durationOr(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// parseList 将逗号分隔的字符串解析为字符串切片
//
// 参数:
//   - value: 逗号分隔的字符串，如 "item1,item2,item3"
//
// 返回值:
//   - []string: 解析后的字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//   1. 当前目录的 .env
//   2. 父目录的 .env（用于从 backend/ 子目录运行的情况）
//
// 注意：
//   - 如果文件不存在，静默失败（.env 是可选的）
//   - 环境变量不会被覆盖（已存在的环境变量优先级更高）
func loadEnvFile() {
	// 尝试当前目录的 .env
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	// 尝试父目录的 .env（从 backend/ 目录运行时）
	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
