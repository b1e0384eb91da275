package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath 默认配置文件路径
const DefaultConfigPath = "config/config.yaml"

// Config 应用配置结构体
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	JWT       JWTConfig       `yaml:"jwt"`
	Log       LogConfig       `yaml:"log"`
	Redis     RedisConfig     `yaml:"redis"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Message   MessageConfig   `yaml:"message"`
	Upload    UploadConfig    `yaml:"upload"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Push      PushConfig      `yaml:"push"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port         string        `yaml:"port"`         // 服务器监听端口
	ReadTimeout  time.Duration `yaml:"readTimeout"`  // 读取超时时间
	WriteTimeout time.Duration `yaml:"writeTimeout"` // 写入超时时间
	IdleTimeout  time.Duration `yaml:"idleTimeout"`  // 空闲超时时间
	ClientURL    string        `yaml:"clientURL"`    // 前端地址（WebSocket Origin校验）
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`   // 数据库驱动类型：mysql / sqlite
	Host     string `yaml:"host"`     // 数据库主机地址
	Port     int    `yaml:"port"`     // 数据库端口
	Username string `yaml:"username"` // 数据库用户名
	Password string `yaml:"password"` // 数据库密码
	Database string `yaml:"database"` // 数据库名称（sqlite时为文件路径）
	Charset  string `yaml:"charset"`  // 字符集
	MaxIdle  int    `yaml:"maxIdle"`  // 最大空闲连接数
	MaxOpen  int    `yaml:"maxOpen"`  // 最大打开连接数
	LogSQL   bool   `yaml:"logSQL"`   // 是否打印SQL
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret     string        `yaml:"secret"`     // JWT密钥
	ExpireTime time.Duration `yaml:"expireTime"` // JWT过期时间
	Issuer     string        `yaml:"issuer"`     // JWT签发者
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`      // 日志级别
	Filename   string `yaml:"filename"`   // 日志文件名
	MaxSize    int    `yaml:"maxSize"`    // 单个日志文件最大大小(MB)
	MaxBackups int    `yaml:"maxBackups"` // 最大备份文件数
	MaxAge     int    `yaml:"maxAge"`     // 最大保存天数
	Compress   bool   `yaml:"compress"`   // 是否压缩
}

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`  // 是否启用在线状态镜像
	Host     string `yaml:"host"`     // Redis主机地址
	Port     int    `yaml:"port"`     // Redis端口
	Password string `yaml:"password"` // Redis密码
	DB       int    `yaml:"db"`       // Redis数据库编号
}

// WebSocketConfig WebSocket 配置
type WebSocketConfig struct {
	PingInterval  time.Duration `yaml:"pingInterval"`  // 发送ping的间隔
	ReadTimeout   time.Duration `yaml:"readTimeout"`   // 读超时时间（未收到任何数据则断开）
	SendBuffer    int           `yaml:"sendBuffer"`    // 每个连接的发送缓冲
	TypingTimeout time.Duration `yaml:"typingTimeout"` // 输入状态自动结束时间
}

// MessageConfig 消息规则配置
type MessageConfig struct {
	EditWindow    time.Duration `yaml:"editWindow"`    // 编辑/撤回时间窗口
	MaxTextLength int           `yaml:"maxTextLength"` // 文本最大长度
}

// UploadConfig 媒体上传配置
type UploadConfig struct {
	Dir      string `yaml:"dir"`      // 本地存储目录
	BaseURL  string `yaml:"baseURL"`  // 对外访问前缀
	MaxBytes int64  `yaml:"maxBytes"` // 单个文件最大字节数
}

// AMQPConfig 领域事件投递配置
type AMQPConfig struct {
	URL      string `yaml:"url"`      // 为空时使用noop发布器
	Exchange string `yaml:"exchange"` // topic交换机
}

// RateLimitConfig 接口限流配置
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`   // 每秒请求数
	Burst int     `yaml:"burst"` // 突发容量
}

// PushConfig Web Push配置（仅向客户端暴露公钥，推送由外部worker完成）
type PushConfig struct {
	VapidPublicKey string `yaml:"vapidPublicKey"`
}

// LoadConfig 加载配置（混合方式：.env + YAML文件 + 环境变量）
func LoadConfig() *Config {
	return LoadConfigFrom(DefaultConfigPath)
}

// LoadConfigFrom 从指定路径加载配置
func LoadConfigFrom(filePath string) *Config {
	// 0. 本地开发时从 .env 注入环境变量（不存在则忽略）
	_ = godotenv.Load()

	// 1. 首先从YAML文件加载默认配置
	config := loadFromYAML(filePath)

	// 2. 用环境变量覆盖配置（环境变量优先级更高）
	overrideWithEnvVars(config)

	// 3. 补齐未配置的字段
	fillDefaults(config)

	return config
}

// loadFromYAML 从YAML文件加载配置
func loadFromYAML(filePath string) *Config {
	data, err := os.ReadFile(filePath)
	if err != nil {
		// 如果文件不存在，返回默认配置
		return GetDefaultConfig()
	}

	// 在默认配置之上解析，yaml中缺省的字段保留默认值
	config := GetDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return GetDefaultConfig()
	}

	return config
}

// overrideWithEnvVars 用环境变量覆盖配置
func overrideWithEnvVars(config *Config) {
	// 服务器配置
	if port := getEnv("SERVER_PORT", ""); port != "" {
		config.Server.Port = port
	}
	if timeout := getEnvDuration("SERVER_READ_TIMEOUT", 0); timeout > 0 {
		config.Server.ReadTimeout = timeout
	}
	if timeout := getEnvDuration("SERVER_WRITE_TIMEOUT", 0); timeout > 0 {
		config.Server.WriteTimeout = timeout
	}
	if timeout := getEnvDuration("SERVER_IDLE_TIMEOUT", 0); timeout > 0 {
		config.Server.IdleTimeout = timeout
	}
	if clientURL := getEnv("CLIENT_URL", ""); clientURL != "" {
		config.Server.ClientURL = clientURL
	}

	// 数据库配置
	if driver := getEnv("DB_DRIVER", ""); driver != "" {
		config.Database.Driver = driver
	}
	if host := getEnv("DB_HOST", ""); host != "" {
		config.Database.Host = host
	}
	if port := getEnvInt("DB_PORT", 0); port > 0 {
		config.Database.Port = port
	}
	if username := getEnv("DB_USERNAME", ""); username != "" {
		config.Database.Username = username
	}
	if password := getEnv("DB_PASSWORD", ""); password != "" {
		config.Database.Password = password
	}
	if database := getEnv("DB_DATABASE", ""); database != "" {
		config.Database.Database = database
	}
	if maxIdle := getEnvInt("DB_MAX_IDLE", 0); maxIdle > 0 {
		config.Database.MaxIdle = maxIdle
	}
	if maxOpen := getEnvInt("DB_MAX_OPEN", 0); maxOpen > 0 {
		config.Database.MaxOpen = maxOpen
	}
	config.Database.LogSQL = getEnvBool("DB_LOG_SQL", config.Database.LogSQL)

	// JWT配置
	if secret := getEnv("JWT_SECRET", ""); secret != "" {
		config.JWT.Secret = secret
	}
	if expireTime := getEnvDuration("JWT_EXPIRE_TIME", 0); expireTime > 0 {
		config.JWT.ExpireTime = expireTime
	}
	if issuer := getEnv("JWT_ISSUER", ""); issuer != "" {
		config.JWT.Issuer = issuer
	}

	// 日志配置
	if level := getEnv("LOG_LEVEL", ""); level != "" {
		config.Log.Level = level
	}
	if filename := getEnv("LOG_FILENAME", ""); filename != "" {
		config.Log.Filename = filename
	}

	// Redis配置
	config.Redis.Enabled = getEnvBool("REDIS_ENABLED", config.Redis.Enabled)
	if host := getEnv("REDIS_HOST", ""); host != "" {
		config.Redis.Host = host
	}
	if port := getEnvInt("REDIS_PORT", 0); port > 0 {
		config.Redis.Port = port
	}
	if password := getEnv("REDIS_PASSWORD", ""); password != "" {
		config.Redis.Password = password
	}
	if db := getEnvInt("REDIS_DB", -1); db >= 0 {
		config.Redis.DB = db
	}

	// WebSocket配置
	if d := getEnvDuration("WS_PING_INTERVAL", 0); d > 0 {
		config.WebSocket.PingInterval = d
	}
	if d := getEnvDuration("WS_READ_TIMEOUT", 0); d > 0 {
		config.WebSocket.ReadTimeout = d
	}
	if d := getEnvDuration("WS_TYPING_TIMEOUT", 0); d > 0 {
		config.WebSocket.TypingTimeout = d
	}

	// 上传配置
	if dir := getEnv("UPLOAD_DIR", ""); dir != "" {
		config.Upload.Dir = dir
	}
	if baseURL := getEnv("UPLOAD_BASE_URL", ""); baseURL != "" {
		config.Upload.BaseURL = baseURL
	}

	// AMQP配置
	if url := getEnv("AMQP_URL", ""); url != "" {
		config.AMQP.URL = url
	}
	if exchange := getEnv("AMQP_EXCHANGE", ""); exchange != "" {
		config.AMQP.Exchange = exchange
	}

	// 推送配置
	if key := getEnv("VAPID_PUBLIC_KEY", ""); key != "" {
		config.Push.VapidPublicKey = key
	}
}

// fillDefaults 对零值字段回填默认值
func fillDefaults(config *Config) {
	def := GetDefaultConfig()
	if config.WebSocket.PingInterval <= 0 {
		config.WebSocket.PingInterval = def.WebSocket.PingInterval
	}
	if config.WebSocket.ReadTimeout <= 0 {
		config.WebSocket.ReadTimeout = def.WebSocket.ReadTimeout
	}
	if config.WebSocket.SendBuffer <= 0 {
		config.WebSocket.SendBuffer = def.WebSocket.SendBuffer
	}
	if config.WebSocket.TypingTimeout <= 0 {
		config.WebSocket.TypingTimeout = def.WebSocket.TypingTimeout
	}
	if config.Message.EditWindow <= 0 {
		config.Message.EditWindow = def.Message.EditWindow
	}
	if config.Message.MaxTextLength <= 0 {
		config.Message.MaxTextLength = def.Message.MaxTextLength
	}
	if config.Upload.MaxBytes <= 0 {
		config.Upload.MaxBytes = def.Upload.MaxBytes
	}
	if config.AMQP.Exchange == "" {
		config.AMQP.Exchange = def.AMQP.Exchange
	}
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			ClientURL:    "http://localhost:5173",
		},
		Database: DatabaseConfig{
			Driver:   "mysql",
			Host:     "localhost",
			Port:     3306,
			Username: "chatify",
			Password: "chatify",
			Database: "chatify",
			Charset:  "utf8mb4",
			MaxIdle:  10,
			MaxOpen:  100,
		},
		JWT: JWTConfig{
			Secret:     "your-secret-key",
			ExpireTime: 7 * 24 * time.Hour,
			Issuer:     "chatify",
		},
		Log: LogConfig{
			Level:      "info",
			Filename:   "logs/app.log",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
		Redis: RedisConfig{
			Enabled: false,
			Host:    "localhost",
			Port:    6379,
			DB:      0,
		},
		WebSocket: WebSocketConfig{
			PingInterval:  30 * time.Second,
			ReadTimeout:   90 * time.Second,
			SendBuffer:    256,
			TypingTimeout: 2 * time.Second,
		},
		Message: MessageConfig{
			EditWindow:    15 * time.Minute,
			MaxTextLength: 2000,
		},
		Upload: UploadConfig{
			Dir:      "uploads",
			BaseURL:  "/uploads",
			MaxBytes: 10 << 20,
		},
		AMQP: AMQPConfig{
			Exchange: "chatify.events",
		},
		RateLimit: RateLimitConfig{
			RPS:   20,
			Burst: 40,
		},
	}
}

// 辅助函数：获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// 辅助函数：获取整数环境变量
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// 辅助函数：获取布尔环境变量
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// 辅助函数：获取时间环境变量
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
