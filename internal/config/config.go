package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/wfunc/homelink/internal/errors"
)

// DeviceCount 控制器固定的设备数量
const DeviceCount = 3

// Config 全局配置结构体
type Config struct {
	Controller ControllerConfig `mapstructure:"controller"`
	Serial     SerialConfig     `mapstructure:"serial"`
	Server     ServerConfig     `mapstructure:"server"`
	Bridge     BridgeConfig     `mapstructure:"bridge"`
	Database   DatabaseConfig   `mapstructure:"database"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Log        LogConfig        `mapstructure:"log"`
}

// ControllerConfig 设备控制器配置
type ControllerConfig struct {
	// LineDriver 输出驱动: memory（模拟）或 gpio（periph.io）
	LineDriver            string         `mapstructure:"line_driver"`
	PollInterval          time.Duration  `mapstructure:"poll_interval"`
	ReportOnInvalidToggle bool           `mapstructure:"report_on_invalid_toggle"`
	AcceptCRLF            bool           `mapstructure:"accept_crlf"`
	Devices               []DeviceConfig `mapstructure:"devices"`
}

// DeviceConfig 单个设备配置
type DeviceConfig struct {
	Pin     string `mapstructure:"pin"`
	Initial bool   `mapstructure:"initial"`
}

// SerialConfig 串口配置
type SerialConfig struct {
	// Port 为 "stdio" 时使用标准输入输出（调试用）
	Port        string        `mapstructure:"port"`
	BaudRate    int           `mapstructure:"baud_rate"`
	DataBits    int           `mapstructure:"data_bits"`
	StopBits    int           `mapstructure:"stop_bits"`
	Parity      string        `mapstructure:"parity"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// ServerConfig HTTP服务器配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// BridgeConfig 主机桥接配置
type BridgeConfig struct {
	Serial SerialConfig `mapstructure:"serial"`
	// SettleDelay 打开串口后等待控制器复位的时间
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
	LogExchanges    bool          `mapstructure:"log_exchanges"`
	// DevicePattern 设备路径失效后按 /dev/<pattern>N 扫描，为空时只重试配置的端口
	DevicePattern    string        `mapstructure:"device_pattern"`
	RetryInterval    time.Duration `mapstructure:"retry_interval"`
	MaxRetryInterval time.Duration `mapstructure:"max_retry_interval"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	QoS            byte          `mapstructure:"qos"`
	Retained       bool          `mapstructure:"retained"`
	CleanSession   bool          `mapstructure:"clean_session"`
	AutoReconnect  bool          `mapstructure:"auto_reconnect"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Topics         MQTTTopics    `mapstructure:"topics"`
}

// MQTTTopics MQTT主题配置
type MQTTTopics struct {
	Status  string `mapstructure:"status"`
	Command string `mapstructure:"command"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init 初始化全局配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		var loaded *Config
		v, loaded, err = load(configPath)
		if err != nil {
			return
		}
		mu.Lock()
		cfg = loaded
		mu.Unlock()
	})
	return err
}

// Load 读取并校验配置，不影响全局实例
func Load(configPath string) (*Config, error) {
	_, c, err := load(configPath)
	return c, err
}

func load(configPath string) (*viper.Viper, *Config, error) {
	vp := viper.New()

	if configPath != "" {
		vp.SetConfigFile(configPath)
	} else {
		vp.SetConfigName("config")
		vp.SetConfigType("yaml")
		vp.AddConfigPath("./config")
		vp.AddConfigPath(".")
	}

	vp.SetEnvPrefix("HOMELINK")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	setDefaults(vp)

	if err := vp.ReadInConfig(); err != nil {
		// 配置文件不存在时使用默认配置
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, errors.Wrap(err, errors.ErrConfigLoad)
		}
	}

	c := &Config{}
	if err := vp.Unmarshal(c); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrConfigParse)
	}
	replaceMQTTTopics(c)

	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	return vp, c, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 控制器默认配置（参考接线：7/10/12号引脚，初始 关/关/开）
	v.SetDefault("controller.line_driver", "memory")
	v.SetDefault("controller.poll_interval", "10ms")
	v.SetDefault("controller.report_on_invalid_toggle", true)
	v.SetDefault("controller.accept_crlf", false)
	v.SetDefault("controller.devices", []map[string]interface{}{
		{"pin": "7", "initial": false},
		{"pin": "10", "initial": false},
		{"pin": "12", "initial": true},
	})

	v.SetDefault("serial.port", "stdio")
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.read_timeout", "100ms")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 2137)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("bridge.serial.port", "/dev/ttyACM0")
	v.SetDefault("bridge.serial.baud_rate", 9600)
	v.SetDefault("bridge.serial.data_bits", 8)
	v.SetDefault("bridge.serial.stop_bits", 1)
	v.SetDefault("bridge.serial.parity", "N")
	v.SetDefault("bridge.serial.read_timeout", "100ms")
	v.SetDefault("bridge.settle_delay", "2s")
	v.SetDefault("bridge.response_timeout", "1s")
	v.SetDefault("bridge.log_exchanges", true)
	v.SetDefault("bridge.device_pattern", "ttyACM")
	v.SetDefault("bridge.retry_interval", "1s")
	v.SetDefault("bridge.max_retry_interval", "30s")

	v.SetDefault("database.enabled", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/homelink.db")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "homelink-bridge")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.clean_session", true)
	v.SetDefault("mqtt.auto_reconnect", true)
	v.SetDefault("mqtt.keep_alive", "30s")
	v.SetDefault("mqtt.connect_timeout", "10s")
	v.SetDefault("mqtt.topics.status", "homelink/{client_id}/status")
	v.SetDefault("mqtt.topics.command", "homelink/{client_id}/command")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "console")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "homelink.log")
	v.SetDefault("log.file.max_size", 20)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)
}

// Validate 校验配置
func (c *Config) Validate() error {
	if len(c.Controller.Devices) != DeviceCount {
		return errors.Newf(errors.ErrConfigValidate,
			"controller.devices 需要 %d 个设备，实际 %d 个", DeviceCount, len(c.Controller.Devices))
	}
	for i, d := range c.Controller.Devices {
		if d.Pin == "" {
			return errors.Newf(errors.ErrConfigValidate, "controller.devices[%d].pin 为空", i)
		}
	}

	switch c.Controller.LineDriver {
	case "memory", "gpio":
	default:
		return errors.Newf(errors.ErrConfigValidate, "不支持的输出驱动: %s", c.Controller.LineDriver)
	}

	if c.Controller.PollInterval < 0 {
		return errors.New(errors.ErrConfigValidate, "controller.poll_interval 不能为负")
	}
	if c.Bridge.ResponseTimeout <= 0 {
		return errors.New(errors.ErrConfigValidate, "bridge.response_timeout 必须大于0")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.New(errors.ErrConfigMissing, "mqtt.broker")
	}

	return nil
}

// replaceMQTTTopics 替换MQTT主题中的变量
func replaceMQTTTopics(c *Config) {
	clientID := c.MQTT.ClientID
	c.MQTT.Topics.Status = strings.ReplaceAll(c.MQTT.Topics.Status, "{client_id}", clientID)
	c.MQTT.Topics.Command = strings.ReplaceAll(c.MQTT.Topics.Command, "{client_id}", clientID)
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化
func Watch(callback func(*Config)) {
	if v == nil {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Fprintf(os.Stderr, "配置重载失败: %v\n", err)
			return
		}
		replaceMQTTTopics(newCfg)
		if err := newCfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "配置重载失败: %v\n", err)
			return
		}

		mu.Lock()
		cfg = newCfg
		mu.Unlock()

		if callback != nil {
			callback(newCfg)
		}
		fmt.Fprintf(os.Stderr, "配置已重新加载: %s\n", e.Name)
	})
	v.WatchConfig()
}
