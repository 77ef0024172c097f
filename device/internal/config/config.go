package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Krimson/holter-monitory/device/internal/handshake"
	"github.com/Krimson/holter-monitory/device/internal/sampler"
	"github.com/Krimson/holter-monitory/device/internal/transfer"
	"github.com/Krimson/holter-monitory/device/internal/writer"
	"github.com/Krimson/holter-monitory/pkg/pubsub"
)

var ErrInvalid = errors.New("invalid configuration")

// Config содержит все настройки устройства
type Config struct {
	// Устройство
	DeviceID   uint16 `yaml:"device_id"`
	DeviceName string `yaml:"device_name"`

	// Хранилище: пустой StorageDir или Simulate - хранилище в памяти
	StorageDir string `yaml:"storage_dir"`
	Simulate   bool   `yaml:"simulate"`

	// Захват
	CaptureDuration  time.Duration `yaml:"capture_duration"`
	ECGRateHz        int           `yaml:"ecg_rate_hz"`
	IMURateHz        int           `yaml:"imu_rate_hz"`
	BufferSize       int           `yaml:"buffer_size"`
	FlushInterval    time.Duration `yaml:"flush_interval"`
	ProgressInterval time.Duration `yaml:"progress_interval"`

	// Загрузка
	MQTT                pubsub.Config `yaml:"mqtt"`
	RequestTopic        string        `yaml:"request_topic"`
	HandshakeTimeout    time.Duration `yaml:"handshake_timeout"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	TransferTimeout     time.Duration `yaml:"transfer_timeout"`
	UploadAttempts      int           `yaml:"upload_attempts"`
	RetryBackoff        time.Duration `yaml:"retry_backoff"`
	IdleBetweenSessions time.Duration `yaml:"idle_between_sessions"`
	MaxSessions         int           `yaml:"max_sessions"`

	// Серверы
	GRPCPort string `yaml:"grpc_port"`
	HTTPPort string `yaml:"http_port"`

	// Redis для журнала сессий; пустой адрес - журнал в памяти
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	Synthetic sampler.SyntheticConfig `yaml:"synthetic"`
}

// Default возвращает настройки по умолчанию
func Default() *Config {
	return &Config{
		DeviceID:   1,
		DeviceName: "holter-001",

		StorageDir: "./data",

		CaptureDuration:  15 * time.Second,
		ECGRateHz:        250,
		IMURateHz:        0,
		BufferSize:       writer.DefaultBufferSize,
		FlushInterval:    2 * time.Second,
		ProgressInterval: 3 * time.Second,

		MQTT: pubsub.Config{
			Broker:         "tcp://localhost:1883",
			QoS:            1,
			KeepAlive:      30 * time.Second,
			ConnectTimeout: 10 * time.Second,
			PublishTimeout: 5 * time.Second,
		},
		RequestTopic:        handshake.DefaultRequestTopic,
		HandshakeTimeout:    handshake.DefaultTimeout,
		PollInterval:        handshake.DefaultPollInterval,
		TransferTimeout:     transfer.DefaultTimeout,
		UploadAttempts:      1,
		RetryBackoff:        5 * time.Second,
		IdleBetweenSessions: 5 * time.Second,

		GRPCPort: "50051",
		HTTPPort: "8080",

		Synthetic: sampler.DefaultSyntheticConfig(),
	}
}

// Load собирает конфигурацию: значения по умолчанию, затем YAML-файл из
// HOLTER_CONFIG (если задан), затем переменные окружения.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("HOLTER_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	deviceID := getEnvInt("DEVICE_ID", int(c.DeviceID))
	if deviceID < 0 || deviceID > math.MaxUint16 {
		return fmt.Errorf("%w: device id %d out of range", ErrInvalid, deviceID)
	}
	c.DeviceID = uint16(deviceID)
	c.DeviceName = getEnvString("DEVICE_NAME", c.DeviceName)

	c.StorageDir = getEnvString("STORAGE_DIR", c.StorageDir)
	c.Simulate = getEnvBool("SIMULATE", c.Simulate)

	c.CaptureDuration = getEnvDuration("CAPTURE_DURATION", c.CaptureDuration)
	c.ECGRateHz = getEnvInt("ECG_RATE_HZ", c.ECGRateHz)
	c.IMURateHz = getEnvInt("IMU_RATE_HZ", c.IMURateHz)
	c.BufferSize = getEnvInt("BUFFER_SIZE", c.BufferSize)
	c.FlushInterval = getEnvDuration("FLUSH_INTERVAL", c.FlushInterval)
	c.ProgressInterval = getEnvDuration("PROGRESS_INTERVAL", c.ProgressInterval)

	c.MQTT.Broker = getEnvString("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.ClientID = getEnvString("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.RequestTopic = getEnvString("MQTT_REQUEST_TOPIC", c.RequestTopic)
	c.HandshakeTimeout = getEnvDuration("HANDSHAKE_TIMEOUT", c.HandshakeTimeout)
	c.PollInterval = getEnvDuration("HANDSHAKE_POLL_INTERVAL", c.PollInterval)
	c.TransferTimeout = getEnvDuration("TRANSFER_TIMEOUT", c.TransferTimeout)
	c.UploadAttempts = getEnvInt("UPLOAD_ATTEMPTS", c.UploadAttempts)
	c.RetryBackoff = getEnvDuration("RETRY_BACKOFF", c.RetryBackoff)
	c.IdleBetweenSessions = getEnvDuration("IDLE_BETWEEN_SESSIONS", c.IdleBetweenSessions)
	c.MaxSessions = getEnvInt("MAX_SESSIONS", c.MaxSessions)

	c.GRPCPort = getEnvString("GRPC_PORT", c.GRPCPort)
	c.HTTPPort = getEnvString("HTTP_PORT", c.HTTPPort)

	c.RedisAddr = getEnvString("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnvString("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	return nil
}

// Validate проверяет значения, которые нельзя исправить по умолчанию
func (c *Config) Validate() error {
	if c.CaptureDuration <= 0 {
		return fmt.Errorf("%w: capture duration must be positive, got %v", ErrInvalid, c.CaptureDuration)
	}
	if c.ECGRateHz <= 0 || c.ECGRateHz > sampler.MaxRateHz {
		return fmt.Errorf("%w: ecg rate %d Hz", ErrInvalid, c.ECGRateHz)
	}
	if c.IMURateHz < 0 || c.IMURateHz > sampler.MaxRateHz {
		return fmt.Errorf("%w: imu rate %d Hz", ErrInvalid, c.IMURateHz)
	}
	if c.BufferSize < 6 {
		return fmt.Errorf("%w: buffer size %d smaller than one record", ErrInvalid, c.BufferSize)
	}
	if c.UploadAttempts < 1 {
		return fmt.Errorf("%w: upload attempts %d", ErrInvalid, c.UploadAttempts)
	}
	if c.MaxSessions < 0 {
		return fmt.Errorf("%w: max sessions %d", ErrInvalid, c.MaxSessions)
	}
	return nil
}

// UseMemoryStore - писать ли сессии в память вместо каталога
func (c *Config) UseMemoryStore() bool {
	return c.Simulate || c.StorageDir == ""
}

// DeviceKey - идентификатор устройства в топиках и ключах S3
func (c *Config) DeviceKey() string {
	return c.DeviceName
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration принимает "15s" или целое число миллисекунд
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
