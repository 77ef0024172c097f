package config

import (
	"os"
	"strconv"
	"time"

	"github.com/Krimson/holter-monitory/pkg/pubsub"
)

// Config содержит настройки сервиса выдачи адресов загрузки
type Config struct {
	HTTPPort string

	// MQTT
	MQTT                pubsub.Config
	RequestTopic        string
	ResponseTopicPrefix string

	// S3
	Bucket        string
	Region        string
	Endpoint      string
	UsePathStyle  bool
	AccessKeyID   string
	SecretKey     string
	URLExpiration time.Duration

	// PostgreSQL; пустой DSN - журнал в памяти
	PostgresDSN string
}

// Load загружает конфигурацию из переменных окружения с дефолтными значениями
func Load() *Config {
	return &Config{
		HTTPPort: getEnvString("HTTP_PORT", "8090"),

		MQTT: pubsub.Config{
			Broker:         getEnvString("MQTT_BROKER", "tcp://localhost:1883"),
			ClientID:       getEnvString("MQTT_CLIENT_ID", ""),
			QoS:            byte(getEnvInt("MQTT_QOS", 1)),
			ConnectTimeout: 10 * time.Second,
			PublishTimeout: 5 * time.Second,
		},
		RequestTopic:        getEnvString("MQTT_REQUEST_TOPIC", "holter/upload-request"),
		ResponseTopicPrefix: getEnvString("MQTT_RESPONSE_PREFIX", "holter/upload-url/"),

		Bucket:        getEnvString("S3_BUCKET_NAME", "holter-raw-data"),
		Region:        getEnvString("AWS_REGION", "us-east-1"),
		Endpoint:      getEnvString("S3_ENDPOINT", ""),
		UsePathStyle:  getEnvBool("S3_USE_PATH_STYLE", false),
		AccessKeyID:   getEnvString("AWS_ACCESS_KEY_ID", ""),
		SecretKey:     getEnvString("AWS_SECRET_ACCESS_KEY", ""),
		URLExpiration: time.Duration(getEnvInt("URL_EXPIRATION", 3600)) * time.Second,

		PostgresDSN: getEnvString("POSTGRES_DSN", ""),
	}
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
