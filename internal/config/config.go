package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"gate-service/internal/domain/access"
)

type Config struct {
	Environment string
	Log         LogConfig
	HTTP        HTTPConfig
	Auth        AuthConfig
	DB          DBConfig
	Storage     StorageConfig
	Serial      SerialConfig
	Session     SessionConfig
	Vision      VisionConfig
	Camera      CameraConfig
	MQTT        MQTTConfig
	Events      EventsConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type HTTPConfig struct {
	Port        string
	CORSOrigins []string
	PreviewFPS  int
}

type AuthConfig struct {
	JWTSecret string
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN is the postgres connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// DSNForLog is DSN with the password masked.
func (c DBConfig) DSNForLog() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=*** dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Name, c.SSLMode)
}

type StorageConfig struct {
	BaseDir        string
	EmbeddingCache string
}

type SerialConfig struct {
	Port              string
	BaudRate          int
	SettleDelay       time.Duration
	HandshakeTimeout  time.Duration
	DistanceThreshold int
}

type SessionConfig struct {
	Flow             access.Flow
	DetectionTimeout time.Duration
	DisplayDelay     time.Duration
	HighThreshold    float64
	LowThreshold     float64
}

type VisionConfig struct {
	BaseURL string
	Timeout time.Duration
}

type CameraConfig struct {
	Source   string
	URL      string
	Username string
	Password string
	Device   string
	Width    int
	Height   int
	Timeout  time.Duration
}

type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      int
}

type EventsConfig struct {
	RetentionDays int
}

func (c *Config) IsDev() bool {
	return c.Environment == "dev"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "production")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("http.port", "8080")
	v.SetDefault("http.cors_origins", "*")
	v.SetDefault("http.preview_fps", 10)
	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "gate")
	v.SetDefault("db.sslmode", "disable")

	v.SetDefault("storage.base_dir", "data")
	v.SetDefault("storage.embedding_cache", "")

	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.settle_delay", "2s")
	v.SetDefault("serial.handshake_timeout", "3s")
	v.SetDefault("serial.distance_threshold", 20)

	v.SetDefault("session.flow", string(access.FlowVehicle))
	v.SetDefault("session.detection_timeout", "10s")
	v.SetDefault("session.display_delay", "5s")
	v.SetDefault("session.high_threshold", 0.75)
	v.SetDefault("session.low_threshold", 0.50)

	v.SetDefault("vision.base_url", "http://localhost:9000")
	v.SetDefault("vision.timeout", "5s")

	v.SetDefault("camera.source", "http")
	v.SetDefault("camera.url", "http://localhost:8554/snapshot.jpg")
	v.SetDefault("camera.username", "")
	v.SetDefault("camera.password", "")
	v.SetDefault("camera.device", "/dev/video0")
	v.SetDefault("camera.width", 640)
	v.SetDefault("camera.height", 480)
	v.SetDefault("camera.timeout", "3s")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "gate-service")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic", "gate/access")
	v.SetDefault("mqtt.qos", 1)

	v.SetDefault("events.retention_days", 90)
}

// Load reads .env (if present), an optional config file and GATE_* environment
// variables, in increasing order of precedence. Nested keys map to variables
// with dots replaced by underscores, e.g. GATE_SESSION_FLOW.
func Load(configFile string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("GATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		Environment: v.GetString("environment"),
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		HTTP: HTTPConfig{
			Port:        v.GetString("http.port"),
			CORSOrigins: splitList(v.GetString("http.cors_origins")),
			PreviewFPS:  v.GetInt("http.preview_fps"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("auth.jwt_secret"),
		},
		DB: DBConfig{
			Host:     v.GetString("db.host"),
			Port:     v.GetString("db.port"),
			User:     v.GetString("db.user"),
			Password: v.GetString("db.password"),
			Name:     v.GetString("db.name"),
			SSLMode:  v.GetString("db.sslmode"),
		},
		Storage: StorageConfig{
			BaseDir:        v.GetString("storage.base_dir"),
			EmbeddingCache: v.GetString("storage.embedding_cache"),
		},
		Serial: SerialConfig{
			Port:              v.GetString("serial.port"),
			BaudRate:          v.GetInt("serial.baud_rate"),
			SettleDelay:       v.GetDuration("serial.settle_delay"),
			HandshakeTimeout:  v.GetDuration("serial.handshake_timeout"),
			DistanceThreshold: v.GetInt("serial.distance_threshold"),
		},
		Session: SessionConfig{
			Flow:             access.Flow(strings.ToLower(v.GetString("session.flow"))),
			DetectionTimeout: v.GetDuration("session.detection_timeout"),
			DisplayDelay:     v.GetDuration("session.display_delay"),
			HighThreshold:    v.GetFloat64("session.high_threshold"),
			LowThreshold:     v.GetFloat64("session.low_threshold"),
		},
		Vision: VisionConfig{
			BaseURL: v.GetString("vision.base_url"),
			Timeout: v.GetDuration("vision.timeout"),
		},
		Camera: CameraConfig{
			Source:   strings.ToLower(v.GetString("camera.source")),
			URL:      v.GetString("camera.url"),
			Username: v.GetString("camera.username"),
			Password: v.GetString("camera.password"),
			Device:   v.GetString("camera.device"),
			Width:    v.GetInt("camera.width"),
			Height:   v.GetInt("camera.height"),
			Timeout:  v.GetDuration("camera.timeout"),
		},
		MQTT: MQTTConfig{
			Broker:   v.GetString("mqtt.broker"),
			ClientID: v.GetString("mqtt.client_id"),
			Username: v.GetString("mqtt.username"),
			Password: v.GetString("mqtt.password"),
			Topic:    v.GetString("mqtt.topic"),
			QoS:      v.GetInt("mqtt.qos"),
		},
		Events: EventsConfig{
			RetentionDays: v.GetInt("events.retention_days"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Session.Flow {
	case access.FlowVehicle, access.FlowAnonymous:
	default:
		return fmt.Errorf("config: unknown session flow %q", c.Session.Flow)
	}
	switch c.Camera.Source {
	case "http", "gst":
	default:
		return fmt.Errorf("config: unknown camera source %q", c.Camera.Source)
	}
	if c.Session.LowThreshold > c.Session.HighThreshold {
		return fmt.Errorf("config: low threshold %.2f exceeds high threshold %.2f",
			c.Session.LowThreshold, c.Session.HighThreshold)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("config: mqtt qos must be 0, 1 or 2")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
