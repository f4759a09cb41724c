package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/spf13/viper"

	"github.com/Ablestor/expo-electron-updates-server/internal/domain"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"Server"`
	Database DatabaseConfig `mapstructure:"Database"`
	Storage  StorageConfig  `mapstructure:"Storage"`
	Signing  SigningConfig  `mapstructure:"Signing"`
	GitHub   GitHubConfig   `mapstructure:"GitHub"`
	Assets   AssetsConfig   `mapstructure:"Assets"`
	Log      LogConfig      `mapstructure:"Log"`
}

type ServerConfig struct {
	Port        string `mapstructure:"Port"`
	BaseURL     string `mapstructure:"BaseURL"`
	GRPCPort    string `mapstructure:"GRPCPort"`
	MaxUploadMB int64  `mapstructure:"MaxUploadMB"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"Host"`
	Port     string `mapstructure:"Port"`
	User     string `mapstructure:"User"`
	Password string `mapstructure:"Password"`
	Name     string `mapstructure:"Name"`
	SSLMode  string `mapstructure:"SSLMode"`
}

type StorageConfig struct {
	Driver    string `mapstructure:"Driver"`
	LocalPath string `mapstructure:"LocalPath"`
}

type SigningConfig struct {
	PrivateKeyPath string `mapstructure:"PrivateKeyPath"`
}

type GitHubConfig struct {
	Token      string `mapstructure:"Token"`
	Owner      string `mapstructure:"Owner"`
	Repository string `mapstructure:"Repository"`
}

type AssetsConfig struct {
	CollisionPolicy domain.AssetCollisionPolicy `mapstructure:"CollisionPolicy"`
}

type LogConfig struct {
	Level string `mapstructure:"Level"`
}

const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

func NewConfig(path string) (*Config, error) {
	v := viper.New()

	// Устанавливаем файл конфигурации
	v.SetConfigFile(path)

	// Привязываем переменные окружения
	v.BindEnv("Database.Host", "DATABASE_HOST")
	v.BindEnv("Database.Port", "DATABASE_PORT")
	v.BindEnv("Database.User", "DATABASE_USER")
	v.BindEnv("Database.Password", "DATABASE_PASSWORD")
	v.BindEnv("Database.Name", "DATABASE_NAME")
	v.BindEnv("Database.SSLMode", "DATABASE_SSLMODE")
	v.BindEnv("Server.Port", "HTTP_PORT")
	v.BindEnv("Server.GRPCPort", "GRPC_PORT")
	v.BindEnv("Server.BaseURL", "BASE_URL")
	v.BindEnv("Server.MaxUploadMB", "MAX_UPLOAD_MB")
	v.BindEnv("Storage.Driver", "STORAGE_DRIVER")
	v.BindEnv("Storage.LocalPath", "FILE_LOCAL_STORAGE_PATH")
	v.BindEnv("Signing.PrivateKeyPath", "PRIVATE_KEY_PATH")
	v.BindEnv("GitHub.Token", "GIT_TOKEN")
	v.BindEnv("GitHub.Owner", "GIT_OWNER")
	v.BindEnv("GitHub.Repository", "GIT_REPOSITORY")
	v.BindEnv("Assets.CollisionPolicy", "ASSET_COLLISION_POLICY")
	v.BindEnv("Log.Level", "LOG_LEVEL")

	// Значения по умолчанию
	v.SetDefault("Database.SSLMode", "disable")
	v.SetDefault("Server.Port", "2525")
	v.SetDefault("Server.GRPCPort", "50051")
	v.SetDefault("Server.BaseURL", "http://localhost:2525")
	v.SetDefault("Server.MaxUploadMB", 100)
	v.SetDefault("Storage.Driver", StorageLocal)
	v.SetDefault("Storage.LocalPath", "./data")
	v.SetDefault("Assets.CollisionPolicy", string(domain.CollisionReuse))
	v.SetDefault("Log.Level", "info")

	// Читаем конфигурацию из файла
	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Warning: using only environment variables: %v\n", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	// Проверяем, что все необходимые поля заполнены
	if c.Database.Host == "" ||
		c.Database.Port == "" ||
		c.Database.User == "" ||
		c.Database.Password == "" ||
		c.Database.Name == "" {
		return fmt.Errorf("database configuration is incomplete: host=%s, port=%s, user=%s, name=%s",
			c.Database.Host, c.Database.Port, c.Database.User, c.Database.Name)
	}

	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	if c.Storage.Driver != StorageLocal && c.Storage.Driver != StorageS3 {
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Assets.CollisionPolicy {
	case domain.CollisionReuse, domain.CollisionReject:
	default:
		return fmt.Errorf("unknown asset collision policy %q", c.Assets.CollisionPolicy)
	}

	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive")
	}

	c.Server.BaseURL = strings.TrimSuffix(c.Server.BaseURL, "/")
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

// GetURL возвращает адрес базы для golang-migrate
func (c *DatabaseConfig) GetURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}
