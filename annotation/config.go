package annotation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	KeyGeminiAPIKey          = "gemini.api_key"
	KeyGeminiModel           = "gemini.model"
	KeyGeminiTemperature     = "gemini.temperature"
	KeyGeminiTopP            = "gemini.top_p"
	KeyGeminiTopK            = "gemini.top_k"
	KeyGeminiMaxOutputTokens = "gemini.max_output_tokens"
	KeyGeminiTimeout         = "gemini.timeout"
	KeyGeminiMaxAttempts     = "gemini.max_attempts"
	KeyGeminiRetryDelay      = "gemini.retry_delay"
	KeyGeminiRPM             = "gemini.requests_per_minute"
	KeyGeminiPromptFile      = "gemini.prompt_file"

	KeyDatabaseURL          = "database.url"
	KeyDatabaseMaxOpenConns = "database.max_open_conns"
	KeyDatabaseMaxIdleConns = "database.max_idle_conns"

	KeyS3Bucket          = "s3.bucket"
	KeyS3Region          = "s3.region"
	KeyS3AccessKeyID     = "s3.access_key_id"
	KeyS3SecretAccessKey = "s3.secret_access_key"
	KeyS3Endpoint        = "s3.endpoint"
	KeyS3Prefix          = "s3.prefix"

	KeyFTPHost     = "ftp.host"
	KeyFTPUser     = "ftp.user"
	KeyFTPPassword = "ftp.password"
	KeyFTPPort     = "ftp.port"
	KeyFTPImageDir = "ftp.image_dir"
	KeyFTPTimeout  = "ftp.timeout"

	KeyLogDir        = "log.dir"
	KeyBatchWorkers  = "batch.workers"
	KeyBatchLocalDir = "batch.local_dir"
)

// envNames keeps the variable names the deployment already uses. The first
// name that is set wins.
var envNames = map[string][]string{
	KeyGeminiAPIKey:          {"GOOGLE_API_KEY_IMAGE", "GEMINI_API_KEY"},
	KeyGeminiModel:           {"GEMINI_MODEL"},
	KeyGeminiTemperature:     {"GEMINI_TEMPERATURE"},
	KeyGeminiTopP:            {"GEMINI_TOP_P"},
	KeyGeminiTopK:            {"GEMINI_TOP_K"},
	KeyGeminiMaxOutputTokens: {"GEMINI_MAX_OUTPUT_TOKENS"},
	KeyGeminiRPM:             {"GEMINI_REQUESTS_PER_MINUTE"},
	KeyGeminiPromptFile:      {"GEMINI_PROMPT_FILE"},
	KeyDatabaseURL:           {"DATABASE_URL"},
	KeyS3Bucket:              {"S3_BUCKET"},
	KeyS3Region:              {"AWS_REGION"},
	KeyS3AccessKeyID:         {"AWS_ACCESS_KEY_ID"},
	KeyS3SecretAccessKey:     {"AWS_SECRET_ACCESS_KEY"},
	KeyS3Endpoint:            {"S3_ENDPOINT"},
	KeyFTPHost:               {"FTP_HOST"},
	KeyFTPUser:               {"FTP_USER"},
	KeyFTPPassword:           {"FTP_PASSWORD"},
	KeyFTPPort:               {"FTP_PORT"},
	KeyFTPImageDir:           {"FTP_IMAGE_DIR"},
	KeyLogDir:                {"LOG_DIR"},
}

var defaults = map[string]any{
	KeyGeminiModel:           "gemini-2.5-flash",
	KeyGeminiTemperature:     0.0,
	KeyGeminiTopP:            1.0,
	KeyGeminiTopK:            1,
	KeyGeminiMaxOutputTokens: 65536,
	KeyGeminiTimeout:         120 * time.Second,
	KeyGeminiMaxAttempts:     3,
	KeyGeminiRetryDelay:      5 * time.Second,
	KeyGeminiRPM:             0,
	KeyDatabaseMaxOpenConns:  15,
	KeyDatabaseMaxIdleConns:  5,
	KeyS3Bucket:              "nanow",
	KeyS3Region:              "ap-northeast-2",
	KeyS3Prefix:              "rapa25/data/raw_image",
	KeyFTPPort:               21,
	KeyFTPTimeout:            30 * time.Second,
	KeyLogDir:                "logs",
	KeyBatchWorkers:          4,
	KeyBatchLocalDir:         "downloads",
}

type Config struct {
	Gemini struct {
		GeminiConfig
		Timeout           time.Duration
		MaxAttempts       int
		RetryDelay        time.Duration
		RequestsPerMinute int
		PromptFile        string
	}
	Database struct {
		URL          string
		MaxOpenConns int
		MaxIdleConns int
	}
	S3 struct {
		Bucket          string
		Region          string
		AccessKeyID     string
		SecretAccessKey string
		Endpoint        string
		Prefix          string
	}
	FTP struct {
		Host     string
		User     string
		Password string
		Port     int
		ImageDir string
		Timeout  time.Duration
	}
	LogDir   string
	Workers  int
	LocalDir string
}

// NewViper returns a viper instance with defaults and environment bindings.
// configFile is optional.
func NewViper(configFile string) (*viper.Viper, error) {
	vp := viper.New()
	for key, value := range defaults {
		vp.SetDefault(key, value)
	}
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.SetEnvPrefix("PUNGYEONG")
	vp.AutomaticEnv()
	for key, names := range envNames {
		args := append([]string{key}, names...)
		if err := vp.BindEnv(args...); err != nil {
			return nil, err
		}
	}
	if configFile != "" {
		vp.SetConfigFile(configFile)
		if err := vp.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("while reading config file '%s': %w", configFile, err)
		}
	}
	return vp, nil
}

func LoadConfig(configFile string) (*Config, error) {
	vp, err := NewViper(configFile)
	if err != nil {
		return nil, err
	}
	return ConfigFromViper(vp), nil
}

func ConfigFromViper(vp *viper.Viper) *Config {
	var c Config
	c.Gemini.APIKey = vp.GetString(KeyGeminiAPIKey)
	c.Gemini.Model = vp.GetString(KeyGeminiModel)
	c.Gemini.Temperature = float32(vp.GetFloat64(KeyGeminiTemperature))
	c.Gemini.TopP = float32(vp.GetFloat64(KeyGeminiTopP))
	c.Gemini.TopK = vp.GetInt32(KeyGeminiTopK)
	c.Gemini.MaxOutputTokens = vp.GetInt32(KeyGeminiMaxOutputTokens)
	c.Gemini.Timeout = vp.GetDuration(KeyGeminiTimeout)
	c.Gemini.MaxAttempts = vp.GetInt(KeyGeminiMaxAttempts)
	c.Gemini.RetryDelay = vp.GetDuration(KeyGeminiRetryDelay)
	c.Gemini.RequestsPerMinute = vp.GetInt(KeyGeminiRPM)
	c.Gemini.PromptFile = vp.GetString(KeyGeminiPromptFile)

	c.Database.URL = vp.GetString(KeyDatabaseURL)
	c.Database.MaxOpenConns = vp.GetInt(KeyDatabaseMaxOpenConns)
	c.Database.MaxIdleConns = vp.GetInt(KeyDatabaseMaxIdleConns)

	c.S3.Bucket = vp.GetString(KeyS3Bucket)
	c.S3.Region = vp.GetString(KeyS3Region)
	c.S3.AccessKeyID = vp.GetString(KeyS3AccessKeyID)
	c.S3.SecretAccessKey = vp.GetString(KeyS3SecretAccessKey)
	c.S3.Endpoint = vp.GetString(KeyS3Endpoint)
	c.S3.Prefix = vp.GetString(KeyS3Prefix)

	c.FTP.Host = vp.GetString(KeyFTPHost)
	c.FTP.User = vp.GetString(KeyFTPUser)
	c.FTP.Password = vp.GetString(KeyFTPPassword)
	c.FTP.Port = vp.GetInt(KeyFTPPort)
	c.FTP.ImageDir = vp.GetString(KeyFTPImageDir)
	c.FTP.Timeout = vp.GetDuration(KeyFTPTimeout)

	c.LogDir = vp.GetString(KeyLogDir)
	c.Workers = vp.GetInt(KeyBatchWorkers)
	c.LocalDir = vp.GetString(KeyBatchLocalDir)
	return &c
}

// ClientOptions derives the retry policy of the annotation client.
func (c *Config) ClientOptions() ClientOptions {
	return ClientOptions{
		MaxAttempts:       c.Gemini.MaxAttempts,
		Timeout:           c.Gemini.Timeout,
		RetryDelay:        c.Gemini.RetryDelay,
		RequestsPerMinute: c.Gemini.RequestsPerMinute,
	}
}

func (c *Config) ValidateGemini() error {
	if c.Gemini.APIKey == "" {
		return errors.New("missing model credentials: set GOOGLE_API_KEY_IMAGE or GEMINI_API_KEY")
	}
	return nil
}

func (c *Config) ValidateDatabase() error {
	if c.Database.URL == "" {
		return errors.New("missing database connection: set DATABASE_URL")
	}
	return nil
}

func (c *Config) ValidateS3() error {
	if c.S3.Bucket == "" {
		return errors.New("missing object store bucket: set S3_BUCKET")
	}
	return nil
}

func (c *Config) ValidateFTP() error {
	var missing []string
	if c.FTP.Host == "" {
		missing = append(missing, "FTP_HOST")
	}
	if c.FTP.User == "" {
		missing = append(missing, "FTP_USER")
	}
	if c.FTP.Password == "" {
		missing = append(missing, "FTP_PASSWORD")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing remote file source credentials: set %s", strings.Join(missing, ", "))
	}
	return nil
}

// ValidateBatch checks everything a batch run needs before it starts.
func (c *Config) ValidateBatch() error {
	return errors.Join(c.ValidateGemini(), c.ValidateDatabase(), c.ValidateS3(), c.ValidateFTP())
}
