package server

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ssm"
	"gopkg.in/yaml.v2"
)

// Config represents the server configuration
type Config struct {
	Server struct {
		HTTPPort        int    `yaml:"http_port" json:"http_port"`
		GRPCPort        int    `yaml:"grpc_port" json:"grpc_port"`
		MaxBodyBytes    int64  `yaml:"max_body_bytes" json:"max_body_bytes"`
		SessionTTL      int    `yaml:"session_ttl" json:"session_ttl"`
		SessionCookie   string `yaml:"session_cookie" json:"session_cookie"`
		SecureCookies   bool   `yaml:"secure_cookies" json:"secure_cookies"`
		ShutdownTimeout int    `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	} `yaml:"server" json:"server"`
	Log struct {
		Level string `yaml:"level" json:"level"`
		JSON  bool   `yaml:"json" json:"json"`
	} `yaml:"log" json:"log"`
	Auth struct {
		GoogleClientID string   `yaml:"google_client_id" json:"google_client_id"`
		AdminEmails    []string `yaml:"admin_emails" json:"admin_emails"`
		ResumeKey      string   `yaml:"resume_key" json:"resume_key"`
	} `yaml:"auth" json:"auth"`
	Documents struct {
		// Driver is "mongo", "firestore" or "dynamodb".
		Driver    string `yaml:"driver" json:"driver"`
		Mongo     struct {
			ConnectionString  string `yaml:"connection_string" json:"connection_string"`
			PasswordSecretArn string `yaml:"password_secret_arn" json:"password_secret_arn"`
			DatabaseName      string `yaml:"database_name" json:"database_name"`
			CAFile            string `yaml:"ca_file" json:"ca_file"`
		} `yaml:"mongo" json:"mongo"`
		Firestore struct {
			ProjectID string `yaml:"project_id" json:"project_id"`
		} `yaml:"firestore" json:"firestore"`
		DynamoDB struct {
			TableName string `yaml:"table_name" json:"table_name"`
			Endpoint  string `yaml:"endpoint" json:"endpoint"`
		} `yaml:"dynamodb" json:"dynamodb"`
	} `yaml:"documents" json:"documents"`
	Blobs struct {
		// Driver is "s3" or "bucket".
		Driver string `yaml:"driver" json:"driver"`
		S3     struct {
			BucketName    string `yaml:"bucket_name" json:"bucket_name"`
			Endpoint      string `yaml:"endpoint" json:"endpoint"`
			PublicBaseURL string `yaml:"public_base_url" json:"public_base_url"`
		} `yaml:"s3" json:"s3"`
		Bucket struct {
			URL           string `yaml:"url" json:"url"`
			PublicBaseURL string `yaml:"public_base_url" json:"public_base_url"`
		} `yaml:"bucket" json:"bucket"`
	} `yaml:"blobs" json:"blobs"`
	AWS struct {
		Region string `yaml:"region" json:"region"`
	} `yaml:"aws" json:"aws"`
	Redis struct {
		Address string `yaml:"address" json:"address"`
		TTL     int    `yaml:"ttl" json:"ttl"`
	} `yaml:"redis" json:"redis"`
}

// SessionTTLDuration returns the idle session lifetime.
func (c *Config) SessionTTLDuration() time.Duration {
	return time.Duration(c.Server.SessionTTL) * time.Second
}

// LoadConfig loads the configuration from a YAML file, or from AWS Parameter
// Store when source is "ssm".
func LoadConfig(source, path string) (*Config, error) {
	var (
		config *Config
		err    error
	)
	switch source {
	case "", "file":
		config, err = loadConfigFromFile(path)
	case "ssm":
		config, err = loadConfigFromParameterStore(path)
	default:
		return nil, fmt.Errorf("unknown config source: %s", source)
	}
	if err != nil {
		return nil, err
	}

	applyEnvironment(config)
	applyDefaults(config)
	return config, nil
}

// loadConfigFromFile loads the configuration from a YAML file
func loadConfigFromFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &config, nil
}

// loadConfigFromParameterStore loads the configuration from AWS Parameter Store
func loadConfigFromParameterStore(paramPath string) (*Config, error) {
	sess, err := session.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	param, err := ssm.New(sess).GetParameter(&ssm.GetParameterInput{
		Name:           aws.String(paramPath),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get parameter from Parameter Store: %w", err)
	}

	var config Config
	if err := json.Unmarshal([]byte(aws.StringValue(param.Parameter.Value)), &config); err != nil {
		return nil, fmt.Errorf("failed to parse parameter value as JSON: %w", err)
	}
	return &config, nil
}

// applyEnvironment overrides selected settings from the environment so that
// administrators and credentials can change without editing the file.
func applyEnvironment(config *Config) {
	if v := os.Getenv("PORTFOLIO_ADMIN_EMAILS"); v != "" {
		config.Auth.AdminEmails = splitList(v)
	}
	if v := os.Getenv("PORTFOLIO_MONGO_URI"); v != "" {
		config.Documents.Mongo.ConnectionString = v
	}
	if v := os.Getenv("PORTFOLIO_GOOGLE_CLIENT_ID"); v != "" {
		config.Auth.GoogleClientID = v
	}
	if v := os.Getenv("PORTFOLIO_LOG_LEVEL"); v != "" {
		config.Log.Level = v
	}
}

// applyDefaults sets default values for the configuration
func applyDefaults(config *Config) {
	if config.Server.HTTPPort == 0 {
		config.Server.HTTPPort = 8080
	}
	if config.Server.GRPCPort == 0 {
		config.Server.GRPCPort = 8081
	}
	if config.Server.MaxBodyBytes == 0 {
		config.Server.MaxBodyBytes = 32 << 20
	}
	if config.Server.SessionTTL == 0 {
		config.Server.SessionTTL = 12 * 3600
	}
	if config.Server.SessionCookie == "" {
		config.Server.SessionCookie = "portfolio_session"
	}
	if config.Server.ShutdownTimeout == 0 {
		config.Server.ShutdownTimeout = 10
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Auth.ResumeKey == "" {
		config.Auth.ResumeKey = "resume/cv.pdf"
	}
	if config.Documents.Driver == "" {
		config.Documents.Driver = "mongo"
	}
	if config.Documents.Mongo.DatabaseName == "" {
		config.Documents.Mongo.DatabaseName = "portfolio"
	}
	if config.Documents.DynamoDB.TableName == "" {
		config.Documents.DynamoDB.TableName = "portfolio-content"
	}
	if config.Blobs.Driver == "" {
		config.Blobs.Driver = "s3"
	}
	if config.AWS.Region == "" {
		config.AWS.Region = "us-west-2"
	}
	// No default for the bucket name or the connection string: both are
	// deployment specific.
	if config.Redis.TTL == 0 {
		config.Redis.TTL = 3600
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
