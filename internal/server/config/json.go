package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/marketplace/internal/flagx"
	"github.com/dmitrijs2005/marketplace/internal/timex"
)

// JsonConfig is the on-disk shape of a config file. Pointer fields tell an
// absent key apart from an explicit zero, so only present keys override.
type JsonConfig struct {
	EndpointAddrHTTP    *string         `json:"endpoint_addr_http"`
	DatabaseDSN         *string         `json:"database_dsn"`
	LogLevel            *string         `json:"log_level"`
	SecretKey           *string         `json:"secret_key"`
	SessionTTL          *timex.Duration `json:"session_ttl"`
	SessionBackend      *string         `json:"session_backend"`
	CookieSecure        *bool           `json:"cookie_secure"`
	RedisAddr           *string         `json:"redis_addr"`
	RedisPassword       *string         `json:"redis_password"`
	RedisDB             *int            `json:"redis_db"`
	VerificationCodeTTL *timex.Duration `json:"verification_code_ttl"`
	MailBackend         *string         `json:"mail_backend"`
	SMTPHost            *string         `json:"smtp_host"`
	SMTPPort            *int            `json:"smtp_port"`
	SMTPUser            *string         `json:"smtp_user"`
	SMTPPassword        *string         `json:"smtp_password"`
	MailFrom            *string         `json:"mail_from"`
	MailTimeout         *timex.Duration `json:"mail_timeout"`
	UploadBackend       *string         `json:"upload_backend"`
	UploadDir           *string         `json:"upload_dir"`
	S3RootUser          *string         `json:"s3_root_user"`
	S3RootPassword      *string         `json:"s3_root_password"`
	S3Bucket            *string         `json:"s3_bucket"`
	S3Region            *string         `json:"s3_region"`
	S3BaseEndpoint      *string         `json:"s3_base_endpoint"`
	OTLPEndpoint        *string         `json:"otlp_endpoint"`
	Argon2Memory        *uint32         `json:"argon2_memory_kib"`
	Argon2Time          *uint32         `json:"argon2_time"`
	Argon2Parallelism   *uint8          `json:"argon2_parallelism"`
	RateLimitPerMinute  *int            `json:"rate_limit_per_minute"`
}

// parseJson loads the file given by -c/-config in args, if any, into config.
func parseJson(config *Config, args []string) error {
	path := flagx.ConfigFileFromArgs(args)
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	c.apply(config)
	return nil
}

func (c *JsonConfig) apply(config *Config) {
	set(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	set(&config.DatabaseDSN, c.DatabaseDSN)
	set(&config.LogLevel, c.LogLevel)
	set(&config.SecretKey, c.SecretKey)
	setDuration(&config.SessionTTL, c.SessionTTL)
	set(&config.SessionBackend, c.SessionBackend)
	set(&config.CookieSecure, c.CookieSecure)
	set(&config.RedisAddr, c.RedisAddr)
	set(&config.RedisPassword, c.RedisPassword)
	set(&config.RedisDB, c.RedisDB)
	setDuration(&config.VerificationCodeTTL, c.VerificationCodeTTL)
	set(&config.MailBackend, c.MailBackend)
	set(&config.SMTPHost, c.SMTPHost)
	set(&config.SMTPPort, c.SMTPPort)
	set(&config.SMTPUser, c.SMTPUser)
	set(&config.SMTPPassword, c.SMTPPassword)
	set(&config.MailFrom, c.MailFrom)
	setDuration(&config.MailTimeout, c.MailTimeout)
	set(&config.UploadBackend, c.UploadBackend)
	set(&config.UploadDir, c.UploadDir)
	set(&config.S3RootUser, c.S3RootUser)
	set(&config.S3RootPassword, c.S3RootPassword)
	set(&config.S3Bucket, c.S3Bucket)
	set(&config.S3Region, c.S3Region)
	set(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	set(&config.OTLPEndpoint, c.OTLPEndpoint)
	set(&config.Argon2Memory, c.Argon2Memory)
	set(&config.Argon2Time, c.Argon2Time)
	set(&config.Argon2Parallelism, c.Argon2Parallelism)
	set(&config.RateLimitPerMinute, c.RateLimitPerMinute)
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = src.Duration
	}
}
