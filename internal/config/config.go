package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the gateway process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Webhook   WebhookConfig
	Media     MediaConfig
	CallAPI   CallAPIConfig
	Hours     HoursConfig
	Slack     SlackConfig
	RateLimit RateLimitConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// Pool sizing; zero means the pool default.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// WebhookConfig controls inbound event authentication.
type WebhookConfig struct {
	// AppSecret is the shared HMAC secret used to sign event deliveries.
	AppSecret string
	// VerifyToken answers the subscription handshake.
	VerifyToken string
	// AllowUnsigned lets deliveries through when AppSecret is empty.
	// Never valid in production.
	AllowUnsigned bool
}

// MediaConfig describes the transport port range advertised in SDP answers.
type MediaConfig struct {
	PublicIP   string
	RTPPortMin int
	RTPPortMax int
}

type CallAPIConfig struct {
	BaseURL       string
	AccessToken   string
	PhoneNumberID string
	Timeout       time.Duration

	PermissionTemplate     string
	PermissionTemplateLang string
}

type HoursConfig struct {
	File     string
	Timezone string
}

type SlackConfig struct {
	WebhookURL string
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	{
		n, err := optionalInt("DB_MAX_OPEN_CONNS")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.MaxOpenConns = n
	}
	{
		n, err := optionalInt("DB_MAX_IDLE_CONNS")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.MaxIdleConns = n
	}
	c.DB.ConnMaxLifetime = mustDuration("DB_CONN_MAX_LIFETIME")

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Webhook.AppSecret = os.Getenv("WEBHOOK_APP_SECRET")
	c.Webhook.VerifyToken = os.Getenv("WEBHOOK_VERIFY_TOKEN")
	{
		b, err := optionalBool("WEBHOOK_ALLOW_UNSIGNED")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Webhook.AllowUnsigned = b
	}

	c.Media.PublicIP = strings.TrimSpace(os.Getenv("MEDIA_PUBLIC_IP"))
	{
		n, err := mustInt("RTP_PORT_MIN")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Media.RTPPortMin = n
	}
	{
		n, err := mustInt("RTP_PORT_MAX")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Media.RTPPortMax = n
	}

	c.CallAPI.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("CALL_API_BASE_URL")), "/")
	c.CallAPI.AccessToken = os.Getenv("CALL_API_TOKEN")
	c.CallAPI.PhoneNumberID = strings.TrimSpace(os.Getenv("CALL_API_PHONE_NUMBER_ID"))
	c.CallAPI.Timeout = mustDuration("CALL_API_TIMEOUT")
	c.CallAPI.PermissionTemplate = strings.TrimSpace(os.Getenv("PERMISSION_TEMPLATE_NAME"))
	c.CallAPI.PermissionTemplateLang = strings.TrimSpace(os.Getenv("PERMISSION_TEMPLATE_LANG"))

	c.Hours.File = strings.TrimSpace(os.Getenv("BUSINESS_HOURS_FILE"))
	c.Hours.Timezone = strings.TrimSpace(os.Getenv("BUSINESS_HOURS_TZ"))

	c.Slack.WebhookURL = strings.TrimSpace(os.Getenv("SLACK_WEBHOOK_URL"))

	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPS")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("RATE_LIMIT_RPS must be a number, got %q", v))
		}
		c.RateLimit.RPS = f
	}
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_BURST")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("RATE_LIMIT_BURST must be an integer, got %q", v))
		}
		c.RateLimit.Burst = n
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the config and fills in env-dependent defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.DB.MaxOpenConns < 0 {
		errs = append(errs, fmt.Errorf("DB_MAX_OPEN_CONNS must not be negative, got %d", c.DB.MaxOpenConns))
	}
	if c.DB.MaxIdleConns < 0 {
		errs = append(errs, fmt.Errorf("DB_MAX_IDLE_CONNS must not be negative, got %d", c.DB.MaxIdleConns))
	}
	if c.DB.MaxOpenConns > 0 && c.DB.MaxIdleConns > c.DB.MaxOpenConns {
		errs = append(errs, errors.New("DB_MAX_IDLE_CONNS must not exceed DB_MAX_OPEN_CONNS"))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Webhook.AppSecret == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("WEBHOOK_APP_SECRET is required in production"))
		} else if !c.Webhook.AllowUnsigned {
			errs = append(errs, errors.New("WEBHOOK_APP_SECRET is required unless WEBHOOK_ALLOW_UNSIGNED=true"))
		}
	}
	if c.Webhook.AllowUnsigned && c.IsProduction() {
		errs = append(errs, errors.New("WEBHOOK_ALLOW_UNSIGNED is not permitted in production"))
	}

	if c.Media.PublicIP == "" {
		errs = append(errs, errors.New("MEDIA_PUBLIC_IP is required"))
	} else if net.ParseIP(c.Media.PublicIP) == nil {
		errs = append(errs, fmt.Errorf("MEDIA_PUBLIC_IP must be an IP address, got %q", c.Media.PublicIP))
	}
	if c.Media.RTPPortMin <= 0 || c.Media.RTPPortMin%2 != 0 {
		errs = append(errs, fmt.Errorf("RTP_PORT_MIN must be a positive even port, got %d", c.Media.RTPPortMin))
	}
	if c.Media.RTPPortMax <= c.Media.RTPPortMin || c.Media.RTPPortMax > 65535 {
		errs = append(errs, fmt.Errorf("RTP_PORT_MAX must be greater than RTP_PORT_MIN and a valid port, got %d", c.Media.RTPPortMax))
	}

	if c.CallAPI.BaseURL == "" {
		errs = append(errs, errors.New("CALL_API_BASE_URL is required"))
	}
	if c.CallAPI.PhoneNumberID == "" {
		errs = append(errs, errors.New("CALL_API_PHONE_NUMBER_ID is required"))
	}
	if c.CallAPI.AccessToken == "" && c.IsProduction() {
		errs = append(errs, errors.New("CALL_API_TOKEN is required in production"))
	}
	if c.CallAPI.Timeout <= 0 {
		c.CallAPI.Timeout = 10 * time.Second
	}
	if c.CallAPI.PermissionTemplate == "" {
		c.CallAPI.PermissionTemplate = "call_permission_request"
	}
	if c.CallAPI.PermissionTemplateLang == "" {
		c.CallAPI.PermissionTemplateLang = "en"
	}

	if c.Hours.Timezone == "" {
		c.Hours.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(c.Hours.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("BUSINESS_HOURS_TZ is not a known timezone: %q", c.Hours.Timezone))
	}

	if c.RateLimit.RPS <= 0 {
		c.RateLimit.RPS = 5
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 10
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func optionalBool(key string) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
