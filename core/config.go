package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kat-co/vala"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host                      string
		Address                   string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		WebhookRate               float64 // requests per second, per remote IP
		WebhookBurst              int
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	VeriffConfig struct {
		BaseURL      string
		APIKey       string
		SharedSecret string
		CallbackURL  string
		MaxAttempts  int
	}

	JobsConfig struct {
		WebhookRetrySpec  string
		SessionExpirySpec string
		SessionTTL        time.Duration
	}

	Config struct {
		AppName                   string
		Env                       string // DEV (local; default), TEST, QA, PROD
		Debug                     bool
		TestMode                  bool
		Build                     string
		SecretKey                 string
		FrontendBaseURL           string
		RollbarToken              string
		SendgridApiKey            string
		PasswordResetTimeoutDelta time.Duration
		MatchWindow               time.Duration // billing: invoice <-> order issue window

		Server   ServerConfig
		Database DatabaseConfig
		Veriff   VeriffConfig
		Jobs     JobsConfig

		defaultFromEmail string
	}
)

func (c *Config) DefaultFromEmail() mail.Address {
	addr, err := mail.ParseAddress(c.defaultFromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: c.defaultFromEmail}
	}
	if addr.Name == "" {
		addr.Name = c.AppName
	}
	return *addr
}

func (dc DatabaseConfig) Address() string {
	return net.JoinHostPort(dc.Host, dc.Port)
}

// NewConfig loads the configuration from defaults, the optional `config/.env.<env>` file
// and environment variables prefixed with the current environment (eg. DEV_DATABASE_HOST).
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "Aeroschool")
	v.SetDefault("build", "develop")
	v.SetDefault("secretKey", "k2#9v-ajr3)mv$+q1=tz&pi8x7(b!c)#*e4(#wo5h^$dlzj3zp")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)
	v.SetDefault("matchWindow", 30*24*time.Hour)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("server.webhookRate", 5.0)
	v.SetDefault("server.webhookBurst", 20)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "aeroschool")
	v.SetDefault("database.user", "aeroschool")
	v.SetDefault("database.password", "aeroschool")
	v.SetDefault("database.adminUser", "")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("veriff.baseURL", "https://stationapi.veriff.com")
	v.SetDefault("veriff.apiKey", "")
	v.SetDefault("veriff.sharedSecret", "")
	v.SetDefault("veriff.callbackURL", "http://localhost:3000/verification/done")
	v.SetDefault("veriff.maxAttempts", 5)

	v.SetDefault("jobs.webhookRetrySpec", "@every 5m")
	v.SetDefault("jobs.sessionExpirySpec", "@hourly")
	v.SetDefault("jobs.sessionTTL", 7*24*time.Hour)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		AppName:                   v.GetString("appName"),
		Env:                       env,
		Debug:                     v.GetBool("debug"),
		TestMode:                  v.GetBool("testMode"),
		Build:                     v.GetString("build"),
		SecretKey:                 v.GetString("secretKey"),
		FrontendBaseURL:           strings.TrimRight(v.GetString("frontendBaseURL"), "/"),
		RollbarToken:              v.GetString("rollbarToken"),
		SendgridApiKey:            v.GetString("sendgridApiKey"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		MatchWindow:               v.GetDuration("matchWindow"),
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			Address:                   v.GetString("server.address"),
			DebugHost:                 v.GetString("server.debugHost"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
			WebhookRate:               v.GetFloat64("server.webhookRate"),
			WebhookBurst:              v.GetInt("server.webhookBurst"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Veriff: VeriffConfig{
			BaseURL:      strings.TrimRight(v.GetString("veriff.baseURL"), "/"),
			APIKey:       v.GetString("veriff.apiKey"),
			SharedSecret: v.GetString("veriff.sharedSecret"),
			CallbackURL:  v.GetString("veriff.callbackURL"),
			MaxAttempts:  v.GetInt("veriff.maxAttempts"),
		},
		Jobs: JobsConfig{
			WebhookRetrySpec:  v.GetString("jobs.webhookRetrySpec"),
			SessionExpirySpec: v.GetString("jobs.sessionExpirySpec"),
			SessionTTL:        v.GetDuration("jobs.sessionTTL"),
		},
		defaultFromEmail: v.GetString("defaultFromEmail"),
	}

	if err := conf.Check(); err != nil {
		log.Fatalf("config: %v", err)
	}
	return conf
}

// Check validates the settings every environment needs,
// and the third-party credentials outside of DEV & TEST.
func (c *Config) Check() error {
	val := vala.BeginValidation().Validate(
		vala.StringNotEmpty(c.AppName, "appName"),
		vala.StringNotEmpty(c.SecretKey, "secretKey"),
		vala.StringNotEmpty(c.Database.Engine, "database.engine"),
		vala.StringNotEmpty(c.Database.Name, "database.name"),
		vala.GreaterThan(c.Veriff.MaxAttempts, 0, "veriff.maxAttempts"),
	)
	if !(c.Debug || c.TestMode) {
		val = val.Validate(
			vala.StringNotEmpty(c.RollbarToken, "rollbarToken"),
			vala.StringNotEmpty(c.SendgridApiKey, "sendgridApiKey"),
			vala.StringNotEmpty(c.Veriff.APIKey, "veriff.apiKey"),
			vala.StringNotEmpty(c.Veriff.SharedSecret, "veriff.sharedSecret"),
		)
	}
	return val.Check()
}

// NewTestConfig returns a Config suitable for tests; it does not read the environment.
func NewTestConfig() *Config {
	return &Config{
		AppName:                   "Aeroschool",
		Env:                       "TEST",
		Debug:                     false,
		TestMode:                  true,
		Build:                     "test",
		SecretKey:                 "secret",
		FrontendBaseURL:           "http://localhost:3000",
		PasswordResetTimeoutDelta: 3 * 24 * time.Hour,
		MatchWindow:               30 * 24 * time.Hour,
		Server: ServerConfig{
			Host:                      "localhost",
			JWTExpirationDelta:        10 * time.Minute,
			JWTRefreshExpirationDelta: 4 * time.Hour,
			ShutdownTimeout:           time.Second,
			WebhookRate:               100,
			WebhookBurst:              100,
		},
		Veriff: VeriffConfig{
			BaseURL:      "http://veriff.test",
			APIKey:       "veriff-key",
			SharedSecret: "veriff-secret",
			CallbackURL:  "http://localhost:3000/verification/done",
			MaxAttempts:  3,
		},
		Jobs: JobsConfig{
			WebhookRetrySpec:  "@every 5m",
			SessionExpirySpec: "@hourly",
			SessionTTL:        7 * 24 * time.Hour,
		},
		defaultFromEmail: "noreply@localhost",
	}
}
