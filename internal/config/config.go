// Package config loads daemon settings from file, environment and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sweeney/face-trigger/internal/logic"
	"github.com/sweeney/face-trigger/internal/mqtt"
)

// EnvPrefix scopes environment overrides: FACE_TRIGGER_MQTT_BROKER etc.
const EnvPrefix = "FACE_TRIGGER"

// DefaultToken is the placeholder shipped with the firmware; running with it
// means anyone on the public broker can drive the actuator.
const DefaultToken = "change_me_in_env"

// Config is the full daemon configuration.
type Config struct {
	MQTT     MQTT          `mapstructure:"mqtt"`
	Cooldown time.Duration `mapstructure:"cooldown"`
	Actions  Actions       `mapstructure:"actions"`
	Capture  Capture       `mapstructure:"capture"`
	Vision   Vision        `mapstructure:"vision"`
	Notify   Notify        `mapstructure:"notify"`
	Dispatch Dispatch      `mapstructure:"dispatch"`
	HTTP     HTTP          `mapstructure:"http"`
	GPIO     GPIO          `mapstructure:"gpio"`
	Log      Log           `mapstructure:"log"`
}

type MQTT struct {
	Broker         string        `mapstructure:"broker"`
	Topic          string        `mapstructure:"topic"`
	Token          string        `mapstructure:"token"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	QoS            int           `mapstructure:"qos"`
	WaitForAck     bool          `mapstructure:"wait_for_ack"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	AckTimeout     time.Duration `mapstructure:"ack_timeout"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
}

// Rule maps one identity to an action code such as "servo90" or "spin360".
type Rule struct {
	Identity string `mapstructure:"identity"`
	Action   string `mapstructure:"action"`
}

type Actions struct {
	Default string `mapstructure:"default"`
	Rules   []Rule `mapstructure:"rules"`
}

// Capture selects the frame source: Dir replays files when set, otherwise
// the camera at Device is opened.
type Capture struct {
	Device        int           `mapstructure:"device"`
	Width         int           `mapstructure:"width"`
	Height        int           `mapstructure:"height"`
	Dir           string        `mapstructure:"dir"`
	Interval      time.Duration `mapstructure:"interval"`
	EscalateAfter int           `mapstructure:"escalate_after"`
}

type Vision struct {
	Gallery   string  `mapstructure:"gallery"`
	Models    string  `mapstructure:"models"`
	Tolerance float64 `mapstructure:"tolerance"`
}

type SMTP struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type Notify struct {
	Enabled bool          `mapstructure:"enabled"`
	SMTP    SMTP          `mapstructure:"smtp"`
	From    string        `mapstructure:"from"`
	To      []string      `mapstructure:"to"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Dispatch struct {
	Workers int           `mapstructure:"workers"`
	Queue   int           `mapstructure:"queue"`
	Grace   time.Duration `mapstructure:"grace"`
}

type HTTP struct {
	Addr string `mapstructure:"addr"`
}

type GPIO struct {
	LEDPin int           `mapstructure:"led_pin"`
	Pulse  time.Duration `mapstructure:"pulse"`
}

type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("mqtt.broker", "tcp://test.mosquitto.org:1883")
	v.SetDefault("mqtt.topic", mqtt.DefaultTopic)
	v.SetDefault("mqtt.token", DefaultToken)
	v.SetDefault("mqtt.client_id", "face-trigger")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.qos", int(mqtt.DefaultQoS))
	v.SetDefault("mqtt.wait_for_ack", true)
	v.SetDefault("mqtt.connect_timeout", 10*time.Second)
	v.SetDefault("mqtt.ack_timeout", 5*time.Second)
	v.SetDefault("mqtt.keep_alive", 60*time.Second)

	v.SetDefault("cooldown", 30*time.Second)
	v.SetDefault("actions.default", logic.DefaultAction.String())

	v.SetDefault("capture.device", 0)
	v.SetDefault("capture.width", 640)
	v.SetDefault("capture.height", 480)
	v.SetDefault("capture.dir", "")
	v.SetDefault("capture.interval", time.Second)
	v.SetDefault("capture.escalate_after", 50)

	v.SetDefault("vision.gallery", "")
	v.SetDefault("vision.models", "models")
	v.SetDefault("vision.tolerance", 0.6)

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.smtp.host", "smtp.gmail.com")
	v.SetDefault("notify.smtp.port", 465)
	v.SetDefault("notify.smtp.username", "")
	v.SetDefault("notify.smtp.password", "")
	v.SetDefault("notify.from", "")
	v.SetDefault("notify.to", []string{})
	v.SetDefault("notify.timeout", 30*time.Second)

	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.queue", 32)
	v.SetDefault("dispatch.grace", 5*time.Second)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("gpio.led_pin", -1)
	v.SetDefault("gpio.pulse", 500*time.Millisecond)
	v.SetDefault("log.level", "info")
}

// bindEnv wires the prefixed overrides plus the variable names the
// Raspberry Pi install scripts already export.
func bindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range map[string]string{
		"mqtt.token":           "MQTT_TOKEN",
		"notify.smtp.username": "GMAIL_USER",
		"notify.smtp.password": "GMAIL_PASS",
		"notify.to":            "GMAIL_TO",
	} {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}
	return nil
}

// Load reads path (YAML or TOML by extension) when given, otherwise looks
// for face-trigger.{yaml,toml} in the working directory and /etc/face-trigger.
// A missing default file is not an error; a missing explicit path is.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("face-trigger")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/face-trigger")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Notify.To = splitList(cfg.Notify.To)
	return &cfg, nil
}

// splitList expands comma-separated entries, since GMAIL_TO arrives as a
// single string.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.MQTT.Broker == "" {
		add("mqtt.broker is empty")
	}
	if c.MQTT.Topic == "" {
		add("mqtt.topic is empty")
	}
	if c.MQTT.Token == "" {
		add("mqtt.token is empty")
	}
	if c.MQTT.ClientID == "" {
		add("mqtt.client_id is empty")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		add("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.MQTT.ConnectTimeout <= 0 {
		add("mqtt.connect_timeout must be positive")
	}
	if c.MQTT.AckTimeout <= 0 {
		add("mqtt.ack_timeout must be positive")
	}
	if c.Cooldown <= 0 {
		add("cooldown must be positive")
	}

	if _, err := logic.ParseAction(c.Actions.Default); err != nil {
		add("actions.default: %w", err)
	}
	seen := make(map[string]bool)
	for i, r := range c.Actions.Rules {
		id := logic.Identity(r.Identity)
		if !id.IsKnown() {
			add("actions.rules[%d]: identity %q cannot be dispatched", i, r.Identity)
		}
		if seen[r.Identity] {
			add("actions.rules[%d]: duplicate identity %q", i, r.Identity)
		}
		seen[r.Identity] = true
		if _, err := logic.ParseAction(r.Action); err != nil {
			add("actions.rules[%d] (%s): %w", i, r.Identity, err)
		}
	}

	if c.Capture.Dir != "" && c.Capture.Interval <= 0 {
		add("capture.interval must be positive when capture.dir is set")
	}
	if c.Capture.EscalateAfter <= 0 {
		add("capture.escalate_after must be positive")
	}
	if c.Vision.Gallery == "" {
		add("vision.gallery is empty")
	}
	if c.Vision.Tolerance <= 0 {
		add("vision.tolerance must be positive")
	}

	if c.Notify.Enabled {
		if c.Notify.SMTP.Host == "" {
			add("notify.smtp.host is empty")
		}
		if c.Notify.SMTP.Username == "" || c.Notify.SMTP.Password == "" {
			add("notify.smtp.username and notify.smtp.password are required")
		}
		if len(c.Notify.To) == 0 {
			add("notify.to is empty")
		}
		if c.Notify.Timeout <= 0 {
			add("notify.timeout must be positive")
		}
	}

	if c.Dispatch.Workers <= 0 {
		add("dispatch.workers must be positive")
	}
	if c.Dispatch.Queue <= 0 {
		add("dispatch.queue must be positive")
	}
	if c.Dispatch.Grace < 0 {
		add("dispatch.grace must not be negative")
	}
	if c.GPIO.LEDPin >= 0 && c.GPIO.Pulse <= 0 {
		add("gpio.pulse must be positive when gpio.led_pin is set")
	}

	return errors.Join(errs...)
}

// ActionTable builds the identity-to-action resolver. Call Validate first.
func (c *Config) ActionTable() (*logic.ActionTable, error) {
	def, err := logic.ParseAction(c.Actions.Default)
	if err != nil {
		return nil, fmt.Errorf("actions.default: %w", err)
	}
	rules := make(map[logic.Identity]logic.Action, len(c.Actions.Rules))
	for _, r := range c.Actions.Rules {
		a, err := logic.ParseAction(r.Action)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Identity, err)
		}
		rules[logic.Identity(r.Identity)] = a
	}
	return logic.NewActionTable(rules, def), nil
}

// UsesDefaultToken reports whether the shipped placeholder token is in use.
func (c *Config) UsesDefaultToken() bool {
	return c.MQTT.Token == DefaultToken
}
