// Package config loads daemon settings from defaults, an optional YAML file,
// LIGHTCTL_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // the target image may have no zoneinfo

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sweeney/light-controller/internal/gpio"
	"github.com/sweeney/light-controller/internal/rtc"
	"github.com/sweeney/light-controller/internal/schedule"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "LIGHTCTL"

// Config is the full daemon configuration.
type Config struct {
	LogLevel  string        `mapstructure:"log_level"`
	HTTPAddr  string        `mapstructure:"http_addr"`
	Poll      time.Duration `mapstructure:"poll"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
	Timezone  string        `mapstructure:"timezone"`
	PrintTime bool          `mapstructure:"print_time"`

	GPIO     GPIO     `mapstructure:"gpio"`
	Sensor   Sensor   `mapstructure:"sensor"`
	RTC      RTC      `mapstructure:"rtc"`
	NTP      NTP      `mapstructure:"ntp"`
	MQTT     MQTT     `mapstructure:"mqtt"`
	Commands Commands `mapstructure:"commands"`
	Schedule Schedule `mapstructure:"schedule"`
	History  History  `mapstructure:"history"`
}

// GPIO selects the chip and line offsets.
type GPIO struct {
	Chip      string `mapstructure:"chip"`
	PinRelay  int    `mapstructure:"pin_relay"`
	PinLED    int    `mapstructure:"pin_led"`
	PinSensor int    `mapstructure:"pin_sensor"`
}

// Sensor holds the debounce settings.
type Sensor struct {
	Lockout time.Duration `mapstructure:"lockout"`
	Revert  time.Duration `mapstructure:"revert"`
	Queue   int           `mapstructure:"queue"`
}

// RTC selects the I2C bus and device.
type RTC struct {
	Bus          string        `mapstructure:"bus"`
	Address      uint16        `mapstructure:"address"`
	BusTimeout   time.Duration `mapstructure:"bus_timeout"`
	SetHostClock bool          `mapstructure:"set_host_clock"`
}

// NTP controls network time sync.
type NTP struct {
	Servers     []string      `mapstructure:"servers"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Attempts    int           `mapstructure:"attempts"`
	Delay       time.Duration `mapstructure:"delay"`
	SyncOnStart bool          `mapstructure:"sync_on_start"`
}

// MQTT holds broker settings.
type MQTT struct {
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Prefix         string        `mapstructure:"prefix"`
	QoS            int           `mapstructure:"qos"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	BufferSize     int           `mapstructure:"buffer_size"`
}

// Commands sizes the inbound command queue.
type Commands struct {
	QueueSize   int           `mapstructure:"queue_size"`
	EnqueueWait time.Duration `mapstructure:"enqueue_wait"`
}

// Schedule is the window applied at start-up.
type Schedule struct {
	Start   string `mapstructure:"start"`
	End     string `mapstructure:"end"`
	Enabled bool   `mapstructure:"enabled"`
}

// History configures the optional InfluxDB recorder.
type History struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	Token         string        `mapstructure:"token"`
	Org           string        `mapstructure:"org"`
	Bucket        string        `mapstructure:"bucket"`
	Device        string        `mapstructure:"device"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("poll", time.Second)
	v.SetDefault("heartbeat", 30*time.Second)
	v.SetDefault("timezone", "Asia/Kolkata")
	v.SetDefault("print_time", false)

	v.SetDefault("gpio.chip", gpio.DefaultChip)
	v.SetDefault("gpio.pin_relay", gpio.DefaultPinRelay)
	v.SetDefault("gpio.pin_led", gpio.DefaultPinLED)
	v.SetDefault("gpio.pin_sensor", gpio.DefaultPinSensor)

	v.SetDefault("sensor.lockout", 500*time.Millisecond)
	v.SetDefault("sensor.revert", 5*time.Second)
	v.SetDefault("sensor.queue", 5)

	v.SetDefault("rtc.bus", "")
	v.SetDefault("rtc.address", rtc.Address)
	v.SetDefault("rtc.bus_timeout", time.Second)
	v.SetDefault("rtc.set_host_clock", true)

	v.SetDefault("ntp.servers", rtc.DefaultNTPServers)
	v.SetDefault("ntp.timeout", 3*time.Second)
	v.SetDefault("ntp.attempts", rtc.DefaultSyncConfig.Attempts)
	v.SetDefault("ntp.delay", rtc.DefaultSyncConfig.Delay)
	v.SetDefault("ntp.sync_on_start", false)

	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "light-controller")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.prefix", "home")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.connect_timeout", 10*time.Second)
	v.SetDefault("mqtt.publish_timeout", 5*time.Second)
	v.SetDefault("mqtt.buffer_size", 100)

	v.SetDefault("commands.queue_size", 10)
	v.SetDefault("commands.enqueue_wait", 100*time.Millisecond)

	v.SetDefault("schedule.start", "00:00")
	v.SetDefault("schedule.end", "00:00")
	v.SetDefault("schedule.enabled", false)

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.url", "http://localhost:8086")
	v.SetDefault("history.token", "")
	v.SetDefault("history.org", "home")
	v.SetDefault("history.bucket", "light-controller")
	v.SetDefault("history.device", "light1")
	v.SetDefault("history.flush_interval", 10*time.Second)
}

// flag name -> config key
var flagKeys = map[string]string{
	"log-level":    "log_level",
	"http":         "http_addr",
	"poll":         "poll",
	"heartbeat":    "heartbeat",
	"timezone":     "timezone",
	"print-time":   "print_time",
	"broker":       "mqtt.broker",
	"topic-prefix": "mqtt.prefix",
	"gpio-chip":    "gpio.chip",
	"pin-relay":    "gpio.pin_relay",
	"pin-led":      "gpio.pin_led",
	"pin-sensor":   "gpio.pin_sensor",
	"i2c-bus":      "rtc.bus",
	"lockout":      "sensor.lockout",
	"revert":       "sensor.revert",
	"ntp-on-start": "ntp.sync_on_start",
	"history":      "history.enabled",
	"history-url":  "history.url",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("light-controller", pflag.ContinueOnError)
	fs.String("config", "", "YAML config file")
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.String("http", ":8080", "HTTP status address (empty to disable)")
	fs.Duration("poll", time.Second, "RTC poll interval")
	fs.Duration("heartbeat", 30*time.Second, "Heartbeat interval (0 to disable)")
	fs.String("timezone", "Asia/Kolkata", "Zone the RTC and schedule use")
	fs.Bool("print-time", false, "Print RTC time and temperature and exit")
	fs.String("broker", "tcp://localhost:1883", "MQTT broker address")
	fs.String("topic-prefix", "home", "MQTT topic prefix")
	fs.String("gpio-chip", gpio.DefaultChip, "GPIO chip")
	fs.Int("pin-relay", gpio.DefaultPinRelay, "Relay output line")
	fs.Int("pin-led", gpio.DefaultPinLED, "Status LED output line")
	fs.Int("pin-sensor", gpio.DefaultPinSensor, "Motion sensor input line")
	fs.String("i2c-bus", "", "I2C bus name (empty for the first available)")
	fs.Duration("lockout", 500*time.Millisecond, "Sensor debounce lockout")
	fs.Duration("revert", 5*time.Second, "Sensor auto-off delay")
	fs.Bool("ntp-on-start", false, "Sync the RTC from NTP at start-up")
	fs.Bool("history", false, "Record history to InfluxDB")
	fs.String("history-url", "http://localhost:8086", "InfluxDB URL")
	return fs
}

// Load builds the configuration from args (without the program name).
func Load(args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, a ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, a...))
		}
	}

	check(c.Poll > 0, "poll must be positive, got %v", c.Poll)
	check(c.Heartbeat >= 0, "heartbeat must not be negative, got %v", c.Heartbeat)
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}

	check(c.GPIO.PinRelay >= 0 && c.GPIO.PinLED >= 0 && c.GPIO.PinSensor >= 0, "gpio lines must not be negative")
	check(c.GPIO.PinRelay != c.GPIO.PinSensor, "relay and sensor share line %d", c.GPIO.PinRelay)
	check(c.GPIO.PinLED != c.GPIO.PinSensor, "LED and sensor share line %d", c.GPIO.PinLED)
	check(c.GPIO.PinRelay != c.GPIO.PinLED, "relay and LED share line %d", c.GPIO.PinRelay)

	check(c.Sensor.Lockout > 0, "sensor.lockout must be positive, got %v", c.Sensor.Lockout)
	check(c.Sensor.Revert > 0, "sensor.revert must be positive, got %v", c.Sensor.Revert)
	check(c.Sensor.Queue > 0, "sensor.queue must be positive, got %d", c.Sensor.Queue)

	check(c.RTC.Address > 0 && c.RTC.Address < 0x80, "rtc.address 0x%X is not a 7-bit address", c.RTC.Address)
	check(c.RTC.BusTimeout > 0, "rtc.bus_timeout must be positive, got %v", c.RTC.BusTimeout)

	check(c.NTP.Attempts >= 1, "ntp.attempts must be at least 1, got %d", c.NTP.Attempts)
	check(c.NTP.Delay >= 0, "ntp.delay must not be negative, got %v", c.NTP.Delay)

	check(c.MQTT.Broker != "", "mqtt.broker is required")
	check(c.MQTT.ClientID != "", "mqtt.client_id is required")
	check(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	check(c.MQTT.BufferSize > 0, "mqtt.buffer_size must be positive, got %d", c.MQTT.BufferSize)

	check(c.Commands.QueueSize > 0, "commands.queue_size must be positive, got %d", c.Commands.QueueSize)
	check(c.Commands.EnqueueWait > 0, "commands.enqueue_wait must be positive, got %v", c.Commands.EnqueueWait)

	if _, err := schedule.ParseTimeOfDay(c.Schedule.Start); err != nil {
		errs = append(errs, fmt.Errorf("schedule.start: %w", err))
	}
	if _, err := schedule.ParseTimeOfDay(c.Schedule.End); err != nil {
		errs = append(errs, fmt.Errorf("schedule.end: %w", err))
	}

	if c.History.Enabled {
		check(c.History.URL != "", "history.url is required when history is enabled")
		check(c.History.Bucket != "", "history.bucket is required when history is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Window returns the configured start-up schedule window.
func (c *Config) Window() (start, end schedule.TimeOfDay, err error) {
	if start, err = schedule.ParseTimeOfDay(c.Schedule.Start); err != nil {
		return start, end, err
	}
	end, err = schedule.ParseTimeOfDay(c.Schedule.End)
	return start, end, err
}
