// Command light-controller arbitrates one light between MQTT commands, a
// motion sensor and a DS3231-backed schedule.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sweeney/light-controller/internal/command"
	"github.com/sweeney/light-controller/internal/config"
	"github.com/sweeney/light-controller/internal/gpio"
	"github.com/sweeney/light-controller/internal/history"
	"github.com/sweeney/light-controller/internal/light"
	"github.com/sweeney/light-controller/internal/logging"
	"github.com/sweeney/light-controller/internal/monitor"
	"github.com/sweeney/light-controller/internal/mqtt"
	"github.com/sweeney/light-controller/internal/rtc"
	"github.com/sweeney/light-controller/internal/schedule"
	"github.com/sweeney/light-controller/internal/sensor"
	"github.com/sweeney/light-controller/internal/status"
	"github.com/sweeney/light-controller/internal/web"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	log := logging.New(cfg.LogLevel)
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatalw("fatal", "error", err)
	}
}

func run(cfg *config.Config, log *zap.SugaredLogger) error {
	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}

	// RTC. A missing bus is not fatal: every poll reports a fault instead.
	var bus rtc.Bus
	if i2c, err := rtc.OpenI2C(cfg.RTC.Bus, cfg.RTC.Address); err != nil {
		log.Errorw("i2c unavailable", "bus", cfg.RTC.Bus, "error", err)
		bus = unavailableBus{err: err}
	} else {
		defer i2c.Close()
		bus = i2c
	}
	clock := rtc.NewClock(bus, loc, cfg.RTC.BusTimeout, log.Named("rtc"))
	if err := clock.Init(); err != nil {
		log.Errorw("rtc init failed", "error", err)
	}

	if cfg.PrintTime {
		t, err := clock.Read()
		if err != nil {
			return fmt.Errorf("read rtc: %w", err)
		}
		fmt.Printf("RTC: %s, temperature: %s\n", t.Format(time.DateTime), formatCelsius(clock.Temperature()))
		return nil
	}

	var host rtc.HostClock = rtc.SystemClock{}
	if !cfg.RTC.SetHostClock {
		host = readOnlyHost{}
	}
	keeper := rtc.NewKeeper(clock, host,
		rtc.NTPSource{Servers: cfg.NTP.Servers, Timeout: cfg.NTP.Timeout},
		rtc.SyncConfig{Attempts: cfg.NTP.Attempts, Delay: cfg.NTP.Delay},
		log.Named("time"))
	if t, err := keeper.SyncHostFromRTC(); err != nil {
		log.Warnw("host clock not set from rtc", "error", err)
	} else {
		log.Infow("host clock set from rtc", "time", t.Format(time.DateTime))
	}

	// Status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		PollMs:      cfg.Poll.Milliseconds(),
		LockoutMs:   cfg.Sensor.Lockout.Milliseconds(),
		RevertMs:    cfg.Sensor.Revert.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPPort:    cfg.HTTPAddr,
		TopicPrefix: cfg.MQTT.Prefix,
		Timezone:    cfg.Timezone,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := openHistory(ctx, cfg.History, log.Named("history"))
	defer rec.Close()

	// Light
	out, err := gpio.NewRealWriter(cfg.GPIO.Chip, cfg.GPIO.PinRelay, cfg.GPIO.PinLED)
	if err != nil {
		return fmt.Errorf("init gpio output: %w", err)
	}
	defer out.Close()

	arbiter := light.NewArbiter(out, log.Named("light"),
		light.WithChangeHook(tracker.SetLight),
		light.WithChangeHook(func(st light.State) { rec.RecordLight(st, time.Now()) }))
	if err := arbiter.Reset(); err != nil {
		return fmt.Errorf("reset light: %w", err)
	}

	sched := schedule.NewEvaluator(arbiter, log.Named("schedule"))
	start, end, err := cfg.Window()
	if err != nil {
		return fmt.Errorf("schedule window: %w", err)
	}
	sched.SetWindow(start, end)
	sched.SetEnabled(cfg.Schedule.Enabled)

	// MQTT
	in := &inbox{log: log.Named("inbox")}
	client, err := mqtt.NewClient(mqtt.Config{
		Broker:         cfg.MQTT.Broker,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		Prefix:         cfg.MQTT.Prefix,
		QoS:            byte(cfg.MQTT.QoS),
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
		PublishTimeout: cfg.MQTT.PublishTimeout,
		BufferSize:     cfg.MQTT.BufferSize,
	}, in.handle, log.Named("mqtt"), mqtt.WithOnConnect(func(p mqtt.Publisher) {
		if err := p.PublishStatus(arbiter.State().Status()); err != nil {
			log.Warnw("failed to publish status on connect", "error", err)
		}
	}))
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer client.Close()

	var publisher mqtt.Publisher = client
	if cfg.History.Enabled {
		publisher = recordingPublisher{Publisher: client, rec: rec, now: time.Now}
	}

	mon := monitor.New(clock, sched, arbiter, publisher, log.Named("monitor"))
	keeper.OnSynced(func(time.Time) { mon.ResetWatermarks() })

	router := command.NewRouter(command.Config{
		QueueSize:   cfg.Commands.QueueSize,
		EnqueueWait: cfg.Commands.EnqueueWait,
		Location:    loc,
	}, arbiter, sched, keeper, publisher, log.Named("command"))
	in.router.Store(router)
	go router.Run(ctx)

	// Sensor
	debouncer := sensor.New(sensor.Config{
		Lockout:   cfg.Sensor.Lockout,
		Revert:    cfg.Sensor.Revert,
		QueueSize: cfg.Sensor.Queue,
	}, arbiter, log.Named("sensor"))
	go debouncer.Run(ctx)

	if line, err := openSensor(cfg.GPIO.Chip, cfg.GPIO.PinSensor, debouncer.Interrupt); err != nil {
		log.Errorw("sensor unavailable, continuing without it", "pin", cfg.GPIO.PinSensor, "error", err)
	} else {
		defer line.Close()
	}

	if cfg.NTP.SyncOnStart {
		go func() {
			t, err := keeper.SyncFromNetwork(ctx)
			if err != nil {
				log.Warnw("start-up network time sync failed", "error", err)
				return
			}
			log.Infow("start-up network time sync", "time", t.In(loc).Format(time.DateTime))
		}()
	}

	// Publish startup event with full status snapshot
	tracker.SetSchedule(sched.Window(), sched.Enabled())
	tracker.SetMQTTConnected(client.IsConnected())
	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		log.Warnw("failed to publish startup event", "error", err)
	} else {
		log.Info("published startup event")
	}
	if err := publisher.PublishSchedule(sched.Window()); err != nil {
		log.Warnw("failed to publish schedule", "error", err)
	}

	// Start HTTP status server
	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorw("http server error", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Infow("http status server listening", "addr", cfg.HTTPAddr)
	}

	log.Infow("started",
		"poll", cfg.Poll, "lockout", cfg.Sensor.Lockout, "revert", cfg.Sensor.Revert,
		"broker", cfg.MQTT.Broker, "heartbeat", cfg.Heartbeat, "timezone", cfg.Timezone)

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(mon, sched, publisher, client, tracker, cfg.Heartbeat, log, time.Now, ticker.C, sigCh)
}

// poller is the monitor as seen by the run loop.
type poller interface {
	Tick() error
	Clock() monitor.Reading
}

// scheduleView exposes the schedule for status snapshots.
type scheduleView interface {
	Window() schedule.Window
	Enabled() bool
}

func runLoop(mon poller, sched scheduleView, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, heartbeat time.Duration, log *zap.SugaredLogger, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	startTime := now()
	lastHeartbeat := startTime

	refresh := func() {
		tracker.SetSchedule(sched.Window(), sched.Enabled())
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
	}

	for {
		select {
		case s := <-sig:
			log.Infow("shutting down", "signal", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			refresh()
			snap := tracker.Snapshot()
			event := mqtt.SystemEvent{
				Timestamp:  now(),
				Event:      "SHUTDOWN",
				Reason:     signalName,
				RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", signalName),
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Warnw("failed to publish shutdown event", "error", err)
			} else {
				log.Info("published shutdown event")
			}
			return nil

		case <-tick:
			t := now()
			if err := mon.Tick(); err != nil {
				tracker.SetClockFault()
			} else {
				r := mon.Clock()
				tracker.SetClock(r.Time, r.Temperature)
			}
			refresh()

			if heartbeat <= 0 || t.Sub(lastHeartbeat) < heartbeat {
				continue
			}
			lastHeartbeat = t

			snap := tracker.Snapshot()
			log.Infow("heartbeat",
				"uptime", t.Sub(startTime).Truncate(time.Second),
				"light", snap.Light.Status(), "owner", snap.Light.Owner,
				"on", snap.Counts.On, "off", snap.Counts.Off,
				"schedule_enabled", snap.ScheduleEnabled, "rtc_ok", snap.Clock.OK,
				"mqtt", snap.MQTTConnected)
			event := mqtt.SystemEvent{
				Timestamp:  t,
				Event:      "HEARTBEAT",
				RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Warnw("heartbeat publish error", "error", err)
			}
		}
	}
}

// inboundChannels maps subscribed topics to command channels.
var inboundChannels = map[string]command.Channel{
	mqtt.TopicLightCommand:    command.ChannelLight,
	mqtt.TopicNTPSync:         command.ChannelSync,
	mqtt.TopicSetDateTime:     command.ChannelDateTime,
	mqtt.TopicSetSchedule:     command.ChannelSchedule,
	mqtt.TopicScheduleControl: command.ChannelScheduleControl,
}

// inbox hands MQTT messages to the router once it exists. The client is
// created first because the router publishes through it.
type inbox struct {
	router atomic.Pointer[command.Router]
	log    *zap.SugaredLogger
}

func (in *inbox) handle(topic string, payload []byte) {
	ch, ok := inboundChannels[topic]
	if !ok {
		in.log.Debugw("ignoring message on unexpected topic", "topic", topic)
		return
	}
	r := in.router.Load()
	if r == nil {
		in.log.Warnw("command arrived before start-up finished, dropping", "topic", topic)
		return
	}
	r.Submit(ch, payload)
}

// recordingPublisher copies announced temperatures into history.
type recordingPublisher struct {
	mqtt.Publisher
	rec history.Recorder
	now func() time.Time
}

func (p recordingPublisher) PublishTemperature(celsius float64) error {
	p.rec.RecordTemperature(celsius, p.now())
	return p.Publisher.PublishTemperature(celsius)
}

func openHistory(ctx context.Context, cfg config.History, log *zap.SugaredLogger) history.Recorder {
	if !cfg.Enabled {
		return history.Nop{}
	}
	rec, err := history.Connect(ctx, history.Config{
		URL:           cfg.URL,
		Token:         cfg.Token,
		Org:           cfg.Org,
		Bucket:        cfg.Bucket,
		Device:        cfg.Device,
		FlushInterval: cfg.FlushInterval,
	}, log)
	if err != nil {
		log.Warnw("history disabled", "error", err)
		return history.Nop{}
	}
	return rec
}

// unavailableBus stands in for an I2C bus that failed to open.
type unavailableBus struct{ err error }

func (b unavailableBus) Tx(w, r []byte) error {
	return fmt.Errorf("i2c bus unavailable: %w", b.err)
}

// readOnlyHost leaves the system clock alone.
type readOnlyHost struct{}

func (readOnlyHost) Set(time.Time) error { return nil }

// openSensor requests the sensor line. Without it the light still runs on
// schedule and manual commands.
func openSensor(chip string, pin int, handler gpio.EdgeHandler) (gpio.Sensor, error) {
	rs, err := gpio.NewRealSensor(chip, pin, handler)
	if err != nil {
		return nil, err
	}
	return rs, nil
}

func formatCelsius(c float64) string {
	if c == rtc.TemperatureUnavailable {
		return "unavailable"
	}
	return fmt.Sprintf("%.2f°C", c)
}
