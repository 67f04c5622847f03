package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/sweeney/light-controller/internal/light"
)

// ErrConnectionFailed is returned when the server cannot be reached at start.
var ErrConnectionFailed = errors.New("influxdb connection failed")

var (
	pointsDropped = metrics.NewCounter(`history_points_dropped_total`)
	writeErrors   = metrics.NewCounter(`history_write_errors_total`)
)

// Config holds InfluxDB settings.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
	Device string

	BatchSize     uint
	FlushInterval time.Duration
	PingTimeout   time.Duration
}

const queueSize = 64

// InfluxRecorder writes points through the non-blocking WriteAPI. Points are
// handed to a background goroutine so callers holding locks never wait on
// the client.
type InfluxRecorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	device   string
	log      *zap.SugaredLogger

	mu     sync.RWMutex // guards closed against enqueue
	closed bool
	points chan *write.Point
	done   chan struct{}
}

// Connect pings the server and starts the writer.
func Connect(ctx context.Context, cfg Config, log *zap.SugaredLogger) (*InfluxRecorder, error) {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 5 * time.Second
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(cfg.BatchSize).
			SetFlushInterval(uint(cfg.FlushInterval.Milliseconds())),
	)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	r := &InfluxRecorder{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		device:   cfg.Device,
		log:      log,
		points:   make(chan *write.Point, queueSize),
		done:     make(chan struct{}),
	}
	go r.handleWriteErrors(r.writeAPI.Errors())
	go r.run()
	return r, nil
}

func (r *InfluxRecorder) handleWriteErrors(errs <-chan error) {
	for err := range errs {
		writeErrors.Inc()
		r.log.Warnw("history write failed", "error", err)
	}
}

func (r *InfluxRecorder) run() {
	defer close(r.done)
	for p := range r.points {
		r.writeAPI.WritePoint(p)
	}
}

func (r *InfluxRecorder) enqueue(p *write.Point) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.points <- p:
	default:
		pointsDropped.Inc()
	}
}

// RecordLight queues a light transition.
func (r *InfluxRecorder) RecordLight(st light.State, at time.Time) {
	r.enqueue(lightPoint(r.device, st, at))
}

// RecordTemperature queues a temperature reading.
func (r *InfluxRecorder) RecordTemperature(celsius float64, at time.Time) {
	r.enqueue(temperaturePoint(r.device, celsius, at))
}

// Close flushes pending points and closes the client. Points recorded after
// Close are discarded.
func (r *InfluxRecorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.points)
	r.mu.Unlock()

	<-r.done
	r.writeAPI.Flush()
	r.client.Close()
	return nil
}
