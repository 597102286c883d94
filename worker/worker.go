// Package worker consumes events from a JetStream stream, evaluates them
// through the engine, and publishes effects and evaluation reports back to
// NATS.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/haileyok/osprey/config"
	"github.com/haileyok/osprey/engine"
	"github.com/haileyok/osprey/errors"
	"github.com/haileyok/osprey/metric"
)

// HealthStatus is a snapshot of the worker's runtime health.
type HealthStatus struct {
	Healthy         bool
	Uptime          time.Duration
	EventsProcessed int64
	ErrorCount      int64
	LastError       string
	LastCheck       time.Time
}

// Worker is the event-consuming component. Lifecycle: New, Initialize,
// Start, Stop.
type Worker struct {
	cfg     *config.Config
	engine  *engine.Engine
	logger  *slog.Logger
	metrics *workerMetrics
	limiter *rate.Limiter

	conn     *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer

	// Runtime state
	shutdown        chan struct{}
	done            chan struct{}
	startTime       time.Time
	eventsProcessed int64
	errorCount      int64
	lastError       string
	mu              sync.RWMutex
}

// New creates a worker. The engine must already be built from a loaded rule
// set; the NATS connection is established in Initialize.
func New(cfg *config.Config, eng *engine.Engine, registry *metric.MetricsRegistry, logger *slog.Logger) (*Worker, error) {
	if cfg == nil || eng == nil {
		return nil, errors.WrapFatal(errors.New("config and engine are required"), "Worker", "New", "validate inputs")
	}
	if logger == nil {
		logger = slog.Default().With("component", "worker")
	}

	metrics, err := newWorkerMetrics(registry)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.Worker.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Worker.RateLimit), cfg.Worker.RateBurst)
	}

	return &Worker{
		cfg:     cfg,
		engine:  eng,
		logger:  logger,
		metrics: metrics,
		limiter: limiter,
	}, nil
}

// Initialize connects to NATS and sets up the stream and durable consumer.
func (w *Worker) Initialize(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name(w.cfg.Service.Name),
		nats.MaxReconnects(w.cfg.NATS.MaxReconnects),
		nats.ReconnectWait(w.cfg.NATS.ReconnectWait),
	}
	if w.cfg.NATS.Username != "" {
		opts = append(opts, nats.UserInfo(w.cfg.NATS.Username, w.cfg.NATS.Password))
	}
	if w.cfg.NATS.Token != "" {
		opts = append(opts, nats.Token(w.cfg.NATS.Token))
	}

	conn, err := nats.Connect(w.cfg.NATS.URL, opts...)
	if err != nil {
		return errors.WrapTransient(err, "Worker", "Initialize", "connect to NATS")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return errors.WrapFatal(err, "Worker", "Initialize", "create JetStream context")
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     w.cfg.NATS.Stream,
		Subjects: []string{w.cfg.NATS.Subject},
	})
	if err != nil {
		conn.Close()
		return errors.WrapFatal(err, "Worker", "Initialize", "ensure event stream")
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       w.cfg.NATS.Consumer,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    3,
		AckWait:       30 * time.Second,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		conn.Close()
		return errors.WrapFatal(err, "Worker", "Initialize", "ensure durable consumer")
	}

	w.mu.Lock()
	w.conn = conn
	w.js = js
	w.consumer = consumer
	w.mu.Unlock()

	w.logger.Info("worker initialized",
		"stream", w.cfg.NATS.Stream, "consumer", w.cfg.NATS.Consumer, "subject", w.cfg.NATS.Subject)
	return nil
}

// Start launches the consume loops.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.shutdown != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Worker", "Start", "check worker state")
	}
	if w.consumer == nil {
		return errors.WrapFatal(errors.ErrNoConnection, "Worker", "Start", "check initialization")
	}

	w.shutdown = make(chan struct{})
	w.done = make(chan struct{})
	w.startTime = time.Now()

	go w.run(ctx)

	w.logger.Info("worker started", "parallelism", w.cfg.Worker.Parallelism)
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.shutdown:
		case <-runCtx.Done():
		}
		cancel()
	}()

	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < w.cfg.Worker.Parallelism; i++ {
		g.Go(func() error { return w.consume(gctx) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		w.recordError(err)
		w.logger.Error("worker consume loop exited", "error", err)
	}
}

func (w *Worker) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		batch, err := w.consumer.Fetch(1, jetstream.FetchMaxWait(time.Second))
		if err != nil {
			w.recordError(err)
			w.logger.Warn("fetch failed", "error", err)
			continue
		}
		for msg := range batch.Messages() {
			w.handle(ctx, msg)
		}
	}
}

// handle evaluates one message and acknowledges it according to the
// outcome: malformed events are terminated so they never redeliver,
// transient failures are NAKed for redelivery.
func (w *Worker) handle(ctx context.Context, msg jetstream.Msg) {
	start := time.Now()

	action, err := decodeEvent(msg.Data())
	if err != nil {
		w.recordError(err)
		w.logger.Warn("dropping malformed event", "error", err)
		w.metrics.observeHandled("malformed", time.Since(start))
		if err := msg.Term(); err != nil {
			w.logger.Warn("terminate failed", "error", err)
		}
		return
	}

	result, err := w.engine.Evaluate(ctx, action)
	if err != nil {
		w.recordError(err)
		w.logger.Error("evaluation failed", "action", action.Name, "action_id", action.ID, "error", err)
		w.metrics.observeHandled("failed", time.Since(start))
		if err := msg.Nak(); err != nil {
			w.logger.Warn("nak failed", "error", err)
		}
		return
	}

	if err := w.publish(ctx, result); err != nil {
		w.recordError(err)
		w.metrics.observePublishFailure()
		w.logger.Error("publication failed", "action_id", action.ID, "error", err)
		w.metrics.observeHandled("failed", time.Since(start))
		if err := msg.Nak(); err != nil {
			w.logger.Warn("nak failed", "error", err)
		}
		return
	}

	if err := msg.Ack(); err != nil {
		w.logger.Warn("ack failed", "action_id", action.ID, "error", err)
	}

	atomic.AddInt64(&w.eventsProcessed, 1)
	w.metrics.observeHandled("ok", time.Since(start))

	if len(result.Effects) > 0 {
		w.logger.Info("effects emitted",
			"action", action.Name, "action_id", action.ID, "effects", len(result.Effects))
	}
}

// publish sends each effect and the evaluation report to their subjects.
func (w *Worker) publish(ctx context.Context, result *engine.Result) error {
	for _, effect := range result.Effects {
		payload, err := json.Marshal(effectMessage{
			ActionID:  result.Action.ID,
			Action:    result.Action.Name,
			EmittedAt: time.Now().UTC(),
			Effect:    effect,
		})
		if err != nil {
			return errors.WrapInvalid(err, "Worker", "publish", "encode effect")
		}
		if _, err := w.js.Publish(ctx, w.cfg.NATS.EffectSubject, payload); err != nil {
			return errors.WrapTransient(err, "Worker", "publish", "publish effect")
		}
	}

	payload, err := json.Marshal(newResultMessage(result))
	if err != nil {
		return errors.WrapInvalid(err, "Worker", "publish", "encode result")
	}
	if _, err := w.js.Publish(ctx, w.cfg.NATS.ResultSubject, payload); err != nil {
		return errors.WrapTransient(err, "Worker", "publish", "publish result")
	}
	return nil
}

// Stop shuts the worker down, waiting up to timeout for in-flight events.
func (w *Worker) Stop(timeout time.Duration) error {
	w.mu.Lock()
	if w.shutdown == nil {
		w.mu.Unlock()
		return nil // already stopped
	}
	close(w.shutdown)
	done := w.done
	w.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		w.logger.Warn("worker shutdown timed out", "timeout", timeout)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		if err := w.conn.Drain(); err != nil {
			w.logger.Warn("drain failed", "error", err)
		}
		w.conn = nil
		w.js = nil
		w.consumer = nil
	}

	w.shutdown = nil
	w.done = nil

	w.logger.Info("worker stopped", "events_processed", atomic.LoadInt64(&w.eventsProcessed))
	return nil
}

// Health returns a snapshot of the worker's runtime health.
func (w *Worker) Health() HealthStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	status := HealthStatus{
		Healthy:         w.shutdown != nil,
		EventsProcessed: atomic.LoadInt64(&w.eventsProcessed),
		ErrorCount:      atomic.LoadInt64(&w.errorCount),
		LastError:       w.lastError,
		LastCheck:       time.Now(),
	}
	if !w.startTime.IsZero() {
		status.Uptime = time.Since(w.startTime)
	}
	return status
}

func (w *Worker) recordError(err error) {
	atomic.AddInt64(&w.errorCount, 1)
	w.mu.Lock()
	w.lastError = err.Error()
	w.mu.Unlock()
}
