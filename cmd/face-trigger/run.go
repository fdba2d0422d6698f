package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/face-trigger/internal/capture"
	"github.com/sweeney/face-trigger/internal/config"
	"github.com/sweeney/face-trigger/internal/control"
	"github.com/sweeney/face-trigger/internal/dispatch"
	"github.com/sweeney/face-trigger/internal/gpio"
	"github.com/sweeney/face-trigger/internal/logic"
	"github.com/sweeney/face-trigger/internal/metrics"
	"github.com/sweeney/face-trigger/internal/mqtt"
	"github.com/sweeney/face-trigger/internal/notify"
	"github.com/sweeney/face-trigger/internal/status"
	"github.com/sweeney/face-trigger/internal/vision"
	"github.com/sweeney/face-trigger/internal/web"
)

const httpShutdownTimeout = 5 * time.Second

// components are the hardware and network edges of the daemon.
type components struct {
	source    capture.Source
	detector  vision.Detector
	gallery   *vision.Gallery
	dialer    mqtt.Dialer
	notifier  notify.Notifier
	indicator gpio.Indicator
}

func run(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comps, err := openComponents(cfg, log)
	if err != nil {
		return err
	}
	defer comps.close(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return serve(ctx, cfg, log, comps, reg)
}

func openComponents(cfg *config.Config, log *zap.SugaredLogger) (_ *components, err error) {
	c := &components{dialer: newDialer(cfg, log)}
	defer func() {
		if err != nil {
			c.close(log)
		}
	}()

	if c.gallery, err = vision.LoadGallery(cfg.Vision.Gallery); err != nil {
		return nil, err
	}
	log.Infow("face gallery loaded", "path", cfg.Vision.Gallery, "encodings", c.gallery.Len(), "identities", len(c.gallery.Names()))

	detector, err := vision.NewDlibDetector(cfg.Vision.Models)
	if err != nil {
		return nil, fmt.Errorf("init face detector: %w", err)
	}
	c.detector = detector

	if cfg.Capture.Dir != "" {
		src, err := capture.NewDirSource(cfg.Capture.Dir, cfg.Capture.Interval)
		if err != nil {
			return nil, err
		}
		log.Infow("replaying frames from directory", "dir", cfg.Capture.Dir, "frames", src.Len())
		c.source = src
	} else {
		src, err := capture.NewCameraSource(cfg.Capture.Device, cfg.Capture.Width, cfg.Capture.Height)
		if err != nil {
			return nil, err
		}
		c.source = src
	}

	c.notifier = notify.Nop{}
	if cfg.Notify.Enabled {
		email, err := notify.NewEmail(notify.EmailConfig{
			Host:     cfg.Notify.SMTP.Host,
			Port:     cfg.Notify.SMTP.Port,
			Username: cfg.Notify.SMTP.Username,
			Password: cfg.Notify.SMTP.Password,
			From:     cfg.Notify.From,
			To:       cfg.Notify.To,
			Timeout:  cfg.Notify.Timeout,
		}, log)
		if err != nil {
			return nil, err
		}
		c.notifier = email
	}

	c.indicator = gpio.Nop{}
	if cfg.GPIO.LEDPin >= 0 {
		led, err := gpio.NewRealIndicator(cfg.GPIO.LEDPin)
		if err != nil {
			// The LED is cosmetic; run without it.
			log.Warnw("status led unavailable", "pin", cfg.GPIO.LEDPin, "error", err)
		} else {
			c.indicator = led
		}
	}
	return c, nil
}

func (c *components) close(log *zap.SugaredLogger) {
	if c.source != nil {
		if err := c.source.Close(); err != nil {
			log.Warnw("close frame source", "error", err)
		}
	}
	if c.detector != nil {
		if err := c.detector.Close(); err != nil {
			log.Warnw("close face detector", "error", err)
		}
	}
	if c.indicator != nil {
		if err := c.indicator.Close(); err != nil {
			log.Warnw("close status led", "error", err)
		}
	}
}

// serve runs the control loop, result reporter and status server until ctx
// is cancelled or one of them fails.
func serve(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger, comps *components, reg *prometheus.Registry) error {
	m := metrics.NewCollector(reg)

	actions, err := cfg.ActionTable()
	if err != nil {
		return err
	}

	tracker := status.NewTracker(time.Now(), statusConfig(cfg))

	channel := mqtt.NewChannel(comps.dialer, channelOptions(cfg), log, m)
	defer func() {
		if err := channel.Close(); err != nil {
			log.Warnw("close mqtt session", "error", err)
		}
	}()

	// The pool outlives ctx so queued commands get the grace period on shutdown.
	pool := dispatch.NewPool(cfg.Dispatch.Workers, cfg.Dispatch.Queue, log)
	if err := pool.Start(context.Background()); err != nil {
		return err
	}

	loop := control.New(control.Deps{
		Source:     comps.source,
		Resolver:   vision.NewResolver(comps.detector, comps.gallery, cfg.Vision.Tolerance),
		Gate:       logic.NewGate(cfg.Cooldown),
		Actions:    actions,
		Publisher:  channel,
		MQTTStatus: channel,
		Notifier:   comps.notifier,
		Pool:       pool,
		Tracker:    tracker,
		Indicator:  comps.indicator,
		Metrics:    m,
		Log:        log,
	}, control.Config{
		EscalateAfter:  cfg.Capture.EscalateAfter,
		IndicatorPulse: cfg.GPIO.Pulse,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := loop.Run(gctx)
		if !pool.Stop(cfg.Dispatch.Grace) {
			log.Warnw("some dispatch tasks did not finish before shutdown", "grace", cfg.Dispatch.Grace)
		}
		return err
	})
	g.Go(func() error {
		loop.Report(pool.Results())
		return nil
	})

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, reg)
		g.Go(func() error {
			log.Infow("http status server listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Infow("started",
		"broker", cfg.MQTT.Broker,
		"topic", cfg.MQTT.Topic,
		"cooldown", cfg.Cooldown,
		"default_action", actions.Default().String(),
		"rules", len(cfg.Actions.Rules),
		"workers", cfg.Dispatch.Workers)

	err = g.Wait()
	log.Infow("shutting down")
	return err
}

func statusConfig(cfg *config.Config) status.Config {
	rules := make([]status.Rule, 0, len(cfg.Actions.Rules))
	for _, r := range cfg.Actions.Rules {
		rules = append(rules, status.Rule{Identity: r.Identity, Action: r.Action})
	}
	return status.Config{
		Broker:        cfg.MQTT.Broker,
		Topic:         cfg.MQTT.Topic,
		CooldownMs:    cfg.Cooldown.Milliseconds(),
		DefaultAction: cfg.Actions.Default,
		Rules:         rules,
		HTTPAddr:      cfg.HTTP.Addr,
		Workers:       cfg.Dispatch.Workers,
	}
}
