package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/spf13/pflag"

	"str-manager/config"
	"str-manager/internal/api"
	"str-manager/internal/clock"
	"str-manager/internal/hass"
	"str-manager/internal/notification"
	"str-manager/internal/orchestrator"
	"str-manager/internal/scheduler"
	"str-manager/internal/store"
)

type options struct {
	configPath string
	once       bool
	port       int
}

func main() {
	logger := log.New(os.Stdout, "str-manager ", log.LstdFlags)

	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		logger.Fatalf("invalid arguments: %v", err)
	}

	if err := run(logger, opts); err != nil {
		logger.Fatalf("%v", err)
	}
}

func parseFlags(args []string) (options, error) {
	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "./config/config.yaml" // Default path for local development
	}

	var opts options
	flagSet := pflag.NewFlagSet("strmgrd", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", defaultConfig, "path to the YAML configuration file (env CONFIG_PATH)")
	flagSet.BoolVar(&opts.once, "once", false, "poll every unit once and exit")
	flagSet.IntVar(&opts.port, "port", 0, "status API port (overrides server.port)")

	if err := flagSet.Parse(args); err != nil {
		return opts, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return opts, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return opts, nil
}

func run(logger *log.Logger, opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", opts.configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s (%d units)", opts.configPath, len(cfg.Units))
	if opts.port > 0 {
		cfg.Server.Port = opts.port
	}

	clk := clock.Real(cfg.Location)

	return store.With(&cfg.Database, clk, func(st store.Store) error {
		logger.Println("guard store opened")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		logRecords(ctx, logger, st)

		client := hass.NewClient(&cfg.HomeAssistant)

		var webpushOptions *webpush.Options
		notifiers := notification.NewRouter()
		notifiers.Register("hass", client.Notifier(cfg.Alerts.NotifyService))
		if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
			webpushOptions = &webpush.Options{
				VAPIDPublicKey:  cfg.Push.PublicKey,
				VAPIDPrivateKey: cfg.Push.PrivateKey,
				Subscriber:      cfg.Push.Subject,
				TTL:             cfg.Push.TTL,
			}
			notifiers.Register("webpush", notification.NewWebPushNotifier(st.DB(), webpushOptions))
		} else {
			logger.Println("VAPID keys are not configured; the webpush channel is disabled")
		}

		recipients, err := resolveRecipients(cfg.Alerts.Recipients, notifiers)
		if err != nil {
			return err
		}

		orch := orchestrator.New(cfg, orchestrator.Deps{
			States:     client,
			Actuators:  client,
			History:    client,
			Guard:      st,
			Clock:      clk,
			Recipients: recipients,
		})

		sched, err := scheduler.New(cfg, orch)
		if err != nil {
			return err
		}

		if opts.once {
			return sched.Tick(ctx)
		}

		var server *http.Server
		if cfg.Server.Enabled {
			server = &http.Server{
				Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
				Handler: api.NewRouter(&cfg.Server, st, orch, clk, webpushOptions),
			}
			go func() {
				logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Printf("HTTP server ListenAndServe: %v", err)
					cancel()
				}
			}()
		}

		schedDone := make(chan struct{})
		go func() {
			defer close(schedDone)
			sched.Run(ctx)
		}()

		// Setup signal handling for graceful shutdown
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stop)

		select {
		case <-stop:
			logger.Println("Shutdown signal received, stopping services...")
		case <-ctx.Done():
		}
		cancel()

		if server != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Printf("HTTP server Shutdown: %v", err)
			}
		}
		<-schedDone

		logger.Println("Service gracefully stopped")
		return nil
	})
}

// resolveRecipients binds each configured alert recipient to the notifier
// of its channel.
func resolveRecipients(cfgs []config.RecipientConfig, notifiers *notification.Router) ([]orchestrator.Recipient, error) {
	recipients := make([]orchestrator.Recipient, 0, len(cfgs))
	for i, rc := range cfgs {
		n, err := notifiers.Lookup(rc.Channel)
		if err != nil {
			return nil, fmt.Errorf("alerts.recipients[%d]: %w", i, err)
		}
		name := rc.Name
		if name == "" {
			name = rc.Target
		}
		recipients = append(recipients, orchestrator.Recipient{Name: name, Target: rc.Target, Notifier: n})
	}
	return recipients, nil
}

// logRecords prints the guard state carried over from the previous run.
func logRecords(ctx context.Context, logger *log.Logger, st store.Store) {
	records, err := st.Records(ctx)
	if err != nil {
		logger.Printf("failed to read guard records: %v", err)
		return
	}
	logger.Printf("guard store holds %d action records", len(records))
	for _, rec := range records {
		logger.Printf("  %s last ran %s", rec.Key, rec.LastRun)
	}
}
