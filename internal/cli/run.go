package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codephyt/vaultrelay/internal/api"
	"github.com/codephyt/vaultrelay/internal/bus"
	"github.com/codephyt/vaultrelay/internal/channels"
	"github.com/codephyt/vaultrelay/internal/metrics"
	"github.com/codephyt/vaultrelay/internal/relay"
)

var runSignalNotify = signal.Notify
var runSignalStop = signal.Stop

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the relay: chat transport, direct path, vault polling and status server",
	RunE:  runRelay,
}

func runRelay(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	printHeader(out, "Relay")

	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}
	ledger, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer ledger.Close()

	m := metrics.New()
	pub := newPublisher(cfg)
	defer pub.Close()

	msgBus := bus.NewMessageBus()
	engine := newEngine(cfg, relay.Deps{
		Sender:    msgBus,
		Inbound:   msgBus,
		Ledger:    ledger,
		Publisher: pub,
		Metrics:   m,
	})

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	runSignalNotify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer runSignalStop(sigChan)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(out, "Shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Relay component stopped", "component", name, "error", err)
			}
		}()
	}

	if addr := cfg.Relay.StatusAddr; addr != "" {
		router := api.NewRouter(api.Deps{
			Engine:    engine,
			Ledger:    ledger,
			Bus:       msgBus,
			Metrics:   m,
			Transport: cfg.Channels.Transport,
			Version:   version,
		})
		spawn("status", func(ctx context.Context) error { return api.Serve(ctx, addr, router) })
	}

	var ch channels.Channel
	if transportEnabled(cfg) {
		ch, err = channels.New(cfg, msgBus)
		if err != nil {
			return err
		}
		spawn("dispatch", msgBus.DispatchOutbound)
		spawn("direct", engine.Run)
		fmt.Fprintf(out, "Starting %s transport...\n", ch.Name())
		if err := ch.Start(ctx); err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("start %s: %w", ch.Name(), err)
		}
		defer ch.Stop()
	} else {
		fmt.Fprintln(out, "Chat transport disabled; direct path off")
	}

	if cfg.Poll.Enabled {
		sched := newScheduler(cfg, ledger, scheduledPoll(engine))
		spawn("scheduler", func(ctx context.Context) error {
			// Polling starts once the transport is connected.
			if ch != nil {
				select {
				case <-ch.Ready():
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			slog.Info("Vault polling started", "interval", cfg.Poll.Interval)
			return sched.Run(ctx)
		})
	}

	fmt.Fprintln(out, "Relay running. Press Ctrl+C to stop.")
	<-ctx.Done()
	wg.Wait()
	return nil
}
