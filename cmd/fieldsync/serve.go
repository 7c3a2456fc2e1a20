package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/radclaudiu/ProductivaWorking-sub000/internal/api"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/events"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/logging"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/sync/scheduler"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the background sync daemon with the local API",
		Long: `Run background sync on the configured schedule, follow connectivity and serve
the local status API:

  GET  /api/health
  GET  /api/sync/status
  POST /api/sync[?entity=]
  GET  /api/pending[?entity=]
  GET  /ws                  sync, connectivity and pending events

Stops on SIGINT or SIGTERM after running syncs finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Address for the local API (overrides api.listen)")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, listen string) error {
	hub := events.NewHub()
	defer hub.Close()

	a, err := openApp(ctx, root, hub.BroadcastPending)
	if err != nil {
		return err
	}
	defer a.Close()
	a.registry.SetEventHandler(hub)

	sched, err := scheduler.NewScheduler(a.registry.Syncers(), &scheduler.SchedulerConfig{
		Schedule: a.cfg.Sync.Schedule,
	})
	if err != nil {
		return err
	}

	// Connectivity fans out to the event stream and the scheduler.
	hubUpdates, unsubscribeHub := a.monitor.Subscribe()
	defer unsubscribeHub()
	go hub.FollowConnectivity(ctx, hubUpdates)

	schedUpdates, unsubscribeSched := a.monitor.Subscribe()
	defer unsubscribeSched()
	go func() {
		for available := range schedUpdates {
			sched.SetOnlineStatus(available)
		}
	}()

	if a.prober != nil {
		go a.prober.Run(ctx)
	}

	sched.SetOnlineStatus(a.monitor.IsAvailable())
	sched.Start(ctx)
	defer sched.Stop()
	sched.TriggerSync(ctx)

	if listen == "" {
		listen = a.cfg.API.Listen
	}
	server := api.NewServer(api.Config{
		Listen:    listen,
		Version:   version,
		Scheduler: sched,
		Registry:  a.registry,
		Oracle:    a.monitor,
		Events:    hub,
	})

	logging.Info("fieldsync daemon started", map[string]interface{}{
		"entities": a.cfg.EnabledEntities(),
		"schedule": a.cfg.Sync.Schedule,
		"listen":   listen,
	})
	err = server.ListenAndServe(ctx)
	logging.Info("fieldsync daemon stopping", nil)
	return err
}
