package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/forPelevin/autodub/internal/config"
	"github.com/forPelevin/autodub/internal/jobs"
	"github.com/forPelevin/autodub/internal/server"
)

const pruneInterval = 10 * time.Minute

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP dubbing job server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (default from config, :8000)")
	cmd.Flags().Int("max-jobs", 0, "Jobs processed at the same time")
	return cmd
}

func (a *app) serve(cmd *cobra.Command) error {
	sc := a.cfg.Server
	if cmd.Flags().Changed("addr") {
		sc.Addr, _ = cmd.Flags().GetString("addr")
	}
	if cmd.Flags().Changed("max-jobs") {
		sc.MaxJobs, _ = cmd.Flags().GetInt("max-jobs")
	}
	ttl, err := sc.TTL()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, sc)
	if err != nil {
		return err
	}
	defer closeStore()

	base := a.cfg.Pipeline("")
	runner := jobs.PipelineRunner(base, server.OutputsPrefix, a.log)
	mgr := jobs.NewManager(store, runner, sc.MaxJobs, a.log)
	go mgr.PruneLoop(ctx, ttl, pruneInterval)

	a.log.WithFields(logrus.Fields{
		"store":    sc.Store,
		"max_jobs": sc.MaxJobs,
		"out_dir":  base.OutDir,
	}).Info("starting job server")

	srv := server.New(mgr, a.cfg.OutDir, a.log)
	serveErr := srv.ListenAndServe(ctx, sc.Addr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("jobs still running at shutdown")
	}
	return serveErr
}

func openStore(ctx context.Context, sc config.Server) (jobs.Store, func(), error) {
	if sc.Store != "redis" {
		return jobs.NewMemoryStore(), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     sc.RedisAddr,
		Password: sc.RedisPassword,
		DB:       sc.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis %s: %w", sc.RedisAddr, err)
	}
	return jobs.NewRedisStore(rdb, jobs.DefaultRedisKey), func() { _ = rdb.Close() }, nil
}
