package cli

import (
	"context"
	"fmt"

	"github.com/cityfam/cityfam/internal/analytics"
	"github.com/cityfam/cityfam/internal/attendance"
	"github.com/cityfam/cityfam/internal/auth"
	"github.com/cityfam/cityfam/internal/business"
	"github.com/cityfam/cityfam/internal/chat"
	"github.com/cityfam/cityfam/internal/community"
	"github.com/cityfam/cityfam/internal/config"
	"github.com/cityfam/cityfam/internal/content"
	"github.com/cityfam/cityfam/internal/database"
	"github.com/cityfam/cityfam/internal/feeds"
	"github.com/cityfam/cityfam/internal/jobs"
	"github.com/cityfam/cityfam/internal/payments"
	"github.com/cityfam/cityfam/internal/server"
	"github.com/cityfam/cityfam/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and scheduled jobs",
		Long: `Run the HTTP API and the background scheduler.

Examples:
  cityfam serve
  cityfam serve --addr :9000 --config cityfam.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return runServe()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe() error {
	ctx, stop := signalContext()
	defer stop()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	broker, err := newBroker(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer broker.Close()

	uploads, err := storage.NewLocal(cfg.Storage.Dir, cfg.Storage.PublicBaseURL, int64(cfg.Storage.MaxUploadMB)<<20)
	if err != nil {
		return err
	}

	provider := newProvider(cfg.Stripe)
	recorder := analytics.NewRecorder(store, log.WithField("component", "analytics"))
	defer recorder.Close()

	att := attendance.NewService(store, log.WithField("component", "attendance"))
	fetcher := feeds.NewFetcher(store, log.WithField("component", "feeds"))

	scheduler := jobs.New(log.WithField("component", "jobs"))
	if err := scheduleJobs(scheduler, cfg.Jobs, fetcher, att, store); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	if cfg.Auth.JWTSecret == "" {
		log.Warn("auth.jwt_secret is empty; every authenticated request will be rejected")
	}

	srv := server.New(server.Deps{
		Content:    content.NewService(store, log.WithField("component", "content"), content.Options{ServerSideUnion: cfg.Content.ServerSideUnion}),
		Community:  community.NewService(store, cfg.Auth.Admins, log.WithField("component", "community")),
		Attendance: att,
		Business:   business.NewService(store, provider, log.WithField("component", "business")),
		Payments:   provider,
		Chat:       chat.NewService(store, broker, log.WithField("component", "chat")),
		Feeds:      fetcher,
		Analytics:  recorder,
		Uploads:    uploads,
		Verifier:   auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, log.WithField("component", "auth")),
		Log:        log.WithField("component", "http"),
	}, server.Options{
		RateLimitRPS:   cfg.RateLimit.RPS,
		RateLimitBurst: cfg.RateLimit.Burst,
		UploadsPath:    cfg.Storage.PublicBaseURL,
		UploadsHandler: uploads.Handler(),
	})
	return srv.Run(ctx, cfg.Server.Addr)
}

// newBroker picks Redis pub/sub when an address is configured, else the in-process broker.
func newBroker(ctx context.Context, rc config.RedisConfig) (chat.Broker, error) {
	if rc.Addr == "" {
		return chat.NewMemoryBroker(), nil
	}
	b, err := chat.NewRedisBroker(ctx, rc.Addr, rc.Password, rc.DB)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	log.WithField("addr", rc.Addr).Info("chat broker on redis")
	return b, nil
}

func newProvider(sc config.StripeConfig) payments.Provider {
	if sc.SecretKey == "" {
		log.Warn("stripe.secret_key is empty; paid listings are disabled")
		return payments.Disabled{}
	}
	return payments.NewStripe(payments.StripeConfig{
		SecretKey:     sc.SecretKey,
		WebhookSecret: sc.WebhookSecret,
		PriceID:       sc.PriceID,
		SuccessURL:    sc.SuccessURL,
		CancelURL:     sc.CancelURL,
	}, nil)
}

func scheduleJobs(s *jobs.Scheduler, jc config.JobsConfig, fetcher *feeds.Fetcher, att *attendance.Service, store database.Store) error {
	if err := s.Add("feed_poll", jc.FeedPoll, func(ctx context.Context) error {
		results, err := fetcher.FetchAll(ctx)
		total := 0
		for _, n := range results {
			total += n
		}
		log.WithFields(logrus.Fields{"feeds": len(results), "new_posts": total}).Info("feed poll finished")
		return err
	}); err != nil {
		return err
	}
	if err := s.Add("attendee_recount", jc.AttendeeRecount, func(ctx context.Context) error {
		_, err := att.RecountAttendees(ctx)
		return err
	}); err != nil {
		return err
	}
	return s.Add("member_recount", jc.MemberRecount, func(ctx context.Context) error {
		n, err := store.RecountBranchMembers(ctx)
		if n > 0 {
			log.WithField("branches", n).Warn("repaired drifted member counts")
		}
		return err
	})
}
