package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Builder-Lawyers/church-provisioner/internal/application"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/commands"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/interfaces"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/processors"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/query"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/auth"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/certs"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/config"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/credentials"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/db"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/db/repo"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/dns"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/mail"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/memstore"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/site"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/storage"
	"github.com/Builder-Lawyers/church-provisioner/internal/presentation/rest"
	"github.com/Builder-Lawyers/church-provisioner/internal/presentation/scheduler"
	dbs "github.com/Builder-Lawyers/church-provisioner/pkg/db"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"
)

func Serve() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API and the provisioning workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply database migrations before starting")
	return cmd
}

func serve(ctx context.Context, migrate bool) error {
	// Configs
	serverConfig := config.NewServerConfig()
	provisionConfig, err := config.NewProvisionConfig()
	if err != nil {
		return err
	}
	siteConfig := config.NewSiteConfig()
	authConfig := auth.NewAuthConfig()
	mailConfig := mail.NewMailConfig()
	outboxConfig := scheduler.NewOutboxConfig()

	// DB
	backend, closeDB, err := openStores(ctx, dbs.NewConfig(), migrate)
	if err != nil {
		return err
	}
	defer closeDB()

	// AWS
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("can't load aws config: %w", err)
	}
	s3 := storage.NewStorage(cfg, siteConfig.Bucket)
	dnsProvisioner := dns.NewDNSProvisioner(cfg)
	acmCerts := certs.NewACMCertificates(cfg)

	// Collaborators
	sender, err := mail.NewSender(mailConfig)
	if err != nil {
		return err
	}
	notifier := mail.NewNotifier(sender)
	runs := processors.NewRunRegistry()
	orchestrator := processors.NewOrchestrator(
		provisionConfig, backend.store, runs,
		site.NewProvisioner(siteConfig, s3, dnsProvisioner, acmCerts),
		site.NewTester(siteConfig),
		credentials.NewIssuer(backend.users),
		notifier,
	)

	verifier, err := auth.NewVerifier(ctx, authConfig)
	if err != nil {
		return err
	}

	handlers := &application.Handlers{
		SubmitProvision:  commands.NewSubmitProvision(backend.store, notifier),
		ApproveProvision: commands.NewApproveProvision(backend.store, authConfig.PrivilegedRoles),
		CancelProvision:  commands.NewCancelProvision(backend.store, runs, authConfig.PrivilegedRoles),
		ListQueue:        query.NewListQueue(backend.store, authConfig.PrivilegedRoles),
		GetStatus:        query.NewGetStatus(backend.store),
	}
	app := rest.NewApp(serverConfig)
	rest.RegisterHandlers(app, rest.NewServer(handlers), verifier)

	outboxPoller := scheduler.NewOutboxPoller(&application.Processors{ProvisionApproved: orchestrator}, backend.outbox, outboxConfig)
	go outboxPoller.Start()

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(serverConfig.Addr)
	}()

	select {
	case <-ctx.Done():
	case err = <-listenErr:
		slog.Error("http server stopped", "err", err)
	}

	slog.Info("Gracefully shutting down...")
	if shutdownErr := app.Shutdown(); shutdownErr != nil {
		slog.Error("error shutting down http server", "err", shutdownErr)
	}
	outboxPoller.Stop()
	slog.Info("Shutdown complete", "interruptedRuns", runs.Active())
	return err
}

type stores struct {
	store  interfaces.ProvisionStore
	users  interfaces.UserRepo
	outbox interfaces.Outbox
}

// openStores picks the Postgres store or, with DB_DRIVER=memory, a
// process-local one that loses everything on exit.
func openStores(ctx context.Context, cfg *dbs.Config, migrate bool) (*stores, func(), error) {
	if cfg.Driver == dbs.DriverMemory {
		slog.Warn("using in-memory store, state is not persisted")
		mem := memstore.New()
		return &stores{store: mem, users: mem, outbox: mem}, func() {}, nil
	}

	pool, err := dbs.NewPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if migrate {
		if err = db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	uowFactory := dbs.NewUoWFactory(pool)
	store := repo.NewStore(uowFactory)
	return &stores{
		store:  store,
		users:  store,
		outbox: repo.NewOutboxStore(uowFactory),
	}, pool.Close, nil
}
