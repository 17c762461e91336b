package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	storeFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "store",
			Usage:   "Subscription store type (file, postgres, redis)",
			Value:   "file",
			EnvVars: []string{"SUBSCRIPTION_STORE"},
		},
		&cli.StringFlag{
			Name:    "subscriptions-file",
			Usage:   "YAML file declaring subscriptions and static credentials",
			Value:   "subscriptions.yaml",
			EnvVars: []string{"SUBSCRIPTIONS_FILE"},
		},
		&cli.StringFlag{
			Name:    "db-url",
			Usage:   "Database connection URL, enables the trigger log",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "Redis address for the redis subscription store",
			Value:   "localhost:6379",
			EnvVars: []string{"REDIS_ADDR"},
		},
	}

	awsFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "region",
			Usage:   "AWS region used for queues on custom endpoints",
			EnvVars: []string{"AWS_REGION"},
		},
		&cli.StringFlag{
			Name:    "proxy-url",
			Usage:   "HTTP proxy used to reach SQS",
			EnvVars: []string{"SQS_PROXY_URL"},
		},
	}

	logFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (trace, debug, info, warn, error)",
			Value:   "info",
			EnvVars: []string{"LOG_LEVEL"},
		},
	}

	app := &cli.App{
		Name:   "sqs-trigger-poller",
		Usage:  "Long-poll SQS queues and trigger jobs from their messages",
		Before: setLogLevel,
		Flags:  logFlags,
		Commands: []*cli.Command{
			{
				Name:  "start",
				Usage: "Start polling every subscribed queue",
				Flags: concatFlags(storeFlags, awsFlags, []cli.Flag{
					&cli.DurationFlag{
						Name:    "period",
						Usage:   "Length of a poll round",
						Value:   defaultRecurrencePeriod,
						EnvVars: []string{"POLL_PERIOD"},
					},
					&cli.IntFlag{
						Name:    "max-errors",
						Usage:   "Consecutive errors tolerated before a subscription is removed",
						Value:   defaultMaxErrorCount,
						EnvVars: []string{"MAX_ERRORS"},
					},
					&cli.DurationFlag{
						Name:    "error-sleep",
						Usage:   "Sleep multiplier applied after every error",
						Value:   defaultErrorSleepDelay,
						EnvVars: []string{"ERROR_SLEEP"},
					},
					&cli.DurationFlag{
						Name:    "min-remaining",
						Usage:   "Loops stop once this little time is left in a round",
						Value:   defaultMinRemaining,
						EnvVars: []string{"MIN_REMAINING"},
					},
					&cli.DurationFlag{
						Name:    "max-wait",
						Usage:   "Longest long-poll wait, at most 20s",
						Value:   defaultMaxWait,
						EnvVars: []string{"MAX_WAIT"},
					},
					&cli.DurationFlag{
						Name:    "trigger-timeout",
						Usage:   "Timeout of a job trigger request",
						Value:   defaultTriggerTimeout,
						EnvVars: []string{"TRIGGER_TIMEOUT"},
					},
					&cli.BoolFlag{
						Name:    "quiet",
						Usage:   "Suppress per-batch success logs (only show round summaries)",
						Value:   false,
						EnvVars: []string{"QUIET"},
					},
				}),
				Action: startPoller,
			},
			{
				Name:  "check",
				Usage: "Test the connection to a queue without consuming messages",
				Flags: concatFlags(awsFlags, []cli.Flag{
					&cli.StringFlag{
						Name:     "queue-url",
						Usage:    "AWS SQS queue URL",
						Required: true,
						EnvVars:  []string{"SQS_QUEUE_URL"},
					},
					&cli.StringFlag{
						Name:  "credentials-id",
						Usage: "Credentials reference, empty for the default chain",
					},
					&cli.StringFlag{
						Name:    "subscriptions-file",
						Usage:   "YAML file declaring static credentials",
						Value:   "subscriptions.yaml",
						EnvVars: []string{"SUBSCRIPTIONS_FILE"},
					},
				}),
				Action: checkQueue,
			},
			{
				Name:  "subscriptions",
				Usage: "Manage subscriptions in the subscription store",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List subscriptions",
						Flags:  storeFlags,
						Action: listSubscriptionsCmd,
					},
					{
						Name:  "add",
						Usage: "Add or replace a subscription",
						Flags: concatFlags(storeFlags, []cli.Flag{
							&cli.StringFlag{Name: "queue-url", Usage: "AWS SQS queue URL", Required: true},
							&cli.StringFlag{Name: "job", Usage: "Job name", Required: true},
							&cli.StringFlag{Name: "job-url", Usage: "Endpoint that triggers the job", Required: true},
							&cli.StringFlag{Name: "credentials-id", Usage: "Credentials reference, empty for the default chain"},
						}),
						Action: addSubscription,
					},
					{
						Name:  "remove",
						Usage: "Remove a subscription",
						Flags: concatFlags(storeFlags, []cli.Flag{
							&cli.StringFlag{Name: "queue-url", Usage: "AWS SQS queue URL", Required: true},
						}),
						Action: removeSubscription,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("Application failed")
	}
}

func concatFlags(groups ...[]cli.Flag) []cli.Flag {
	var flags []cli.Flag
	for _, g := range groups {
		flags = append(flags, g...)
	}
	return flags
}

func setLogLevel(c *cli.Context) error {
	switch c.String("log-level") {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	return nil
}

// opens the configured subscription store, static credentials always come from
// the subscriptions file when it exists
func openStore(c *cli.Context, db *Database) (SubscriptionStore, []StaticCredentials, error) {
	fileStore, file, err := NewFileSubscriptionStore(c.String("subscriptions-file"))
	if err != nil {
		return nil, nil, err
	}

	switch storeType := c.String("store"); storeType {
	case "file":
		return fileStore, file.Credentials, nil
	case "postgres":
		if db == nil {
			return nil, nil, fmt.Errorf("the postgres store needs --db-url")
		}
		return NewPostgresSubscriptionStore(db.db), file.Credentials, nil
	case "redis":
		store, err := NewRedisSubscriptionStore(c.String("redis-addr"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create redis subscription store: %w", err)
		}
		return store, file.Credentials, nil
	default:
		return nil, nil, fmt.Errorf("invalid store: %s", storeType)
	}
}

func openDatabase(c *cli.Context) (*Database, error) {
	if c.String("db-url") == "" {
		return nil, nil
	}
	db, err := NewDatabase(c.String("db-url"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func newQueueClient(ctx context.Context, c *cli.Context, static []StaticCredentials) (*SQSQueueClient, error) {
	var opts []func(*config.LoadOptions) error
	if region := c.String("region"); region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	// aws config
	awsCFG, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSQSQueueClient(awsCFG, NewProfileCredentialsResolver(static), c.String("proxy-url"))
}

func startPoller(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	var triggerLog DatabaseInterface
	if db != nil {
		defer db.Close()
		triggerLog = db
	}

	store, static, err := openStore(c, db)
	if err != nil {
		return err
	}
	defer store.Close()

	queueClient, err := newQueueClient(c.Context, c, static)
	if err != nil {
		return err
	}

	registry := NewRegistry()
	httpClient := &http.Client{}
	syncer := NewStoreSync(store, registry, func(cfg SubscriptionConfig) Consumer {
		return NewJobTrigger(cfg, httpClient, triggerLog, c.Duration("trigger-timeout"), c.Bool("quiet"))
	})
	// later rounds sync again, subscriptions added with `subscriptions add` are picked up there
	if err := syncer.Sync(c.Context); err != nil {
		return fmt.Errorf("failed to load subscriptions: %w", err)
	}
	log.Info().Int("subscriptions", registry.Len()).Msg("Loaded SQS subscriptions")

	counter := NewSleepingErrorCounter(c.Int("max-errors"), c.Duration("error-sleep"))
	poller := NewPoller(PollerConfig{
		MinRemaining: c.Duration("min-remaining"),
		MaxWait:      c.Duration("max-wait"),
		Quiet:        c.Bool("quiet"),
	}, queueClient, registry, counter)
	task := NewPollTask(NewRoundCoordinator(registry, poller), c.Duration("period")).WithSync(syncer)

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	// shutdown setup
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		// wait for shutdown signal / ctrl-c or sigterm which is what docker sends
		<-sigChan
		log.Info().Msg("Shutting down...")
		cancel()
	}()

	log.Info().Dur("period", c.Duration("period")).Msg("Starting SQS trigger poller")
	return task.Start(ctx, NewCronScheduler())
}

func checkQueue(c *cli.Context) error {
	_, file, err := NewFileSubscriptionStore(c.String("subscriptions-file"))
	if err != nil {
		return err
	}

	queueClient, err := newQueueClient(c.Context, c, file.Credentials)
	if err != nil {
		return err
	}

	sub := NewSubscription(c.String("queue-url"), c.String("credentials-id"), "", nil)
	if err := queueClient.TestConnection(c.Context, sub); err != nil {
		return fmt.Errorf("connection to %s failed: %w", sub.QueueURL, err)
	}

	stats, err := queueClient.Stats(c.Context, sub)
	if err != nil {
		return fmt.Errorf("failed to fetch queue stats: %w", err)
	}

	log.Info().
		Str("queue_url", sub.QueueURL).
		Str("available", stats.Available).
		Str("in_flight", stats.InFlight).
		Str("delayed", stats.Delayed).
		Msg("SQS queue reachable")
	return nil
}

func withStore(c *cli.Context, fn func(store SubscriptionStore) error) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	store, _, err := openStore(c, db)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(store)
}

func listSubscriptionsCmd(c *cli.Context) error {
	return withStore(c, func(store SubscriptionStore) error {
		configs, err := store.List(c.Context)
		if err != nil {
			return err
		}
		for _, cfg := range configs {
			fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\t%s\n", cfg.QueueURL, cfg.JobName, cfg.JobURL, cfg.CredentialsID)
		}
		return nil
	})
}

func addSubscription(c *cli.Context) error {
	cfg := SubscriptionConfig{
		QueueURL:      c.String("queue-url"),
		CredentialsID: c.String("credentials-id"),
		JobName:       c.String("job"),
		JobURL:        c.String("job-url"),
	}
	if _, _, err := queueEndpoint(cfg.QueueURL); err != nil {
		return err
	}

	return withStore(c, func(store SubscriptionStore) error {
		if err := store.Put(c.Context, cfg); err != nil {
			return err
		}
		log.Info().Str("queue_url", cfg.QueueURL).Str("job", cfg.JobName).Msg("Subscription saved")
		return nil
	})
}

func removeSubscription(c *cli.Context) error {
	return withStore(c, func(store SubscriptionStore) error {
		if err := store.Delete(c.Context, c.String("queue-url")); err != nil {
			return err
		}
		log.Info().Str("queue_url", c.String("queue-url")).Msg("Subscription removed")
		return nil
	})
}
