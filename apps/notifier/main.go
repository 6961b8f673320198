package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mahaj/groupchat/pkg/config"
	"github.com/mahaj/groupchat/pkg/logging"
	"github.com/mahaj/groupchat/pkg/notify"
	"github.com/mahaj/groupchat/pkg/push"
	"github.com/mahaj/groupchat/pkg/snowflake"
	"github.com/mahaj/groupchat/pkg/storage"
)

var (
	tokenFlag   string
	profileFlag string
)

var rootCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Show push notifications while the chat client is closed",
	Long: `The notifier is the background handler of the group chat. It listens for
deliveries to the client's push token and prints a notification for each one.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&tokenFlag, "token", "", "push token to listen on (default: the token saved by the client)")
	rootCmd.Flags().StringVar(&profileFlag, "profile", "", "name of the shared redis state (CHAT_PROFILE)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// sharedState opens the client's state to find its token and permission.
// A pebble store is only read and closed again, since the running client
// holds its lock.
func sharedState(cfg *config.Config) (storage.Store, error) {
	if cfg.Storage == "redis" {
		return storage.NewRedis(cfg.RedisAddr, cfg.Profile), nil
	}
	mem, err := storage.OpenMemory()
	if err != nil {
		return nil, err
	}
	disk, err := storage.OpenPebble(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		// the client is probably running; fall back to flags only
		return mem, nil
	}
	defer disk.Close()
	for _, k := range []string{storage.KeyPushToken, storage.KeyInstallationID, storage.KeyNotificationPermission} {
		v, ok, err := disk.Get(k)
		if err != nil {
			return nil, err
		}
		if ok {
			if err := mem.Set(k, v); err != nil {
				return nil, err
			}
		}
	}
	return mem, nil
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("profile") {
		cfg.Profile = profileFlag
	}
	logging.Init(os.Stderr, cfg.LogLevel)
	log := logging.Component("notifier")

	if cfg.PushTransport == "none" {
		return errors.New("notifier needs a push transport, set CHAT_PUSH_TRANSPORT")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sharedState(cfg)
	if err != nil {
		return errors.Wrap(err, "open shared state")
	}
	defer store.Close()

	token := tokenFlag
	if token == "" {
		saved, ok, err := store.Get(storage.KeyPushToken)
		if err != nil {
			return errors.Wrap(err, "read push token")
		}
		if !ok {
			return errors.New("no push token saved yet: open the chat once and allow notifications, or pass --token")
		}
		token = saved
	}

	nc := notify.NewTerminalCapability(store, nil, os.Stdout, true)
	if nc.PermissionState() == notify.PermissionDenied {
		log.Warn().Msg("Notifications blocked.")
		return nil
	}

	pushLog := logging.Component("push")
	transport, err := push.NewTransport(cfg.PushTransport, cfg.RedisAddr, cfg.KafkaBrokers, cfg.PushTopic, pushLog)
	if err != nil {
		return err
	}
	defer transport.Close()

	ids := snowflake.NodeFor("notifier")
	messaging := push.NewMessaging(cfg.PushApp(), transport, store, push.WithLogger(pushLog), push.WithIDs(ids))
	defer messaging.Close()
	messaging.SetForeground(false)

	workers := notify.NewWorkers(nc, ids, notify.ServiceWorkerPath)
	reg, err := workers.Register(ctx, notify.ServiceWorkerPath)
	if err != nil {
		return err
	}
	defer messaging.OnBackgroundMessage(notify.BackgroundHandler(reg, log))()

	// the transport may come up after us
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	err = backoff.RetryNotify(func() error {
		return messaging.Attach(token)
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Msg("attach push deliveries")
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	log.Info().Str("transport", cfg.PushTransport).Msg("listening for push deliveries")
	<-ctx.Done()
	log.Info().Msg("shutting down")
	return nil
}
