package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mahaj/groupchat/pkg/api"
	"github.com/mahaj/groupchat/pkg/chat"
	"github.com/mahaj/groupchat/pkg/config"
	"github.com/mahaj/groupchat/pkg/logging"
	"github.com/mahaj/groupchat/pkg/notify"
	"github.com/mahaj/groupchat/pkg/push"
	"github.com/mahaj/groupchat/pkg/snowflake"
	"github.com/mahaj/groupchat/pkg/socket"
	"github.com/mahaj/groupchat/pkg/storage"
	"github.com/mahaj/groupchat/pkg/ui"
)

var flags struct {
	api           string
	dataDir       string
	storage       string
	pushTransport string
	notifications string
	logLevel      string
	profile       string
	noColor       bool
}

var rootCmd = &cobra.Command{
	Use:          "groupchat",
	Short:        "Terminal client for the Social Group-Chat",
	Long:         `Join the group chat from a terminal. Plain lines are sent as messages; type /help for commands.`,
	SilenceUsage: true,
	RunE:         runChat,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&flags.api, "api", "", "chat backend base URL (CHAT_API)")
	f.StringVar(&flags.dataDir, "data-dir", "", "directory for local state (CHAT_DATA_DIR)")
	f.StringVar(&flags.storage, "storage", "", "local state backend: pebble or redis (CHAT_STORAGE)")
	f.StringVar(&flags.pushTransport, "push-transport", "", "push delivery transport: redis, kafka or none (CHAT_PUSH_TRANSPORT)")
	f.StringVar(&flags.notifications, "notifications", "", "notification permission: ask, granted or denied (CHAT_NOTIFICATIONS)")
	f.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (CHAT_LOG_LEVEL)")
	f.StringVar(&flags.profile, "profile", "", "name of the shared redis state (CHAT_PROFILE)")
	f.BoolVar(&flags.noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(logoutCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the environment and lets explicitly set flags win.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	fl := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if fl.Changed(name) {
			*dst = v
		}
	}
	set("api", &cfg.API, strings.TrimRight(flags.api, "/"))
	set("data-dir", &cfg.DataDir, flags.dataDir)
	set("storage", &cfg.Storage, flags.storage)
	set("push-transport", &cfg.PushTransport, flags.pushTransport)
	set("notifications", &cfg.Notifications, flags.notifications)
	set("log-level", &cfg.LogLevel, flags.logLevel)
	set("profile", &cfg.Profile, flags.profile)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.Storage == "redis" {
		return storage.NewRedis(cfg.RedisAddr, cfg.Profile), nil
	}
	return storage.OpenPebble(filepath.Join(cfg.DataDir, "state"))
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "groupchat"
	}
	return h
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logging.Init(os.Stderr, cfg.LogLevel)
	log := logging.Component("client")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return errors.Wrap(err, "open local state")
	}
	defer store.Close()

	colors := !flags.noColor
	term := ui.NewTerminal(os.Stdin, os.Stdout)
	ids := snowflake.NodeFor(hostname())
	backend := api.New(cfg.API, api.WithLogger(logging.Component("api")), api.WithIDs(ids))

	renderer := ui.NewRenderer(term.Writer(), colors)
	renderer.SetFooter(term.PendingPrompt)
	chatCfg := chat.Config{
		Store:    store,
		Backend:  backend,
		Dial:     chat.SocketDialer(socket.WithLogger(logging.Component("socket"))),
		Alerts:   term,
		Renderer: renderer,
		Log:      logging.Component("chat"),
	}
	r := &repl{term: term, out: term.Writer(), colors: colors}

	if cfg.PushEnabled() {
		nc := notify.NewTerminalCapability(store, term, term.Writer(), colors)
		if p := notify.Permission(cfg.Notifications); p == notify.PermissionGranted || p == notify.PermissionDenied {
			if err := nc.Preset(p); err != nil {
				return errors.Wrap(err, "save notification permission")
			}
		}

		pushLog := logging.Component("push")
		transport, err := push.NewTransport(cfg.PushTransport, cfg.RedisAddr, cfg.KafkaBrokers, cfg.PushTopic, pushLog)
		if err != nil {
			return err
		}
		if transport != nil {
			defer transport.Close()
		}
		messaging := push.NewMessaging(cfg.PushApp(), transport, store, push.WithLogger(pushLog), push.WithIDs(ids))
		defer messaging.Close()

		registrar := notify.NewRegistrar(notify.RegistrarConfig{
			Capability:   nc,
			Workers:      notify.NewWorkers(nc, ids, notify.ServiceWorkerPath),
			VapidKey:     cfg.Firebase.VapidKey,
			NewMessaging: func() notify.Messaging { return messaging },
			NewSink: func(base string) notify.TokenSink {
				return api.New(base, api.WithLogger(logging.Component("api")), api.WithIDs(ids))
			},
			Log: pushLog,
		})
		defer registrar.Close()

		chatCfg.Notifications = registrar
		chatCfg.Presence = messaging
		r.perm = nc
	} else {
		log.Info().Msg("push notifications disabled: no provider credentials or transport")
	}

	c := chat.New(chatCfg)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		c.Run(ctx)
	}()

	r.c = c
	r.run(ctx)

	stop()
	<-stopped
	log.Debug().Msg("bye")
	return nil
}
