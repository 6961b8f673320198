package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mahaj/groupchat/pkg/config"
	"github.com/mahaj/groupchat/pkg/logging"
	"github.com/mahaj/groupchat/pkg/model"
	"github.com/mahaj/groupchat/pkg/push"
)

var (
	title     string
	body      string
	data      []string
	transport string
)

// send_push plays the push provider for local testing: it publishes one
// payload to a token over the configured transport.
var rootCmd = &cobra.Command{
	Use:          "send_push <token>",
	Short:        "Publish a push payload to a client token",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("transport") {
			cfg.PushTransport = transport
		}
		logging.Init(os.Stderr, cfg.LogLevel)
		log := logging.Component("send_push")

		payload, err := buildPayload(title, body, data)
		if err != nil {
			return err
		}

		tr, err := push.NewTransport(cfg.PushTransport, cfg.RedisAddr, cfg.KafkaBrokers, cfg.PushTopic, log)
		if err != nil {
			return err
		}
		if tr == nil {
			return errors.New("push transport is none, nothing to publish on")
		}
		defer tr.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tr.Publish(ctx, args[0], payload); err != nil {
			return err
		}
		log.Info().Str("transport", cfg.PushTransport).Msg("push published")
		return nil
	},
}

func buildPayload(title, body string, kv []string) (model.PushPayload, error) {
	var p model.PushPayload
	if title != "" || body != "" {
		p.Notification = &model.PushNotification{Title: title, Body: body}
	}
	for _, pair := range kv {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return p, errors.Errorf("bad --data %q, want key=value", pair)
		}
		if p.Data == nil {
			p.Data = make(map[string]string)
		}
		p.Data[k] = v
	}
	return p, nil
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&title, "title", "", "notification title (empty shows the default)")
	f.StringVar(&body, "body", "", "notification body")
	f.StringSliceVar(&data, "data", nil, "data entries as key=value")
	f.StringVar(&transport, "transport", "", "redis or kafka (CHAT_PUSH_TRANSPORT)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
