package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/mahaj/groupchat/pkg/model"
	"github.com/mahaj/groupchat/pkg/push"
)

const (
	defaultTitle = "New Message"
	defaultBody  = "You have a new message."
)

// BackgroundHandler shows every payload through the worker registration,
// filling in a default title and body.
func BackgroundHandler(reg *Registration, log zerolog.Logger) push.Handler {
	return func(p model.PushPayload) {
		log.Debug().Interface("payload", p).Msg("background message")
		title, body := defaultTitle, defaultBody
		if n := p.Notification; n != nil {
			if n.Title != "" {
				title = n.Title
			}
			if n.Body != "" {
				body = n.Body
			}
		}
		if err := reg.ShowNotification(context.Background(), title, Options{Body: body}); err != nil {
			log.Warn().Err(err).Msg("show background notification")
		}
	}
}

// ForegroundHandler shows payloads while the chat is open, provided the
// user granted permission. It prefers the worker registration and falls
// back to a direct notification.
func ForegroundHandler(nc Capability, workers *Workers, log zerolog.Logger) push.Handler {
	return func(p model.PushPayload) {
		log.Debug().Interface("payload", p).Msg("foreground message")
		if nc.PermissionState() != PermissionGranted {
			return
		}
		var title string
		opts := Options{Data: p.Data}
		if n := p.Notification; n != nil {
			title, opts.Body = n.Title, n.Body
		}
		if opts.Data == nil {
			opts.Data = map[string]string{}
		}

		ctx := context.Background()
		var err error
		if reg, ok := workers.GetRegistration(); ok {
			err = reg.ShowNotification(ctx, title, opts)
		} else {
			err = nc.ShowNotification(ctx, title, opts)
		}
		if err != nil {
			log.Warn().Err(err).Msg("show foreground notification")
		}
	}
}
