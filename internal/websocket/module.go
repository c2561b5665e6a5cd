package websocket

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(NewHub),
	fx.Provide(NewHandler),
	fx.Invoke(RegisterHub),
)

func RegisterHub(lc fx.Lifecycle, hub *Hub) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go hub.Run()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			hub.Stop()
			return nil
		},
	})
}
