package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/rsmnv/meshlook/internal/config"
	"github.com/rsmnv/meshlook/internal/core"
	"github.com/rsmnv/meshlook/internal/eventbus"
	"github.com/rsmnv/meshlook/internal/room"
)

func main() {
	app := &cli.App{
		Name:        "meshlook",
		Usage:       "Headless mesh conferencing client",
		Description: "Joins a room, negotiates a direct connection to every other participant and mirrors the roster to the terminal.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment: either 'development' or 'production'",
				Value: "production",
			},
			&cli.StringFlag{
				Name:     "room",
				Usage:    "room identifier to join",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "name",
				Usage:    "display name announced to the room",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "admin",
				Usage: "join with the privileged role",
			},
			&cli.StringFlag{
				Name:  "redisAddr",
				Usage: "redis address backing the room channels",
				Value: "localhost:6379",
			},
			&cli.StringFlag{
				Name:  "natsAddr",
				Usage: "NATS address, used instead of redis when set",
			},
			&cli.StringFlag{
				Name:  "gatewayURL",
				Usage: "signaling gateway websocket URL, used instead of a broker when set",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a config file",
			},
		},
		Action: startClient,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startClient(c *cli.Context) error {
	initLogger(core.Environment(c.String("env")))

	conf, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}

	bus, err := buildBus(c, conf)
	if err != nil {
		return err
	}
	defer bus.Close()

	session, err := room.NewSession(room.SessionParams{
		Room:        c.String("room"),
		DisplayName: c.String("name"),
		IsAdmin:     c.Bool("admin"),
		Bus:         bus,
		Config:      conf,
	})
	if err != nil {
		return err
	}

	session.Roster().AddListener(func(event room.Event) {
		log.Info().
			Str("event", string(event.Kind)).
			Str("ID", string(event.Participant.ID)).
			Str("name", event.Participant.Name).
			Str("state", string(event.Participant.State)).
			Bool("muted", event.Participant.IsMuted).
			Msg("roster changed")
	})

	if err := session.Start(); err != nil {
		return err
	}
	defer session.Close()

	log.Info().Str("room", c.String("room")).Str("ID", string(session.LocalID())).Msg("joined the room")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("leaving the room")
	case <-session.Kicked():
		log.Warn().Msg("removed from the room by a privileged participant")
	case err := <-session.SignalingErrors():
		log.Error().Err(err).Msg("signaling disconnected, tear down and rejoin")
	}

	return nil
}

func buildBus(c *cli.Context, conf *config.Config) (eventbus.Bus, error) {
	if gatewayURL := c.String("gatewayURL"); gatewayURL != "" {
		return eventbus.WsGateway(gatewayURL), nil
	}

	if natsAddr := c.String("natsAddr"); natsAddr != "" {
		return eventbus.NatsPubSub(natsAddr, conf.Signaling.ChannelPrefix)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: c.String("redisAddr"),
		DB:   0,
	})

	return eventbus.RedisPubSub(rdb, conf.Signaling.ChannelPrefix), nil
}

func initLogger(env core.Environment) {
	cw := zerolog.NewConsoleWriter()
	log.Logger = log.Output(cw)

	level := zerolog.InfoLevel
	if env.IsDevelopment() {
		level = zerolog.DebugLevel
	}

	zerolog.SetGlobalLevel(level)
}
