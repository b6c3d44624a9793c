package main

import (
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	_ "github.com/jackc/pgx/v4/stdlib"

	"github.com/rsmnv/meshlook/internal/config"
	"github.com/rsmnv/meshlook/internal/core"
	"github.com/rsmnv/meshlook/internal/gateway"
)

func main() {
	app := &cli.App{
		Name:        "meshlook-gateway",
		Usage:       "Websocket gateway relaying room signaling channels",
		Description: "",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "env",
				Usage:    "environment: either 'development' or 'production'",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "address",
				Usage: "listen IP and port, example: ':80' (default value) for listen on 0.0.0.0:80",
				Value: ":80",
			},
			&cli.StringFlag{
				Name:  "redisAddr",
				Usage: "redis address backing the room channels",
				Value: "localhost:6379",
			},
			&cli.StringFlag{
				Name:  "databaseURL",
				Usage: "postgres DSN for room records, empty disables persistence",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a config file",
			},
		},
		Action: startGateway,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startGateway(c *cli.Context) error {
	conf, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: c.String("redisAddr"),
		DB:   0,
	})

	var db *sqlx.DB
	if dsn := c.String("databaseURL"); dsn != "" {
		db, err = sqlx.Connect("pgx", dsn)
		if err != nil {
			return err
		}
		if err = db.Ping(); err != nil {
			return err
		}
	}

	gwApp := gateway.New(gateway.AppOptions{
		Env:           core.Environment(c.String("env")),
		Address:       c.String("address"),
		ChannelPrefix: conf.Signaling.ChannelPrefix,
		Redis:         rdb,
		DB:            db,
	})

	return gwApp.Start()
}
