package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deemkeen/stegonet/db"
	"github.com/deemkeen/stegonet/federation"
	"github.com/deemkeen/stegonet/util"
	"github.com/deemkeen/stegonet/web"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:    util.Name,
		Usage:   "federated social posting node",
		Version: util.GetVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path of the config file (default: ./config.yaml or ~/.config/stegonet/config.yaml)",
				EnvVars: []string{"STEGONET_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the node",
				Action: runServe,
			},
			{
				Name:      "useradd",
				Usage:     "register a local user",
				ArgsUsage: "<username>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "display-name", Usage: "name shown to other users"},
					&cli.BoolFlag{Name: "pending", Usage: "leave the account unapproved"},
				},
				Action: runUserAdd,
			},
			{
				Name:      "approve",
				Usage:     "approve a local user",
				ArgsUsage: "<username>",
				Action:    runApprove,
			},
			{
				Name:  "resync",
				Usage: "deliver posts with outstanding changes once",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 100, Usage: "maximum number of posts to visit"},
				},
				Action: runResync,
			},
			{
				Name:  "genkey",
				Usage: "print a fresh credential to share with a peer node",
				Action: func(c *cli.Context) error {
					fmt.Println(util.RandomString(48))
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("Exiting")
	}
}

type instance struct {
	conf  *util.AppConfig
	db    *db.DB
	media *db.MediaStore
	node  *federation.Node
}

func (r *instance) Close() {
	if err := r.db.Close(); err != nil {
		log.Warn().Err(err).Msg("Closing database")
	}
}

func setup(c *cli.Context) (*instance, error) {
	var (
		conf *util.AppConfig
		err  error
	)
	if path := c.String("config"); path != "" {
		conf, err = util.ReadConfFrom(path)
	} else {
		conf, err = util.ReadConf()
	}
	if err != nil {
		return nil, err
	}
	util.SetupLogging(conf.Conf.LogLevel, conf.Conf.LogPretty)
	log.Debug().Msg(util.PrettyPrint(conf.Conf))

	database, err := db.Open(util.ResolveFilePath(conf.Conf.Database))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	mediaDir, err := util.ResolveDir(conf.Conf.MediaDir)
	if err != nil {
		database.Close()
		return nil, err
	}
	media, err := db.NewMediaStore(mediaDir)
	if err != nil {
		database.Close()
		return nil, err
	}

	node, err := federation.New(database, media, federation.Options{
		Self:          conf.Conf.NodeId,
		Nodes:         conf.Nodes,
		RemoteTimeout: conf.RemoteTimeout(),
		MaxRetries:    conf.Conf.MaxRetries,
	})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("configuring federation: %w", err)
	}
	return &instance{conf: conf, db: database, media: media, node: node}, nil
}

func runServe(c *cli.Context) error {
	rt, err := setup(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	conf := rt.conf
	log.Info().Str("node", conf.Conf.NodeId).Int("peers", len(rt.node.Registry.Peers())).
		Str("version", util.GetNameAndVersion()).Msg("Starting node")

	sweepTimeout := time.Duration(max(conf.Conf.ResyncBatch, 1)) * conf.RemoteTimeout()
	worker, err := federation.NewResyncWorker(rt.node.Sync, conf.Conf.ResyncSchedule, conf.Conf.ResyncBatch, sweepTimeout)
	if err != nil {
		return err
	}
	worker.Start()
	defer worker.Stop()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return web.NewServer(rt.node, rt.media, conf).Run(ctx)
}

func runUserAdd(c *cli.Context) error {
	username := c.Args().First()
	if username == "" {
		return cli.Exit("missing <username>", 1)
	}
	rt, err := setup(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	acc, err := rt.node.Resolver.RegisterNative(c.Context, username, c.String("display-name"), !c.Bool("pending"))
	if err != nil {
		return err
	}
	log.Info().Str("user", acc.Username).Bool("approved", acc.Approved).Msg("Registered user")
	return nil
}

func runApprove(c *cli.Context) error {
	username := c.Args().First()
	if username == "" {
		return cli.Exit("missing <username>", 1)
	}
	rt, err := setup(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.db.SetApproved(c.Context, username, true); err != nil {
		return fmt.Errorf("approving %s: %w", username, err)
	}
	log.Info().Str("user", username).Msg("Approved user")
	return nil
}

func runResync(c *cli.Context) error {
	rt, err := setup(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(c.Context, time.Duration(max(c.Int("limit"), 1))*rt.conf.RemoteTimeout())
	defer cancel()
	n, err := rt.node.Sync.Resync(ctx, c.Int("limit"))
	if err != nil {
		return err
	}
	fmt.Printf("visited %d posts\n", n)
	return nil
}
