package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/axiomesh/axiom-kit/log"
	"github.com/axiomesh/axiom-kit/storage/leveldb"
	"github.com/axiomesh/governor"
	"github.com/axiomesh/governor/api"
	"github.com/axiomesh/governor/core"
	"github.com/axiomesh/governor/repo"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const shutdownTimeout = 10 * time.Second

type node struct {
	engine *core.Engine
	keeper *core.Keeper
	server *api.Server
}

func start(ctx *cli.Context) error {
	p, err := getRootPath(ctx)
	if err != nil {
		return err
	}
	r, err := repo.Load(p)
	if err != nil {
		return err
	}

	err = log.Initialize(
		log.WithReportCaller(r.Config.Log.ReportCaller),
		log.WithPersist(true),
		log.WithFilePath(r.LogsPath()),
		log.WithFileName(r.Config.Log.Filename),
		log.WithMaxAge(r.Config.Log.MaxAge),
		log.WithRotationTime(r.Config.Log.RotationTime),
	)
	if err != nil {
		return fmt.Errorf("log initialize: %w", err)
	}
	logger := log.New()
	logger.SetLevel(log.ParseLevel(r.Config.Log.Level))

	printVersion()

	n, err := newNode(ctx.Context, r, logger)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	handleShutdown(n, &wg)

	if n.keeper != nil {
		if err := n.keeper.Start(); err != nil {
			return fmt.Errorf("start keeper failed: %w", err)
		}
	}
	if n.server != nil {
		if err := n.server.Start(); err != nil {
			return fmt.Errorf("start api failed: %w", err)
		}
	}

	fmt.Println("=============Governor is ready=============")

	wg.Wait()

	return nil
}

func newNode(ctx context.Context, r *repo.Repo, logger *logrus.Logger) (*node, error) {
	client, err := ethclient.DialContext(ctx, r.Config.DialUrl)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", r.Config.DialUrl, err)
	}

	tokens, err := core.NewEVMToken(client)
	if err != nil {
		return nil, err
	}

	var receiver core.Receiver
	key, err := r.Config.ReceiverKey()
	if err != nil {
		return nil, err
	}
	if key != nil {
		chainID := new(big.Int).SetUint64(r.Config.Receiver.ChainID)
		if chainID.Sign() == 0 {
			if chainID, err = client.ChainID(ctx); err != nil {
				return nil, fmt.Errorf("get chain id: %w", err)
			}
		}
		if receiver, err = core.NewEVMReceiver(client, key, chainID); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("receiver.private_key is empty, on-chain proposals cannot be finished")
	}

	db, err := leveldb.New(r.StoragePath())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	n := &node{
		engine: core.NewEngine(db, tokens, receiver, client, logger),
	}

	if r.Config.Keeper.Enable {
		n.keeper = core.NewKeeper(ctx, r.Config, n.engine, client, db, logger)
		n.keeper.Redial = func(ctx context.Context) (core.Client, error) {
			c, err := ethclient.DialContext(ctx, r.Config.DialUrl)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	if r.Config.API.Enable {
		n.server = api.NewServer(r.Config, n.engine, db, logger)
	}

	return n, nil
}

func (n *node) stop() error {
	if n.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := n.server.Stop(ctx); err != nil {
			return err
		}
	}
	if n.keeper != nil {
		if err := n.keeper.Stop(); err != nil {
			return err
		}
	}
	return n.engine.Close()
}

func printVersion() {
	fmt.Printf("Governor version: %s-%s-%s\n", governor.CurrentVersion, governor.CurrentBranch, governor.CurrentCommit)
	fmt.Printf("App build date: %s\n", governor.BuildDate)
	fmt.Printf("System version: %s\n", governor.Platform)
	fmt.Printf("Golang version: %s\n", governor.GoVersion)
	fmt.Println()
}

func handleShutdown(n *node, wg *sync.WaitGroup) {
	var stop = make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGTERM)
	signal.Notify(stop, syscall.SIGINT)

	go func() {
		<-stop
		fmt.Println("received interrupt signal, shutting down...")
		if err := n.stop(); err != nil {
			panic(err)
		}
		wg.Done()
		os.Exit(0)
	}()
}
