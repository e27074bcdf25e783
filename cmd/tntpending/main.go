// Command tntpending is a minimal example CLI exercising the store
// client's pending-request core: it issues a single Select against one
// shard's configured replicas and prints the result.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"tntpending/lib/client"
	"tntpending/lib/core"
	"tntpending/lib/pconn"
	"tntpending/lib/slog"
)

func main() {
	logger := slog.GetDefaultLogger()

	cfg, replicas, err := newCLIConfigFromFlags(os.Args)
	if err != nil {
		logger.Error(&slog.LogRecord{Msg: "failed to parse flags", Error: err})
		os.Exit(2)
	}

	if err := cfg.Client.Validate(); err != nil {
		logger.Error(&slog.LogRecord{Msg: "configuration is invalid", Error: err})
		os.Exit(2)
	}

	c, err := client.NewClient[string](cfg.Client, map[core.ShardID]core.ReplicaSet{cfg.Shard: replicas}, logger)
	if err != nil {
		logger.Error(&slog.LogRecord{Msg: "failed to create client", Error: err})
		os.Exit(1)
	}

	c.StartProbing(context.Background())
	defer c.StopProbing()

	requestBuilder := func(shard core.ShardID) ([]byte, error) {
		return []byte(cfg.Key + "\n"), nil
	}
	decoder := func(ctx context.Context, conn pconn.Connection, request []byte) pconn.Outcome[string] {
		if _, err := conn.Write(request); err != nil {
			return pconn.Failure[string](err)
		}
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil {
			return pconn.Failure[string](err)
		}
		return pconn.Done(line)
	}

	results, errs := c.Select(context.Background(), map[core.ShardID]client.ResponseDecoder[string]{cfg.Shard: decoder}, requestBuilder)

	if err, failed := errs[cfg.Shard]; failed {
		logger.Error(&slog.LogRecord{Msg: "select failed", ShardID: &cfg.Shard, Error: err})
		os.Exit(1)
	}

	fmt.Println(results[cfg.Shard])
}
