package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"strings"
	"time"

	"tntpending/lib/client"
	"tntpending/lib/core"
)

const (
	commandName    = "tntpending"
	replicaListSep = ","

	defaultNetwork        = "tcp"
	defaultShardID        = "shard-0"
	defaultMaxTime        = "5s"
	defaultIterTime       = "50ms"
	defaultAttemptTimeout = "1s"
)

// ReplicaListValue is a flag.Value for a comma-separated list of replica
// addresses for one shard.
type ReplicaListValue struct {
	Replicas core.ReplicaSet
}

func (v *ReplicaListValue) String() string {
	tokens := make([]string, 0, len(v.Replicas))
	for r := range v.Replicas {
		tokens = append(tokens, r.Address)
	}
	return strings.Join(tokens, replicaListSep)
}

func (v *ReplicaListValue) Set(s string) error {
	if v.Replicas == nil {
		v.Replicas = core.EmptyReplicaSet()
	}
	for _, token := range strings.Split(s, replicaListSep) {
		host, port, err := net.SplitHostPort(token)
		if err != nil {
			return fmt.Errorf("expected replica address of form host:port but got %s", token)
		}
		v.Replicas[core.Replica{
			Network: defaultNetwork,
			Address: net.JoinHostPort(host, port),
		}] = struct{}{}
	}
	return nil
}

var errNoReplicas = errors.New("at least one -replicas address is required")

// cliConfig holds the parsed command line configuration.
type cliConfig struct {
	Shard  core.ShardID
	Key    string
	Client client.Config
}

func newCLIConfigFromFlags(argv []string) (*cliConfig, core.ReplicaSet, error) {
	flagSet := flag.NewFlagSet(commandName, flag.ContinueOnError)

	shardVar := flagSet.String("shard", defaultShardID, "shard id to query")
	keyVar := flagSet.String("key", "", "key to select")
	replicaListVar := &ReplicaListValue{}
	flagSet.Var(replicaListVar, "replicas", "comma-separated list of replica addresses for the shard, as host:port")

	maxTimeVar := flagSet.String("maxtime", defaultMaxTime, "overall deadline per call")
	iterTimeVar := flagSet.String("itertime", defaultIterTime, "per-iteration readiness wait timeout")
	attemptTimeoutVar := flagSet.String("attempt-timeout", defaultAttemptTimeout, "per-attempt timeout")
	retryVar := flagSet.Int("retry", 3, "maximum attempts per shard")
	probePeriodVar := flagSet.String("probe-period", "0s", "period for active replica health probing, 0 to disable")

	if err := flagSet.Parse(argv[1:]); err != nil {
		return nil, nil, err
	}

	if len(replicaListVar.Replicas) == 0 {
		return nil, nil, errNoReplicas
	}

	cfg := client.DefaultConfig()
	cfg.Retry = *retryVar
	if d, err := time.ParseDuration(*maxTimeVar); err == nil {
		cfg.MaxTime = d
	}
	if d, err := time.ParseDuration(*iterTimeVar); err == nil {
		cfg.IterTime = d
	}
	if d, err := time.ParseDuration(*attemptTimeoutVar); err == nil {
		cfg.AttemptTimeout = d
	}
	if d, err := time.ParseDuration(*probePeriodVar); err == nil {
		cfg.ProbePeriod = d
	}

	return &cliConfig{
		Shard:  core.ShardID(*shardVar),
		Key:    *keyVar,
		Client: cfg,
	}, replicaListVar.Replicas, nil
}
