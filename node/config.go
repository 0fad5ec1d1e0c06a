package node

import (
	"flag"
	"strings"
	"time"

	"github.com/peterbourgon/ff/v3"
)

// Config bundles every runtime tunable the daemon exposes, bound from flags
// and HOPNODE_-prefixed environment variables via peterbourgon/ff. This
// daemon has a single entrypoint, so ff.Parse is used directly against a
// flag.FlagSet rather than the ffcli command-dispatch variant.
type Config struct {
	RepoPath   string
	ListenAddr string

	ConnectionCap int64
	PoolSize      int

	ReadTimeout   time.Duration
	IdleMaxTicks  int
	AcceptPollSec time.Duration

	ReplicationEnabled     bool
	ReplicationAnnounceMin int

	PingIdleSeconds int

	BootstrapPeers []string
}

// DefaultConfig returns the daemon's out-of-the-box tuning.
func DefaultConfig() Config {
	return Config{
		RepoPath:               "./hopnode-repo",
		ListenAddr:             "0.0.0.0:4001",
		ConnectionCap:          1024,
		PoolSize:               25,
		ReadTimeout:            5 * time.Second,
		IdleMaxTicks:           30,
		AcceptPollSec:          2 * time.Second,
		ReplicationEnabled:     false,
		ReplicationAnnounceMin: 60,
		PingIdleSeconds:        180,
	}
}

// ParseConfig binds Config fields to flags and HOPNODE_ environment
// variables and parses args (typically os.Args[1:]).
func ParseConfig(args []string) (Config, error) {
	cfg := DefaultConfig()

	fs := flag.NewFlagSet("hopnoded", flag.ContinueOnError)
	fs.StringVar(&cfg.RepoPath, "repo-path", cfg.RepoPath, "path to the node's datastore directory")
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "TCP address to accept inbound peer connections on")
	fs.Int64Var(&cfg.ConnectionCap, "connection-cap", cfg.ConnectionCap, "maximum concurrent inbound connections")
	fs.IntVar(&cfg.PoolSize, "pool-size", cfg.PoolSize, "worker pool size")
	fs.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "per-read timeout on a negotiated stream")
	fs.IntVar(&cfg.IdleMaxTicks, "idle-max-ticks", cfg.IdleMaxTicks, "consecutive empty peeks before a worker gives up")
	fs.DurationVar(&cfg.AcceptPollSec, "accept-poll", cfg.AcceptPollSec, "accept readiness poll interval")
	fs.BoolVar(&cfg.ReplicationEnabled, "replication-enabled", cfg.ReplicationEnabled, "enable replication announcements to configured peers")
	fs.IntVar(&cfg.ReplicationAnnounceMin, "replication-announce-min", cfg.ReplicationAnnounceMin, "minutes between replication announcements")
	fs.IntVar(&cfg.PingIdleSeconds, "ping-idle-seconds", cfg.PingIdleSeconds, "idle seconds before a connected peer is pinged")
	var bootstrapPeers string
	fs.StringVar(&bootstrapPeers, "bootstrap-peers", "", "comma-separated /p2p multiaddrs to register as replication upstreams at startup")

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("HOPNODE")); err != nil {
		return Config{}, err
	}

	for _, p := range strings.Split(bootstrapPeers, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			cfg.BootstrapPeers = append(cfg.BootstrapPeers, p)
		}
	}

	return cfg, nil
}
