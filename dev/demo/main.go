// Demo mirror: connects one or more workspace tokens, prints every
// notification, and optionally serves the push-event endpoint and forwards
// notifications to kafka.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	slackmirror "github.com/leliel/slackmirror"
	"github.com/leliel/slackmirror/auth"
	"github.com/leliel/slackmirror/bridge"
	"github.com/leliel/slackmirror/events"
	"github.com/leliel/slackmirror/store"
)

const notificationPayloadMaxBytes = 4096

var (
	flagToken   = flag.String("token", "", "workspace token to mirror (repeatable via comma)")
	flagCookie  = flag.String("cookie", "", "browser cookie header for session tokens")
	flagTokenDB = flag.String("token-db", "tokens.db", "bbolt file for persisted tokens")
	flagPidFile = flag.String("pid-file", "slackmirror.pid", "pid file")

	flagAddr           = flag.String("addr", "", "serve push events and metrics on this address, empty to disable")
	flagSigningSecret  = flag.String("signing-secret", "", "push endpoint signing secret")
	flagAppID          = flag.String("app-id", "", "accept events from this app id only")
	flagClientID       = flag.String("client-id", "", "oauth client id")
	flagClientSecret   = flag.String("client-secret", "", "oauth client secret")
	flagDisableMetrics = flag.Bool("disable-metrics", false, "disable prometheus metrics")

	flagKafkaBrokers = flag.String("kafka-brokers", "", "comma separated kafka brokers to bridge notifications to, empty to disable")
	flagKafkaTopic   = flag.String("kafka-topic", "slackmirror-notifications", "kafka topic for bridged notifications")

	flagSeparator = flag.String("separator", "-", "composite id separator")
	flagNoRTM     = flag.Bool("no-rtm", false, "disable streaming connections")
	flagJoinAll   = flag.Bool("join-all", false, "join every public channel after bootstrap")
)

func main() {
	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	if *flagToken == "" && *flagAddr == "" {
		return errorf("--token or --addr (oauth install) is required")
	}
	if *flagAddr != "" && *flagSigningSecret == "" {
		return errorf("--signing-secret is required with --addr")
	}

	pid := os.Getpid()
	if err := os.WriteFile(*flagPidFile, []byte(strconv.Itoa(pid)), 0600); err != nil {
		return errorf("pid file: %v", err)
	}
	defer func() {
		_ = os.Remove(*flagPidFile)
	}()

	tokens, err := auth.OpenBolt(*flagTokenDB)
	if err != nil {
		return errorf("token db: %v", err)
	}
	defer tokens.Close()

	opts := slackmirror.ClientOpts{
		Separator: *flagSeparator,
		NoRTM:     *flagNoRTM,
		Tokens:    tokens,
	}
	if *flagAddr != "" {
		opts.Events = &events.Config{
			SigningSecret:  *flagSigningSecret,
			AppID:          *flagAppID,
			ClientID:       *flagClientID,
			ClientSecret:   *flagClientSecret,
			DisableMetrics: *flagDisableMetrics,
		}
	}
	client := slackmirror.New(opts)
	client.AddListener(printListener())

	var forwarder *bridge.Forwarder
	if *flagKafkaBrokers != "" {
		brokers := strings.Split(*flagKafkaBrokers, ",")
		forwarder = bridge.NewForwarder(bridge.NewWriter(brokers, *flagKafkaTopic), notificationPayloadMaxBytes)
		defer forwarder.Close()
		client.AddListener(forwarder.Listener())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return errorf("connect: %v", err)
	}
	for _, tok := range splitNonEmpty(*flagToken) {
		if err := client.AddToken(ctx, tok, *flagCookie); err != nil {
			return errorf("add token: %v", err)
		}
	}

	if *flagJoinAll {
		for _, team := range client.Store().Teams() {
			if err := client.JoinAllChannels(ctx, team.ID); err != nil {
				glog.Errorf("join all channels in %s: %v", team.ID, err)
			}
		}
	}

	if *flagAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/", client.EventsHandler())
		go func() {
			glog.Infof("push endpoint on %s", *flagAddr)
			if err := http.ListenAndServe(*flagAddr, mux); err != nil {
				glog.Errorf("http server: %v", err)
			}
		}()
	} else if !*flagDisableMetrics {
		http.Handle("/metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{},
		))
	}

	glog.Infof("mirror running, pid %d, `CTRL+c` or `kill %d` to stop", pid, pid)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh

	glog.Info("stopping")
	client.Disconnect()
	glog.Info("mirror exited")
	return 0
}

func printListener() *store.Listener {
	return &store.Listener{
		AddTeam: func(t *store.Team) {
			fmt.Printf("+ team %s (%s)\n", t.Name, t.ID)
		},
		AddUser: func(u *store.User) {
			fmt.Printf("+ user %s (%s)\n", u.DisplayName, u.FullID())
		},
		AddChannel: func(c *store.Channel) {
			fmt.Printf("+ %s %s (%s)\n", c.Type, c.Name, c.FullID())
		},
		Message: func(m *store.Message) {
			fmt.Printf("[%s] %s: %s\n", m.Channel.Name, m.Author.AuthorName(), m.Text)
		},
		MessageChanged: func(old, cur *store.Message) {
			fmt.Printf("[%s] %s edited: %s -> %s\n", cur.Channel.Name, cur.Author.AuthorName(), old.Text, cur.Text)
		},
		MessageDeleted: func(m *store.Message) {
			fmt.Printf("[%s] %s deleted: %s\n", m.Channel.Name, m.Author.AuthorName(), m.Text)
		},
		ReactionAdded: func(r *store.Reaction) {
			fmt.Printf("[%s] :%s: on %s\n", r.Message.Channel.Name, r.Reaction, r.Message.TS)
		},
		Connected:    func() { fmt.Println("connected") },
		Disconnected: func() { fmt.Println("disconnected") },
	}
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func errorf(format string, args ...interface{}) int {
	glog.Errorf(format, args...)
	return 1
}
