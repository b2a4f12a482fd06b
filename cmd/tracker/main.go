// Command tracker manages the shows tracked by trackerd.
//
//	tracker [flags] add <id> [name]
//	tracker [flags] rm <id>
//	tracker [flags] list
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"envelope-rpc/client"
	"envelope-rpc/internal/tracker"
	"envelope-rpc/outcome"
	"envelope-rpc/registry"
)

const usage = `Usage:
  tracker [flags] add <id> [name]
  tracker [flags] rm <id>
  tracker [flags] list

Flags:
`

const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

type cli struct {
	stdout, stderr io.Writer
	addr           string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, os.Getenv))
}

func run(args []string, stdout, stderr io.Writer, getenv func(string) string) int {
	fs := flag.NewFlagSet("tracker", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	defaultAddr := "127.0.0.1:30014"
	if v := getenv("TRACKER_ADDR"); v != "" {
		defaultAddr = v
	}
	addr := fs.String("addr", defaultAddr, "daemon address")
	etcd := fs.String("etcd", getenv("TRACKER_ETCD"), "comma-separated etcd endpoints; when set, the daemon is discovered instead of dialed at -addr")
	timeout := fs.Duration("timeout", 5*time.Second, "call timeout")
	debug := fs.Bool("debug", false, "log client internals")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	cmd, rest := fs.Arg(0), fs.Args()
	if len(rest) > 0 {
		rest = rest[1:]
	}
	if !validArgs(cmd, rest) {
		fs.Usage()
		return exitUsage
	}

	logger := zap.NewNop()
	if *debug {
		if l, err := zap.NewDevelopment(); err == nil {
			logger = l
			defer logger.Sync()
		}
	}

	rpc, target, err := newRPCClient(*addr, *etcd, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Could not set up the client: %v\n", err)
		return exitFailed
	}
	defer rpc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := &cli{stdout: stdout, stderr: stderr, addr: target}
	return c.exec(ctx, tracker.NewClient(rpc), cmd, rest)
}

func validArgs(cmd string, rest []string) bool {
	switch cmd {
	case "add":
		return len(rest) >= 1
	case "rm":
		return len(rest) == 1
	case "list":
		return len(rest) == 0
	}
	return false
}

func newRPCClient(addr, etcd string, logger *zap.Logger) (*client.Client, string, error) {
	if etcd == "" {
		return client.Dial([]string{addr}, client.WithLogger(logger)), addr, nil
	}
	reg, err := registry.NewEtcdRegistry(strings.Split(etcd, ","), registry.WithLogger(logger))
	if err != nil {
		return nil, "", err
	}
	return client.NewClient(reg, client.WithLogger(logger)), "etcd " + etcd, nil
}

func (c *cli) exec(ctx context.Context, t *tracker.Client, cmd string, args []string) int {
	var err error
	switch cmd {
	case "add":
		var show tracker.TVShow
		show, err = t.AddTVShow(ctx, args[0], strings.Join(args[1:], " "))
		if err == nil {
			fmt.Fprintf(c.stdout, "TV show %q is now being tracked\n", show.Name)
		}
	case "rm":
		err = t.RemoveTVShow(ctx, args[0])
		if err == nil {
			fmt.Fprintf(c.stdout, "TV show with ID %q is no longer being tracked\n", args[0])
		}
	case "list":
		var shows []tracker.TVShow
		shows, err = t.TVShows(ctx)
		if err == nil {
			c.printShows(shows)
		}
	}
	if err != nil {
		c.printError(cmd, err)
		return exitFailed
	}
	return exitOK
}

func (c *cli) printShows(shows []tracker.TVShow) {
	if len(shows) == 0 {
		fmt.Fprintln(c.stderr, "No TV shows are being tracked yet.")
		fmt.Fprintln(c.stderr, "Use the 'add' command to start tracking one, or '-h' to learn more.")
		return
	}
	tw := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME")
	for _, show := range shows {
		fmt.Fprintf(tw, "%s\t%s\n", show.ID, show.Name)
	}
	tw.Flush()
}

// printError reports err according to who caused it: the user, the daemon, or the network.
func (c *cli) printError(cmd string, err error) {
	var (
		reqErr  *outcome.RequestError
		srvErr  *outcome.ServerError
		connErr *client.ConnectionError
	)
	switch {
	case errors.As(err, &reqErr):
		fmt.Fprintf(c.stderr, "Command '%s' failed\n%s\n", cmd, reqErr.Message)
	case errors.As(err, &srvErr):
		fmt.Fprintf(c.stderr, "Command '%s' failed due to a SERVER ERROR: %s\n", cmd, srvErr.Message)
	case errors.As(err, &connErr):
		fmt.Fprintf(c.stderr, "Command '%s' failed due to a connection error\n", cmd)
		fmt.Fprintf(c.stderr, "Was unable to reach the daemon at %s: %v\n", c.addr, connErr.Err)
	default:
		fmt.Fprintf(c.stderr, "Command '%s' failed: %v\n", cmd, err)
	}
}
