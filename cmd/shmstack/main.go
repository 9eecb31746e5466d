// Command shmstack talks to a shmstackd server.
//
// Usage:
//
//	shmstack [--addr host:port] [--timeout 5s] push <payload>...
//	shmstack [--addr host:port] pop [count]
//	shmstack [--addr host:port] top
//	shmstack [--addr host:port] ping
//	shmstack [--addr host:port] exit
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/giantswarm/shmstack"
	"github.com/spf13/pflag"
)

// exitEmpty is the exit status of "top" on an empty stack.
const exitEmpty = 3

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	switch {
	case err == nil, errors.Is(err, pflag.ErrHelp):
	case errors.Is(err, shmstack.ErrEmpty):
		os.Exit(exitEmpty)
	default:
		fmt.Fprintln(os.Stderr, "shmstack:", err)
		os.Exit(1)
	}
}

// run executes one command line.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("shmstack", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	addr := fs.StringP("addr", "a", "localhost"+shmstack.DefaultAddress, "server address")
	timeout := fs.DurationP("timeout", "t", 5*time.Second, "bound on the whole command")
	wait := fs.Duration("wait", 0, "keep dialing a starting server for this long")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: shmstack [flags] push <payload>... | pop [count] | top | ping | exit")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}
	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]

	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	var opts []shmstack.DialOption
	if *wait > 0 {
		opts = append(opts, shmstack.WithDialRetry(*wait))
	}
	c, err := shmstack.Dial(ctx, *addr, opts...)
	if err != nil {
		return err
	}
	defer c.Close()

	switch cmd {
	case "push":
		if len(cmdArgs) == 0 {
			return errors.New("push: missing payload")
		}
		for _, p := range cmdArgs {
			if err := c.Push(ctx, []byte(p)); err != nil {
				return fmt.Errorf("push %q: %w", p, err)
			}
		}
		return nil

	case "pop":
		n, err := popCount(cmdArgs)
		if err != nil {
			return err
		}
		for range n {
			if err := c.Pop(ctx); err != nil {
				return fmt.Errorf("pop: %w", err)
			}
		}
		return nil

	case "top":
		top, err := c.Top(ctx)
		if err != nil {
			return fmt.Errorf("top: %w", err)
		}
		_, err = fmt.Fprintf(stdout, "%s\n", top)
		return err

	case "ping":
		if err := c.Ping(ctx); err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		_, err := fmt.Fprintln(stdout, "PONG")
		return err

	case "exit":
		return c.Close()

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// popCount parses the optional count argument of "pop".
func popCount(args []string) (int, error) {
	switch len(args) {
	case 0:
		return 1, nil
	case 1:
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("pop: count must be a positive integer, got %q", args[0])
		}
		return n, nil
	default:
		return 0, errors.New("pop: too many arguments")
	}
}
