package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/serjinio/kmsg-queue/internal/client"
	"github.com/serjinio/kmsg-queue/internal/logging"
	"github.com/serjinio/kmsg-queue/internal/procfs"
)

type options struct {
	transport string
	addr      string
	path      string
	token     string
	timeout   time.Duration
}

func main() {
	logging.ConfigureRuntime()
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "kmsgqctl: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: kmsgqctl [-transport http|wire] [-addr host:port] [-path /proc/msg_queue] <command>")
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  write <message>      write one message (reads stdin when message is -)")
	fmt.Fprintln(w, "  read [-limit N]      read one message")
	fmt.Fprintln(w, "  selftest [-n N]      run the round-trip, small-buffer, oversized and sequential checks")
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	var opts options
	fset := flag.NewFlagSet("kmsgqctl", flag.ContinueOnError)
	fset.StringVar(&opts.transport, "transport", "http", "transport: http|wire")
	fset.StringVar(&opts.addr, "addr", "", "node address (default 127.0.0.1:9200 for http, 127.0.0.1:9201 for wire)")
	fset.StringVar(&opts.path, "path", procfs.DefaultPath, "endpoint path")
	fset.StringVar(&opts.token, "token", os.Getenv("KMSGQ_TOKEN"), "bearer token for http (default $KMSGQ_TOKEN)")
	fset.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall command timeout")
	fset.Usage = func() { usage(fset.Output()) }
	if err := fset.Parse(args); err != nil {
		return err
	}
	rest := fset.Args()
	if len(rest) == 0 {
		fset.Usage()
		return fmt.Errorf("missing command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()
	tr, err := dial(ctx, opts)
	if err != nil {
		return err
	}
	defer tr.Close()

	switch rest[0] {
	case "write":
		return cmdWrite(ctx, tr, rest[1:], stdin, stdout)
	case "read":
		return cmdRead(ctx, tr, rest[1:], stdout)
	case "selftest":
		return cmdSelfTest(ctx, tr, rest[1:], stdout)
	default:
		return fmt.Errorf("unknown command: %s", rest[0])
	}
}

func dial(ctx context.Context, opts options) (client.Transport, error) {
	switch strings.ToLower(strings.TrimSpace(opts.transport)) {
	case "http":
		addr := opts.addr
		if addr == "" {
			addr = "127.0.0.1:9200"
		}
		if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
			addr = "http://" + addr
		}
		return client.NewHTTP(addr, opts.path, nil).WithToken(opts.token), nil
	case "wire":
		addr := opts.addr
		if addr == "" {
			addr = "127.0.0.1:9201"
		}
		if opts.path != procfs.DefaultPath {
			return nil, fmt.Errorf("wire transport serves the node's configured endpoint; -path is http only")
		}
		return client.DialWire(ctx, addr)
	default:
		return nil, fmt.Errorf("unknown transport: %s", opts.transport)
	}
}

func cmdWrite(ctx context.Context, tr client.Transport, args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("write takes exactly one message argument")
	}
	msg := []byte(args[0])
	if args[0] == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return err
		}
		msg = b
	}
	res, err := tr.Write(ctx, msg)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "stored %d of %d bytes", res.Stored, res.Requested)
	if res.Truncated {
		fmt.Fprint(stdout, " (truncated)")
	}
	fmt.Fprintln(stdout)
	return nil
}

func cmdRead(ctx context.Context, tr client.Transport, args []string, stdout io.Writer) error {
	fset := flag.NewFlagSet("read", flag.ContinueOnError)
	limit := fset.Int("limit", 0, "read at most N bytes (0 = node message limit)")
	if err := fset.Parse(args); err != nil {
		return err
	}
	res, err := tr.Read(ctx, *limit)
	if err != nil {
		return err
	}
	if res.Empty {
		fmt.Fprintln(os.Stderr, "queue empty")
		return nil
	}
	_, err = stdout.Write(res.Payload)
	return err
}

func cmdSelfTest(ctx context.Context, tr client.Transport, args []string, stdout io.Writer) error {
	fset := flag.NewFlagSet("selftest", flag.ContinueOnError)
	n := fset.Int("n", 2000, "number of sequential messages")
	asJSON := fset.Bool("json", false, "print the report as JSON")
	if err := fset.Parse(args); err != nil {
		return err
	}
	rep, err := client.SelfTest(ctx, tr, *n)
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
	} else {
		if rep.Drained > 0 {
			fmt.Fprintf(stdout, "drained %d stale messages\n", rep.Drained)
		}
		for _, c := range rep.Checks {
			status := "PASS"
			if !c.Passed {
				status = "FAIL"
			}
			fmt.Fprintf(stdout, "%-4s %-16s %8s %s\n", status, c.Name, c.Duration.Round(time.Millisecond), c.Detail)
		}
	}
	if !rep.Passed() {
		return fmt.Errorf("selftest failed")
	}
	return nil
}
