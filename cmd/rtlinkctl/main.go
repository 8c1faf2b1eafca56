package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/matheus3301/rtlink/internal/ctlclient"
	"github.com/matheus3301/rtlink/internal/profile"
	"google.golang.org/protobuf/types/known/structpb"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fatal(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := ctlclient.New(profile.SocketPath(name))
	if errors.Is(err, ctlclient.ErrNotRunning) {
		fmt.Fprintf(os.Stderr, "error: no daemon for profile %q; start it with: rtlinkd --profile %s\n", name, name)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for profile %q: %v\n", name, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		ns := ""
		if len(args) >= 2 {
			ns = args[1]
		}
		cmdWatch(c, ns, *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out := printer{json: *jsonFlag}

	switch args[0] {
	case "status":
		out.print(c.Link.GetStatus(ctx))
	case "connect":
		out.print(c.Link.Connect(ctx))
	case "disconnect":
		out.done(c.Link.Disconnect(ctx))
	case "send":
		if len(args) < 2 {
			usageError("rtlinkctl send <type> [json-payload]")
		}
		var payload map[string]any
		if len(args) >= 3 {
			if err := json.Unmarshal([]byte(args[2]), &payload); err != nil {
				fatal(fmt.Errorf("payload: %w", err))
			}
		}
		out.print(c.Link.Send(ctx, args[1], payload))
	case "read":
		if len(args) < 2 {
			usageError("rtlinkctl read <message-id>...")
		}
		ids, err := parseIDs(args[1:])
		if err != nil {
			fatal(err)
		}
		out.done(c.Link.MarkRead(ctx, ids))
	case "typing":
		if len(args) < 2 {
			usageError("rtlinkctl typing <start|stop|list>")
		}
		switch args[1] {
		case "start":
			out.done(c.Link.SetTyping(ctx, true))
		case "stop":
			out.done(c.Link.SetTyping(ctx, false))
		case "list":
			out.print(c.Link.ListTyping(ctx))
		default:
			usageError("rtlinkctl typing <start|stop|list>")
		}
	case "presence":
		out.print(c.Link.ListPresence(ctx))
	case "receipt":
		if len(args) != 2 {
			usageError("rtlinkctl receipt <message-id>")
		}
		ids, err := parseIDs(args[1:])
		if err != nil {
			fatal(err)
		}
		out.print(c.Link.GetReadStatus(ctx, ids[0]))
	case "metrics":
		if len(args) >= 2 && args[1] == "reset" {
			out.done(c.Link.ResetMetrics(ctx))
			return
		}
		out.print(c.Link.GetMetrics(ctx))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: rtlinkctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                   Show link status")
	fmt.Fprintln(os.Stderr, "  connect                  Connect now")
	fmt.Fprintln(os.Stderr, "  disconnect               Disconnect and stop reconnecting")
	fmt.Fprintln(os.Stderr, "  send <type> [json]       Queue a message")
	fmt.Fprintln(os.Stderr, "  read <id>...             Mark messages as read")
	fmt.Fprintln(os.Stderr, "  typing start|stop|list   Local typing state / typing peers")
	fmt.Fprintln(os.Stderr, "  presence                 List online peers")
	fmt.Fprintln(os.Stderr, "  receipt <id>             Show read status of a message")
	fmt.Fprintln(os.Stderr, "  metrics [reset]          Show or reset counters")
	fmt.Fprintln(os.Stderr, "  watch [namespace]        Stream events (default link.)")
}

func cmdWatch(c *ctlclient.Client, ns string, jsonOut bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream, err := c.Link.WatchEvents(ctx, ns)
	if err != nil {
		fatal(err)
	}
	for {
		evt, err := stream.Recv()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return
		}
		if err != nil {
			fatal(err)
		}
		if jsonOut {
			outputJSON(evt.AsMap())
			continue
		}
		payload, _ := json.Marshal(evt.Fields["payload"].AsInterface())
		fmt.Printf("%s %-22s %s\n",
			evt.Fields["timestamp"].GetStringValue(),
			evt.Fields["kind"].GetStringValue(),
			payload)
	}
}

type printer struct {
	json bool
}

func (p printer) print(resp *structpb.Struct, err error) {
	if err != nil {
		fatal(err)
	}
	if p.json {
		outputJSON(resp.AsMap())
		return
	}
	fields := resp.AsMap()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, _ := json.Marshal(fields[k])
		fmt.Printf("%-20s %s\n", k+":", v)
	}
}

func (p printer) done(err error) {
	if err != nil {
		fatal(err)
	}
	if p.json {
		outputJSON(map[string]bool{"ok": true})
		return
	}
	fmt.Println("ok")
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid message id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func usageError(usage string) {
	fmt.Fprintln(os.Stderr, "usage: "+usage)
	os.Exit(1)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
