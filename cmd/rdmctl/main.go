// rdmctl is a one-shot command line client for an RDM controller core: it
// opens a Ja Rule widget, runs discovery or sends a single GET/SET
// request, prints the result, and exits. cmd/rdmmon is the long-running
// TUI counterpart.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/gousb"

	"rdmcore/internal/controller"
	"rdmcore/internal/discovery"
	"rdmcore/internal/rdm"
	"rdmcore/internal/rdmconfig"
	"rdmcore/internal/rdmlog"
	"rdmcore/internal/uid"
	"rdmcore/internal/widget"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	subcommand := os.Args[1]
	args := os.Args[2:]

	switch subcommand {
	case "discover":
		runDiscover(args)
	case "get":
		runCommand("get", args, rdm.GetCommand)
	case "set":
		runCommand("set", args, rdm.SetCommand)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "rdmctl: unknown subcommand %q\n", subcommand)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  rdmctl discover [-full] [flags]
  rdmctl get -uid=<mfr:dev> -param-id=<hex> [flags]
  rdmctl set -uid=<mfr:dev> -param-id=<hex> -data=<hex> [flags]

flags:
  -vid, -pid, -queue-depth, -discovery-timeout, -rdm-timeout, -poll-interval, -kernel-hotplug
    (see internal/rdmconfig for defaults)`)
}

func newLogger() *rdmlog.Logger {
	log, err := rdmlog.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "rdmctl: logger init failed: %v\n", err)
		return rdmlog.Nop()
	}
	return log
}

func openPort(cfg *rdmconfig.Config, log *rdmlog.Logger) (*widget.Widget, func(), *widget.Port, error) {
	localUID := uid.New(0x7a70, 1)

	w, cleanup, err := widget.OpenGousbWidget(gousb.ID(cfg.VID), gousb.ID(cfg.PID), log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open widget: %w", err)
	}
	port := widget.NewPort(w, 0, localUID, log)
	return w, cleanup, port, nil
}

func runDiscover(args []string) {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	full := fs.Bool("full", true, "run full discovery instead of incremental")
	cfg := rdmconfig.New()
	cfg.RegisterFlags(fs)
	fs.Parse(args)

	if err := cfg.Validate(); err != nil {
		fatal(err)
	}

	log := newLogger()
	defer log.Sync()

	_, cleanup, port, err := openPort(cfg, log)
	if err != nil {
		fatal(err)
	}
	defer cleanup()

	agent := discovery.New(port, log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mode := discovery.ModeIncremental
	if *full {
		mode = discovery.ModeFull
	}

	uids, success, err := agent.Discover(ctx, mode)
	if err != nil {
		fatal(err)
	}
	if !success {
		fmt.Fprintln(os.Stderr, "warning: discovery tree corrupt, results may be incomplete")
	}

	fmt.Printf("discovered %d device(s):\n", uids.Size())
	for _, u := range uids.UIDs() {
		fmt.Println(" ", u.String())
	}
}

func runCommand(name string, args []string, cc rdm.CommandClass) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	uidStr := fs.String("uid", "", "destination UID, manufacturer:device in hex (e.g. 7a70:00000001)")
	pidStr := fs.String("param-id", "", "parameter ID in hex (e.g. 0x0060)")
	dataStr := fs.String("data", "", "parameter data as hex bytes, for set")
	subdevice := fs.Uint("subdevice", 0, "sub-device index")
	cfg := rdmconfig.New()
	cfg.RegisterFlags(fs)
	fs.Parse(args)

	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	if *uidStr == "" || *pidStr == "" {
		fmt.Fprintln(os.Stderr, "rdmctl: -uid and -param-id are required")
		os.Exit(2)
	}

	destUID, err := uid.Parse(*uidStr)
	if err != nil {
		fatal(fmt.Errorf("parse -uid: %w", err))
	}
	pid, err := strconv.ParseUint(strings.TrimPrefix(*pidStr, "0x"), 16, 16)
	if err != nil {
		fatal(fmt.Errorf("parse -param-id: %w", err))
	}
	paramData, err := parseHexBytes(*dataStr)
	if err != nil {
		fatal(fmt.Errorf("parse -data: %w", err))
	}

	log := newLogger()
	defer log.Sync()

	_, cleanup, port, err := openPort(cfg, log)
	if err != nil {
		fatal(err)
	}
	defer cleanup()

	agent := discovery.New(port, log)
	ctrl := controller.New(port, agent, cfg.QueueDepth, log)
	defer ctrl.Close()

	req := &rdm.Request{
		DestinationUID: destUID,
		SubDevice:      uint16(*subdevice),
		CommandClass:   cc,
		ParamID:        uint16(pid),
		ParamData:      paramData,
	}

	done := make(chan rdm.Reply, 1)
	ctrl.SendRDMRequest(req, func(reply rdm.Reply) { done <- reply })

	select {
	case reply := <-done:
		printReply(reply)
	case <-time.After(cfg.RDMTimeout + 2*time.Second):
		fatal(fmt.Errorf("timed out waiting for controller reply"))
	}
}

func printReply(reply rdm.Reply) {
	fmt.Printf("status: %s\n", reply.StatusCode)
	if reply.Response == nil {
		return
	}
	fmt.Printf("param data (%d bytes): % x\n", len(reply.Response.ParamData), reply.Response.ParamData)
}

func parseHexBytes(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	s = strings.ReplaceAll(s, " ", "")
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd number of hex digits in %q", s)
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		b, err := strconv.ParseUint(s[i*2:i*2+2], 16, 8)
		if err != nil {
			return nil, err
		}
		out[i] = byte(b)
	}
	return out, nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "rdmctl: %v\n", err)
	os.Exit(1)
}
