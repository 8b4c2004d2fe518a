// Command doorctl runs offline check-in on a door device.
//
//	doorctl download            fetch the allowlist for the event
//	doorctl scan <token>...     validate scanned tokens offline
//	doorctl flush               upload pending scans
//	doorctl status              show local counts
//	doorctl clear               drop the local allowlist (pending scans stay)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"turnstile.app/internal/config"
	"turnstile.app/internal/gatewayclient"
	"turnstile.app/internal/offline"
)

func main() {
	log.SetFlags(0)
	door, err := config.LoadDoor()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	pflag.StringVar(&door.GatewayURL, "gateway", door.GatewayURL, "gateway base URL (DOORCTL_GATEWAY_URL)")
	pflag.StringVar(&door.Token, "token", door.Token, "staff session token (DOORCTL_TOKEN)")
	pflag.StringVar(&door.DBPath, "db", door.DBPath, "local SQLite file (DOORCTL_DB)")
	pflag.StringVarP(&door.EventID, "event", "e", door.EventID, "event id (DOORCTL_EVENT)")
	pflag.StringVar(&door.ScannedBy, "scanned-by", door.ScannedBy, "door or staff label recorded on scans (DOORCTL_SCANNED_BY)")
	timeout := pflag.Duration("timeout", 30*time.Second, "network deadline for download and flush")
	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: doorctl [flags] download|scan <token>...|flush|status|clear")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.NArg() == 0 {
		pflag.Usage()
		os.Exit(2)
	}
	if door.EventID == "" {
		log.Fatal("missing event: provide via --event or DOORCTL_EVENT")
	}

	store, err := offline.Open(door.DBPath)
	if err != nil {
		log.Fatalf("open %s: %v", door.DBPath, err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	client := gatewayclient.New(door.GatewayURL, door.Token)

	switch cmd := pflag.Arg(0); cmd {
	case "download":
		secret, entries, err := client.DownloadAllowlist(ctx, door.EventID)
		if err != nil {
			fatal(store, "download", err)
		}
		if err := store.Download(ctx, door.EventID, secret, entries); err != nil {
			fatal(store, "download", err)
		}
		emit(map[string]any{"eventId": door.EventID, "entries": len(entries)})
	case "scan":
		if pflag.NArg() < 2 {
			log.Fatal("usage: doorctl scan <token>...")
		}
		v := offline.NewValidator(store, door.ScannedBy)
		for _, token := range pflag.Args()[1:] {
			emit(v.Validate(ctx, door.EventID, token))
		}
	case "flush":
		res, err := offline.NewQueue(store).Flush(ctx, door.EventID, client)
		emit(res)
		if err != nil {
			fatal(store, "flush", err)
		}
	case "status":
		st, err := store.Status(ctx, door.EventID)
		if err != nil {
			fatal(store, "status", err)
		}
		emit(st)
	case "clear":
		if err := store.Clear(ctx, door.EventID); err != nil {
			fatal(store, "clear", err)
		}
		emit(map[string]any{"eventId": door.EventID, "cleared": true})
	default:
		log.Fatalf("unknown command %q", cmd)
	}
}

func emit(v any) {
	_ = json.NewEncoder(os.Stdout).Encode(v)
}

func fatal(store *offline.Store, op string, err error) {
	_ = store.Close()
	log.Fatalf("%s: %v", op, err)
}
