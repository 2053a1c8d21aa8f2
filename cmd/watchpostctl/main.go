// Command watchpostctl is an operator CLI for one-time bootstrap tasks
// against a running Watchpost store: seeding the admin credential and
// registering a check location, both of which the HTTP surface otherwise
// requires an existing admin key to do.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/aristath/watchpost/internal/auth"
	"github.com/aristath/watchpost/internal/store"
	"github.com/google/uuid"
)

func main() {
	var dbPath string
	flag.StringVar(&dbPath, "db", "watchpost.sqlite", "path to the watchpost store")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	db, err := store.Open(store.Config{Path: dbPath, Profile: store.ProfileLedger})
	if err != nil {
		fatalf("open store: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		fatalf("migrate store: %v", err)
	}

	switch args[0] {
	case "seed-admin":
		seedAdmin(db)
	case "add-location":
		fs := flag.NewFlagSet("add-location", flag.ExitOnError)
		name := fs.String("name", "", "location name (required)")
		region := fs.String("region", "", "optional region label")
		fs.Parse(args[1:])
		addLocation(db, *name, *region)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `watchpostctl: operator bootstrap for a watchpost store

Usage:
  watchpostctl [-db path] seed-admin
  watchpostctl [-db path] add-location -name <name> [-region <region>]`)
}

// seedAdmin generates a fresh admin key, hashes it into settings, and
// prints the plaintext exactly once — the operator's only chance to
// capture it, matching the one-time-secret pattern the HTTP create
// endpoints use for manage/probe keys.
func seedAdmin(db *store.DB) {
	token, err := auth.Generate()
	if err != nil {
		fatalf("generate admin key: %v", err)
	}
	if err := db.SetSetting(context.Background(), "admin_key_hash", auth.Hash(token)); err != nil {
		fatalf("store admin key: %v", err)
	}
	fmt.Printf("admin key: %s\n", token)
	fmt.Println("store this now — it will not be shown again")
}

func addLocation(db *store.DB, name, region string) {
	if name == "" {
		fatalf("add-location: -name is required")
	}
	token, err := auth.Generate()
	if err != nil {
		fatalf("generate probe key: %v", err)
	}
	loc := &store.CheckLocation{
		ID:           uuid.NewString(),
		Name:         name,
		Region:       region,
		ProbeKeyHash: auth.Hash(token),
		IsActive:     true,
	}
	if err := db.CreateLocation(context.Background(), loc); err != nil {
		fatalf("create location: %v", err)
	}
	fmt.Printf("location %q registered (id=%s)\n", name, loc.ID)
	fmt.Printf("probe key: %s\n", token)
	fmt.Println("store this now — it will not be shown again")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "watchpostctl: "+format+"\n", args...)
	os.Exit(1)
}
