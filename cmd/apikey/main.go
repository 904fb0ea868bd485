// Command apikey enrolls and revokes portal API keys. The generated key
// material is printed once and only its bcrypt hash is stored.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"crmbridge/api/internal/config"
	"crmbridge/api/internal/store"
	"crmbridge/api/internal/util"
)

func main() {
	create := flag.String("create", "", "enroll a new key under this name")
	revoke := flag.String("revoke", "", "disable the key with this name")
	flag.Parse()

	if (*create == "") == (*revoke == "") {
		fmt.Fprintln(os.Stderr, "usage: apikey -create <name> | -revoke <name>")
		os.Exit(2)
	}

	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	dataStore := store.NewPostgresStore(db)

	if *revoke != "" {
		if err := dataStore.DisableAPIKey(ctx, *revoke); err != nil {
			log.Fatalf("revoke failed: %v", err)
		}
		fmt.Printf("key %q disabled\n", *revoke)
		return
	}

	key := util.NewID("pk")
	if _, err := dataStore.CreateAPIKey(ctx, *create, key); err != nil {
		log.Fatalf("enroll failed: %v", err)
	}
	fmt.Printf("key %q enrolled\n", *create)
	fmt.Printf("X-Portal-Key: %s\n", key)
}
