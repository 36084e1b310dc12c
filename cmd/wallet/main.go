package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/camuig/riskbot/internal/config"
	"github.com/camuig/riskbot/internal/keystore"
	"github.com/camuig/riskbot/internal/storage"
	"github.com/camuig/riskbot/internal/venue"
)

// wallet stores an encrypted venue credential and prints its id.
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	name := flag.String("name", "", "wallet name")
	venueName := flag.String("venue", "", "venue: "+strings.Join(venue.Names, ", "))
	key := flag.String("key", "", "hex private key, or API token for tinkoff (default $RISKBOT_WALLET_KEY)")
	address := flag.String("address", "", "broker account id (tinkoff only)")
	secret := flag.String("secret", "", "secret the key is sealed with (default $RISKBOT_WALLET_SECRET)")
	flag.Parse()

	if *key == "" {
		*key = os.Getenv("RISKBOT_WALLET_KEY")
	}
	if *secret == "" {
		*secret = os.Getenv("RISKBOT_WALLET_SECRET")
	}
	switch {
	case *name == "":
		fail("-name is required")
	case !venue.Supported(*venueName):
		fail(fmt.Sprintf("unsupported venue %q", *venueName))
	case *key == "":
		fail("-key is required")
	case len(*secret) < 8:
		fail("secret must be at least 8 characters")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	var plaintext []byte
	addr := *address
	if keystore.IsEVMVenue(*venueName) {
		plaintext, err = keystore.ParsePrivateKeyHex(*key)
		if err != nil {
			fail(err.Error())
		}
		if addr, err = keystore.AddressOf(plaintext); err != nil {
			fail(err.Error())
		}
	} else {
		if addr == "" {
			fail("-address (broker account id) is required for " + *venueName)
		}
		plaintext = []byte(*key)
	}

	sealed, err := keystore.Seal(plaintext, *secret, cfg.Keystore.ScryptN)
	for i := range plaintext {
		plaintext[i] = 0
	}
	if err != nil {
		fail(err.Error())
	}

	db, err := storage.NewDatabase(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database init error: %v\n", err)
		os.Exit(1)
	}
	w := &storage.Wallet{Name: *name, Venue: *venueName, Address: addr, EncryptedKey: sealed}
	if err := storage.NewRepository(db).CreateWallet(context.Background(), w); err != nil {
		fmt.Fprintf(os.Stderr, "save wallet: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("wallet %d created: %s %s\n", w.ID, w.Venue, w.Address)
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
