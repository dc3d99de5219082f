package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/renex-id/renex/internal/crypto"
	"github.com/renex-id/renex/internal/models"
)

func main() {
	_ = godotenv.Load()

	handle := flag.String("handle", "", "Handle to issue the session for")
	secret := flag.String("secret", os.Getenv("SESSION_SECRET"), "HS256 signing secret (default $SESSION_SECRET)")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime (0 for no expiry)")
	flag.Parse()

	h := models.NormalizeHandle(*handle)
	if h == "" {
		fmt.Fprintln(os.Stderr, "Usage: mktoken -handle <handle> [-secret <secret>] [-ttl 24h]")
		fmt.Fprintln(os.Stderr, "  Signs with $SESSION_SECRET if -secret is not specified")
		os.Exit(1)
	}
	if !models.ValidHandle(h) {
		fmt.Fprintf(os.Stderr, "Invalid handle: %q\n", *handle)
		os.Exit(1)
	}

	key := *secret
	if key == "" {
		// Matches the server's development fallback
		key = "renex-dev-secret"
	}

	token, err := crypto.IssueSessionToken([]byte(key), h, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
