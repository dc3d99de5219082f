package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"

	"github.com/renex-id/renex/clients/go/renex"
)

func main() {
	saveDir := flag.String("save", "", "Directory to write private.key into")
	flag.Parse()

	kp, err := renex.GenerateKeyPair()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate key: %v\n", err)
		os.Exit(1)
	}

	exchange, err := kp.ExchangeKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to derive exchange key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Public key (base64):   %s\n", kp.PublicKeyBase64())
	fmt.Printf("Seed (base64):         %s\n", base64.StdEncoding.EncodeToString(kp.Private.Seed()))
	fmt.Printf("Exchange key (X25519): %s\n", base64.StdEncoding.EncodeToString(exchange))

	if *saveDir != "" {
		if err := kp.Save(*saveDir); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Saved to %s\n", *saveDir)
	}
}
