// genkey generates the secp256k1 signing key the AppView uses for
// ES256K service tokens. Point APPVIEW_PRIVATE_KEY_PATH at the PEM;
// publish the printed JWK in the AppView's DID document so PDS hosts
// and feed generators can verify our tokens.
//
// Usage:
//
//	go run ./cmd/genkey [output.pem]
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"Skyview/internal/atproto/auth"
)

func main() {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		log.Fatalf("Failed to generate key: %v", err)
	}

	pemBytes, err := auth.MarshalPrivateKeyPEM(key)
	if err != nil {
		log.Fatalf("Failed to encode key: %v", err)
	}

	jwk, err := json.MarshalIndent(auth.PublicJWK(key, "atproto"), "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode public JWK: %v", err)
	}

	if len(os.Args) > 1 {
		path := os.Args[1]
		if err := os.WriteFile(path, pemBytes, 0600); err != nil {
			log.Fatalf("Failed to write %s: %v", path, err)
		}
		fmt.Printf("Private key written to %s\n", path)
		fmt.Printf("Set APPVIEW_PRIVATE_KEY_PATH=%s\n\n", path)
	} else {
		fmt.Println("Private key (keep it secret, point APPVIEW_PRIVATE_KEY_PATH at it):")
		fmt.Println()
		fmt.Print(string(pemBytes))
		fmt.Println()
	}

	fmt.Println("Public JWK (publish in the AppView DID document):")
	fmt.Println(string(jwk))
}
