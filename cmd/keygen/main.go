// Keygen prints a fresh RSA keypair in the PEM layout the signing-key store
// expects. Handy for seeding a realm by hand or for tests.
package main

import (
	"fmt"
	"os"

	"github.com/veridianlabs/veridian/internal/keys"
)

func main() {
	kid, publicPEM, privatePEM, err := keys.GenerateRSAKeyPair()
	if err != nil {
		fmt.Printf("Failed to generate key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("kid: %s\n\n", kid)
	fmt.Println(publicPEM)
	fmt.Println(privatePEM)
}
