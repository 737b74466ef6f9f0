// Package main is a development utility for generating a token signing secret.
// It prints a random 256-bit key in base64 together with the environment
// variable line that makes the server pick it up, so a local deployment does
// not have to rely on the ephemeral dev-mode secret. Generate a separate key
// for every environment; tokens signed with one key are rejected by the others.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
)

func main() {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		log.Fatalf("Failed to generate random bytes: %v", err)
	}

	secret := base64.RawURLEncoding.EncodeToString(randomBytes)

	fmt.Println("Signing secret:")
	fmt.Println(secret)
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Printf("export ORGSTORE_JWT_SECRET=%s\n", secret)
}
