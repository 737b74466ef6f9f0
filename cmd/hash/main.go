// Package main prints the bcrypt hash of a password using the same cost as
// admin registration. It is used when seeding or repairing admin records by
// hand without running the server.
package main

import (
	"fmt"
	"os"

	"github.com/orgstore/orgstore/internal/auth"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: hash <password>")
		os.Exit(2)
	}
	hash, err := auth.HashPassword(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
