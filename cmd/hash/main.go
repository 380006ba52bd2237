// Package main prints the bcrypt hash of a password so operator accounts can
// be seeded directly into the usuarios table without running the server.
//
// Usage:
//
//	hash <password>
//	echo -n <password> | hash
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/consejo-social/veeduria/internal/auth"
)

func main() {
	password, err := readPassword()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(hash)
}

func readPassword() (string, error) {
	if len(os.Args) > 1 {
		return os.Args[1], nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("usage: %s <password> (or pipe it on stdin)", os.Args[0])
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	return password, nil
}
