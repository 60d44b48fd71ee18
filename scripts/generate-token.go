// Package main is a development utility that mints a bearer token for a local user.
// It signs with the same secret the server loads from configuration, so the printed
// token works against a locally running server without an identity provider.
// Do not use minted tokens outside development.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/huddlehq/huddle/internal/auth"
	"github.com/huddlehq/huddle/internal/config"
)

func main() {
	userID := flag.String("user", "", "user id to embed (random when empty)")
	email := flag.String("email", "dev@example.com", "email claim")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret)
	if err != nil {
		log.Fatalf("failed to create token manager: %v", err)
	}

	if *userID == "" {
		*userID = uuid.NewString()
	}

	token, err := tokens.Generate(*userID, *email, *ttl)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("==========================================================")
	fmt.Println("Development Token")
	fmt.Println("==========================================================")
	fmt.Printf("\nUser ID: %s\n", *userID)
	fmt.Printf("Email:   %s\n", *email)
	fmt.Printf("Expires: %s\n", time.Now().Add(*ttl).UTC().Format(time.RFC3339))
	fmt.Printf("\nAuthorization: Bearer %s\n", token)
	fmt.Println("\n==========================================================")
}
