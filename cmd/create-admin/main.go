package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"freemail/backend/internal/auth"
	jwtpkg "freemail/backend/internal/auth/jwt"
	"freemail/backend/internal/config"
	"freemail/backend/internal/storage/hybrid"
)

func main() {
	email := flag.String("email", "", "管理员邮箱，默认读取 FREEMAIL_ADMIN_EMAIL")
	password := flag.String("password", "", "管理员密码，默认读取 FREEMAIL_ADMIN_PASSWORD")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *email == "" {
		*email = cfg.Admin.Email
	}
	if *password == "" {
		*password = cfg.Admin.Password
	}
	if *email == "" || *password == "" {
		fmt.Println("Usage: create-admin -email=<email> -password=<password>")
		os.Exit(1)
	}
	if cfg.Database.Type == "" || cfg.Database.Type == "memory" {
		fmt.Println("database.type is memory; the admin would vanish when this process exits")
		os.Exit(1)
	}

	store, err := hybrid.NewStoreWithType(cfg.Database, nil)
	if err != nil {
		fmt.Printf("Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	tokens := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessExpiry, cfg.JWT.RefreshExpiry)
	authService := auth.NewService(store, tokens, cfg.Accounts.InviteTTL, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	user, created, err := authService.EnsureAdmin(ctx, *email, *password)
	if err != nil {
		fmt.Printf("Failed to create admin: %v\n", err)
		os.Exit(1)
	}

	if created {
		fmt.Printf("✓ Admin user created successfully!\n")
	} else {
		fmt.Printf("✓ Admin user already existed; role and password synchronized\n")
	}
	fmt.Printf("  ID:    %s\n", user.ID)
	fmt.Printf("  Email: %s\n", user.Email)
	fmt.Printf("  Role:  %s\n", user.Role)
}
