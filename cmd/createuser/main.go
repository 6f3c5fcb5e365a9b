// Command createuser adds an operator account. Operators may read every
// client.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/ruby4mag/service-downtime-backend/internal/config"
	"github.com/ruby4mag/service-downtime-backend/internal/db"
	"github.com/ruby4mag/service-downtime-backend/internal/models"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the YAML config file")
	username := pflag.StringP("username", "u", "", "operator username")
	password := pflag.StringP("password", "p", "", "operator password (defaults to $OPERATOR_PASSWORD)")
	email := pflag.String("email", "", "operator email")
	role := pflag.String("role", "admin", "operator role")
	pflag.Parse()

	if *password == "" {
		*password = os.Getenv("OPERATOR_PASSWORD")
	}

	if err := run(*configPath, models.User{Username: *username, Email: *email, Role: *role}, *password); err != nil {
		fmt.Fprintln(os.Stderr, "createuser:", err)
		os.Exit(1)
	}
	fmt.Printf("operator %q created\n", *username)
}

func run(configPath string, user models.User, password string) error {
	if user.Username == "" || password == "" {
		return errors.New("--username and --password are required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, database, err := db.ConnectMongo(ctx, cfg.Mongo)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background())

	users := models.NewUserStore(database)
	existing, err := users.FindUserByUsername(ctx, user.Username)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("username %q already taken", user.Username)
	}

	if err := user.HashPassword(password); err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	return users.CreateUser(ctx, &user)
}
