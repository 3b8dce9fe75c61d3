/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/expense-tracker/apiserver/config"
	"github.com/expense-tracker/apiserver/internal/db"
	"github.com/expense-tracker/apiserver/internal/services"
	"github.com/expense-tracker/apiserver/internal/store"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	userUsername string
	userPassword string
	userActive   bool
)

// userCmd groups operator commands for accounts.
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user, prompting for the password when --password is omitted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return createUser(cmd.Context(), appConfig.Database, userUsername, userPassword, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

var userSetActiveCmd = &cobra.Command{
	Use:   "set-active",
	Short: "Enable or disable a user account",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setUserActive(cmd.Context(), appConfig.Database, userUsername, userActive, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userSetActiveCmd)

	userCreateCmd.Flags().StringVar(&userUsername, "username", "", "username of the new account")
	userCreateCmd.Flags().StringVar(&userPassword, "password", "", "password (prompted when omitted)")
	_ = userCreateCmd.MarkFlagRequired("username")

	userSetActiveCmd.Flags().StringVar(&userUsername, "username", "", "username of the account")
	userSetActiveCmd.Flags().BoolVar(&userActive, "active", true, "whether the account may log in")
	_ = userSetActiveCmd.MarkFlagRequired("username")
}

func createUser(ctx context.Context, cfg config.DatabaseConfig, username, password string, stdin io.Reader, stdout io.Writer) error {
	if password == "" {
		fmt.Fprint(stdout, "Password: ")
		var err error
		password, err = readPassword(stdin)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(stdout)
	}

	conn, err := db.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer conn.Close()

	users := services.NewUserService(store.NewUserRepository(conn), nil)
	user, err := users.Register(ctx, username, password)
	if err != nil {
		if errors.Is(err, services.ErrConflict) {
			return fmt.Errorf("user %s already exists", username)
		}
		return err
	}

	fmt.Fprintf(stdout, "User %s created with ID %s\n", user.Username, user.ID)
	return nil
}

func setUserActive(ctx context.Context, cfg config.DatabaseConfig, username string, active bool, stdout io.Writer) error {
	conn, err := db.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer conn.Close()

	users := services.NewUserService(store.NewUserRepository(conn), nil)
	if err := users.SetActive(ctx, username, active); err != nil {
		return err
	}

	state := "disabled"
	if active {
		state = "enabled"
	}
	fmt.Fprintf(stdout, "User %s %s\n", username, state)
	return nil
}

func readPassword(stdin io.Reader) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		bytePassword, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(bytePassword), nil
	}

	// Pipes and tests feed the password as the first line.
	scanner := bufio.NewScanner(stdin)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
