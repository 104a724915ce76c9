package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Open and close play sessions",
}

var sessionLoginCmd = &cobra.Command{
	Use:     "login",
	Short:   "Open a session for an account",
	Long:    `Authenticate and open a new play session. Any session already open for the account is closed first.`,
	Example: `  playclock -c config.yaml session login --email ada@example.com --password secret`,
	Args:    cobra.NoArgs,
	RunE:    runSessionLogin,
}

var sessionLogoutCmd = &cobra.Command{
	Use:   "logout SESSION_ID",
	Short: "Close an open session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionLogout,
}

func init() {
	sessionLoginCmd.Flags().StringVar(&loginEmail, "email", "", "Login email address (required)")
	sessionLoginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password (required)")
	_ = sessionLoginCmd.MarkFlagRequired("email")
	_ = sessionLoginCmd.MarkFlagRequired("password")

	sessionCmd.AddCommand(sessionLoginCmd)
	sessionCmd.AddCommand(sessionLogoutCmd)
	rootCmd.AddCommand(sessionCmd)
}

func runSessionLogin(cmd *cobra.Command, args []string) error {
	env, err := loadEngine()
	if err != nil {
		return err
	}
	defer func() { _ = env.store.Close() }()

	desc, err := env.manager.Login(context.Background(), loginEmail, loginPassword)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)

	fmt.Println()
	_, _ = cyan.Println(separator)
	_, _ = green.Println("SESSION OPENED")
	_, _ = cyan.Println(separator)
	fmt.Println()
	fmt.Printf("Session:  %s\n", desc.SessionID)
	fmt.Printf("Account:  %s\n", desc.AccountID)
	fmt.Printf("Email:    %s\n", desc.Handle)
	fmt.Printf("Created:  %s\n", desc.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Expires:  %s\n", desc.ExpiresAt.Format(time.RFC3339))
	fmt.Println()
	return nil
}

func runSessionLogout(cmd *cobra.Command, args []string) error {
	env, err := loadEngine()
	if err != nil {
		return err
	}
	defer func() { _ = env.store.Close() }()

	if err := env.manager.Logout(context.Background(), args[0]); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}

	fmt.Printf("✅ Session %s closed\n", args[0])
	return nil
}
