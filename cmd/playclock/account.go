package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/playclock/internal/config"
	"github.com/goodtune/playclock/internal/playtime"
	"github.com/goodtune/playclock/internal/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const separator = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

var (
	registerEmail    string
	registerPassword string
	registerName     string
	registerSurname  string
	registerDOB      string
	registerAddress  string
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage player accounts",
	Long:  `Register accounts, set daily limits and inspect playtime usage.`,
}

var accountRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new account",
	Example: `  playclock account register --email ada@example.com --password secret \
    --name Ada --surname Lovelace --dob 2010-12-10 --address "12 St James's Square"`,
	Args: cobra.NoArgs,
	RunE: runAccountRegister,
}

var accountLimitCmd = &cobra.Command{
	Use:     "limit ACCOUNT_ID MINUTES",
	Short:   "Set an account's daily limit",
	Long:    `Set the daily playtime limit in minutes. The account must have an open session.`,
	Example: `  playclock -c config.yaml account limit 6f1c0a8e-5b7d-4a51-9d1f-0f3b7f1e2c44 90`,
	Args:    cobra.ExactArgs(2),
	RunE:    runAccountLimit,
}

var accountStatusCmd = &cobra.Command{
	Use:   "status ACCOUNT_ID",
	Short: "Show today's playtime for an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountStatus,
}

func init() {
	accountRegisterCmd.Flags().StringVar(&registerEmail, "email", "", "Login email address (required)")
	accountRegisterCmd.Flags().StringVar(&registerPassword, "password", "", "Account password (required)")
	accountRegisterCmd.Flags().StringVar(&registerName, "name", "", "Given name (required)")
	accountRegisterCmd.Flags().StringVar(&registerSurname, "surname", "", "Surname (required)")
	accountRegisterCmd.Flags().StringVar(&registerDOB, "dob", "", "Date of birth as YYYY-MM-DD (required)")
	accountRegisterCmd.Flags().StringVar(&registerAddress, "address", "", "Postal address (required)")
	for _, name := range []string{"email", "password", "name", "surname", "dob", "address"} {
		_ = accountRegisterCmd.MarkFlagRequired(name)
	}

	accountCmd.AddCommand(accountRegisterCmd)
	accountCmd.AddCommand(accountLimitCmd)
	accountCmd.AddCommand(accountStatusCmd)
	rootCmd.AddCommand(accountCmd)
}

// loadEngine opens the configured storage for a one-shot operator command.
// Only errors are logged so command output stays readable.
func loadEngine() (*engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel)
	return openEngine(cfg, logger)
}

func runAccountRegister(cmd *cobra.Command, args []string) error {
	dob, err := time.Parse(time.DateOnly, registerDOB)
	if err != nil {
		return fmt.Errorf("invalid date of birth %q: expected YYYY-MM-DD", registerDOB)
	}

	env, err := loadEngine()
	if err != nil {
		return err
	}
	defer func() { _ = env.store.Close() }()

	account, err := env.manager.Register(context.Background(), playtime.Registration{
		Email:       registerEmail,
		Password:    registerPassword,
		Name:        registerName,
		Surname:     registerSurname,
		DateOfBirth: dob,
		Address:     registerAddress,
	})
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	green := color.New(color.FgGreen, color.Bold)
	_, _ = green.Printf("✅ Registered %s\n", account.Handle)
	fmt.Printf("Account ID: %s\n", account.ID)
	return nil
}

func runAccountLimit(cmd *cobra.Command, args []string) error {
	accountID := args[0]

	minutes, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid minutes %q: %w", args[1], err)
	}
	if err := playtime.ValidateLimit(minutes); err != nil {
		return err
	}

	env, err := loadEngine()
	if err != nil {
		return err
	}
	defer func() { _ = env.store.Close() }()

	account, err := env.manager.SetTimeLimit(context.Background(), accountID, minutes)
	if err != nil {
		return fmt.Errorf("failed to set limit: %w", err)
	}

	printAccountStatus(account, nil)
	return nil
}

func runAccountStatus(cmd *cobra.Command, args []string) error {
	env, err := loadEngine()
	if err != nil {
		return err
	}
	defer func() { _ = env.store.Close() }()

	ctx := context.Background()

	account, err := env.manager.Account(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}

	usage, err := env.manager.Usage(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("failed to load usage: %w", err)
	}

	printAccountStatus(account, usage)
	return nil
}

// printAccountStatus prints the account and, when available, live usage
func printAccountStatus(account *storage.Account, usage *playtime.UsageStats) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	_, _ = cyan.Println(separator)
	_, _ = cyan.Println("ACCOUNT STATUS")
	_, _ = cyan.Println(separator)
	fmt.Println()

	fmt.Printf("Account:     %s\n", account.ID)
	fmt.Printf("Email:       %s\n", account.Handle)
	fmt.Printf("Name:        %s %s\n", account.Name, account.Surname)
	fmt.Printf("Last reset:  %s\n", account.LastReset.Format(time.RFC3339))

	fmt.Print("Session:     ")
	if account.Active {
		_, _ = green.Print("ACTIVE")
		if account.LastSessionStart != nil {
			fmt.Printf(" since %s", account.LastSessionStart.Format(time.RFC3339))
		}
		fmt.Println()
	} else {
		fmt.Println("inactive")
	}

	fmt.Print("Daily limit: ")
	if account.HasLimit() {
		fmt.Printf("%d minutes\n", *account.DailyLimitMinutes)
	} else {
		fmt.Println("unlimited")
	}

	used := time.Duration(account.UsedTodaySeconds) * time.Second
	if usage != nil {
		used = usage.UsedToday
	}
	fmt.Printf("Used today:  %s\n", used)
	if usage != nil && usage.LiveSession > 0 {
		fmt.Printf("Unbanked:    %s\n", usage.LiveSession)
	}

	if usage != nil && usage.Limited {
		fmt.Print("Remaining:   ")
		if usage.LimitExceeded {
			_, _ = red.Println("LIMIT REACHED")
		} else if usage.Remaining < 5*time.Minute {
			_, _ = yellow.Println(usage.Remaining)
		} else {
			_, _ = green.Println(usage.Remaining)
		}
	}

	fmt.Println()
	_, _ = cyan.Println(separator)
	fmt.Println()
}
