package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ramhaidar/kilocode/cloud"
	"github.com/ramhaidar/kilocode/config"
)

var (
	initToken          string
	initOrg            string
	initEndpoint       string
	initNonInteractive bool
	initVerify         bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the global kilocode configuration",
	Long: `Initialize kilocode by creating the global configuration file.

This command will:
- Create ~/.kilocode/config.yaml with default sync settings
- Prompt for your API token and organization ID
- Optionally verify the credentials against the API (--verify)

The token can be left empty to read it from the KILOCODE_TOKEN
environment variable at runtime instead of storing it on disk.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initToken, "token", "", "API token (empty: read KILOCODE_TOKEN at runtime)")
	initCmd.Flags().StringVar(&initOrg, "org", "", "Organization ID")
	initCmd.Flags().StringVar(&initEndpoint, "endpoint", "", "API endpoint (default: https://api.kilocode.ai)")
	initCmd.Flags().BoolVar(&initNonInteractive, "yes", false, "Use flags and defaults without prompting")
	initCmd.Flags().BoolVar(&initVerify, "verify", false, "Verify the credentials against the API after saving")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath, err := config.GlobalConfigPath()
	if err != nil {
		return err
	}

	// Check if already initialized
	if config.Exists() {
		fmt.Println("kilocode is already configured.")
		fmt.Printf("Configuration: %s\n", configPath)
		return nil
	}

	cfg := config.DefaultConfig()
	cfg.Auth.Token = initToken
	cfg.Auth.OrganizationID = initOrg
	cfg.Auth.Endpoint = initEndpoint

	// Interactive mode
	if !initNonInteractive {
		reader := bufio.NewReader(os.Stdin)

		if cfg.Auth.Token == "" {
			fmt.Print("API token (leave empty to use KILOCODE_TOKEN): ")
			input, _ := reader.ReadString('\n')
			cfg.Auth.Token = strings.TrimSpace(input)
		}

		if cfg.Auth.OrganizationID == "" {
			fmt.Print("Organization ID: ")
			input, _ := reader.ReadString('\n')
			cfg.Auth.OrganizationID = strings.TrimSpace(input)
		}

		if cfg.Auth.Endpoint == "" {
			fmt.Print("API endpoint [https://api.kilocode.ai]: ")
			input, _ := reader.ReadString('\n')
			cfg.Auth.Endpoint = strings.TrimSpace(input)
		}
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Printf("\nCreated configuration at %s\n", configPath)

	if initVerify {
		if err := verifyCredentials(cfg); err != nil {
			return err
		}
	}

	fmt.Println("\nkilocode initialized successfully!")
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Link a repository to a project: kilocode link <project-id>")
	fmt.Println("  2. Start the sync daemon: kilocode watch --background")
	fmt.Println("  3. Check its health: kilocode status")

	if cfg.Auth.Token == "" {
		fmt.Println("\nNo token saved; make sure KILOCODE_TOKEN is set in the daemon's environment.")
	}

	return nil
}

func verifyCredentials(cfg *config.Config) error {
	var copts []cloud.Option
	if cfg.Auth.Token != "" {
		copts = append(copts, cloud.WithToken(cfg.Auth.Token))
	}
	if cfg.Auth.Endpoint != "" {
		copts = append(copts, cloud.WithEndpoint(cfg.Auth.Endpoint))
	}
	if cfg.Auth.TesterOverride {
		copts = append(copts, cloud.WithTesterOverride(true))
	}
	client, err := cloud.NewClient(copts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("api is unreachable: %w", err)
	}
	fmt.Println("API reachable.")

	if cfg.Auth.OrganizationID == "" {
		return nil
	}

	org, err := client.FetchOrganization(ctx, cfg.Auth.OrganizationID)
	if err != nil {
		return fmt.Errorf("failed to fetch organization: %w", err)
	}
	if org == nil {
		return fmt.Errorf("organization %s not found", cfg.Auth.OrganizationID)
	}
	if org.CodeIndexingEnabled() {
		fmt.Printf("Organization %s: code indexing enabled.\n", org.Name)
	} else {
		fmt.Printf("Organization %s: code indexing is NOT enabled; the sync daemon will refuse to start.\n", org.Name)
	}

	return nil
}
