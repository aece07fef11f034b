package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file without executing any backup operations.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Hostname: %s\n", cfg.Backup.Hostname)
	fmt.Printf("  Sources: %v\n", cfg.Backup.Sources)
	fmt.Printf("  Destination root: %s\n", cfg.Backup.DestinationRoot)
	fmt.Printf("  Filename template: %s\n", cfg.Backup.FilenameTemplate)
	fmt.Println()
	fmt.Println("Retention Policy:")
	if cfg.Retention.Days == 0 {
		fmt.Println("  Disabled")
	} else {
		fmt.Printf("  Keep backups for: %d day(s)\n", cfg.Retention.Days)
	}
	fmt.Println()
	fmt.Println("Logging:")
	fmt.Printf("  Log file: %s\n", cfg.Log.Path())
	fmt.Printf("  Rotate above: %d KB\n", cfg.Log.MaxSizeKB)
	fmt.Printf("  Lock file: %s\n", cfg.Lock.Path)
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Email notifications: %v\n", cfg.Email != nil)
	fmt.Printf("  Telegram notifications: %v\n", cfg.Telegram != nil)
	fmt.Printf("  Power management: %v\n", cfg.Power != nil)

	if cfg.Email != nil {
		fmt.Println()
		fmt.Println("Email Configuration:")
		fmt.Printf("  Recipient: %s\n", cfg.Email.Recipient)
		fmt.Printf("  From: %s\n", cfg.Email.From)
		fmt.Printf("  Relay: %s:%d\n", cfg.Email.SMTPHost, cfg.Email.SMTPPort)
		if cfg.Email.SMTPUser != "" {
			fmt.Println("  Auth: (configured)")
		}
	}

	if cfg.Telegram != nil {
		fmt.Println()
		fmt.Println("Telegram Configuration:")
		fmt.Printf("  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Printf("  Bot Token: (configured)\n")
	}

	if cfg.Power != nil {
		fmt.Println()
		fmt.Println("Power Management:")
		if cfg.Power.WOL != nil {
			fmt.Printf("  WOL MAC address: %s\n", cfg.Power.WOL.MACAddress)
			fmt.Printf("  WOL broadcast IP: %s\n", cfg.Power.WOL.BroadcastIP)
			if cfg.Power.WOL.PollURL != "" {
				fmt.Printf("  WOL poll URL: %s\n", cfg.Power.WOL.PollURL)
			}
		}
		if cfg.Power.Shutdown != nil {
			fmt.Printf("  Shutdown host: %s:%d\n", cfg.Power.Shutdown.Host, cfg.Power.Shutdown.Port)
			fmt.Printf("  Shutdown user: %s\n", cfg.Power.Shutdown.Username)
			fmt.Printf("  Shutdown OS: %s\n", cfg.Power.Shutdown.OS)
		}
	}

	return nil
}
