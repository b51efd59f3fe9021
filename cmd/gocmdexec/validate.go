package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fgeck/gocmdexec/internal/script"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <cmdlist_file>",
	Short: "Validate a command list",
	Long:  `Parse the command list and settings and print a summary without connecting.`,
	Args:  cobra.ExactArgs(1),
	RunE:  validateCommandList,
}

func validateCommandList(cmd *cobra.Command, args []string) error {
	path := args[0]

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Error().Str("file", path).Msg("command list not found")
		return fmt.Errorf("command list not found: %s", path)
	}

	spec, cmds, err := script.NewParser().LoadFile(path)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("command list validation failed")
		return err
	}

	// Print summary
	fmt.Println("Command list is valid!")
	fmt.Println()
	fmt.Println("Target:")
	fmt.Printf("  Address: %s\n", spec.Address())
	fmt.Printf("  Protocol: %s\n", spec.Protocol())
	if spec.Username != "" {
		fmt.Printf("  Username: %s\n", spec.Username)
	}
	if spec.Password != "" {
		fmt.Printf("  Password: (configured)\n")
	}
	fmt.Println()
	fmt.Printf("Commands (%d):\n", cmds.Len())
	for i, c := range cmds.Commands {
		fmt.Printf("  %3d  %s\n", i+1, c)
	}
	fmt.Println()
	fmt.Println("Settings:")
	if settings.DisableLog {
		fmt.Printf("  Log file: disabled\n")
	} else {
		fmt.Printf("  Log dir: %s\n", settings.LogDir)
		fmt.Printf("  Line endings: %s\n", settings.LineEndings.Resolve(spec.Protocol()))
	}
	fmt.Printf("  Command timeout: %s\n", settings.Session.CommandTimeout)
	fmt.Printf("  Idle threshold: %s\n", settings.Session.IdleThreshold)
	fmt.Printf("  Connect attempts: %d\n", settings.Session.ConnectAttempts)
	fmt.Printf("  Encodings: %s\n", strings.Join(settings.Session.Encodings, ", "))
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Wake-on-LAN: %v\n", settings.WOL != nil)
	fmt.Printf("  Telegram: %v\n", settings.Telegram != nil)

	if settings.WOL != nil {
		fmt.Println()
		fmt.Println("WOL Configuration:")
		fmt.Printf("  MAC Address: %s\n", settings.WOL.MACAddress)
		fmt.Printf("  Broadcast IP: %s\n", settings.WOL.BroadcastIP)
		target := settings.WOL.TargetAddr
		if target == "" {
			target = spec.Address()
		}
		fmt.Printf("  Target: %s\n", target)
	}

	if settings.Telegram != nil {
		fmt.Println()
		fmt.Println("Telegram Configuration:")
		fmt.Printf("  Chat ID: %s\n", settings.Telegram.ChatID)
		fmt.Printf("  Bot Token: (configured)\n")
	}

	return nil
}
