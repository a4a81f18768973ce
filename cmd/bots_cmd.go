package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/arosyihuddin/BotNexa/internal/api"
	"github.com/arosyihuddin/BotNexa/internal/config"
)

func botsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bots",
		Short: "Manage WhatsApp bots (list, create, edit, delete, toggle)",
	}

	cmd.AddCommand(botsListCmd())
	cmd.AddCommand(botsCreateCmd())
	cmd.AddCommand(botsEditCmd())
	cmd.AddCommand(botsDeleteCmd())
	cmd.AddCommand(botsToggleCmd())

	return cmd
}

func botsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your bots",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := mustLoadConfig()
			client := newAPIClient(cfg)

			bots, err := client.ListBots(context.Background())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if len(bots) == 0 {
				fmt.Println("No bots yet. Create one with:  botnexa bots create")
				return
			}

			data, _ := json.MarshalIndent(bots, "", "  ")
			fmt.Println(string(data))
		},
	}
}

func botsCreateCmd() *cobra.Command {
	var name, number, description string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new bot (interactive when flags are omitted)",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := mustLoadConfig()
			client := newAPIClient(cfg)

			req, ok := botForm(name, number, description)
			if !ok {
				return
			}

			bot, err := client.CreateBot(context.Background(), req)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			fmt.Printf("Created bot %d (%s).\n", bot.ID, bot.Name)
			fmt.Printf("Pair it with:  botnexa pair %d\n", bot.ID)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "bot display name")
	cmd.Flags().StringVar(&number, "number", "", "WhatsApp number in international format")
	cmd.Flags().StringVar(&description, "description", "", "what this bot is for")
	return cmd
}

func botsEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit [bot-id]",
		Short: "Edit a bot's name, number or description",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := mustLoadConfig()
			client := newAPIClient(cfg)

			bot := pickBot(client, args, "Select a bot to edit")
			if bot == nil {
				return
			}

			req, ok := botForm(bot.Name, bot.Number, bot.Description)
			if !ok {
				return
			}

			updated, err := client.UpdateBot(context.Background(), bot.ID, req)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			data, _ := json.MarshalIndent(updated, "", "  ")
			fmt.Println(string(data))
		},
	}
}

func botsDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete [bot-id]",
		Short: "Delete a bot permanently",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := mustLoadConfig()
			client := newAPIClient(cfg)

			bot := pickBot(client, args, "Select a bot to delete")
			if bot == nil {
				return
			}

			if !yes {
				ok, err := promptConfirm(fmt.Sprintf("Delete bot %q (%s)?", bot.Name, bot.Number), false)
				if err != nil || !ok {
					fmt.Println("Cancelled.")
					return
				}
			}

			if err := client.DeleteBot(context.Background(), bot.ID); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Deleted bot %d.\n", bot.ID)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func botsToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle [bot-id]",
		Short: "Enable or disable a bot",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := mustLoadConfig()
			client := newAPIClient(cfg)

			bot := pickBot(client, args, "Select a bot to toggle")
			if bot == nil {
				return
			}

			updated, err := client.ToggleBotStatus(context.Background(), bot.ID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			state := "disabled"
			if updated.IsConnected {
				state = "enabled"
			}
			fmt.Printf("Bot %d is now %s.\n", updated.ID, state)
		},
	}
}

// botForm collects the bot fields, prompting for whatever was not provided.
// Returns ok=false when the user aborted the form.
func botForm(name, number, description string) (api.BotRequest, bool) {
	var err error
	if name == "" {
		name, err = promptString("Bot name", "Shown in the dashboard", "")
		if err != nil {
			fmt.Println("Cancelled.")
			return api.BotRequest{}, false
		}
	}

	for {
		if number == "" {
			number, err = promptString("WhatsApp number", "International format, e.g. 6281200001111", "")
			if err != nil {
				fmt.Println("Cancelled.")
				return api.BotRequest{}, false
			}
		}
		if normalized := config.NormalizeNumber(number); normalized != "" {
			number = normalized
			break
		}
		fmt.Printf("%q does not look like a valid number, try again.\n", number)
		number = ""
	}

	if description == "" {
		description, err = promptString("Description", "Optional", "")
		if err != nil {
			fmt.Println("Cancelled.")
			return api.BotRequest{}, false
		}
	}

	return api.BotRequest{Name: name, Number: number, Description: description}, true
}

// pickBot resolves the target bot from the arg list, or interactively when
// no id was given. Returns nil when there is nothing to act on.
func pickBot(client *api.Client, args []string, title string) *api.BotInfo {
	bots, err := client.ListBots(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(bots) == 0 {
		fmt.Println("No bots yet. Create one with:  botnexa bots create")
		return nil
	}

	if len(args) == 1 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %q is not a bot id\n", args[0])
			os.Exit(1)
		}
		for i := range bots {
			if bots[i].ID == id {
				return &bots[i]
			}
		}
		fmt.Fprintf(os.Stderr, "Error: no bot with id %d\n", id)
		os.Exit(1)
	}

	options := make([]SelectOption[int64], 0, len(bots))
	for _, b := range bots {
		status := "offline"
		if b.IsConnected {
			status = "online"
		}
		label := fmt.Sprintf("[%d]  %s  %s  (%s)", b.ID, b.Name, b.Number, status)
		options = append(options, SelectOption[int64]{Label: label, Value: b.ID})
	}

	selected, err := promptSelect(title, options, 0)
	if err != nil {
		fmt.Println("Cancelled.")
		return nil
	}
	for i := range bots {
		if bots[i].ID == selected {
			return &bots[i]
		}
	}
	return nil
}
