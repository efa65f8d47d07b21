package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/conduit-ai/conduit/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive configuration wizard",
		Long:  "Guides you through setting up conduit: choose a provider, enter its credentials, and save the config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Welcome to the conduit configuration wizard!")
	fmt.Println()

	// Provider selection
	providers := []string{"openai", "anthropic", "gateway", "local"}
	fmt.Println("Available providers:")
	for i, p := range providers {
		fmt.Printf("  %d. %s\n", i+1, p)
	}
	fmt.Print("\nSelect provider (1-4) [1]: ")
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	selectedIdx := 0
	if input != "" {
		n := 0
		for _, c := range input {
			if c >= '0' && c <= '9' {
				n = n*10 + int(c-'0')
			}
		}
		if n >= 1 && n <= len(providers) {
			selectedIdx = n - 1
		}
	}
	providerName := providers[selectedIdx]
	fmt.Printf("Selected: %s\n\n", providerName)

	entry := map[string]any{}

	switch providerName {
	case "gateway":
		fmt.Print("Enter gateway base URL (e.g. http://localhost:8080/v1): ")
		baseURL, _ := reader.ReadString('\n')
		baseURL = strings.TrimSpace(baseURL)
		if baseURL == "" {
			return fmt.Errorf("base URL cannot be empty")
		}
		entry["base_url"] = baseURL

		fmt.Print("Enter API key (optional, press enter to skip): ")
		apiKey, _ := reader.ReadString('\n')
		if apiKey = strings.TrimSpace(apiKey); apiKey != "" {
			entry["api_key"] = apiKey
		}
	case "local":
		fmt.Print("Enter engine command (e.g. llama-engine --stdio): ")
		command, _ := reader.ReadString('\n')
		command = strings.TrimSpace(command)
		if command == "" {
			return fmt.Errorf("engine command cannot be empty")
		}
		entry["command"] = strings.Fields(command)
	default:
		fmt.Printf("Enter API key for %s: ", providerName)
		apiKey, _ := reader.ReadString('\n')
		apiKey = strings.TrimSpace(apiKey)
		if apiKey == "" {
			return fmt.Errorf("API key cannot be empty")
		}
		entry["api_key"] = apiKey
	}

	// Model override
	defaultModel := config.KnownProviderModels[providerName]
	if defaultModel != "" {
		fmt.Printf("Model [%s]: ", defaultModel)
	} else {
		fmt.Print("Model (press enter for backend default): ")
	}
	model, _ := reader.ReadString('\n')
	if model = strings.TrimSpace(model); model != "" {
		entry["model"] = model
	}

	// Build config YAML
	configData := map[string]any{
		"provider": providerName,
		"providers": map[string]any{
			providerName: entry,
		},
	}

	data, err := yaml.Marshal(configData)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// Save
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("get home dir: %w", err)
	}
	configDir := filepath.Join(home, ".config", "conduit")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")

	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("\nConfig file already exists at %s\n", configPath)
		fmt.Print("Overwrite? [y/N]: ")
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("\nConfig saved to %s\n", configPath)
	fmt.Println("You can now run: conduit")
	return nil
}
