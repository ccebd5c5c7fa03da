package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	confidantDir = ".confidant"
	configFile   = "config.yaml"
	envFile      = ".env"
)

type Config struct {
	ChatbotID string `json:"chatbot_id" yaml:"chatbot_id"`
}

func InitCmd() *cobra.Command {
	var chatbotID string
	var apiKey string
	var apiURL string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a confidant workspace",
		Long:  "Creates the .confidant/ directory, config.yaml, and .env with API key.",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runInit(chatbotID, apiKey, apiURL, outputJSON)
		},
	}

	cmd.Flags().StringVar(&chatbotID, "chatbot", "", "Chatbot ID (a new one is generated if not provided)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key for authentication")
	cmd.Flags().StringVar(&apiURL, "api-url", "", "API base URL (default: http://localhost:8080)")

	return cmd
}

func runInit(chatbotID, apiKey, apiURL string, outputJSON bool) error {
	if _, err := os.Stat(confidantDir); err == nil {
		return fmt.Errorf(".confidant directory already exists")
	}

	_ = godotenv.Load()
	if apiKey == "" {
		apiKey = os.Getenv(envAPIKey)
	}
	if apiKey == "" {
		fmt.Print("Enter API key: ")
		reader := bufio.NewReader(os.Stdin)
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read API key: %w", err)
		}
		apiKey = strings.TrimSpace(input)
		if apiKey == "" {
			return fmt.Errorf("API key is required")
		}
	}

	if apiURL == "" {
		apiURL = os.Getenv(envAPIURL)
	}
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	if chatbotID == "" {
		chatbotID = uuid.New().String()
	}

	envData := fmt.Sprintf("CONFIDANT_API_KEY=%s\nCONFIDANT_API_URL=%s\n", apiKey, apiURL)
	if err := os.WriteFile(envFile, []byte(envData), 0600); err != nil {
		return fmt.Errorf("failed to create .env: %w", err)
	}

	api, err := NewAPIClientWithConfig(apiKey, apiURL)
	if err != nil {
		os.Remove(envFile)
		return fmt.Errorf("failed to create API client: %w", err)
	}

	// Verifies the key against an authenticated endpoint before writing
	// the workspace config.
	if _, err := api.Get(fmt.Sprintf("/sources?chatbot_id=%s", chatbotID)); err != nil {
		os.Remove(envFile)
		return fmt.Errorf("failed to verify credentials: %w", err)
	}

	if err := os.MkdirAll(confidantDir, 0755); err != nil {
		return fmt.Errorf("failed to create .confidant directory: %w", err)
	}

	configPath := filepath.Join(confidantDir, configFile)
	configData := fmt.Sprintf("chatbot_id: %s\n", chatbotID)
	if err := os.WriteFile(configPath, []byte(configData), 0644); err != nil {
		return fmt.Errorf("failed to create config.yaml: %w", err)
	}

	if outputJSON {
		result := map[string]interface{}{
			"success":    true,
			"chatbot_id": chatbotID,
			"config":     configPath,
			"env":        envFile,
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Printf("Initialized confidant workspace\n")
		fmt.Printf("Chatbot ID: %s\n", chatbotID)
		fmt.Printf("Config saved to %s\n", configPath)
	}

	return nil
}

// LoadConfig reads the config from .confidant/config.yaml.
func LoadConfig() (*Config, error) {
	configPath := filepath.Join(confidantDir, configFile)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("not a confidant workspace (run 'confidant init' first)")
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Simple YAML parsing for single field
	var config Config
	for _, line := range splitLines(string(data)) {
		if len(line) > 12 && line[:12] == "chatbot_id: " {
			config.ChatbotID = line[12:]
			break
		}
	}

	if config.ChatbotID == "" {
		return nil, fmt.Errorf("invalid config: chatbot_id not found")
	}

	return &config, nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
