package client

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// IngestSourceRequest represents the source ingestion API request.
type IngestSourceRequest struct {
	ChatbotID      string  `json:"chatbot_id"`
	Name           string  `json:"name"`
	Classification string  `json:"classification"`
	Priority       float64 `json:"priority"`
	Content        string  `json:"content"`
}

// BatchResult represents a single result in a batch operation.
type BatchResult struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Name   string `json:"name,omitempty"`
}

// BatchResponse represents the response for a batch operation.
type BatchResponse struct {
	Results   []BatchResult `json:"results"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
}

const maxBatchSize = 100

// AddCmd creates the add command.
func AddCmd() *cobra.Command {
	var (
		file           string
		name           string
		classification string
		priority       float64
		batch          bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a source from stdin or file",
		Long: `Add a knowledge source from a file or stdin.

Sources classified as "citable" may be quoted verbatim in answers with a
citation; "private" sources only inform answers and are never quoted.

Examples:
  # Add a citable source from a file
  confidant add --file handbook.md

  # Add a private source from stdin
  cat salaries.csv | confidant add --name "salary bands" --classification private

  # Batch add from a JSON array of sources
  confidant add --batch --file sources.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			if batch {
				return runBatchAdd(file, outputJSON)
			}
			return runAdd(file, name, classification, priority, outputJSON)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Input file (content, or JSON array with --batch)")
	cmd.Flags().StringVar(&name, "name", "", "Source name (defaults to the file name)")
	cmd.Flags().StringVarP(&classification, "classification", "c", "citable", "Classification: citable or private")
	cmd.Flags().Float64Var(&priority, "priority", 0, "Retrieval tie-break priority")
	cmd.Flags().BoolVar(&batch, "batch", false, "Enable batch mode (expects JSON array input)")

	return cmd
}

func runAdd(file, name, classification string, priority float64, outputJSON bool) error {
	config, err := LoadConfig()
	if err != nil {
		return err
	}

	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	var input []byte
	if file != "" {
		input, err = os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		if name == "" {
			name = filepath.Base(file)
		}
	} else {
		input, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
	}

	if len(input) == 0 {
		return fmt.Errorf("no input provided")
	}
	if name == "" {
		return fmt.Errorf("--name is required when adding from stdin")
	}
	if classification != "citable" && classification != "private" {
		return fmt.Errorf("classification must be citable or private")
	}

	req := IngestSourceRequest{
		ChatbotID:      config.ChatbotID,
		Name:           name,
		Classification: classification,
		Priority:       priority,
		Content:        string(input),
	}

	resp, err := api.Post("/sources", req)
	if err != nil {
		return fmt.Errorf("failed to add source: %w", err)
	}

	var source Source
	if err := json.Unmarshal(resp.Data, &source); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(source, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("Added source: %s\n", source.ID)
		fmt.Printf("Name: %s\n", source.Name)
		fmt.Printf("Classification: %s\n", source.Classification)
	}

	return nil
}

func isJSONInput(input []byte) bool {
	s := strings.TrimSpace(string(input))
	return len(s) > 0 && (s[0] == '{' || s[0] == '[')
}

func runBatchAdd(file string, outputJSON bool) error {
	config, err := LoadConfig()
	if err != nil {
		return err
	}

	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	var input []byte
	if file != "" {
		input, err = os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
	} else {
		input, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
	}

	if len(input) == 0 {
		return fmt.Errorf("no input provided")
	}
	if !isJSONInput(input) {
		return fmt.Errorf("batch mode expects a JSON array")
	}

	var items []IngestSourceRequest
	if err := json.Unmarshal(input, &items); err != nil {
		return fmt.Errorf("failed to parse JSON array: %w - batch mode expects a JSON array", err)
	}

	if len(items) == 0 {
		return fmt.Errorf("empty batch: no items provided")
	}
	if len(items) > maxBatchSize {
		return fmt.Errorf("batch size %d exceeds maximum of %d items", len(items), maxBatchSize)
	}

	response := BatchResponse{
		Results: make([]BatchResult, 0, len(items)),
		Total:   len(items),
	}

	for _, item := range items {
		item.ChatbotID = config.ChatbotID
		if item.Classification == "" {
			item.Classification = "citable"
		}

		if item.Name == "" {
			response.Results = append(response.Results, BatchResult{
				Status: "failed",
				Error:  "name is required",
			})
			response.Failed++
			continue
		}
		if item.Content == "" {
			response.Results = append(response.Results, BatchResult{
				Status: "failed",
				Error:  "content is required",
				Name:   item.Name,
			})
			response.Failed++
			continue
		}

		resp, err := api.Post("/sources", item)
		if err != nil {
			response.Results = append(response.Results, BatchResult{
				Status: "failed",
				Error:  err.Error(),
				Name:   item.Name,
			})
			response.Failed++
			continue
		}

		var source Source
		if err := json.Unmarshal(resp.Data, &source); err != nil {
			response.Results = append(response.Results, BatchResult{
				Status: "failed",
				Error:  fmt.Sprintf("failed to parse response: %v", err),
				Name:   item.Name,
			})
			response.Failed++
			continue
		}

		response.Results = append(response.Results, BatchResult{
			ID:     source.ID,
			Status: "created",
			Name:   source.Name,
		})
		response.Succeeded++
	}

	output, _ := json.MarshalIndent(response, "", "  ")
	fmt.Println(string(output))

	if response.Failed > 0 && !outputJSON {
		return fmt.Errorf("batch completed with %d failures", response.Failed)
	}

	return nil
}
