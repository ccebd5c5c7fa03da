package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// ReclassifyCmd creates the reclassify command.
func ReclassifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reclassify <source_id> <citable|private>",
		Short: "Change a source's classification",
		Long: `Change a source's classification between citable and private.

The change applies to future answers immediately. Demoting a source to
private means it can no longer be quoted or cited.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runReclassify(args[0], args[1], outputJSON)
		},
	}

	return cmd
}

func runReclassify(sourceID, classification string, outputJSON bool) error {
	if classification != "citable" && classification != "private" {
		return fmt.Errorf("classification must be citable or private")
	}

	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	resp, err := api.Patch(
		fmt.Sprintf("/sources/%s/classification", sourceID),
		map[string]string{"classification": classification},
	)
	if err != nil {
		return fmt.Errorf("failed to reclassify source: %w", err)
	}

	var source Source
	if err := json.Unmarshal(resp.Data, &source); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(source, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("Reclassified source: %s\n", source.ID)
		fmt.Printf("Name: %s\n", source.Name)
		fmt.Printf("Classification: %s\n", source.Classification)
	}

	return nil
}
