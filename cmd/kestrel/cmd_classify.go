package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/spf13/cobra"
)

type classifyOutput struct {
	domain.DetectionResult
	Label string `json:"label"`
}

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify [text...]",
		Short: "Classify text and print the result as JSON",
		Long:  "Classify the given text, or standard input when no text is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			classifier, err := loadClassifier(cfg)
			if err != nil {
				return err
			}

			text := strings.Join(args, " ")
			if len(args) == 0 {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				text = string(data)
			}

			result := classifier.Classify(text)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(classifyOutput{DetectionResult: result, Label: result.Level.Label()})
		},
	}
}
