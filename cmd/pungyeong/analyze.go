package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/lewtec/pungyeong/annotation"
	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <image>",
	Short: "Analyze one local image and print the annotation JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}
		promptFile, _ := cmd.Flags().GetString("prompt")
		if promptFile == "" {
			promptFile = config.Gemini.PromptFile
		}
		template, err := annotation.LoadPromptTemplate(promptFile)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		meta, err := annotation.MetadataFromBytes(data)
		if err != nil {
			return fmt.Errorf("while reading %s: %w", args[0], err)
		}

		client, generator, err := newAnnotationClient(cmd.Context(), config)
		if err != nil {
			return err
		}
		defer generator.Close()

		result, err := client.Analyze(cmd.Context(), &annotation.ImageRequest{
			Data:           data,
			MIMEType:       annotation.MIMEType(meta.Format),
			Metadata:       meta,
			PromptTemplate: template,
		})
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringP("prompt", "p", "", "Prompt template file overriding the configured one")
}
