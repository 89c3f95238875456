package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"promptloop/internal/prompt"
)

var assembleFollowup bool

var assembleCmd = &cobra.Command{
	Use:   "assemble",
	Short: "Assemble and print the current system prompt",
	Long: `Assembles the prompt from the active section versions and prints it with
its version fingerprint. When no active sections exist, prints the compiled-in
baseline and the "hardcoded" fingerprint.`,
	RunE: runAssemble,
}

func init() {
	assembleCmd.Flags().BoolVar(&assembleFollowup, "followup", false, "Include follow-up analysis sections")
}

func runAssemble(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	assembled, err := a.assembler.Assemble(cmd.Context(), assembleFollowup)
	if err != nil {
		return err
	}

	text := assembled.Text
	if !assembled.FromDB {
		text = prompt.BaselinePrompt(assembleFollowup)
	}

	fmt.Printf("Fingerprint: %s\n", assembled.VersionFingerprint)
	fmt.Printf("From DB:     %v\n", assembled.FromDB)
	fmt.Printf("Est. tokens: %d\n\n", prompt.EstimateTokens(text))
	fmt.Println(text)
	return nil
}
