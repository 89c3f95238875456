package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var distillCmd = &cobra.Command{
	Use:   "distill",
	Short: "Run or inspect learning memory distillation",
}

var distillRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Compile the current signal streams into learning memory",
	RunE:  runDistillRun,
}

var distillShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the latest compiled learning memory",
	RunE:  runDistillShow,
}

func init() {
	distillCmd.AddCommand(distillRunCmd)
	distillCmd.AddCommand(distillShowCmd)
}

func runDistillRun(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	text, err := a.distiller.DistillLearningMemory(cmd.Context())
	if err != nil {
		return err
	}
	if text == "" {
		fmt.Println("No signals survived distillation; nothing persisted.")
		return nil
	}

	fmt.Println(text)
	return nil
}

func runDistillShow(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	mem, err := a.store.LatestLearningMemory()
	if err != nil {
		return err
	}
	if mem == nil {
		fmt.Println("No learning memory compiled yet.")
		return nil
	}

	fmt.Printf("Compiled %s (%d bullets from %d source entries)\n\n%s\n",
		mem.CreatedAt.Format("2006-01-02 15:04"), mem.BulletCount, mem.SourceEntries, mem.CompiledText)
	return nil
}
