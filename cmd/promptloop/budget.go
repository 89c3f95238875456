package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Inspect and reset the daily token budget",
}

var budgetStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show today's ledger row and category breakdown",
	RunE:  runBudgetStatus,
}

var budgetResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Ensure today's ledger row exists (idempotent)",
	RunE:  runBudgetReset,
}

func init() {
	budgetCmd.AddCommand(budgetStatusCmd)
	budgetCmd.AddCommand(budgetResetCmd)
}

func runBudgetStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	status, err := a.allocator.TodayStatus()
	if err != nil {
		return err
	}
	rec := status.Record

	committed := rec.UserTokens + rec.LearningTokens
	fmt.Printf("Day:             %s\n", rec.Day)
	fmt.Printf("Budget:          %d\n", rec.Budget)
	fmt.Printf("Learning budget: %d\n", rec.LearningBudget)
	fmt.Printf("User tokens:     %d\n", rec.UserTokens)
	fmt.Printf("Learning tokens: %d\n", rec.LearningTokens)
	fmt.Printf("Reserved:        %d\n", rec.ReservedTokens)
	fmt.Printf("Committed:       %d (%.1f%% of budget)\n",
		committed, 100*float64(committed)/float64(rec.Budget))

	if len(status.Breakdown) > 0 {
		fmt.Println("\nBy category:")
		categories := make([]string, 0, len(status.Breakdown))
		for c := range status.Breakdown {
			categories = append(categories, c)
		}
		sort.Strings(categories)
		for _, c := range categories {
			fmt.Printf("  %-16s %d\n", c, status.Breakdown[c])
		}
	}

	return nil
}

func runBudgetReset(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.allocator.ResetDailyBudget(); err != nil {
		return err
	}

	fmt.Println("Daily budget ready.")
	return nil
}
