package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	sectionSource    string
	sectionChangelog string
	sectionParent    int
	sectionContent   string
	sectionWinRate   float64
	sectionReason    string
)

var sectionsCmd = &cobra.Command{
	Use:   "sections",
	Short: "Manage versioned prompt sections",
}

var sectionsListCmd = &cobra.Command{
	Use:   "list [key]",
	Short: "List active sections, or every version of one key",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSectionsList,
}

var sectionsShowCmd = &cobra.Command{
	Use:   "show [key]",
	Short: "Print the active content of a section key",
	Args:  cobra.ExactArgs(1),
	RunE:  runSectionsShow,
}

var sectionsCreateCmd = &cobra.Command{
	Use:   "create [key]",
	Short: "Create the next (inactive) version of a section",
	Long: `Creates version max+1 for the key, inactive, inheriting the key's order
index. Content is read from --content, or from stdin when --content is empty.`,
	Args: cobra.ExactArgs(1),
	RunE: runSectionsCreate,
}

var sectionsActivateCmd = &cobra.Command{
	Use:   "activate [key] [version]",
	Short: "Atomically promote a section version",
	Args:  cobra.ExactArgs(2),
	RunE:  runSectionsActivate,
}

var sectionsFailCmd = &cobra.Command{
	Use:   "fail [key]",
	Short: "Record a rejected mutation against the active version",
	Args:  cobra.ExactArgs(1),
	RunE:  runSectionsFail,
}

func init() {
	sectionsCreateCmd.Flags().StringVar(&sectionContent, "content", "", "Section content (stdin when empty)")
	sectionsCreateCmd.Flags().StringVar(&sectionSource, "source", "manual", "Provenance tag")
	sectionsCreateCmd.Flags().StringVar(&sectionChangelog, "changelog", "", "What changed and why")
	sectionsCreateCmd.Flags().IntVar(&sectionParent, "parent", 0, "Parent version this derives from")

	sectionsActivateCmd.Flags().Float64Var(&sectionWinRate, "win-rate", 0, "Arena win rate measured during promotion")

	sectionsFailCmd.Flags().StringVar(&sectionChangelog, "changelog", "", "The rejected mutation")
	sectionsFailCmd.Flags().StringVar(&sectionReason, "reason", "", "Why it was rejected")

	sectionsCmd.AddCommand(sectionsListCmd)
	sectionsCmd.AddCommand(sectionsShowCmd)
	sectionsCmd.AddCommand(sectionsCreateCmd)
	sectionsCmd.AddCommand(sectionsActivateCmd)
	sectionsCmd.AddCommand(sectionsFailCmd)
}

func runSectionsList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 1 {
		versions, err := a.store.ListSectionVersions(args[0])
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			fmt.Printf("No versions for key %q.\n", args[0])
			return nil
		}
		for _, v := range versions {
			marker := " "
			if v.IsActive {
				marker = "*"
			}
			winRate := "-"
			if v.ArenaWinRate.Valid {
				winRate = fmt.Sprintf("%.3f", v.ArenaWinRate.Float64)
			}
			fmt.Printf("%s v%-3d source=%-10s win_rate=%-6s %s\n",
				marker, v.Version, v.Source, winRate, v.Changelog)
		}
		return nil
	}

	keys := append([]string{}, a.cfg.Prompt.BaseSectionKeys...)
	keys = append(keys, a.cfg.Prompt.FollowupSectionKeys...)
	sections, err := a.store.GetActiveSections(keys)
	if err != nil {
		return err
	}
	if len(sections) == 0 {
		fmt.Println("No active sections; assembly degrades to the baseline prompt.")
		return nil
	}
	for _, sec := range sections {
		fmt.Printf("%-24s v%-3d order=%-3d source=%s\n",
			sec.SectionKey, sec.Version, sec.OrderIndex, sec.Source)
	}
	return nil
}

func runSectionsShow(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sec, err := a.lifecycle.GetSection(args[0])
	if err != nil {
		return err
	}
	if sec == nil {
		return fmt.Errorf("no active version for key %q", args[0])
	}

	fmt.Printf("# %s v%d (source=%s)\n\n%s\n", sec.SectionKey, sec.Version, sec.Source, sec.Content)
	return nil
}

func runSectionsCreate(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	content := sectionContent
	if content == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read content from stdin: %w", err)
		}
		content = string(data)
	}

	sec, err := a.lifecycle.CreateSectionVersion(args[0], content, sectionSource, sectionChangelog, sectionParent)
	if err != nil {
		return err
	}

	fmt.Printf("Created %s v%d (inactive).\n", sec.SectionKey, sec.Version)
	return nil
}

func runSectionsActivate(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	version, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("version must be an integer: %w", err)
	}

	if err := a.lifecycle.ActivateSectionVersion(args[0], version, sectionWinRate); err != nil {
		return err
	}

	fmt.Printf("Activated %s v%d.\n", args[0], version)
	return nil
}

func runSectionsFail(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.lifecycle.RecordFailedAttempt(args[0], sectionChangelog, sectionReason); err != nil {
		return err
	}

	fmt.Printf("Recorded failed attempt for %s.\n", args[0])
	return nil
}
