package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conneroisu/keywave/internal/registry"
)

var packsCmd = &cobra.Command{
	Use:     "packs",
	Aliases: []string{"p", "list"},
	Short:   "List installed sound packs",
	RunE:    runPacks,
}

func init() {
	rootCmd.AddCommand(packsCmd)
}

// runPacks scans the pack roots directly; it does not need a running
// daemon or an audio device.
func runPacks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	reg := registry.New(registry.Roots{
		Bundled: cfg.BundledPacksDir(),
		User:    cfg.UserPacksDir(),
	}, log)

	if err := reg.Load(cmd.Context()); err != nil {
		return err
	}

	infos := reg.List()
	if len(infos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no sound packs found; run `keywave serve` once to sync bundled packs")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tAUTHOR\tSOURCE")
	for _, info := range infos {
		source := info.Source
		if source == "" {
			source = "bundled"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.ID, info.Name, info.Author, source)
	}

	return tw.Flush()
}
