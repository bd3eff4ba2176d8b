package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/hyperengineering/looper/internal/model"
	"github.com/hyperengineering/looper/internal/replica"
	"github.com/spf13/cobra"
)

var statusJSONOutput bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the server's current synths, chains and takes",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSONOutput, "json", false, "Output in JSON format")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cl, err := newClient(cfg)
	if err != nil {
		return err
	}
	r := replica.New()
	if err := bootstrap(ctx, cl, r); err != nil {
		return err
	}

	snap := r.Snapshot(time.Now())
	if statusJSONOutput {
		return printJSON(cmd.OutOrStdout(), snap)
	}
	return printTree(cmd.OutOrStdout(), snap)
}

// printTree writes one row per take, plus one row for each chain without takes.
func printTree(out io.Writer, snap replica.Snapshot) error {
	fmt.Fprintf(out, "Loop length: %gs\n\n", snap.Song.LoopLength)

	if len(snap.Synths) == 0 {
		fmt.Fprintln(out, "No synths found.")
		return nil
	}

	w := newTabWriter(out)
	fmt.Fprintln(w, "SYNTH\tCHAIN\tFLAGS\tTAKE\tTYPE\tSTATE\tMUTED")
	for _, s := range snap.Synths {
		for _, c := range s.Chains {
			flags := chainFlags(c)
			if len(c.Takes) == 0 {
				fmt.Fprintf(w, "%d %s\t%d %s\t%s\t-\t-\t-\t-\n", s.ID, s.Name, c.ID, c.Name, flags)
				continue
			}
			for _, t := range c.Takes {
				fmt.Fprintf(w, "%d %s\t%d %s\t%s\t%d %s\t%s\t%s\t%v\n",
					s.ID, s.Name,
					c.ID, c.Name,
					flags,
					t.ID, t.Name,
					t.Kind,
					t.State,
					t.Muted,
				)
			}
		}
		if len(s.Chains) == 0 {
			fmt.Fprintf(w, "%d %s\t-\t-\t-\t-\t-\t-\n", s.ID, s.Name)
		}
	}
	return w.Flush()
}

func chainFlags(c *model.Chain) string {
	switch {
	case c.Midi && c.Echo:
		return "midi,echo"
	case c.Midi:
		return "midi"
	case c.Echo:
		return "echo"
	default:
		return "-"
	}
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
