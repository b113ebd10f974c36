package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var channelsCmd = &cobra.Command{
	Use:     "channels",
	Aliases: []string{"ls"},
	Short:   "List the channels you can open",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.Close()

		chs := rt.app.Channels()
		if jsonOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(chs)
		}

		if len(chs) == 0 {
			fmt.Println("No channels found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tNAME\tTYPE\tPROJECT\tMEMBERS")
		for _, c := range chs {
			project := "-"
			if p, ok := rt.app.Project(c.ProjectID); ok {
				project = p.Name
			}
			members := "-"
			if len(c.Members) > 0 {
				members = strings.Join(c.Members, ",")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.Key(), c.DisplayName(), c.Type, project, members)
		}
		return w.Flush()
	},
}
