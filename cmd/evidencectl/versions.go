package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/auditstack/evidence-registry/pkg/versions"
)

var versionsAsJSON bool

var versionsCmd = &cobra.Command{
	Use:   "versions <entity-type> <entity-id>",
	Short: "Dump an entity's version history, newest first",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openDB()
		if err != nil {
			return err
		}
		tc, err := callerContext()
		if err != nil {
			return err
		}

		records, err := versions.NewStore(db).ListVersions(tc.TenantID, args[0], args[1])
		if err != nil {
			return err
		}

		if versionsAsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}
		printVersionTable(records)
		return nil
	},
}

func init() {
	versionsCmd.Flags().BoolVar(&versionsAsJSON, "json", false, "Emit full records as JSON instead of a table")
}

func printVersionTable(records []versions.EntityVersionRecord) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tOP\tVALID FROM\tVALID TO\tCHANGED BY")
	for _, r := range records {
		changedBy := "-"
		if r.ChangedBy != nil {
			changedBy = *r.ChangedBy
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			r.VersionNum,
			r.Operation,
			r.ValidFrom.Format(time.RFC3339),
			r.ValidTo.Format(time.RFC3339),
			changedBy)
	}
	w.Flush()
}
