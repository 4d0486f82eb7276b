package commands

import (
	"errors"
	"fmt"

	"resultfetch/cmd/resultfetch-cli/utils"
	"resultfetch/lib/resultstore"
	"resultfetch/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var showDb *string

func init() {
	showDb = showCmd.Flags().String("db", "results.db", "The database to read cached results from.")
	rootCmd.AddCommand(showCmd)
}

var showCmd = &cobra.Command{
	Use:   "show <roll number>",
	Short: "Prints a cached result.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		rollNo := args[0]

		store, err := resultstore.Open(*showDb)
		if err != nil {
			serviceutil.Fatal("failed to open result cache", err)
		}
		defer store.Close()

		payload, err := store.Read(ctx, rollNo)
		if errors.Is(err, resultstore.ErrNotFound) {
			serviceutil.Fatal("no cached result", fmt.Errorf("roll number %q has not been fetched", rollNo))
		}
		if err != nil {
			serviceutil.Fatal("failed to read cached result", err)
		}

		student := utils.NewTable()
		student.AppendRows([]table.Row{
			{"university", payload.University},
			{"session", payload.Session},
			{"name", payload.Student.Name},
			{"roll no", payload.Student.RollNo},
			{"course", payload.Student.Course},
			{"branch", payload.Student.Branch},
			{"semester", payload.Student.Semester},
			{"status", payload.Student.Status},
		})
		student.Render()

		subjects := utils.NewTable()
		subjects.AppendHeader(table.Row{"subject", "total credit", "earned credit", "grade"})
		for _, s := range payload.Subjects {
			subjects.AppendRow(table.Row{s.Subject, s.TotalCredit, s.EarnedCredit, s.Grade})
		}
		subjects.AppendFooter(table.Row{
			payload.Results.Description,
			fmt.Sprintf("sgpa %.2f", payload.Results.SGPA),
			fmt.Sprintf("cgpa %.2f", payload.Results.CGPA),
			"",
		})
		subjects.Render()
	},
}
