/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/lewtec/pungyeong/internal/domain"
	"github.com/lewtec/pungyeong/internal/repository"
	"github.com/spf13/cobra"
)

func printRows(w io.Writer, columns []string, rows [][]string) {
	fmt.Fprintln(w, strings.Join(columns, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
}

// queryCmd represents the query command
var queryCmd = &cobra.Command{
	Use:   "query [file_hash]",
	Short: "Queries the raw_image table",
	Long: `Without arguments prints the record count per status and the next
sequential file id. With a content hash prints every record stored for it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}
		db, dialect, err := openDatabase(cmd.Context(), config)
		if err != nil {
			return err
		}
		defer db.Close()
		repo := repository.NewRecordRepository(db, dialect)
		out := cmd.OutOrStdout()

		if len(args) == 0 {
			counts, err := repo.CountByStatus(cmd.Context())
			if err != nil {
				return err
			}
			statuses := make([]string, 0, len(counts))
			for status := range counts {
				statuses = append(statuses, status)
			}
			sort.Strings(statuses)
			rows := make([][]string, 0, len(statuses)+1)
			for _, status := range statuses {
				rows = append(rows, []string{status, fmt.Sprint(counts[status])})
			}
			rows = append(rows, []string{"next_id", fmt.Sprint(repo.NextSequentialID(cmd.Context()))})
			printRows(out, []string{"status", "count"}, rows)
			return nil
		}

		records, err := repo.ListByHash(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(records))
		for _, rec := range records {
			rows = append(rows, []string{rec.ID, rec.StorageKey, string(rec.Status), recordPath(rec)})
		}
		printRows(out, []string{"id", "s3_key", "status", "file_path"}, rows)
		return nil
	},
}

func recordPath(rec *domain.StoredRecord) string {
	storage, err := rec.Storage()
	if err != nil {
		return ""
	}
	return storage.Original.FilePath
}

func init() {
	rootCmd.AddCommand(queryCmd)
}
