package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/invocationstore/irs/internal/blobstore"
	"github.com/invocationstore/irs/internal/querygateway"
)

var queryCmd = &cobra.Command{
	Use:   "query <sql>",
	Short: "Run a read-only SQL query over the invocations schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		blobs, err := blobstore.Open(storeRoot)
		if err != nil {
			return err
		}
		defer blobs.Close()

		gw, err := querygateway.Open(rootCtx, storeRoot, cfg, blobs)
		if err != nil {
			return err
		}
		defer gw.Close()

		if gw.SchemaAhead() {
			fmt.Println("# warning: store schema is ahead of this binary; opened read-only")
		}

		rows, err := gw.DB().QueryContext(rootCtx, args[0])
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(cols, "\t"))

		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		for rows.Next() {
			if err := rows.Scan(ptrs...); err != nil {
				return err
			}
			parts := make([]string, len(vals))
			for i, v := range vals {
				parts[i] = fmt.Sprintf("%v", v)
			}
			fmt.Println(strings.Join(parts, "\t"))
		}
		return rows.Err()
	},
}
