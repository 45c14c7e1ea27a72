package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// printJSON writes v to the command's stdout, one document per call.
// With --compact each document is a single line, which keeps --watch output
// readable by line-oriented tools.
func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	if compact, _ := cmd.Flags().GetBool("compact"); !compact {
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return err
		}
		data = buf.Bytes()
	}
	data = append(data, '\n')
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
