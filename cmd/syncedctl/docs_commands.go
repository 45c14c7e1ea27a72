package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-synced/pkg/persist"
)

func newDocsCommand(ctx *commandContext) *cobra.Command {
	docsCmd := &cobra.Command{
		Use:   "docs",
		Short: "Inspect and manage persisted documents",
	}

	docsCmd.AddCommand(newDocsListCommand(ctx))
	docsCmd.AddCommand(newDocsShowCommand(ctx))
	docsCmd.AddCommand(newDocsConvertCommand(ctx))
	docsCmd.AddCommand(newDocsDeleteCommand(ctx))

	return docsCmd
}

type documentRow struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Format string `json:"format"`
	Bytes  int    `json:"bytes"`
}

func newDocsListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, ctx, func(s *session) error {
				rows, err := listDocuments(cmd.Context(), s.backend)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd, rows)
				}
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No documents")
					return nil
				}
				table := make([][]string, 0, len(rows))
				for _, row := range rows {
					table = append(table, []string{row.Name, row.Format, strconv.Itoa(row.Bytes), row.Key})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Name", "Format", "Bytes", "Key"},
					table,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func listDocuments(ctx context.Context, backend persist.Backend) ([]documentRow, error) {
	keys, err := backend.List(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]documentRow, 0, len(keys))
	for _, key := range keys {
		name, format, err := persist.SplitKey(key)
		if err != nil {
			continue
		}
		data, ok, err := backend.Read(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		rows = append(rows, documentRow{Key: key, Name: name, Format: string(format), Bytes: len(data)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
	return rows, nil
}

// findDocument resolves a document name to its backend key. Several keys
// with the same name but different formats are reported as ambiguous.
func findDocument(ctx context.Context, backend persist.Backend, name string) (string, persist.Format, error) {
	rows, err := listDocuments(ctx, backend)
	if err != nil {
		return "", "", err
	}
	var found []documentRow
	for _, row := range rows {
		if row.Name == name || row.Key == name {
			found = append(found, row)
		}
	}
	switch len(found) {
	case 0:
		return "", "", fmt.Errorf("document %q not found", name)
	case 1:
		return found[0].Key, persist.Format(found[0].Format), nil
	default:
		return "", "", fmt.Errorf("document %q exists in several formats; pass the full key", name)
	}
}

func readDocument(ctx context.Context, backend persist.Backend, key string, format persist.Format) (any, error) {
	data, ok, err := backend.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("document %q not found", key)
	}
	codec, err := persist.CodecFor(format)
	if err != nil {
		return nil, err
	}
	var value any
	if err := codec.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return value, nil
}

func newDocsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a document as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, ctx, func(s *session) error {
				key, format, err := findDocument(cmd.Context(), s.backend, args[0])
				if err != nil {
					return err
				}
				value, err := readDocument(cmd.Context(), s.backend, key, format)
				if err != nil {
					return err
				}
				return printJSON(cmd, value)
			})
		},
	}
}

func newDocsConvertCommand(ctx *commandContext) *cobra.Command {
	var to string
	var keep bool
	cmd := &cobra.Command{
		Use:   "convert <name>",
		Short: "Rewrite a document in another format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := persist.ParseFormat(to)
			if err != nil {
				return err
			}
			return withSession(cmd, ctx, func(s *session) error {
				key, format, err := findDocument(cmd.Context(), s.backend, args[0])
				if err != nil {
					return err
				}
				value, err := readDocument(cmd.Context(), s.backend, key, format)
				if err != nil {
					return err
				}
				name, _, err := persist.SplitKey(key)
				if err != nil {
					return err
				}
				if err := s.plugin.Configure(name, persist.DocumentOptions{Format: target, SaveTimeout: -1}); err != nil {
					return err
				}
				if err := s.plugin.Save(name, value); err != nil {
					return err
				}
				if err := s.plugin.Flush(cmd.Context(), func(n string) bool { return n == name }); err != nil {
					return err
				}
				newKey, err := s.plugin.Key(name)
				if err != nil {
					return err
				}
				if !keep && newKey != key {
					if err := s.backend.Delete(cmd.Context(), key); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Converted %s to %s\n", key, newKey)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Target format (json, json-compact, binary, toml, yaml)")
	cmd.Flags().BoolVar(&keep, "keep", false, "Keep the original document")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newDocsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a persisted document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, ctx, func(s *session) error {
				key, _, err := findDocument(cmd.Context(), s.backend, args[0])
				if err != nil {
					return err
				}
				if err := s.backend.Delete(cmd.Context(), key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", key)
				return nil
			})
		},
	}
}

// withSession opens the store for the duration of fn and flushes it after.
func withSession(cmd *cobra.Command, ctx *commandContext, fn func(*session) error) error {
	s, err := ctx.openSession()
	if err != nil {
		return err
	}
	runErr := fn(s)
	closeErr := s.Close(context.WithoutCancel(cmd.Context()))
	return errors.Join(runErr, closeErr)
}
