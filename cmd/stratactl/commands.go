package main

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jacentio/strata/kv"
	"github.com/jacentio/strata/persist"
)

func getCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch one document and print its fields and version",
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := requireSet()
			if err != nil {
				return err
			}
			tmpl, closer, err := newTemplate(cmd.Context())
			if err != nil {
				return err
			}
			defer closer()

			doc := &persist.MapDoc{Set: set}
			if err := tmpl.FindByID(cmd.Context(), id, doc); err != nil {
				if errors.Is(err, persist.ErrNotFound) {
					return fmt.Errorf("no document %q in set %q", id, set)
				}
				return err
			}

			fmt.Printf("version: %d\n", doc.Ver)
			printFields(doc.Fields)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "document id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func putCmd() *cobra.Command {
	var id string
	var insert bool
	cmd := &cobra.Command{
		Use:   "put field=value ...",
		Short: "Write one document from field=value pairs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := requireSet()
			if err != nil {
				return err
			}
			fields, err := parseFields(args)
			if err != nil {
				return err
			}
			if id == "" {
				id = uuid.New().String()
				slog.Info("generated document id", "id", id)
			}

			tmpl, closer, err := newTemplate(cmd.Context())
			if err != nil {
				return err
			}
			defer closer()

			doc := &persist.MapDoc{Set: set, Key: id, Fields: fields}
			var version int64
			if insert {
				version, err = tmpl.Insert(cmd.Context(), doc)
			} else {
				version, err = tmpl.Save(cmd.Context(), doc)
			}
			if err != nil {
				return err
			}

			fmt.Printf("wrote %s/%s at version %d\n", set, id, version)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "document id (generated when empty)")
	cmd.Flags().BoolVar(&insert, "insert", false, "fail if the document already exists")
	return cmd
}

func delCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "del",
		Short: "Delete one document",
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := requireSet()
			if err != nil {
				return err
			}
			tmpl, closer, err := newTemplate(cmd.Context())
			if err != nil {
				return err
			}
			defer closer()

			existed, err := tmpl.Delete(cmd.Context(), &persist.MapDoc{Set: set, Key: id})
			if err != nil {
				return err
			}
			if !existed {
				fmt.Printf("no document %q in set %q\n", id, set)
				return nil
			}
			fmt.Printf("deleted %s/%s\n", set, id)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "document id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func existsCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "exists",
		Short: "Check whether a document exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := requireSet()
			if err != nil {
				return err
			}
			tmpl, closer, err := newTemplate(cmd.Context())
			if err != nil {
				return err
			}
			defer closer()

			ok, err := tmpl.Exists(cmd.Context(), id, set)
			if err != nil {
				return err
			}
			fmt.Println(ok)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "document id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// parseFields turns field=value arguments into a field set. Values that look
// like integers, floats or booleans are converted; everything else stays a
// string.
func parseFields(args []string) (kv.FieldSet, error) {
	fields := kv.FieldSet{}
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("bad field argument %q, want field=value", arg)
		}
		fields[name] = parseValue(raw)
	}
	return fields, nil
}

func parseValue(raw string) any {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

func printFields(fields kv.FieldSet) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s: %v\n", name, fields[name])
	}
}
