// ABOUTME: persona commands that manage the customer and advisor directories
// ABOUTME: Writes straight to the SQLite store named in the config

package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/persona-gateway/internal/store"
)

func newPersonaCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "persona",
		Short: "Manage customer and advisor personas",
	}

	cmd.AddCommand(
		newPersonaAddCmd(opts),
		newPersonaListCmd(opts),
	)

	return cmd
}

func parseKind(s string) (store.PersonaKind, error) {
	switch store.PersonaKind(strings.ToLower(s)) {
	case store.PersonaKindCustomer:
		return store.PersonaKindCustomer, nil
	case store.PersonaKindAdvisor:
		return store.PersonaKindAdvisor, nil
	default:
		return "", fmt.Errorf("unknown persona kind %q (want customer or advisor)", s)
	}
}

// openStore opens the configured SQLite database.
func (o *rootOptions) openStore() (*store.SQLiteStore, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return s, nil
}

func newPersonaAddCmd(opts *rootOptions) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "add <customer|advisor> <id>",
		Short: "Add a persona or rename an existing one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			id := strings.TrimSpace(args[1])
			if id == "" {
				return fmt.Errorf("persona id cannot be empty")
			}

			s, err := opts.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			p := &store.Persona{
				ID:          id,
				Kind:        kind,
				DisplayName: name,
				CreatedAt:   time.Now().UTC(),
			}
			if err := s.UpsertPersona(cmd.Context(), p); err != nil {
				return fmt.Errorf("saving persona: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s persona %s saved\n", kind, id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "display name")

	return cmd
}

func newPersonaListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list [customer|advisor]",
		Short: "List personas",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := []store.PersonaKind{store.PersonaKindCustomer, store.PersonaKindAdvisor}
			if len(args) == 1 {
				kind, err := parseKind(args[0])
				if err != nil {
					return err
				}
				kinds = []store.PersonaKind{kind}
			}

			s, err := opts.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tID\tNAME\tCREATED")
			for _, kind := range kinds {
				personas, err := s.ListPersonas(cmd.Context(), kind)
				if err != nil {
					return fmt.Errorf("listing %s personas: %w", kind, err)
				}
				for _, p := range personas {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Kind, p.ID, p.DisplayName, p.CreatedAt.Format(time.DateOnly))
				}
			}
			return tw.Flush()
		},
	}
}
