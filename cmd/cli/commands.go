package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"

	"github.com/and161185/kanban-keeper/internal/client"
	"github.com/and161185/kanban-keeper/internal/model"
	"github.com/and161185/kanban-keeper/internal/optimistic"
)

// awaitCreate waits for the create behind temp and returns the real id.
func awaitCreate(ctx context.Context, s *client.Session, temp string, failed *error) (string, error) {
	if err := s.Wait(ctx); err != nil {
		return "", err
	}
	if *failed != nil {
		return "", *failed
	}
	real, st, _ := s.Store().Resolve(temp)
	if st != optimistic.Confirmed {
		return "", fmt.Errorf("create %s: %s", temp, st)
	}
	return real, nil
}

func newColumnCommand(opts *rootOptions) *cobra.Command {
	var boardID string
	cmd := &cobra.Command{Use: "column", Short: "Columns of a board"}
	cmd.PersistentFlags().StringVar(&boardID, "board", "", "board id")
	_ = cmd.MarkPersistentFlagRequired("board")

	cmd.AddCommand(&cobra.Command{
		Use:   "add <title>",
		Short: "Append a column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			s, err := opts.session(ctx, boardID)
			if err != nil {
				return err
			}
			var failed error
			s.OnError(func(_ string, err error) { failed = err })
			id, err := awaitCreate(ctx, s, s.CreateColumn(ctx, args[0]), &failed)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rename <column-id> <title>",
		Short: "Rename a column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			s, err := opts.session(ctx, boardID)
			if err != nil {
				return err
			}
			return s.RenameColumn(ctx, args[0], args[1])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "move <column-id> <index>",
		Short: "Place a column at a zero-based index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("index %q: %w", args[1], err)
			}
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			s, err := opts.session(ctx, boardID)
			if err != nil {
				return err
			}
			if err := s.MoveColumn(ctx, args[0], index); err != nil {
				return err
			}
			printOrder(cmd, s.Columns())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <column-id>",
		Short: "Delete a column and its cards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			s, err := opts.session(ctx, boardID)
			if err != nil {
				return err
			}
			return s.DeleteColumn(ctx, args[0])
		},
	})
	return cmd
}

type cardEditFlags struct {
	title, desc, descFile   string
	priority, due, weight   string
	addLabels, removeLabels string
	assign, unassign        string
}

// patch builds a card patch from the flags that were set.
func (f cardEditFlags) patch(cmd *cobra.Command) (model.CardPatch, error) {
	var (
		p   model.CardPatch
		err error
	)
	changed := cmd.Flags().Changed
	if changed("title") {
		p.Title = &f.title
	}
	if changed("desc") {
		p.Description = &f.desc
	}
	if changed("desc-file") {
		b, err := readAll(f.descFile)
		if err != nil {
			return p, err
		}
		d := strings.TrimRight(string(b), "\n")
		p.Description = &d
	}
	if changed("priority") {
		pr, err := parsePriority(f.priority)
		if err != nil {
			return p, err
		}
		p.Priority = &pr
	}
	if changed("due") {
		if p.DueDate, err = parseDue(f.due); err != nil {
			return p, err
		}
	}
	if changed("weight") {
		if p.Weight, err = parseWeight(f.weight); err != nil {
			return p, err
		}
	}
	for _, l := range []struct {
		raw string
		dst *[]uuid.UUID
	}{
		{f.addLabels, &p.LabelIDsToAdd},
		{f.removeLabels, &p.LabelIDsToRemove},
		{f.assign, &p.AssigneesToAdd},
		{f.unassign, &p.AssigneesToRemove},
	} {
		if *l.dst, err = parseIDs(l.raw); err != nil {
			return p, err
		}
	}
	return p, nil
}

func newCardCommand(opts *rootOptions) *cobra.Command {
	var boardID string
	cmd := &cobra.Command{Use: "card", Short: "Cards of a board"}
	cmd.PersistentFlags().StringVar(&boardID, "board", "", "board id")

	var column string
	add := &cobra.Command{
		Use:   "add <title>",
		Short: "Append a card to a column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			s, err := opts.session(ctx, boardID)
			if err != nil {
				return err
			}
			var failed error
			s.OnError(func(_ string, err error) { failed = err })
			temp, err := s.CreateCard(ctx, column, args[0])
			if err != nil {
				return err
			}
			id, err := awaitCreate(ctx, s, temp, &failed)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	add.Flags().StringVar(&column, "column", "", "column id")
	_ = add.MarkFlagRequired("column")
	cmd.AddCommand(add)

	var ef cardEditFlags
	edit := &cobra.Command{
		Use:   "edit <card-id>",
		Short: "Change card fields, labels and assignees",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ef.patch(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			s, err := opts.session(ctx, boardID)
			if err != nil {
				return err
			}
			return s.UpdateCard(ctx, args[0], p)
		},
	}
	edit.Flags().StringVar(&ef.title, "title", "", "title")
	edit.Flags().StringVar(&ef.desc, "desc", "", "description")
	edit.Flags().StringVar(&ef.descFile, "desc-file", "", "read description from file ('-'=stdin)")
	edit.Flags().StringVar(&ef.priority, "priority", "", "low, medium or high")
	edit.Flags().StringVar(&ef.due, "due", "", "YYYY-MM-DD or none")
	edit.Flags().StringVar(&ef.weight, "weight", "", "integer or none")
	edit.Flags().StringVar(&ef.addLabels, "add-labels", "", "comma-separated label ids")
	edit.Flags().StringVar(&ef.removeLabels, "remove-labels", "", "comma-separated label ids")
	edit.Flags().StringVar(&ef.assign, "assign", "", "comma-separated user ids")
	edit.Flags().StringVar(&ef.unassign, "unassign", "", "comma-separated user ids")
	edit.MarkFlagsMutuallyExclusive("desc", "desc-file")
	cmd.AddCommand(edit)

	var (
		to    string
		index int
	)
	move := &cobra.Command{
		Use:   "move <card-id>",
		Short: "Place a card at a zero-based index in a column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			s, err := opts.session(ctx, boardID)
			if err != nil {
				return err
			}
			if err := s.MoveCard(ctx, args[0], to, index); err != nil {
				return err
			}
			printOrder(cmd, s.Cards(to))
			return nil
		},
	}
	move.Flags().StringVar(&to, "to", "", "target column id")
	move.Flags().IntVar(&index, "index", 0, "position among the column's other cards")
	_ = move.MarkFlagRequired("to")
	cmd.AddCommand(move)

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <card-id>",
		Short: "Delete a card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			s, err := opts.session(ctx, boardID)
			if err != nil {
				return err
			}
			return s.DeleteCard(ctx, args[0])
		},
	})

	var limit int
	activity := &cobra.Command{
		Use:   "activity <card-id>",
		Short: "Show the card's activity log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.FromString(args[0])
			if err != nil {
				return fmt.Errorf("card id: %w", err)
			}
			api, err := opts.api(true)
			if err != nil {
				return err
			}
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			entries, err := api.Activity(ctx, id, limit)
			if err != nil {
				return err
			}
			if opts.JSON {
				printJSON(cmd.OutOrStdout(), entries)
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-16s %s\n",
					e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Action, e.Details)
			}
			return nil
		},
	}
	activity.Flags().IntVar(&limit, "limit", 20, "entries to show")
	cmd.AddCommand(activity)

	cmd.AddCommand(&cobra.Command{
		Use:   "comment <card-id> <text>",
		Short: "Comment on a card",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.FromString(args[0])
			if err != nil {
				return fmt.Errorf("card id: %w", err)
			}
			api, err := opts.api(true)
			if err != nil {
				return err
			}
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			c, err := api.Comment(ctx, id, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.ID)
			return nil
		},
	})
	return cmd
}

// printOrder prints entities in display order after a move.
func printOrder(cmd *cobra.Command, es []optimistic.Entity) {
	for i, e := range es {
		fmt.Fprintf(cmd.OutOrStdout(), "%2d  %s  %s\n", i, e.ID, e.Title)
	}
}
