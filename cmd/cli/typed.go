package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gofrs/uuid/v5"

	"github.com/and161185/kanban-keeper/internal/model"
)

// ------- typed field parsers -------

const dateLayout = "2006-01-02"

// parsePriority accepts low, medium or high in any case.
func parsePriority(s string) (model.Priority, error) {
	p := model.Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("priority %q: want low, medium or high", s)
	}
	return p, nil
}

// parseDue reads a due date. "none" clears it.
func parseDue(s string) (model.Optional[time.Time], error) {
	if strings.EqualFold(s, "none") {
		return model.Null[time.Time](), nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return model.Optional[time.Time]{}, fmt.Errorf("due %q: want YYYY-MM-DD or none", s)
	}
	return model.Some(t.UTC()), nil
}

// parseWeight reads a weight. "none" clears it.
func parseWeight(s string) (model.Optional[int], error) {
	if strings.EqualFold(s, "none") {
		return model.Null[int](), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return model.Optional[int]{}, fmt.Errorf("weight %q: want a non-negative integer or none", s)
	}
	return model.Some(n), nil
}

// parseIDs splits a comma-separated UUID list; empty input gives nil.
func parseIDs(s string) ([]uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]uuid.UUID, 0, len(parts))
	for _, p := range parts {
		id, err := uuid.FromString(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("id %q: %w", p, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// ------- rendering -------

var (
	bold   = color.New(color.Bold)
	faint  = color.New(color.Faint)
	byPrio = map[model.Priority]*color.Color{
		model.PriorityHigh:   color.New(color.FgRed),
		model.PriorityMedium: color.New(color.FgYellow),
		model.PriorityLow:    color.New(color.FgCyan),
	}
)

// renderBoard prints columns in order with their cards indented beneath.
func renderBoard(w io.Writer, v model.BoardView) {
	bold.Fprintf(w, "%s\n", v.Board.Title)
	faint.Fprintf(w, "%s\n", v.Board.ID)
	for _, c := range v.Columns {
		fmt.Fprintln(w)
		bold.Fprintf(w, "▍%s ", c.Title)
		faint.Fprintf(w, "(%d) %s\n", len(c.Cards), c.ID)
		for _, k := range c.Cards {
			fmt.Fprintf(w, "  • %s", k.Title)
			if col, ok := byPrio[k.Priority]; ok {
				col.Fprintf(w, " [%s]", k.Priority)
			}
			if k.DueDate != nil {
				fmt.Fprintf(w, " due %s", k.DueDate.Format(dateLayout))
			}
			faint.Fprintf(w, "  %s\n", k.ID)
		}
	}
}
