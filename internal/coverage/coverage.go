// Package coverage counts how far items got through the pipeline.
package coverage

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"xmt/internal/profile"
)

// Stats holds coverage counts for one profile or a sum of profiles.
type Stats struct {
	Items int

	ItemsParsed int
	Parses      int

	ItemsTransferred  int
	ParsesTransferred int
	Transfers         int

	ItemsRealized     int
	TransfersRealized int
	Realizations      int

	ItemsRephrased  int
	ParsesRephrased int
	Rephrasings     int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Items += o.Items
	s.ItemsParsed += o.ItemsParsed
	s.Parses += o.Parses
	s.ItemsTransferred += o.ItemsTransferred
	s.ParsesTransferred += o.ParsesTransferred
	s.Transfers += o.Transfers
	s.ItemsRealized += o.ItemsRealized
	s.TransfersRealized += o.TransfersRealized
	s.Realizations += o.Realizations
	s.ItemsRephrased += o.ItemsRephrased
	s.ParsesRephrased += o.ParsesRephrased
	s.Rephrasings += o.Rephrasings
}

// Compute reads a profile's tables. Tables of stages that never ran count
// as empty.
func Compute(p *profile.Profile, logger *zap.Logger) (Stats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var s Stats
	var err error

	if s.Items, _, err = count(p, "item"); err != nil {
		return s, err
	}
	if s.Parses, s.ItemsParsed, err = count(p, "p-result", "i-id"); err != nil {
		return s, err
	}
	var parsesTransferred int
	if s.Transfers, s.ItemsTransferred, err = count(p, "x-result", "i-id"); err != nil {
		return s, err
	}
	if _, parsesTransferred, err = count(p, "x-result", "i-id", "p-id"); err != nil {
		return s, err
	}
	s.ParsesTransferred = parsesTransferred
	var transfersRealized int
	if s.Realizations, s.ItemsRealized, err = count(p, "g-result", "i-id"); err != nil {
		return s, err
	}
	if _, transfersRealized, err = count(p, "g-result", "i-id", "p-id", "x-id"); err != nil {
		return s, err
	}
	s.TransfersRealized = transfersRealized
	var parsesRephrased int
	if s.Rephrasings, s.ItemsRephrased, err = count(p, "r-result", "i-id"); err != nil {
		return s, err
	}
	if _, parsesRephrased, err = count(p, "r-result", "i-id", "p-id"); err != nil {
		return s, err
	}
	s.ParsesRephrased = parsesRephrased

	logger.Debug("coverage computed", zap.String("profile", p.Root()), zap.Any("stats", s))
	return s, nil
}

// count returns the number of rows in table and the number of distinct
// values of the given key columns.
func count(p *profile.Profile, table string, keys ...string) (rows, distinct int, err error) {
	seq, err := p.ReadTable(table)
	if errors.Is(err, profile.ErrMissingTable) || errors.Is(err, profile.ErrUnknownRelation) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	seen := make(map[string]struct{})
	parts := make([]string, len(keys))
	for row, err := range seq {
		if err != nil {
			return 0, 0, fmt.Errorf("%s: %w", table, err)
		}
		rows++
		if len(keys) == 0 {
			continue
		}
		for i, k := range keys {
			parts[i] = row.String(k)
		}
		seen[strings.Join(parts, "\x00")] = struct{}{}
	}
	return rows, len(seen), nil
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// Format writes a coverage report headed by name.
func Format(w io.Writer, name string, s Stats) error {
	width := 1
	for _, n := range []int{s.Items, s.Parses, s.Transfers, s.Realizations, s.Rephrasings} {
		if l := len(strconv.Itoa(n)); l > width {
			width = l
		}
	}
	line := func(label string, a, b int) string {
		return fmt.Sprintf("    %-25s%*d/%-*d (%0.4f)\n", label+":", width, a, width, b, ratio(a, b))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s:\n", name)
	fmt.Fprintf(&sb, "  %-27s%*d\n", "Items:", width, s.Items)
	fmt.Fprintf(&sb, "  Parsing (%d items, %d results):\n", s.ItemsParsed, s.Parses)
	sb.WriteString(line("Items parsed", s.ItemsParsed, s.Items))
	sb.WriteString(line("Parse/Item", s.Parses, s.ItemsParsed))
	fmt.Fprintf(&sb, "  Transfer (%d items, %d parses, %d results):\n", s.ItemsTransferred, s.ParsesTransferred, s.Transfers)
	sb.WriteString(line("Abs. items transferred", s.ItemsTransferred, s.Items))
	sb.WriteString(line("Rel. items transferred", s.ItemsTransferred, s.ItemsParsed))
	sb.WriteString(line("Parses transferred", s.ParsesTransferred, s.Parses))
	sb.WriteString(line("Transfer/Parse", s.Transfers, s.ParsesTransferred))
	fmt.Fprintf(&sb, "  Generation (%d items, %d transfers, %d results):\n", s.ItemsRealized, s.TransfersRealized, s.Realizations)
	sb.WriteString(line("Abs. items realized", s.ItemsRealized, s.Items))
	sb.WriteString(line("Rel. items realized", s.ItemsRealized, s.ItemsTransferred))
	sb.WriteString(line("Transfers realized", s.TransfersRealized, s.Transfers))
	sb.WriteString(line("Realization/Transfer", s.Realizations, s.TransfersRealized))
	if s.Rephrasings > 0 || s.ItemsRephrased > 0 {
		fmt.Fprintf(&sb, "  Rephrasing (%d items, %d parses, %d results):\n", s.ItemsRephrased, s.ParsesRephrased, s.Rephrasings)
		sb.WriteString(line("Abs. items rephrased", s.ItemsRephrased, s.Items))
		sb.WriteString(line("Parses rephrased", s.ParsesRephrased, s.Parses))
		sb.WriteString(line("Rephrasing/Parse", s.Rephrasings, s.ParsesRephrased))
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
