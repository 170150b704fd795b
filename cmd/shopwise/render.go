package main

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/shopwise/internal/domain/apierr"
	"github.com/xenking/shopwise/internal/domain/product"
	"github.com/xenking/shopwise/internal/domain/session"
	"github.com/xenking/shopwise/internal/domain/user"
)

// printError renders err the way the screens do: validation failures per
// field, everything else as one banner. An expired session and a result
// discarded by a session change print nothing.
func (c *cli) printError(err error) {
	if c.lg != nil {
		c.lg.Debug("Command failed", zap.Error(err))
	}

	var verr *apierr.ValidationError
	if errors.As(err, &verr) {
		fields := make([]string, 0, len(verr.Fields))
		for f := range verr.Fields {
			fields = append(fields, f)
		}
		slices.Sort(fields)
		for _, f := range fields {
			fmt.Fprintf(c.stderr, "%s: %s\n", f, verr.Fields[f])
		}
		return
	}

	if errors.Is(err, session.ErrStale) {
		// The result belonged to a session that has ended meanwhile.
		return
	}
	var aerr *apierr.Error
	if !errors.As(err, &aerr) {
		// Configuration and setup failures carry their own text.
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return
	}
	if msg, ok := apierr.Banner(err); ok {
		fmt.Fprintln(c.stderr, msg)
	}
}

func printUser(w io.Writer, u *user.User) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(k, v string) {
		if v == "" {
			v = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\n", k, v)
	}
	row("Name", u.DisplayName())
	row("Username", u.Username)
	row("Email", u.Email)
	row("Postal code", u.PostalCode)
	row("Suburb", u.Suburb)
	row("Phone", u.PhoneNumber)
	row("Avatar", u.Avatar)
	_ = tw.Flush()
}

func printProducts(w io.Writer, products []product.Product) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPRICE\tRETAILER\tCATEGORY")
	for _, p := range products {
		retailer := p.RetailerName
		if retailer == "" {
			retailer = p.RetailerID
		}
		category := p.CategoryName
		if category == "" {
			category = p.CategoryID
		}
		fmt.Fprintf(tw, "%d\t%s\tR%s\t%s\t%s\n", p.ID, p.Name, p.Price.StringFixed(2), retailer, category)
	}
	_ = tw.Flush()
}

func printProduct(w io.Writer, p *product.Product) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Name\t%s\n", p.Name)
	fmt.Fprintf(tw, "Price\tR%s\n", p.Price.StringFixed(2))
	if p.Description != "" && p.Description != p.Name {
		fmt.Fprintf(tw, "Description\t%s\n", p.Description)
	}
	if p.RetailerName != "" {
		fmt.Fprintf(tw, "Retailer\t%s\n", p.RetailerName)
	}
	if p.ImageURL != "" {
		fmt.Fprintf(tw, "Image\t%s\n", p.ImageURL)
	}
	if p.ProductURL != "" {
		fmt.Fprintf(tw, "Link\t%s\n", p.ProductURL)
	}
	_ = tw.Flush()
}

func printOptions(w io.Writer, opts []product.Option) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME")
	for _, o := range opts {
		fmt.Fprintf(tw, "%s\t%s\n", o.ID, o.Name)
	}
	_ = tw.Flush()
}

// readLine prompts on stderr and reads one line of input.
func (c *cli) readLine(prompt string) (string, error) {
	if c.in == nil {
		c.in = bufio.NewReader(c.stdin)
	}
	fmt.Fprint(c.stderr, prompt)
	line, err := c.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", errors.Wrap(err, "read input")
	}
	return strings.TrimRight(line, "\r\n"), nil
}
