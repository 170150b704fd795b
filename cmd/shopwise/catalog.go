package main

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/xenking/shopwise/internal/domain/apierr"
	"github.com/xenking/shopwise/internal/domain/catalog"
	"github.com/xenking/shopwise/internal/domain/product"
)

func (c *cli) productsCommand() *cobra.Command {
	var (
		search             string
		category, retailer string
		page               int
	)
	cmd := &cobra.Command{
		Use:   "products",
		Short: "Search the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := catalog.ValidatePage(page); err != nil {
				return err
			}
			in := catalog.Intent{Search: &search}
			if category != "" {
				in.Category = &category
			}
			if retailer != "" {
				in.Retailer = &retailer
			}

			// Filters reset the page, so another page is selected afterwards.
			// Selecting it cancels the first fetch.
			f, err := c.app.Catalog.Apply(ctx, in)
			if err != nil {
				return err
			}
			if page != 1 {
				if f, err = c.app.Catalog.SetPage(ctx, page); err != nil {
					return err
				}
			}
			if !f.Wait(ctx) {
				return errors.Wrap(ctx.Err(), "search")
			}
			st := c.app.Catalog.State()
			if st.Err != nil {
				return st.Err
			}
			if len(st.Products) == 0 {
				fmt.Fprintln(c.stdout, "No products found")
				return nil
			}
			printProducts(c.stdout, st.Products)
			fmt.Fprintf(c.stdout, "\nPage %d of %d (%d products)\n", st.Query.Page, max(st.TotalPages, 1), st.Count)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&search, "search", "s", "", "search term")
	f.StringVar(&category, "category", "", "category id")
	f.StringVar(&retailer, "retailer", "", "retailer id")
	f.IntVar(&page, "page", 1, "page number")
	return cmd
}

func (c *cli) categoriesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List product categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := c.app.Catalog.Options(cmd.Context())
			if err != nil {
				return err
			}
			printOptions(c.stdout, opts.Categories)
			return nil
		},
	}
}

func (c *cli) retailersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retailers",
		Short: "List retailers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := c.app.Catalog.Options(cmd.Context())
			if err != nil {
				return err
			}
			printOptions(c.stdout, opts.Retailers)
			return nil
		},
	}
}

func parseProductID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id < 1 {
		v := &apierr.ValidationError{}
		v.Add("id", "Invalid product id")
		return 0, v
	}
	return id, nil
}

func (c *cli) productCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "product <id>",
		Short: "Show one product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProductID(args[0])
			if err != nil {
				return err
			}
			p, err := c.app.Catalog.Product(cmd.Context(), id)
			if errors.Is(err, product.ErrNotFound) {
				fmt.Fprintln(c.stdout, "Product not found")
				return nil
			}
			if err != nil {
				return err
			}
			printProduct(c.stdout, p)
			return nil
		},
	}
}

func (c *cli) compareCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compare <term>",
		Short: "Compare prices of matching products across retailers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groups, err := c.app.Catalog.Compare(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				fmt.Fprintln(c.stdout, "No products found matching your search")
				return nil
			}
			retailers := make([]string, 0, len(groups))
			for r := range groups {
				retailers = append(retailers, r)
			}
			slices.Sort(retailers)
			for i, r := range retailers {
				if i > 0 {
					fmt.Fprintln(c.stdout)
				}
				fmt.Fprintf(c.stdout, "== %s ==\n", r)
				printProducts(c.stdout, groups[r])
			}
			return nil
		},
	}
}

func (c *cli) favoriteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "favorite <id>",
		Short: "Add a product to favorites, or remove it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProductID(args[0])
			if err != nil {
				return err
			}
			res, err := c.app.ToggleFavorite(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.stdout, res.Message)
			return nil
		},
	}
}
