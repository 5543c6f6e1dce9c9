package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"library-backend/library"
)

func createAdminCmd() *cobra.Command {
	var first, last, email string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, mgr, err := setup()
			if err != nil {
				return err
			}
			defer mgr.Close()

			password, err := readPassword(fmt.Sprintf("Enter password for %s: ", email))
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			confirm, err := readPassword("Confirm password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}

			u, err := mgr.CreateAdmin(cmd.Context(), library.SignupRequest{
				FirstName:       first,
				LastName:        last,
				Email:           email,
				Password:        password,
				PasswordConfirm: confirm,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Added admin '%s' with ID %d\n", u.Email, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "admin email")
	cmd.Flags().StringVar(&first, "first-name", "Library", "first name")
	cmd.Flags().StringVar(&last, "last-name", "Admin", "last name")
	cmd.MarkFlagRequired("email")
	return cmd
}

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the library thresholds",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the thresholds in effect",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, mgr, err := setup()
			if err != nil {
				return err
			}
			defer mgr.Close()
			s, err := mgr.CurrentSettings(cmd.Context())
			if err != nil {
				return err
			}
			return printSettings(s)
		},
	}

	var (
		ints    = map[string]*int{}
		lateFee string
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Store a new revision of the thresholds",
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch library.SettingsPatch
			targets := map[string]**int{
				"age-min":           &patch.AgeMin,
				"age-max":           &patch.AgeMax,
				"expired-months":    &patch.ExpiredMonths,
				"publication-years": &patch.PublicationYears,
				"borrowing-days":    &patch.BorrowingDays,
				"max-copies":        &patch.MaxCopies,
			}
			changed := false
			for name, dst := range targets {
				if cmd.Flags().Changed(name) {
					*dst = ints[name]
					changed = true
				}
			}
			if cmd.Flags().Changed("late-fee") {
				fee, err := decimal.NewFromString(lateFee)
				if err != nil {
					return fmt.Errorf("late-fee: %w", err)
				}
				patch.LateFeePerDay = &fee
				changed = true
			}
			if !changed {
				return fmt.Errorf("nothing to change, see --help")
			}

			_, _, mgr, err := setup()
			if err != nil {
				return err
			}
			defer mgr.Close()
			s, err := mgr.UpdateSettings(cmd.Context(), patch)
			if err != nil {
				return err
			}
			return printSettings(s)
		},
	}
	for _, name := range []string{"age-min", "age-max", "expired-months", "publication-years", "borrowing-days", "max-copies"} {
		ints[name] = set.Flags().Int(name, 0, strings.ReplaceAll(name, "-", " "))
	}
	set.Flags().StringVar(&lateFee, "late-fee", "", "late fee per overdue day")

	cmd.AddCommand(show, set)
	return cmd
}

func printSettings(s library.Settings) error {
	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()
	return enc.Encode(map[string]any{
		"ageMin":           s.AgeMin,
		"ageMax":           s.AgeMax,
		"expiredMonths":    s.ExpiredMonths,
		"publicationYears": s.PublicationYears,
		"borrowingDays":    s.BorrowingDays,
		"maxCopies":        s.MaxCopies,
		"lateFeePerDay":    s.LateFeePerDay.String(),
	})
}

func booksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "books",
		Short: "Catalog commands",
	}
	var sort string
	list := &cobra.Command{
		Use:   "list",
		Short: "List the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, mgr, err := setup()
			if err != nil {
				return err
			}
			defer mgr.Close()

			opts := library.ListOptions{Page: 1, Limit: library.MaxLimit}
			if sort != "" {
				opts.Sort = []library.SortField{{Field: strings.TrimPrefix(sort, "-"), Desc: strings.HasPrefix(sort, "-")}}
			}
			books, err := mgr.ListBooks(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if len(books) == 0 {
				fmt.Println("No books in the catalog.")
				return nil
			}
			fmt.Printf("%-5s %-30s %-25s %-8s %10s\n", "ID", "Title", "Author", "Copies", "Price")
			fmt.Println(strings.Repeat("-", 82))
			for i := range books {
				fmt.Println(library.PrettyBook(&books[i]))
			}
			return nil
		},
	}
	list.Flags().StringVar(&sort, "sort", "", "field to sort by, prefix with - for descending")
	cmd.AddCommand(list)
	return cmd
}

func overdueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "overdue",
		Short: "List borrow forms past their expected return date",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, mgr, err := setup()
			if err != nil {
				return err
			}
			defer mgr.Close()

			forms, err := mgr.OverdueForms(cmd.Context())
			if err != nil {
				return err
			}
			if len(forms) == 0 {
				fmt.Println("No overdue borrow forms.")
				return nil
			}
			now := mgr.Now()
			fmt.Printf("%-6s %-8s %-12s %-6s\n", "Form", "Reader", "Due", "Days")
			for _, f := range forms {
				fmt.Printf("%-6d %-8d %-12s %-6d\n", f.ID, f.BorrowerID, f.ExpectedReturnDate.Format(time.DateOnly),
					int(now.Sub(f.ExpectedReturnDate).Hours()/24))
			}
			return nil
		},
	}
}
