package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"library-backend/config"
	"library-backend/library"
)

// catalogEntry is one book of a catalog file.
type catalogEntry struct {
	Name            string `yaml:"title"`
	Type            string `yaml:"type"`
	Author          string `yaml:"author"`
	Publisher       string `yaml:"publisher"`
	PublicationYear int    `yaml:"publicationYear"`
	Price           string `yaml:"price"`
	Copies          *int   `yaml:"copies"`
	Pages           int    `yaml:"pages"`
	Description     string `yaml:"description"`
}

func (e catalogEntry) request() library.BookRequest {
	return library.BookRequest{
		Name:            e.Name,
		Type:            e.Type,
		Author:          e.Author,
		Publisher:       e.Publisher,
		PublicationYear: e.PublicationYear,
		Price:           e.Price,
		Description:     e.Description,
		NumberOfBooks:   e.Copies,
		NumberOfPages:   e.Pages,
	}
}

func readCatalog(path string) ([]catalogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var catalog struct {
		Books []catalogEntry `yaml:"books"`
	}
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return catalog.Books, nil
}

func main() {
	var configPath, envFile string
	cmd := &cobra.Command{
		Use:          "import_books <catalog.yaml>",
		Short:        "Import a YAML catalog into the library database",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, envFile)
			if err != nil {
				return err
			}
			defaults, err := cfg.Library.Settings()
			if err != nil {
				return err
			}
			manager, err := library.NewLibraryManager(cfg.Database.Path, library.WithDefaults(defaults))
			if err != nil {
				return fmt.Errorf("error opening database: %w", err)
			}
			defer manager.Close()
			return importCatalog(cmd.Context(), manager, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "path to a .env file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func importCatalog(ctx context.Context, manager *library.LibraryManager, path string) error {
	entries, err := readCatalog(path)
	if err != nil {
		return err
	}
	fmt.Printf("Importing %d books from %s...\n", len(entries), path)

	var imported []*library.Book
	errorCount := 0
	for _, e := range entries {
		fmt.Printf("Importing: %s by %s... ", e.Name, e.Author)
		b, err := manager.CreateBook(ctx, e.request())
		if err != nil {
			fmt.Printf("ERROR - %v\n", err)
			errorCount++
			continue
		}
		fmt.Printf("SUCCESS (ID: %d)\n", b.ID)
		imported = append(imported, b)
	}

	fmt.Printf("\nImport complete!\n")
	fmt.Printf("Successfully imported: %d books\n", len(imported))
	fmt.Printf("Errors: %d\n", errorCount)

	if len(imported) > 0 {
		fmt.Println("\nImported books:")
		fmt.Printf("%-5s %-30s %-25s %-8s %10s\n", "ID", "Title", "Author", "Copies", "Price")
		fmt.Println(strings.Repeat("-", 82))
		for _, b := range imported {
			fmt.Println(library.PrettyBook(b))
		}
	}
	if errorCount > 0 {
		return fmt.Errorf("%d of %d books failed to import", errorCount, len(entries))
	}
	return nil
}
