package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/docent/internal/api"
	"github.com/kalambet/docent/internal/config"
	"github.com/kalambet/docent/internal/storage"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <message...>",
	Short: "Ask the document assistant a question",
	Long: `Ask the document assistant a question. The answer is printed as it
streams in, followed by the documents it refers to.

Examples:
  docent ask 계약서 어디 있어?
  docent ask 어제 올린 문서
  docent ask 만료 임박 문서`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()
		return runAsk(ctx, client, strings.Join(args, " "), cmd.OutOrStdout())
	},
}

func runAsk(ctx context.Context, client *apiClient, message string, out io.Writer) error {
	t := &typer{w: out}
	var final api.ChatEvent
	err := client.streamChat(ctx, api.ChatRequest{Message: message}, func(ev api.ChatEvent) {
		t.update(ev.Text)
		if ev.Type == "final" {
			final = ev
		}
	})
	t.finish()
	if err != nil {
		return err
	}
	printDocuments(out, final.Documents)
	return nil
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search documents by keyword or upload date",
	Long: `Search documents by keyword, upload date, or both.

Examples:
  docent search 계약서
  docent search --when 지난주
  docent search 보험 --when "3월 5일"`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		when, _ := cmd.Flags().GetString("when")
		limit, _ := cmd.Flags().GetInt("limit")
		var query string
		if len(args) == 1 {
			query = args[0]
		}
		if query == "" && when == "" {
			return fmt.Errorf("a query or --when is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runSearch(cmd.Context(), client, query, when, limit, cmd.OutOrStdout())
	},
}

func runSearch(ctx context.Context, client *apiClient, query, when string, limit int, out io.Writer) error {
	params := url.Values{}
	if query != "" {
		params.Set("q", query)
	}
	if when != "" {
		params.Set("when", when)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}

	resp, err := client.get(ctx, "/v1/documents/search?"+params.Encode())
	if err != nil {
		return err
	}
	var result api.SearchResponse
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	if result.Total == 0 {
		fmt.Fprintln(out, "No documents found.")
		return nil
	}
	header := fmt.Sprintf("%d document(s)", result.Total)
	if result.Range != nil {
		header += fmt.Sprintf(" uploaded %s", result.Range.Label)
	}
	if len(result.Documents) < result.Total {
		header += fmt.Sprintf(", showing %d", len(result.Documents))
	}
	fmt.Fprintln(out, colorize(colorBold, header))
	printDocuments(out, result.Documents)
	return nil
}

func init() {
	searchCmd.Flags().String("when", "", `upload date expression, e.g. "어제" or "지난달"`)
	searchCmd.Flags().Int("limit", 20, "maximum number of results")
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage documents",
}

var docsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a PDF or text file as a document",
	Long: `Import a PDF or text file as a document. PDFs are sent as-is and their
text layer is extracted by the server; other files are sent as text.

Examples:
  docent docs import --file lease.pdf --title "임대차 계약서" --category c-contracts
  docent docs import --file memo.txt --title "회의록" --expires 2026-12-31`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")
		dept, _ := cmd.Flags().GetString("department")
		cat, _ := cmd.Flags().GetString("category")
		loc, _ := cmd.Flags().GetString("location")
		expires, _ := cmd.Flags().GetString("expires")

		if file == "" {
			return fmt.Errorf("--file is required")
		}
		req, err := buildImportRequest(file, title)
		if err != nil {
			return err
		}
		req.DepartmentID = dept
		req.CategoryID = cat
		req.StorageLocation = loc
		req.ExpiresAt = expires

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/documents", req)
		if err != nil {
			return err
		}
		var result struct {
			ID             string `json:"id"`
			ExtractedChars int    `json:"extractedChars"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.ExtractedChars == 0 {
			printWarning("No text could be extracted; the document is searchable by title only")
		}
		printSuccess("Imported document %s", result.ID)
		return nil
	},
}

func buildImportRequest(file, title string) (api.ImportRequest, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return api.ImportRequest{}, fmt.Errorf("reading file: %w", err)
	}
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	}
	req := api.ImportRequest{Title: title}
	if strings.EqualFold(filepath.Ext(file), ".pdf") {
		req.Content = base64.StdEncoding.EncodeToString(data)
	} else {
		req.Text = string(data)
	}
	return req, nil
}

func init() {
	docsImportCmd.Flags().String("file", "", "PDF or text file to import")
	docsImportCmd.Flags().String("title", "", "document title (defaults to the file name)")
	docsImportCmd.Flags().String("department", "", "department id (defaults to identity.department_id)")
	docsImportCmd.Flags().String("category", "", "category id")
	docsImportCmd.Flags().String("location", "", "physical storage location")
	docsImportCmd.Flags().String("expires", "", "retention expiry date (YYYY-MM-DD)")
	docsCmd.AddCommand(docsImportCmd)
}

// --- data ---

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Manage the local document database",
}

var dataLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a YAML dataset into the local database",
	Long: `Load departments, categories, documents and shares from a YAML dataset
into the SQLite database. Existing records with the same ids are updated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return fmt.Errorf("--file is required")
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Storage.Backend != config.BackendSQLite {
			return fmt.Errorf("data load requires storage.backend = %q", config.BackendSQLite)
		}
		return loadDataset(cmd.Context(), cfg.Storage.DataDir, file)
	},
}

func loadDataset(ctx context.Context, dataDir, file string) error {
	ds, err := storage.ReadDataset(file)
	if err != nil {
		return err
	}
	store, err := storage.Open(dataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	printStep("Loading %d departments, %d categories, %d documents, %d shares",
		len(ds.Departments), len(ds.Categories), len(ds.Documents), len(ds.Shares))
	if err := store.LoadDataset(ctx, ds); err != nil {
		return err
	}
	printSuccess("Loaded %s", file)
	return nil
}

func init() {
	dataLoadCmd.Flags().String("file", "", "YAML dataset file")
	dataCmd.AddCommand(dataLoadCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
