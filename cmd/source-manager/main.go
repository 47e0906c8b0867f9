// Command source-manager administers the source registry from the
// shell: list, add, remove, enable and disable aliases, bulk import
// from a YAML or JSON file, and inspect the catalog a document would
// produce.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/phuslu/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ubermorgenland/mcp-bridge/pkg/catalog"
	"github.com/ubermorgenland/mcp-bridge/pkg/fetcher"
	"github.com/ubermorgenland/mcp-bridge/pkg/registry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "source-manager",
		Short:         "Manage the mcp-bridge source registry",
		Long:          "source-manager maintains the alias table the bridge serves from: named OpenAPI document URLs stored in Postgres.",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string (defaults to DATABASE_URL)")
	cmd.PersistentFlags().Bool("json", false, "Emit machine-readable JSON instead of tables")

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newSetActiveCmd("enable", true))
	cmd.AddCommand(newSetActiveCmd("disable", false))
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newInspectCmd())

	return cmd
}

// openService connects to the configured database and wraps it in the
// registry service. The caller must Close the returned store.
func openService(cmd *cobra.Command) (*registry.Service, registry.Store, error) {
	databaseURL, err := cmd.Flags().GetString("database-url")
	if err != nil {
		return nil, nil, err
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return nil, nil, fmt.Errorf("no database configured: pass --database-url or set DATABASE_URL")
	}

	db, err := registry.Connect(databaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := registry.RunMigrations(db); err != nil {
		db.Close()
		return nil, nil, err
	}

	store := registry.NewPostgresStore(db)
	logger := &log.Logger{Level: log.WarnLevel, Writer: log.IOWriter{Writer: os.Stderr}}
	return registry.NewService(store, logger), store, nil
}

func jsonOutput(cmd *cobra.Command) bool {
	v, err := cmd.Flags().GetBool("json")
	return err == nil && v
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			activeOnly, err := cmd.Flags().GetBool("active")
			if err != nil {
				return err
			}

			svc, store, err := openService(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			sources, err := svc.Sources(activeOnly)
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				if sources == nil {
					sources = []*registry.Source{}
				}
				return printJSON(map[string]interface{}{"sources": sources, "count": len(sources)})
			}

			if len(sources) == 0 {
				fmt.Println("No sources registered.")
				return nil
			}

			fmt.Printf("%-4s %-24s %-8s %-44s %s\n", "ID", "NAME", "ACTIVE", "URL", "DESCRIPTION")
			fmt.Println(strings.Repeat("-", 110))
			for _, src := range sources {
				fmt.Printf("%-4d %-24s %-8t %-44s %s\n",
					src.ID, trunc(src.Name, 22), src.Active, trunc(src.URL, 42), trunc(src.Description, 30))
			}
			return nil
		},
	}
	cmd.Flags().Bool("active", false, "Only show active sources")
	return cmd
}

func newAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name> <url>",
		Short: "Register a source alias for an OpenAPI document URL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			description, err := cmd.Flags().GetString("description")
			if err != nil {
				return err
			}
			validate, err := cmd.Flags().GetBool("validate")
			if err != nil {
				return err
			}

			svc, store, err := openService(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if validate {
				title, version, err := describeURL(svc, args[1])
				if err != nil {
					return err
				}
				fmt.Printf("Validated: %s %s\n", title, version)
				if description == "" {
					description = title
				}
			}

			src, err := svc.Register(args[0], args[1], description)
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				return printJSON(src)
			}
			fmt.Printf("Registered source '%s' -> %s\n", src.Name, src.URL)
			return nil
		},
	}
	cmd.Flags().String("description", "", "Human-readable note shown in listings")
	cmd.Flags().Bool("validate", false, "Fetch and validate the document before registering")
	return cmd
}

// describeURL downloads the document and runs it through the service's
// validator, returning the declared title and version.
func describeURL(svc *registry.Service, rawURL string) (string, string, error) {
	if !strings.HasPrefix(rawURL, "https://") {
		return "", "", fmt.Errorf("%w: %s", registry.ErrInsecureSource, rawURL)
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch document: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("document fetch returned %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return "", "", fmt.Errorf("failed to read document: %v", err)
	}
	return svc.DescribeDocument(data)
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name>",
		Short: "Delete a source alias",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, store, err := openService(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := svc.Remove(args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted source '%s'\n", args[0])
			return nil
		},
	}
}

func newSetActiveCmd(use string, active bool) *cobra.Command {
	short := "Enable a source so the bridge serves it"
	done := "Enabled"
	if !active {
		short = "Disable a source without deleting it"
		done = "Disabled"
	}
	return &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, store, err := openService(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := svc.SetActive(args[0], active); err != nil {
				return err
			}
			fmt.Printf("%s source '%s'\n", done, args[0])
			return nil
		},
	}
}

// importedSource is one entry of an import file keyed by alias.
type importedSource struct {
	URL         string `yaml:"url" json:"url"`
	Description string `yaml:"description" json:"description"`
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Bulk-register sources from a YAML or JSON file",
		Long: "Import reads a mapping of alias to document URL. Entries may be\n" +
			"plain strings or objects with url and description fields.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := readImportFile(args[0])
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return fmt.Errorf("import file %q contains no sources", args[0])
			}

			svc, store, err := openService(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			names := make([]string, 0, len(entries))
			for name := range entries {
				names = append(names, name)
			}
			sort.Strings(names)

			var failed int
			for _, name := range names {
				entry := entries[name]
				if _, err := svc.Register(name, entry.URL, entry.Description); err != nil {
					fmt.Fprintf(os.Stderr, "skipping %s: %v\n", name, err)
					failed++
					continue
				}
				fmt.Printf("Registered source '%s' -> %s\n", name, entry.URL)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d sources failed to import", failed, len(entries))
			}
			return nil
		},
	}
}

// readImportFile accepts either alias: url or alias: {url, description}.
// yaml.v3 also parses JSON, so one decoder covers both formats.
func readImportFile(path string) (map[string]importedSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read import file: %v", err)
	}

	var flat map[string]string
	if err := yaml.Unmarshal(data, &flat); err == nil {
		entries := make(map[string]importedSource, len(flat))
		for name, url := range flat {
			entries[name] = importedSource{URL: url}
		}
		return entries, nil
	}

	var structured map[string]importedSource
	if err := yaml.Unmarshal(data, &structured); err != nil {
		return nil, fmt.Errorf("failed to parse import file: %v", err)
	}
	return structured, nil
}

// inspectReport is the JSON form of the inspect command output.
type inspectReport struct {
	Title    string          `json:"title"`
	Version  string          `json:"version"`
	Servers  []string        `json:"servers"`
	Model    string          `json:"model"`
	Tools    []inspectTool   `json:"tools"`
	Prompts  int             `json:"prompts"`
	Warnings []inspectAnomly `json:"warnings,omitempty"`
}

type inspectTool struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type inspectAnomly struct {
	Ref     string `json:"ref"`
	Suggest string `json:"suggest,omitempty"`
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <name-or-url>",
		Short: "Fetch a document and show the catalog it would produce",
		Long: "Inspect fetches the OpenAPI document behind a registered alias (or a\n" +
			"direct https URL) and prints the derived model, tools and prompts.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docURL := args[0]
			if !strings.HasPrefix(docURL, "https://") {
				svc, store, err := openService(cmd)
				if err != nil {
					return err
				}
				resolved, ok := svc.ResolveAlias(docURL)
				store.Close()
				if !ok {
					return fmt.Errorf("unknown source %q (not an alias, and not an https URL)", docURL)
				}
				docURL = resolved
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			doc, err := fetcher.New(nil, nil).Fetch(ctx, docURL)
			if err != nil {
				return err
			}
			cat, err := catalog.Build(doc)
			if err != nil {
				return fmt.Errorf("catalog build failed: %v", err)
			}

			report := inspectReport{
				Title:   doc.Info.Title,
				Version: doc.Info.Version,
				Prompts: len(cat.Prompts),
			}
			for _, srv := range doc.Servers {
				report.Servers = append(report.Servers, srv.URL)
			}
			if len(cat.Models) > 0 {
				report.Model = cat.Models[0].ID
			}
			for _, tool := range cat.Tools {
				report.Tools = append(report.Tools, inspectTool{ID: tool.ID, Name: tool.Name, Description: tool.Description})
			}
			for _, w := range cat.Warnings {
				report.Warnings = append(report.Warnings, inspectAnomly{Ref: w.Ref, Suggest: w.Suggest})
			}

			if jsonOutput(cmd) {
				return printJSON(report)
			}

			fmt.Printf("%s %s\n", report.Title, report.Version)
			if len(report.Servers) > 0 {
				fmt.Printf("Servers: %s\n", strings.Join(report.Servers, ", "))
			}
			if report.Model != "" {
				fmt.Printf("Model:   %s\n", report.Model)
			}
			fmt.Println()

			if len(report.Tools) == 0 {
				fmt.Println("No tools derived from this document.")
			} else {
				fmt.Printf("Tools (%d):\n", len(report.Tools))
				fmt.Printf("%-32s %-28s %s\n", "ID", "NAME", "DESCRIPTION")
				fmt.Println(strings.Repeat("-", 100))
				for _, tool := range report.Tools {
					fmt.Printf("%-32s %-28s %s\n", trunc(tool.ID, 30), trunc(tool.Name, 26), trunc(tool.Description, 38))
				}
			}
			fmt.Printf("\nPrompts: %d\n", report.Prompts)

			for _, w := range report.Warnings {
				if w.Suggest != "" {
					fmt.Fprintf(os.Stderr, "warning: ambiguous reference %s (did you mean %s?)\n", w.Ref, w.Suggest)
				} else {
					fmt.Fprintf(os.Stderr, "warning: ambiguous reference %s\n", w.Ref)
				}
			}
			return nil
		},
	}
}

func trunc(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
