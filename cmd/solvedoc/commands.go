package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/solvedoc/solvedoc/internal/config"
)

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file.pdf>",
	Short: "Upload a PDF for ingestion",
	Long: `Upload a PDF for ingestion.

The document is queued for background processing; use "solvedoc docs show"
to watch it move to the completed state.

Examples:
  solvedoc upload ./report.pdf
  solvedoc upload ./report.pdf --title "Q3 Report"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		title, _ := cmd.Flags().GetString("title")
		owner, _ := cmd.Flags().GetString("owner")

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		client, err := newAPIClient(owner)
		if err != nil {
			return err
		}

		req := map[string]any{
			"filename": filepath.Base(path),
			"content":  base64.StdEncoding.EncodeToString(data),
		}
		if title != "" {
			req["title"] = title
		}

		resp, err := client.post(cmd.Context(), "/documents", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued document %s", result["id"])
		return nil
	},
}

func init() {
	uploadCmd.Flags().String("title", "", "title for the document")
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage uploaded documents",
}

type documentView struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	Title      string `json:"title"`
	State      string `json:"state"`
	ChunkCount int    `json:"chunk_count"`
	PageCount  int    `json:"page_count"`
	Error      string `json:"error"`
	CreatedAt  string `json:"created_at"`
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		owner, _ := cmd.Flags().GetString("owner")

		client, err := newAPIClient(owner)
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/documents?limit=%d", limit))
		if err != nil {
			return err
		}

		var docs []documentView
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Println("No documents found.")
			return nil
		}

		for _, d := range docs {
			name := d.Title
			if name == "" {
				name = d.Filename
			}
			fmt.Printf("%s  %-10s  %s\n",
				colorize(colorCyan, d.ID[:8]),
				d.State,
				name,
			)
		}
		return nil
	},
}

var docsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")

		client, err := newAPIClient(owner)
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/documents/"+args[0])
		if err != nil {
			return err
		}

		var doc documentView
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}

		printStatus("ID", "%s", doc.ID)
		printStatus("Filename", "%s", doc.Filename)
		if doc.Title != "" {
			printStatus("Title", "%s", doc.Title)
		}
		printStatus("State", "%s", doc.State)
		printStatus("Pages", "%d", doc.PageCount)
		printStatus("Chunks", "%d", doc.ChunkCount)
		if doc.Error != "" {
			printStatus("Error", "%s", doc.Error)
		}
		printStatus("Created", "%s", doc.CreatedAt)
		return nil
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document and its index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")

		client, err := newAPIClient(owner)
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/documents/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted document %s", args[0])
		return nil
	},
}

func init() {
	docsListCmd.Flags().Int("limit", 50, "maximum number of documents to list")
	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsShowCmd)
	docsCmd.AddCommand(docsDeleteCmd)
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question, optionally scoped to one document",
	Long: `Ask a question, optionally scoped to one document.

With --document the answer comes only from that document's content; the
server refuses rather than guessing when the document does not cover the
question. Without it, the model answers from general knowledge.

Examples:
  solvedoc ask "what is the warranty period?" --document 3f1c9a2e
  solvedoc ask "who was Ramanujan?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		docID, _ := cmd.Flags().GetString("document")
		owner, _ := cmd.Flags().GetString("owner")

		client, err := newAPIClient(owner)
		if err != nil {
			return err
		}

		req := map[string]any{"question": question}
		if docID != "" {
			req["document_id"] = docID
		}

		resp, err := client.post(cmd.Context(), "/ask", req)
		if err != nil {
			return err
		}

		var result struct {
			Mode          string `json:"mode"`
			PrimaryAnswer string `json:"primary_answer"`
			Detail        string `json:"detail"`
			Evidence      []struct {
				SourceLabel string  `json:"source_label"`
				PageNumber  int     `json:"page_number"`
				Similarity  float32 `json:"similarity"`
			} `json:"evidence"`
			DurationMs int64 `json:"duration_ms"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.PrimaryAnswer)
		if result.Detail != "" {
			fmt.Printf("\n%s\n", result.Detail)
		}

		if len(result.Evidence) > 0 {
			sources := make([]string, 0, len(result.Evidence))
			for _, e := range result.Evidence {
				if e.SourceLabel != "" {
					sources = append(sources, fmt.Sprintf("%s p.%d (%.2f)", e.SourceLabel, e.PageNumber, e.Similarity))
				} else {
					sources = append(sources, fmt.Sprintf("p.%d (%.2f)", e.PageNumber, e.Similarity))
				}
			}
			fmt.Fprintf(os.Stderr, "\n%s %s\n", colorize(colorBold, "Sources:"), strings.Join(sources, ", "))
		}
		fmt.Fprintf(os.Stderr, "%s %s in %dms\n", colorize(colorBold, "Mode:"), result.Mode, result.DurationMs)
		return nil
	},
}

func init() {
	askCmd.Flags().String("document", "", "document ID to scope the answer to")
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
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 2 {
			return fmt.Errorf("usage: solvedoc config set <key> <value>\nvalid keys: %s", strings.Join(config.ValidKeys(), ", "))
		}
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
