package main

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kalambet/helpdesk/internal/api"
	"github.com/kalambet/helpdesk/internal/config"
	"github.com/kalambet/helpdesk/internal/knowledge"
	"github.com/kalambet/helpdesk/internal/notify"
	"github.com/kalambet/helpdesk/internal/proxy"
	"github.com/kalambet/helpdesk/internal/registry"
	"github.com/kalambet/helpdesk/internal/retrieval"
)

// --- docs ---

var docsCmd = &cobra.Command{
	Use:     "docs",
	Aliases: []string{"kb"},
	Short:   "Manage knowledge-base documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/documents")
		if err != nil {
			return err
		}
		var docs []knowledge.Document
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}
		if len(docs) == 0 {
			printWarning("knowledge base is empty")
			return nil
		}
		printDocuments(cmd.OutOrStdout(), docs)
		return nil
	},
}

var docsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/documents/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var doc knowledge.Document
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s\n", bold.Sprint(doc.Title))
		fmt.Fprintf(out, "%s\n\n", faint.Sprintf("#%s  %s  updated %s", doc.ID, doc.Source, doc.LastUpdated))
		fmt.Fprintln(out, doc.Content)
		return nil
	},
}

var docsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a document",
	Long: `Add a document to the knowledge base.

Examples:
  helpdesk docs add --title "Shipping" --content "We ship worldwide within 5 days."
  helpdesk docs add --title "Returns" --content-file ./returns.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := candidateFromFlags(cmd)
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/documents", c)
		if err != nil {
			return err
		}
		var doc knowledge.Document
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}
		printSuccess("Added document #%s %q", doc.ID, doc.Title)
		return nil
	},
}

var docsUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Replace a document's title, content and source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := candidateFromFlags(cmd)
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), "/documents/"+url.PathEscape(args[0]), c)
		if err != nil {
			return err
		}
		var doc knowledge.Document
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}
		printSuccess("Updated document #%s", doc.ID)
		return nil
	},
}

var docsRemoveCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"delete"},
	Short:   "Delete a document",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/documents/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted document #%s", args[0])
		return nil
	},
}

var docsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Rank documents against a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		q := url.Values{}
		q.Set("q", strings.Join(args, " "))
		q.Set("limit", strconv.Itoa(limit))

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/documents/search?"+q.Encode())
		if err != nil {
			return err
		}
		var ranked []retrieval.ScoredDocument
		if err := decodeJSON(resp, &ranked); err != nil {
			return err
		}
		if len(ranked) == 0 {
			printWarning("no matching documents")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SCORE\tID\tTITLE")
		for _, r := range ranked {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", r.Score, r.Document.ID, r.Document.Title)
		}
		return tw.Flush()
	},
}

var docsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import web pages or local files (PDF, HTML, Markdown, text)",
	Long: `Import web pages or local files into the knowledge base. Repeat
--url and --file to import several sources at once; a batch is added
only if every source can be read.

Examples:
  helpdesk docs import --url https://example.com/faq
  helpdesk docs import --file ./handbook.pdf
  helpdesk docs import --url https://example.com/faq --file ./returns.md`,
	RunE: func(cmd *cobra.Command, args []string) error {
		urls, _ := cmd.Flags().GetStringSlice("url")
		files, _ := cmd.Flags().GetStringSlice("file")
		reqs, err := importRequests(urls, files)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if len(reqs) == 1 {
			printStep("Importing %s", firstNonEmpty(reqs[0].URL, reqs[0].Filename))
			resp, err := client.post(cmd.Context(), "/documents/import", reqs[0])
			if err != nil {
				return err
			}
			var doc knowledge.Document
			if err := decodeJSON(resp, &doc); err != nil {
				return err
			}
			printSuccess("Imported document #%s %q (%d characters)", doc.ID, doc.Title, len(doc.Content))
			return nil
		}

		printStep("Importing %d sources", len(reqs))
		resp, err := client.post(cmd.Context(), "/documents/import/batch", api.BatchImportRequest{Items: reqs})
		if err != nil {
			return err
		}
		var docs []knowledge.Document
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}
		for _, doc := range docs {
			printSuccess("Imported document #%s %q (%d characters)", doc.ID, doc.Title, len(doc.Content))
		}
		return nil
	},
}

var docsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all documents as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/documents/export")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}
		if _, err := io.Copy(w, resp.Body); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		if output != "" {
			printSuccess("Exported documents to %s", output)
		}
		return nil
	},
}

var docsLoadCmd = &cobra.Command{
	Use:   "load <file.yaml>",
	Short: "Add every document from a YAML export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/documents/yaml", rawBody{data: data, contentType: "application/yaml"})
		if err != nil {
			return err
		}
		var added []knowledge.Document
		if err := decodeJSON(resp, &added); err != nil {
			return err
		}
		printSuccess("Added %d documents", len(added))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{docsAddCmd, docsUpdateCmd} {
		c.Flags().String("title", "", "document title (required)")
		c.Flags().String("content", "", "document text")
		c.Flags().String("content-file", "", "read document text from a file")
		c.Flags().String("source", string(knowledge.SourceInternal), "document source label")
	}
	docsSearchCmd.Flags().Int("limit", 5, "maximum number of results")
	docsImportCmd.Flags().StringSlice("url", nil, "web page to import (repeatable)")
	docsImportCmd.Flags().StringSlice("file", nil, "local file to import (repeatable)")
	docsExportCmd.Flags().StringP("output", "o", "", "write YAML to a file instead of stdout")

	docsCmd.AddCommand(docsListCmd, docsShowCmd, docsAddCmd, docsUpdateCmd, docsRemoveCmd)
	docsCmd.AddCommand(docsSearchCmd, docsImportCmd, docsExportCmd, docsLoadCmd)
}

func candidateFromFlags(cmd *cobra.Command) (knowledge.Candidate, error) {
	title, _ := cmd.Flags().GetString("title")
	content, _ := cmd.Flags().GetString("content")
	contentFile, _ := cmd.Flags().GetString("content-file")
	source, _ := cmd.Flags().GetString("source")

	if strings.TrimSpace(title) == "" {
		return knowledge.Candidate{}, fmt.Errorf("--title is required")
	}
	if contentFile != "" {
		data, err := os.ReadFile(contentFile)
		if err != nil {
			return knowledge.Candidate{}, fmt.Errorf("reading content file: %w", err)
		}
		content = string(data)
	}
	if strings.TrimSpace(content) == "" {
		return knowledge.Candidate{}, fmt.Errorf("one of --content or --content-file is required")
	}
	return knowledge.Candidate{Title: title, Content: content, Source: knowledge.Source(source)}, nil
}

// importRequests builds one import item per source, URLs first. Local
// files are read here and sent base64-encoded so the server never touches
// the path.
func importRequests(urls, files []string) ([]api.ImportRequest, error) {
	if len(urls)+len(files) == 0 {
		return nil, fmt.Errorf("at least one --url or --file is required")
	}
	reqs := make([]api.ImportRequest, 0, len(urls)+len(files))
	for _, u := range urls {
		reqs = append(reqs, api.ImportRequest{URL: u})
	}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading file: %w", err)
		}
		reqs = append(reqs, api.ImportRequest{
			Filename: filepath.Base(file),
			Content:  base64.StdEncoding.EncodeToString(data),
		})
	}
	return reqs, nil
}

func printDocuments(w io.Writer, docs []knowledge.Document) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSOURCE\tUPDATED")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, d.Title, d.Source, d.LastUpdated)
	}
	tw.Flush()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage AI model integrations",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List model integrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/models")
		if err != nil {
			return err
		}
		var models api.ModelsResponse
		if err := decodeJSON(resp, &models); err != nil {
			return err
		}
		printIntegrations(cmd.OutOrStdout(), models)
		return nil
	},
}

var modelsConnectCmd = &cobra.Command{
	Use:   "connect <id>",
	Short: "Store an API key for an integration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, _ := cmd.Flags().GetString("key")
		if key == "" {
			key = os.Getenv("HELPDESK_MODEL_KEY")
		}
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("--key is required (or set HELPDESK_MODEL_KEY)")
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/models/"+url.PathEscape(args[0])+"/connect", map[string]string{"apiKey": key})
		if err != nil {
			return err
		}
		var it registry.Integration
		if err := decodeJSON(resp, &it); err != nil {
			return err
		}
		printSuccess("Connected %s", it.Name)
		return nil
	},
}

var modelsDisconnectCmd = &cobra.Command{
	Use:   "disconnect <id>",
	Short: "Forget an integration's API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/models/"+url.PathEscape(args[0])+"/disconnect", nil)
		if err != nil {
			return err
		}
		var it registry.Integration
		if err := decodeJSON(resp, &it); err != nil {
			return err
		}
		printSuccess("Disconnected %s", it.Name)
		return nil
	},
}

var modelsUseCmd = &cobra.Command{
	Use:   "use <id>",
	Short: "Make a connected integration the active model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), "/models/active", map[string]string{"id": args[0]})
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Active model is now %s", args[0])
		return nil
	},
}

var modelsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a custom OpenAI-compatible integration",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		model, _ := cmd.Flags().GetString("model")
		desc, _ := cmd.Flags().GetString("description")
		if name == "" || model == "" {
			return fmt.Errorf("--name and --model are required")
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/models", registry.Integration{Name: name, Model: model, Description: desc})
		if err != nil {
			return err
		}
		var it registry.Integration
		if err := decodeJSON(resp, &it); err != nil {
			return err
		}
		printSuccess("Added integration %s (id %s)", it.Name, it.ID)
		return nil
	},
}

var modelsCatalogCmd = &cobra.Command{
	Use:   "catalog <id>",
	Short: "List models offered to a connected integration's key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/models/"+url.PathEscape(args[0])+"/catalog")
		if err != nil {
			return err
		}
		var catalog []proxy.Model
		if err := decodeJSON(resp, &catalog); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, m := range catalog {
			fmt.Fprintln(out, m.ID)
		}
		return nil
	},
}

func init() {
	modelsConnectCmd.Flags().String("key", "", "provider API key")
	modelsAddCmd.Flags().String("name", "", "display name")
	modelsAddCmd.Flags().String("model", "", "model identifier sent to the endpoint")
	modelsAddCmd.Flags().String("description", "", "short description")

	modelsCmd.AddCommand(modelsListCmd, modelsConnectCmd, modelsDisconnectCmd)
	modelsCmd.AddCommand(modelsUseCmd, modelsAddCmd, modelsCatalogCmd)
}

func printIntegrations(w io.Writer, models api.ModelsResponse) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tNAME\tMODEL\tKEY")
	for _, it := range models.Integrations {
		marker := ""
		if it.ID == models.ActiveID {
			marker = "*"
		}
		key := "-"
		if it.IsConnected && it.APIKey != nil {
			key = *it.APIKey
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", marker, it.ID, it.Name, it.Model, key)
	}
	tw.Flush()
}

// --- notifications ---

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Show recent notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/notifications?limit="+strconv.Itoa(limit))
		if err != nil {
			return err
		}
		var events []notify.Event
		if err := decodeJSON(resp, &events); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, e := range events {
			printNotification(out, e)
		}
		return nil
	},
}

func init() {
	notificationsCmd.Flags().Int("limit", 20, "maximum number of notifications")
}

func printNotification(w io.Writer, e notify.Event) {
	label := e.Title
	switch e.Level {
	case notify.LevelError:
		label = red.Sprint(label)
	case notify.LevelSuccess:
		label = green.Sprint(label)
	default:
		label = cyan.Sprint(label)
	}
	fmt.Fprintf(w, "%s %s  %s\n", faint.Sprint(e.Time.Local().Format("15:04:05")), label, e.Description)
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

		out := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s\n", bold.Sprint(k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
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

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), config.FilePath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configPathCmd)
}
