package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/redoubt-sec/redoubt/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	tokenFlag string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "redoubt",
	Short: "Redoubt incident response CLI",
	Long: `redoubt is the command-line interface for the Redoubt console.

It opens and works incidents, records entries in the tamper-evident
evidence chain, and verifies or exports chains for auditors.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.redoubt")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("redoubt")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.redoubt/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "console base URL (default from saved session, then http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "session token (default from REDOUBT_TOKEN, then saved session)")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(incidentCmd)
	rootCmd.AddCommand(evidenceCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient builds an SDK client from flags, environment, and the saved
// session, in that order.
func newClient() (*client.Client, error) {
	token := tokenFlag
	if token == "" {
		token = viper.GetString("token")
	}
	base := serverURL

	if token == "" || base == "" {
		if path, err := client.DefaultSessionPath(); err == nil {
			if s, err := client.LoadSession(path); err == nil && !s.Expired() {
				if token == "" {
					token = s.Token
				}
				if base == "" {
					base = s.ServerURL
				}
			}
		}
	}
	if base == "" {
		base = "http://localhost:8080"
	}

	opts := []client.Option{client.WithUserAgent("redoubt-cli/" + version)}
	if token != "" {
		opts = append(opts, client.WithToken(token))
	}
	return client.New(base, opts...)
}

// ── login ────────────────────────────────────────────────────────────────────

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Log in to the console and save the session",
	Long: `Login authenticates with the console and writes the session token to
~/.redoubt/session.json. Later commands pick the session up automatically.

The password is read from REDOUBT_PASSWORD when set, otherwise prompted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email := args[0]

		password := viper.GetString("password")
		if password == "" {
			fmt.Print("Password: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimSpace(line)
		}
		if password == "" {
			return errors.New("no password given")
		}

		base := serverURL
		if base == "" {
			base = "http://localhost:8080"
		}
		c, err := client.New(base, client.WithUserAgent("redoubt-cli/"+version))
		if err != nil {
			return err
		}

		session, err := c.Login(context.Background(), email, password)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}

		path, err := client.DefaultSessionPath()
		if err != nil {
			return err
		}
		err = client.SaveSession(path, &client.SessionFile{
			ServerURL: base,
			Token:     session.Token,
			Email:     session.User.Email,
			ExpiresAt: time.Now().Add(time.Duration(session.ExpiresIn) * time.Second).UTC(),
		})
		if err != nil {
			return fmt.Errorf("save session: %w", err)
		}

		fmt.Printf("✓ Logged in as %s (%s)\n", session.User.Name, session.User.Role)
		fmt.Printf("  Session saved to %s\n", path)
		return nil
	},
}

// ── incident ─────────────────────────────────────────────────────────────────

var incidentCmd = &cobra.Command{
	Use:   "incident",
	Short: "Open, list, and inspect incidents",
}

var (
	createTitle       string
	createSeverity    string
	createDescription string
	createLead        string
)

var incidentCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Open a new incident",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		inc, err := c.CreateIncident(context.Background(), client.CreateIncidentRequest{
			Title:       createTitle,
			Description: createDescription,
			Severity:    createSeverity,
			LeadID:      createLead,
		})
		if err != nil {
			return fmt.Errorf("create incident: %w", err)
		}

		fmt.Printf("✓ Incident opened\n\n")
		fmt.Printf("  Reference: %s\n", inc.Reference)
		fmt.Printf("  Severity:  %s\n", inc.Severity)
		fmt.Printf("  Phase:     %s\n\n", inc.Phase)
		fmt.Printf("Next: redoubt evidence append %s --type observation --description \"...\"\n", inc.Reference)
		return nil
	},
}

var (
	listStatus string
	listLimit  int
	listOffset int
	listFormat string
)

var incidentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tenant's incidents, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		incidents, err := c.Incidents(context.Background(), listStatus, listLimit, listOffset)
		if err != nil {
			return fmt.Errorf("list incidents: %w", err)
		}

		if listFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(incidents)
		}

		if len(incidents) == 0 {
			fmt.Println("No incidents.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "REFERENCE\tSEVERITY\tSTATUS\tPHASE\tOPENED\tTITLE")
		for _, inc := range incidents {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				inc.Reference, inc.Severity, inc.Status, inc.Phase,
				inc.CreatedAt.Format("2006-01-02 15:04"), inc.Title)
		}
		return w.Flush()
	},
}

var incidentShowCmd = &cobra.Command{
	Use:   "show <uuid | INC-reference>",
	Short: "Show one incident",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		inc, err := c.Incident(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get incident: %w", err)
		}

		fmt.Printf("Reference: %s\n", inc.Reference)
		fmt.Printf("ID:        %s\n", inc.ID)
		fmt.Printf("Title:     %s\n", inc.Title)
		if inc.Description != "" {
			fmt.Printf("Details:   %s\n", inc.Description)
		}
		fmt.Printf("Severity:  %s\n", inc.Severity)
		fmt.Printf("Status:    %s\n", inc.Status)
		fmt.Printf("Phase:     %s\n", inc.Phase)
		if inc.LeadID != "" {
			fmt.Printf("Lead:      %s\n", inc.LeadID)
		}
		fmt.Printf("Opened:    %s\n", inc.CreatedAt.Format(time.RFC3339))
		if inc.ClosedAt != nil {
			fmt.Printf("Closed:    %s\n", inc.ClosedAt.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	incidentCreateCmd.Flags().StringVar(&createTitle, "title", "", "Incident title")
	incidentCreateCmd.Flags().StringVar(&createSeverity, "severity", "medium", "Severity: low, medium, high, critical")
	incidentCreateCmd.Flags().StringVar(&createDescription, "description", "", "What is known so far")
	incidentCreateCmd.Flags().StringVar(&createLead, "lead", "", "Lead responder user id")
	_ = incidentCreateCmd.MarkFlagRequired("title")

	incidentListCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status: open, contained, resolved, closed")
	incidentListCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum incidents to return (server default when 0)")
	incidentListCmd.Flags().IntVar(&listOffset, "offset", 0, "Offset into the result set")
	incidentListCmd.Flags().StringVar(&listFormat, "format", "text", "Output format: text or json")

	incidentCmd.AddCommand(incidentCreateCmd)
	incidentCmd.AddCommand(incidentListCmd)
	incidentCmd.AddCommand(incidentShowCmd)
}

// ── evidence ─────────────────────────────────────────────────────────────────

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Record, inspect, verify, and export evidence chains",
}

var (
	appendType        string
	appendPhase       string
	appendDescription string
	appendMeta        map[string]string
)

var evidenceAppendCmd = &cobra.Command{
	Use:   "append <incident>",
	Short: "Seal a new entry onto the incident's evidence chain",
	Long: `Append records an entry at the tip of the chain. The entry's hash covers
its content and the previous entry's hash; once sealed it cannot be edited.

  redoubt evidence append INC-7K2M9QA --type artifact \
    --description "Mail gateway logs" --meta sha256=9f2c...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		entry, err := c.AppendEvidence(context.Background(), args[0], client.AppendEvidenceRequest{
			Type:        appendType,
			Phase:       appendPhase,
			Description: appendDescription,
			Metadata:    appendMeta,
		})
		if err != nil {
			return fmt.Errorf("append evidence: %w", err)
		}

		fmt.Printf("✓ Entry %d sealed\n\n", entry.Sequence)
		fmt.Printf("  Type:  %s\n", entry.Type)
		fmt.Printf("  Phase: %s\n", entry.Phase)
		fmt.Printf("  Hash:  %s\n", entry.Hash)
		return nil
	},
}

var evidenceListCmd = &cobra.Command{
	Use:   "list <incident>",
	Short: "Show the incident's chain in sequence order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		chain, err := c.Evidence(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("list evidence: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTYPE\tPHASE\tRECORDED\tHASH\tDESCRIPTION")
		for _, e := range chain {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				e.Sequence, e.Type, e.Phase,
				e.RecordedAt.Format("2006-01-02 15:04:05"),
				shortHash(e.Hash), e.Description)
		}
		return w.Flush()
	},
}

var evidenceVerifyCmd = &cobra.Command{
	Use:   "verify <incident>",
	Short: "Re-verify every hash in the incident's chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		result, err := c.VerifyEvidence(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("verify evidence: %w", err)
		}

		if result.Valid {
			fmt.Printf("✓ Chain intact — %d entries verified\n", result.VerifiedEntries)
			return nil
		}

		// Broken chains exit non-zero so scripts can alert on them.
		var at int64
		if result.FirstBrokenSequence != nil {
			at = *result.FirstBrokenSequence
		}
		return fmt.Errorf("chain BROKEN at sequence %d (%s); %d entries verified before the break",
			at, result.Reason, result.VerifiedEntries)
	},
}

var (
	exportFormat string
	exportOutput string
)

var evidenceExportCmd = &cobra.Command{
	Use:   "export <incident>",
	Short: "Export the chain for auditors or law enforcement",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		doc, err := c.ExportEvidence(context.Background(), args[0], exportFormat)
		if err != nil {
			return fmt.Errorf("export evidence: %w", err)
		}

		if exportOutput == "" {
			_, err := os.Stdout.Write(doc)
			return err
		}
		if err := os.WriteFile(exportOutput, doc, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", exportOutput, err)
		}
		fmt.Printf("✓ Export written to %s (%d bytes)\n", exportOutput, len(doc))
		return nil
	},
}

func init() {
	evidenceAppendCmd.Flags().StringVar(&appendType, "type", "", "Entry type: observation, artifact, action, decision")
	evidenceAppendCmd.Flags().StringVar(&appendPhase, "phase", "", "Response phase (default: the incident's current phase)")
	evidenceAppendCmd.Flags().StringVar(&appendDescription, "description", "", "What was observed or done")
	evidenceAppendCmd.Flags().StringToStringVar(&appendMeta, "meta", nil, "Metadata key=value pairs (repeatable)")
	_ = evidenceAppendCmd.MarkFlagRequired("type")

	evidenceExportCmd.Flags().StringVar(&exportFormat, "format", "json", "Export format: json or text")
	evidenceExportCmd.Flags().StringVar(&exportOutput, "output", "", "Write to file instead of stdout")

	evidenceCmd.AddCommand(evidenceAppendCmd)
	evidenceCmd.AddCommand(evidenceListCmd)
	evidenceCmd.AddCommand(evidenceVerifyCmd)
	evidenceCmd.AddCommand(evidenceExportCmd)
}

// shortHash abbreviates a hex digest for table display.
func shortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12] + "…"
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the redoubt CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("redoubt %s (incident response console CLI)\n", version)
	},
}
