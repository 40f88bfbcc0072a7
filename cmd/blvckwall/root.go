// ABOUTME: Cobra command tree for the blvckwall client CLI
// ABOUTME: Session commands plus owner-scoped record, action and audit commands

package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/blvckwall/blvckwall-gateway/internal/config"
	"github.com/blvckwall/blvckwall-gateway/internal/record"
)

type cli struct {
	configPath string
	app        *app
}

// run opens the app for the duration of one command.
func (c *cli) run(fn func(ctx context.Context, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := openApp(ctx, c.configPath)
		if err != nil {
			return err
		}
		defer a.Close()
		c.app = a
		return fn(ctx, cmd, args)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "blvckwall",
		Short: "BlvckWall - secure owner-scoped data from the terminal",
		Long: `blvckwall reads and writes your BlvckWall records.

Signed in, every operation goes to the portal gateway first and falls back to
the encrypted store on this device when the gateway is unreachable. Signed
out, records live on this device under the demo identity.`,
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", config.ClientPath(), "client config file")

	root.AddCommand(
		c.signupCmd(),
		c.loginCmd(),
		c.logoutCmd(),
		c.whoamiCmd(),
		c.statusCmd(),
		categoriesCmd(),
		c.recordsCmd(),
		c.localCmd(),
		c.actionsCmd(),
		c.auditCmd(),
	)
	return root
}

func (c *cli) signupCmd() *cobra.Command {
	var email string
	var passwordStdin bool
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account on the gateway and sign in",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if err := c.app.requireGateway(); err != nil {
				return err
			}
			password, err := readPassword(cmd, passwordStdin)
			if err != nil {
				return err
			}
			if _, err := c.app.client.Signup(ctx, email, password); err != nil {
				return describe(err)
			}
			return c.login(ctx, cmd, email, password)
		}),
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (c *cli) loginCmd() *cobra.Command {
	var email string
	var passwordStdin bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the gateway",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if err := c.app.requireGateway(); err != nil {
				return err
			}
			password, err := readPassword(cmd, passwordStdin)
			if err != nil {
				return err
			}
			return c.login(ctx, cmd, email, password)
		}),
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (c *cli) login(ctx context.Context, cmd *cobra.Command, email, password string) error {
	s, err := c.app.sessions.Login(ctx, email, password)
	if err != nil {
		return describe(err)
	}
	green := color.New(color.FgGreen)
	green.Fprintf(cmd.OutOrStdout(), "  ✓ Signed in as %s\n", s.Owner.Email)
	return nil
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out; records on this device stay for your next sign-in",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if err := c.app.sessions.Logout(ctx); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintln(cmd.OutOrStdout(), "  ✓ Signed out")
			return nil
		}),
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity records are read and written as",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			owner := c.app.sessions.ResolveOwnerOrDemo(ctx)

			printHeading(w, "Identity")
			fmt.Fprintf(w, "  Owner ID:   %s\n", owner.ID)
			fmt.Fprintf(w, "  Email:      %s\n", owner.Email)
			fmt.Fprintf(w, "  Session:    %s\n", c.app.sessions.State())
			fmt.Fprintf(w, "  Mode:       %s\n", c.app.facade.Mode(ctx))
			if s := c.app.sessions.Current(); s != nil {
				fmt.Fprintf(w, "  Expires:    %s\n", s.ExpiresAt.Local().Format("Jan 02 15:04"))
			}
			fmt.Fprintln(w)
			return nil
		}),
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check gateway reachability and session state",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			green := color.New(color.FgGreen)
			yellow := color.New(color.FgYellow)
			red := color.New(color.FgRed)

			fmt.Fprintln(w)
			yellow.Fprint(w, "  Gateway:  ")
			switch {
			case c.app.cfg.Gateway.URL == "":
				fmt.Fprintln(w, "(not configured, demo mode)")
			default:
				if err := c.app.client.Ping(ctx); err != nil {
					red.Fprintf(w, "UNREACHABLE (%v)\n", err)
				} else {
					green.Fprintf(w, "ready at %s\n", c.app.cfg.Gateway.URL)
				}
			}
			yellow.Fprint(w, "  Session:  ")
			fmt.Fprintln(w, c.app.sessions.State())
			yellow.Fprint(w, "  Storage:  ")
			fmt.Fprintln(w, c.app.cfg.Storage.Path)
			fmt.Fprintln(w)
			return nil
		}),
	}
}

func categoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List record categories and their required fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			printHeading(w, "Categories")
			for _, cat := range record.Categories {
				fmt.Fprintf(w, "  %-22s %s\n", cat, strings.Join(record.RequiredFields(cat), ", "))
			}
			fmt.Fprintln(w)
			return nil
		},
	}
}

func (c *cli) recordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "records",
		Aliases: []string{"rec"},
		Short:   "List, read and change records in a category",
	}

	var asJSON bool
	var where []string
	var limit int
	list := &cobra.Command{
		Use:     "list <category>",
		Aliases: []string{"ls"},
		Short:   "List records, newest first",
		Args:    cobra.ExactArgs(1),
		RunE: c.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			cat, err := record.ParseCategory(args[0])
			if err != nil {
				return err
			}
			f := record.Filter{Limit: limit}
			if len(where) > 0 {
				f.Fields = make(map[string]string, len(where))
				for _, kv := range where {
					k, v, ok := strings.Cut(kv, "=")
					if !ok {
						return fmt.Errorf("--where %q must be key=value", kv)
					}
					f.Fields[k] = v
				}
			}
			records, err := c.app.facade.List(ctx, cat, f)
			if err != nil {
				return describe(err)
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), records)
			}
			printRecords(cmd.OutOrStdout(), cat, records)
			return nil
		}),
	}
	list.Flags().StringArrayVarP(&where, "where", "w", nil, "field filter key=value (repeatable)")
	list.Flags().IntVarP(&limit, "limit", "n", 0, "maximum records to return")
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	var getJSON bool
	get := &cobra.Command{
		Use:   "get <category> <id>",
		Short: "Show one record",
		Args:  cobra.ExactArgs(2),
		RunE: c.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			cat, err := record.ParseCategory(args[0])
			if err != nil {
				return err
			}
			r, err := c.app.facade.Get(ctx, cat, args[1])
			if err != nil {
				return describe(err)
			}
			if getJSON {
				return printJSON(cmd.OutOrStdout(), r)
			}
			printRecord(cmd.OutOrStdout(), r)
			return nil
		}),
	}
	get.Flags().BoolVar(&getJSON, "json", false, "print JSON")

	var createSets []string
	var createBody string
	create := &cobra.Command{
		Use:   "create <category>",
		Short: "Create a record from --set key=value pairs or a --data JSON object",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			cat, err := record.ParseCategory(args[0])
			if err != nil {
				return err
			}
			fields, err := parseFields(createBody, createSets)
			if err != nil {
				return err
			}
			r, err := c.app.facade.Create(ctx, cat, fields)
			if err != nil {
				return describe(err)
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "  ✓ Created %s %s\n", cat, r.ID)
			return nil
		}),
	}
	create.Flags().StringArrayVarP(&createSets, "set", "s", nil, "field key=value; values are parsed as JSON when possible (repeatable)")
	create.Flags().StringVarP(&createBody, "data", "d", "", "JSON object of fields")

	var updateSets []string
	var updateBody string
	update := &cobra.Command{
		Use:   "update <category> <id>",
		Short: "Patch a record; set a field to null to remove it",
		Args:  cobra.ExactArgs(2),
		RunE: c.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			cat, err := record.ParseCategory(args[0])
			if err != nil {
				return err
			}
			patch, err := parseFields(updateBody, updateSets)
			if err != nil {
				return err
			}
			r, err := c.app.facade.Update(ctx, cat, args[1], patch)
			if err != nil {
				return describe(err)
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "  ✓ Updated %s %s (version %d)\n", cat, r.ID, r.Version)
			return nil
		}),
	}
	update.Flags().StringArrayVarP(&updateSets, "set", "s", nil, "field key=value (repeatable)")
	update.Flags().StringVarP(&updateBody, "data", "d", "", "JSON object of fields")

	del := &cobra.Command{
		Use:     "delete <category> <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a record from the gateway and this device",
		Args:    cobra.ExactArgs(2),
		RunE: c.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			cat, err := record.ParseCategory(args[0])
			if err != nil {
				return err
			}
			err = c.app.facade.Delete(ctx, cat, args[1])
			if errors.Is(err, record.ErrNotFound) {
				color.New(color.FgYellow).Fprintf(cmd.OutOrStdout(), "  %s %s was already gone\n", cat, args[1])
				return nil
			}
			if err != nil {
				return describe(err)
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "  ✓ Deleted %s %s\n", cat, args[1])
			return nil
		}),
	}

	cmd.AddCommand(list, get, create, update, del)
	return cmd
}

func (c *cli) localCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Manage the encrypted store on this device",
	}

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Erase your records and encryption key from this device",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			owner := c.app.sessions.ResolveOwnerOrDemo(ctx)
			if !yes {
				fmt.Fprintf(cmd.OutOrStdout(), "Erase all local data for %s? [y/N]: ", owner.Email)
				answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				answer = strings.ToLower(strings.TrimSpace(answer))
				if answer != "y" && answer != "yes" {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}
			if err := c.app.sessions.ClearLocalData(ctx); err != nil {
				return describe(err)
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "  ✓ Cleared local data for %s\n", owner.Email)
			return nil
		}),
	}
	clearCmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	cmd.AddCommand(clearCmd)
	return cmd
}

func (c *cli) auditCmd() *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show your compliance audit log",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if err := c.app.requireGateway(); err != nil {
				return err
			}
			owner, err := c.app.sessions.CurrentOwner(ctx)
			if err != nil {
				return describe(err)
			}
			entries, err := c.app.client.Audit(ctx, owner.ID, limit)
			if err != nil {
				return describe(err)
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			printAudit(cmd.OutOrStdout(), entries)
			return nil
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func (c *cli) actionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "Run provider actions through the gateway",
	}

	type flagSpec struct {
		name, key, usage string
		required         bool
	}
	type actionSpec struct {
		use, name, short string
		flags            []flagSpec
	}
	actions := []actionSpec{
		{"call", "calls", "Place an outbound call with an agent", []flagSpec{
			{"agent", "agent_id", "agent record id", true},
			{"to", "to_number", "E.164 number to call", true},
			{"from", "from_number", "E.164 caller id", false},
		}},
		{"speech", "speech", "Synthesize speech", []flagSpec{
			{"voice", "voice_id", "voice id", true},
			{"text", "text", "text to speak", true},
		}},
		{"video", "videos", "Generate a video summary", []flagSpec{
			{"title", "title", "video title", true},
			{"script", "script", "script to read", true},
			{"replica", "replica_id", "presenter replica id", true},
		}},
		{"translate", "translations", "Translate text", []flagSpec{
			{"text", "text", "text to translate", true},
			{"to", "target_locale", "target locale", true},
			{"from", "source_locale", "source locale", false},
		}},
		{"card", "cards", "Publish a business card", []flagSpec{
			{"name", "name", "full name", true},
			{"email", "email", "email address", false},
			{"title", "title", "job title", false},
			{"company", "company", "company", false},
		}},
	}

	for _, action := range actions {
		values := make(map[string]*string, len(action.flags))
		var audioOut string
		sub := &cobra.Command{
			Use:   action.use,
			Short: action.short,
			Args:  cobra.NoArgs,
			RunE: c.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
				if err := c.app.requireGateway(); err != nil {
					return err
				}
				owner, err := c.app.sessions.CurrentOwner(ctx)
				if err != nil {
					return describe(err)
				}
				body := make(map[string]any, len(values))
				for key, v := range values {
					if *v != "" {
						body[key] = *v
					}
				}
				res, err := c.app.client.Action(ctx, owner.ID, action.name, body)
				if err != nil {
					return describe(err)
				}

				w := cmd.OutOrStdout()
				mode := "live"
				if res.Result.Demo {
					mode = "demo"
				}
				color.New(color.FgGreen).Fprintf(w, "  ✓ %s %s via %s (%s): %s\n", action.use, res.Result.Status, res.Result.Provider, mode, res.Result.ID)
				if res.Record != nil {
					fmt.Fprintf(w, "  Recorded as %s %s\n", res.Record.Category, res.Record.ID)
				}
				if audioOut != "" && res.Audio != "" {
					audio, err := base64.StdEncoding.DecodeString(res.Audio)
					if err != nil {
						return fmt.Errorf("decoding audio: %w", err)
					}
					if err := os.WriteFile(audioOut, audio, 0600); err != nil {
						return fmt.Errorf("writing audio: %w", err)
					}
					fmt.Fprintf(w, "  Audio written to %s\n", audioOut)
				}
				return nil
			}),
		}
		for _, f := range action.flags {
			values[f.key] = sub.Flags().String(f.name, "", f.usage)
			if f.required {
				_ = sub.MarkFlagRequired(f.name)
			}
		}
		if action.name == "speech" {
			sub.Flags().StringVarP(&audioOut, "out", "o", "", "write synthesized audio to this file")
		}
		cmd.AddCommand(sub)
	}
	return cmd
}

// parseFields merges a JSON object with key=value assignments. Assignment
// values are decoded as JSON when they parse, so 0.7 is a number and null
// removes a field; anything else is kept as a string.
func parseFields(data string, sets []string) (map[string]any, error) {
	fields := map[string]any{}
	if data != "" {
		if err := json.Unmarshal([]byte(data), &fields); err != nil {
			return nil, fmt.Errorf("--data must be a JSON object: %w", err)
		}
	}
	for _, kv := range sets {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("--set %q must be key=value", kv)
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			fields[k] = decoded
		} else {
			fields[k] = v
		}
	}
	return fields, nil
}

func readPassword(cmd *cobra.Command, fromStdin bool) (string, error) {
	if !fromStdin && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(pw), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// describe adds a hint to errors the user can act on.
func describe(err error) error {
	var verr *record.ValidationError
	var rl *record.RateLimitedError
	switch {
	case errors.As(err, &verr):
		lines := make([]string, 0, len(verr.Violations))
		for _, v := range verr.Violations {
			lines = append(lines, fmt.Sprintf("  %s: %s", v.Field, v.Message))
		}
		return fmt.Errorf("invalid input:\n%s", strings.Join(lines, "\n"))
	case errors.As(err, &rl):
		return fmt.Errorf("too many attempts, try again in %s", rl.RetryAfter.Round(time.Second))
	case errors.Is(err, record.ErrUnauthorized):
		return fmt.Errorf("%w (run: blvckwall login --email you@example.com)", err)
	default:
		return err
	}
}
