package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"cr-go/internal/app"
	"cr-go/internal/config"
	"cr-go/internal/cr"
	"cr-go/internal/wastebin"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a CRApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "CreateNode", "Delete").
func newApp(ctx context.Context, operation string) (*app.CRApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewCRApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

func parseID(s string) (cr.ObjectID, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid object id %q", s)
	}
	return cr.ObjectID(id), nil
}

func modeFlag(cmd *cobra.Command) (wastebin.Mode, error) {
	s, err := cmd.Flags().GetString("wastebin")
	if err != nil {
		return wastebin.Exclude, err
	}
	return wastebin.ParseMode(s)
}

// disinheritSpec reads the disinherit flags. A misread flag must not turn
// into an empty exclusion list, which would clear the stored settings.
func disinheritSpec(cmd *cobra.Command) (app.DisinheritSpec, error) {
	var (
		spec app.DisinheritSpec
		err  error
	)
	flags := cmd.Flags()
	if spec.Default, err = flags.GetBool("default"); err != nil {
		return spec, err
	}
	if spec.Excluded, err = flags.GetStringSlice("exclude"); err != nil {
		return spec, err
	}
	if spec.Included, err = flags.GetStringSlice("include"); err != nil {
		return spec, err
	}
	if spec.Recursive, err = flags.GetBool("recursive"); err != nil {
		return spec, err
	}
	return spec, nil
}

var rootCmd = &cobra.Command{
	Use:          "cr",
	Short:        "Multichannel content repository",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init PRINCIPAL",
	Short: "Initialize configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(args[0], defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Principal: %s\n", cfg.Principal)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Principal:  %s\n", cfg.Principal)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Database:   %s\n", cfg.Database.Type)
		fmt.Printf("Locks:      %s\n", cfg.Locks.Backend)
		fmt.Printf("Snapshots:  %s\n", cfg.Snapshots.Type)
		fmt.Printf("Encryption: %v\n", cfg.Encryption.Enabled)
		return nil
	},
}

// node command
var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage nodes and channels",
}

var nodeCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a root node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pubDir, _ := cmd.Flags().GetBool("pub-dir-segment")

		a, err := newApp(cmd.Context(), "CreateNode")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.CreateNode(cmd.Context(), args[0], pubDir)
		if err != nil {
			return fmt.Errorf("creating node: %w", err)
		}
		fmt.Printf("Created node %s (#%d), root folder %d\n", n.Name, n.ID, n.RootFolderID)
		return nil
	},
}

var channelCreateCmd = &cobra.Command{
	Use:   "channel MASTER NAME",
	Short: "Create a channel below MASTER",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CreateChannel")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.CreateChannel(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("creating channel: %w", err)
		}
		fmt.Printf("Created channel %s (#%d) of %s\n", n.Name, n.ID, args[0])
		return nil
	},
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List nodes and channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ListNodes")
		if err != nil {
			return err
		}
		defer a.Close()

		nodes, err := a.ListNodes(cmd.Context())
		if err != nil {
			return err
		}
		if len(nodes) == 0 {
			fmt.Println("No nodes.")
			return nil
		}
		printNodes(nodes)
		return nil
	},
}

var nodeChainCmd = &cobra.Command{
	Use:   "chain CHANNEL",
	Short: "Show the master chain of a channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "MasterChain")
		if err != nil {
			return err
		}
		defer a.Close()

		chain, err := a.MasterChain(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printNodes(chain)
		return nil
	},
}

// object commands
var createCmd = &cobra.Command{
	Use:   "create FOLDER TYPE NAME",
	Short: "Create an object in a folder",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, _ := cmd.Flags().GetString("channel")
		size, _ := cmd.Flags().GetInt64("size")
		language, _ := cmd.Flags().GetString("language")
		overwrite, _ := cmd.Flags().GetBool("overwrite")

		folder, err := parseID(args[0])
		if err != nil {
			return err
		}
		req := cr.CreateRequest{
			FolderID: folder,
			Type:     cr.ObjectType(args[1]),
			Name:     args[2],
			Size:     size,
			Language: language,
		}
		if overwrite {
			req.OnConflict = cr.ConflictOverwrite
		}

		a, err := newApp(cmd.Context(), "CreateObject")
		if err != nil {
			return err
		}
		defer a.Close()

		obj, err := a.CreateObject(cmd.Context(), channel, req)
		if err != nil {
			return fmt.Errorf("creating object: %w", err)
		}
		fmt.Printf("Created %s %q (#%d)\n", obj.Type, obj.Name, obj.ChannelSetID)
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls FOLDER",
	Short: "List a folder as seen from a channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, _ := cmd.Flags().GetString("channel")
		mode, err := modeFlag(cmd)
		if err != nil {
			return err
		}
		folder, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "ListFolder")
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.List(cmd.Context(), folder, channel, mode)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("Folder is empty.")
			return nil
		}
		printResolved(items)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show OBJECT",
	Short: "Resolve an object in a channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, _ := cmd.Flags().GetString("channel")
		all, _ := cmd.Flags().GetBool("variants")
		mode, err := modeFlag(cmd)
		if err != nil {
			return err
		}
		cs, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Show")
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.Show(cmd.Context(), cs, channel, mode)
		if err != nil {
			return err
		}
		printResolved([]*cr.Resolved{r})

		if all {
			variants, err := a.Variants(cmd.Context(), cs)
			if err != nil {
				return err
			}
			fmt.Println()
			printObjects(variants)
		}
		return nil
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename OBJECT NAME",
	Short: "Rename an object, localizing it in a channel",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, _ := cmd.Flags().GetString("channel")
		cs, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Rename")
		if err != nil {
			return err
		}
		defer a.Close()

		obj, err := a.Rename(cmd.Context(), cs, channel, args[1])
		if err != nil {
			return fmt.Errorf("renaming: %w", err)
		}
		fmt.Printf("Renamed #%d to %q (row %d)\n", cs, obj.Name, obj.ID)
		return nil
	},
}

var localizeCmd = &cobra.Command{
	Use:   "localize OBJECT CHANNEL",
	Short: "Create a channel-local copy",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cs, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Localize")
		if err != nil {
			return err
		}
		defer a.Close()

		obj, err := a.Localize(cmd.Context(), cs, args[1])
		if err != nil {
			return fmt.Errorf("localizing: %w", err)
		}
		fmt.Printf("Localized #%d in %s (row %d)\n", cs, args[1], obj.ID)
		return nil
	},
}

var unlocalizeCmd = &cobra.Command{
	Use:   "unlocalize OBJECT CHANNEL",
	Short: "Remove a channel-local copy",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cs, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Unlocalize")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Unlocalize(cmd.Context(), cs, args[1]); err != nil {
			return fmt.Errorf("unlocalizing: %w", err)
		}
		fmt.Printf("%s inherits #%d again\n", args[1], cs)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete OBJECT",
	Short: "Move an object to the wastebin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, _ := cmd.Flags().GetString("channel")
		cs, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Delete")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Delete(cmd.Context(), cs, channel)
		if err != nil {
			return fmt.Errorf("deleting: %w", err)
		}
		fmt.Printf("Moved %d object(s), %d row(s) to the wastebin\n", res.ChannelSets, res.Rows)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore OBJECT",
	Short: "Restore an object from the wastebin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cs, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Restore")
		if err != nil {
			return err
		}
		defer a.Close()

		obj, err := a.Restore(cmd.Context(), cs)
		if err != nil {
			return fmt.Errorf("restoring: %w", err)
		}
		fmt.Printf("Restored %q (#%d)\n", obj.Name, cs)
		return nil
	},
}

var wastebinCmd = &cobra.Command{
	Use:   "wastebin NODE",
	Short: "List deleted objects of a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, _ := cmd.Flags().GetString("channel")

		a, err := newApp(cmd.Context(), "ListWastebin")
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.Wastebin(cmd.Context(), args[0], channel)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("Wastebin is empty.")
			return nil
		}
		printResolved(items)
		return nil
	},
}

var disinheritCmd = &cobra.Command{
	Use:   "disinherit OBJECT",
	Short: "Set the channels an object is hidden from",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := disinheritSpec(cmd)
		if err != nil {
			return err
		}
		cs, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "SetDisinheritance")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.SetDisinheritance(cmd.Context(), cs, spec)
		if err != nil {
			return fmt.Errorf("setting disinheritance: %w", err)
		}
		d := res.Disinheritance
		fmt.Printf("default=%v excluded=%v included=%v\n", d.Default, d.Excluded, d.Included)
		if len(res.Orphaned) > 0 {
			fmt.Printf("Channels with orphaned copies: %v\n", res.Orphaned)
		}
		return nil
	},
}

var translateCmd = &cobra.Command{
	Use:   "translate PAGE LANGUAGE",
	Short: "Find or create a page translation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Translate")
		if err != nil {
			return err
		}
		defer a.Close()

		obj, created, err := a.Translate(cmd.Context(), page, args[1])
		if err != nil {
			return fmt.Errorf("translating: %w", err)
		}
		verb := "Found"
		if created {
			verb = "Created"
		}
		fmt.Printf("%s %s translation %q (#%d)\n", verb, obj.Language, obj.Name, obj.ChannelSetID)

		pages, err := a.Translations(cmd.Context(), obj.ContentSetID)
		if err != nil {
			return err
		}
		printObjects(pages)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import PATH FOLDER",
	Short: "Import a local directory tree into a folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, _ := cmd.Flags().GetString("channel")
		stats, _ := cmd.Flags().GetBool("stats")
		folder, err := parseID(args[1])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Import")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Import(cmd.Context(), args[0], folder, channel)
		if err != nil {
			return fmt.Errorf("importing: %w", err)
		}
		fmt.Printf("Imported %d folder(s), %d file(s)\n", res.Folders, res.Files)

		if stats {
			lockStats, err := a.LockStats()
			if err != nil {
				return err
			}
			printLockStats(lockStats)
		}
		return nil
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant PRINCIPAL NODE ACTION",
	Short: "Allow or deny an action on a node or channel",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		deny, _ := cmd.Flags().GetBool("deny")
		action := cr.Action(args[2])
		if !action.Valid() {
			return fmt.Errorf("unknown action %q", args[2])
		}

		a, err := newApp(cmd.Context(), "Grant")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Grant(cmd.Context(), args[0], args[1], action, !deny); err != nil {
			return err
		}
		verb := "Allowed"
		if deny {
			verb = "Denied"
		}
		fmt.Printf("%s %s for %s on %s\n", verb, action, args[0], args[1])
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "GetHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.GetHistory(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}
		printOperations(ops)
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// node subcommands
	nodeCmd.AddCommand(nodeCreateCmd)
	nodeCreateCmd.Flags().Bool("pub-dir-segment", false, "Compare folder names sanitized")
	nodeCmd.AddCommand(channelCreateCmd)
	nodeCmd.AddCommand(nodeListCmd)
	nodeCmd.AddCommand(nodeChainCmd)

	for _, c := range []*cobra.Command{createCmd, lsCmd, showCmd, renameCmd, deleteCmd, wastebinCmd, importCmd} {
		c.Flags().StringP("channel", "c", "", "Channel context (default: the root node)")
	}
	for _, c := range []*cobra.Command{lsCmd, showCmd} {
		c.Flags().String("wastebin", "exclude", "Wastebin mode: exclude, include or only")
	}
	createCmd.Flags().Int64("size", 0, "Content size in bytes")
	createCmd.Flags().String("language", "", "Page language")
	createCmd.Flags().Bool("overwrite", false, "Update an existing object of the same type")
	showCmd.Flags().Bool("variants", false, "Also list every stored row")
	disinheritCmd.Flags().Bool("default", false, "Hide from every channel not included")
	disinheritCmd.Flags().StringSlice("exclude", nil, "Channels to hide from")
	disinheritCmd.Flags().StringSlice("include", nil, "Channels to show in when --default is set")
	disinheritCmd.Flags().BoolP("recursive", "r", false, "Apply exclusions to sub-channels too")
	importCmd.Flags().Bool("stats", false, "Print lock statistics")
	grantCmd.Flags().Bool("deny", false, "Store a denial instead of a grant")
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(localizeCmd)
	rootCmd.AddCommand(unlocalizeCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(wastebinCmd)
	rootCmd.AddCommand(disinheritCmd)
	rootCmd.AddCommand(translateCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(keysCmd)
}
