// Command curtin is the installer engine's CLI entrypoint: multicall
// dispatch, then one cobra subcommand per spec.md §6 operation. Grounded
// on curtin/commands/main.py's subcommand registry and
// mantle/cli/cli.go's bootstrap shape (via the cli package).
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	curtincli "github.com/canonical/curtin/cli"
	"github.com/canonical/curtin/config"
	"github.com/canonical/curtin/install"
	"github.com/canonical/curtin/internal/version"
	"github.com/canonical/curtin/storage"
	"github.com/canonical/curtin/storage/apply"
	"github.com/canonical/curtin/storage/holders"
	"github.com/canonical/curtin/storage/schema"
)

func main() {
	root := &cobra.Command{
		Use:   "curtin",
		Short: "curtin installs an operating system to a target disk",
	}

	root.AddCommand(
		newInstallCmd(),
		newValidateCmd(),
		newVersionCmd(),
		newFeaturesCmd(),
		newBlockInfoCmd(),
		newApplyStorageCmd(),
		newExternalStubCmd("apply-net", "network rendering is an external collaborator (spec.md §1 Non-goals)"),
		newExternalStubCmd("swap", "swap file management is an external collaborator"),
		newExternalStubCmd("in-target", "use 'curtin install' staged commands to run chrooted steps"),
		newExternalStubCmd("collect-logs", "log collection is an external collaborator (reporter/log subsystem)"),
		newExternalStubCmd("hook", "custom curthooks are supplied by the config's hook_commands stage"),
	)

	curtincli.Execute(root)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print curtin's version and exit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println(version.String())
			return nil
		},
	}
}

func newFeaturesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "features",
		Short: "Print the fixed feature-capability enumeration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println(version.FeatureString())
			return nil
		},
	}
}

func newValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "schema-validate",
		Short: "Validate a storage config's version and per-item schema.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return curtincli.NewUsageError("--config is required")
			}
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			storageRaw, _ := cfg["storage"].(map[string]interface{})
			sc, err := storage.FromInterface(storageRaw)
			if err != nil {
				return err
			}
			if err := schema.Validate(sc); err != nil {
				return err
			}
			cmd.Println("storage config is valid")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "storage config file to validate")
	return cmd
}

func newBlockInfoCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "block-info DEVICE...",
		Short: "Print the holder tree for one or more block devices.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, kname := range args {
				tree, err := holders.DiscoverTree(kname)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					if err := enc.Encode(tree); err != nil {
						return err
					}
				} else {
					printHolderTree(cmd, tree, 0)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output data in json form")
	return cmd
}

func printHolderTree(cmd *cobra.Command, n *holders.Node, depth int) {
	if n == nil {
		return
	}
	for i := 0; i < depth; i++ {
		fmt.Fprint(cmd.OutOrStdout(), "  ")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "- %s (%s)\n", n.Name, n.Type)
	for _, h := range n.Holders {
		printHolderTree(cmd, h, depth+1)
	}
}

func newApplyStorageCmd() *cobra.Command {
	var configPath, target string
	cmd := &cobra.Command{
		Use:   "apply-storage",
		Short: "Apply a storage config's linearized actions to real devices.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return curtincli.NewUsageError("--config is required")
			}
			if target == "" {
				target = os.Getenv("TARGET_MOUNT_POINT")
			}
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			storageRaw, _ := cfg["storage"].(map[string]interface{})
			sc, err := storage.FromInterface(storageRaw)
			if err != nil {
				return err
			}
			if err := schema.Validate(sc); err != nil {
				return err
			}
			ctx := apply.NewContext(target)
			return apply.Apply(ctx, sc.Items)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "storage config file to apply")
	cmd.Flags().StringVar(&target, "target", "", "target mount point (defaults to TARGET_MOUNT_POINT)")
	return cmd
}

func newInstallCmd() *cobra.Command {
	var configPaths []string
	cmd := &cobra.Command{
		Use:   "install [sources...]",
		Short: "Run the staged install pipeline.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Config{
				"sources": map[string]interface{}{},
				"stages":  toInterfaceSlice(install.DefaultStages),
			}
			for _, p := range configPaths {
				loaded, err := config.LoadConfig(p)
				if err != nil {
					return err
				}
				config.MergeConfig(cfg, loaded)
			}
			for i, src := range args {
				cfg["sources"].(map[string]interface{})[fmt.Sprintf("%02d_cmdline", i)] = src
			}
			if len(cfg["sources"].(map[string]interface{})) == 0 {
				return curtincli.NewUsageError("no sources provided to install")
			}
			config.NormalizeProxy(cfg)

			if installCfg, ok := cfg["install"].(map[string]interface{}); ok {
				minVersion, _ := installCfg["minimum_version"].(string)
				if err := version.RequireAtLeast(minVersion); err != nil {
					return err
				}
			}

			content, err := config.DumpConfig(cfg)
			if err != nil {
				return err
			}
			wd, err := install.NewWorkingDirectory([]byte(content))
			if err != nil {
				return err
			}

			unmountDisabled := false
			if installCfg, ok := cfg["install"].(map[string]interface{}); ok {
				unmountDisabled = fmt.Sprintf("%v", installCfg["unmount"]) == "disabled"
			}

			env := wd.Env(
				wd.Scratch+"/network_state.json",
				wd.Scratch+"/network_config.yaml",
				os.Getenv("CURTIN_REPORTSTACK"),
			)

			pipeline := install.Pipeline{
				Stages:   stageNames(cfg["stages"]),
				Commands: buildStages(cfg),
			}
			// Hold the unmount back until kernel-crash-dumps has had a chance
			// to run against the still-mounted target; tear down ourselves
			// afterward unless the config disabled it.
			runErr := pipeline.Run(wd, env, true)
			if runErr == nil {
				if crashCfg, ok := cfg["kernel-crash-dumps"].(map[string]interface{}); ok {
					runErr = install.KernelCrashDumps(crashCfg["enabled"], wd.Target)
				}
			}
			if unmountDisabled {
				return runErr
			}
			if closeErr := wd.Close(); closeErr != nil && runErr == nil {
				runErr = closeErr
			}
			return runErr
		},
	}
	cmd.Flags().StringArrayVarP(&configPaths, "config", "c", nil, "read configuration from cfg (repeatable)")
	return cmd
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func stageNames(raw interface{}) []string {
	list, _ := raw.([]interface{})
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func buildStages(cfg config.Config) map[string]install.Stage {
	stages := map[string]install.Stage{}
	for _, name := range stageNames(cfg["stages"]) {
		commands, _ := cfg[name+"_commands"].(map[string]interface{})
		stages[name] = install.Stage{Name: name, Commands: commands}
	}
	return stages
}

func newExternalStubCmd(use, reason string) *cobra.Command {
	return &cobra.Command{
		Use:    use,
		Hidden: false,
		Short:  "External collaborator, not implemented by this engine.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return curtincli.NewUsageError("%s: %s", use, reason)
		},
	}
}
