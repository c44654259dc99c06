// Package vm implements the "create", "run", "start", "stop", "rm", "ssh",
// "cp", and "ps" cobra verbs.
package vm

import (
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	cmdcore "github.com/transientvm/transient/cmd/core"
	"github.com/transientvm/transient/discovery"
	"github.com/transientvm/transient/types"
)

// Handler carries the shared BaseHandler for every vm verb.
type Handler struct {
	cmdcore.BaseHandler
}

// Commands returns every vm-related cobra command.
func Commands(h Handler) []*cobra.Command {
	return []*cobra.Command{
		h.createCmd(),
		h.runCmd(),
		h.startCmd(),
		h.rmCmd(),
		h.stopCmd(),
		h.sshCmd(),
		h.cpCmd(),
		h.psCmd(),
	}
}

func createFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "VM name (generated if omitted)")
	cmd.Flags().Int("cpu", 1, "vCPU count")
	cmd.Flags().String("memory", "512M", "memory size (e.g. 512M, 2G)")
	cmd.Flags().String("storage", "4G", "primary disk size (e.g. 4G)")
	cmd.Flags().StringSlice("extra-disk", nil, "additional backend image, repeatable")
	cmd.Flags().StringSlice("copy-in", nil, "host:guest path copied in before boot, repeatable")
	cmd.Flags().StringSlice("copy-out", nil, "guest:host path copied out after shutdown, repeatable")
	cmd.Flags().StringSlice("shared-folder", nil, "host:guest directory mounted live, repeatable")
}

func startFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("stateless", false, "discard all writes on exit (-snapshot)")
	cmd.Flags().String("ssh", "", `command to run over ssh ("-" for an interactive login shell)`)
	cmd.Flags().Int("shutdown-timeout", 30, "seconds to wait for graceful shutdown") //nolint:mnd
	cmd.Flags().Int("kill-after", 10, "seconds to wait after SIGTERM before SIGKILL") //nolint:mnd
}

// oneArgBeforeDash accepts exactly one positional argument before "--";
// everything after "--" is hypervisor passthrough and is not counted.
func oneArgBeforeDash(cmd *cobra.Command, args []string) error {
	n := len(args)
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		n = dash
	}
	if n != 1 {
		return fmt.Errorf("accepts 1 arg(s) before \"--\", received %d", n)
	}
	return nil
}

func createConfigFromFlags(cmd *cobra.Command, image string) (types.CreateConfig, error) {
	name, _ := cmd.Flags().GetString("name")
	cpu, _ := cmd.Flags().GetInt("cpu")
	memStr, _ := cmd.Flags().GetString("memory")
	storStr, _ := cmd.Flags().GetString("storage")
	extraDisks, _ := cmd.Flags().GetStringSlice("extra-disk")
	copyInRaw, _ := cmd.Flags().GetStringSlice("copy-in")
	copyOutRaw, _ := cmd.Flags().GetStringSlice("copy-out")
	sharedRaw, _ := cmd.Flags().GetStringSlice("shared-folder")

	mem, err := cmdcore.ParseSize(memStr)
	if err != nil {
		return types.CreateConfig{}, err
	}
	stor, err := cmdcore.ParseSize(storStr)
	if err != nil {
		return types.CreateConfig{}, err
	}
	copyIn, err := cmdcore.ParsePathMappings(copyInRaw)
	if err != nil {
		return types.CreateConfig{}, err
	}
	copyOut, err := cmdcore.ParsePathMappings(copyOutRaw)
	if err != nil {
		return types.CreateConfig{}, err
	}
	shared, err := cmdcore.ParsePathMappings(sharedRaw)
	if err != nil {
		return types.CreateConfig{}, err
	}

	return types.CreateConfig{
		Name:          name,
		Image:         image,
		CPU:           cpu,
		Memory:        mem,
		Storage:       stor,
		ExtraDisks:    extraDisks,
		CopyInBefore:  copyIn,
		CopyOutAfter:  copyOut,
		SharedFolders: shared,
	}, nil
}

func startConfigFromFlags(cmd *cobra.Command, args []string) (types.StartConfig, error) {
	stateless, _ := cmd.Flags().GetBool("stateless")
	sshCmd, _ := cmd.Flags().GetString("ssh")
	shutdownSecs, _ := cmd.Flags().GetInt("shutdown-timeout")
	killAfterSecs, _ := cmd.Flags().GetInt("kill-after")

	shutdown := time.Duration(shutdownSecs) * time.Second
	killAfter := time.Duration(killAfterSecs) * time.Second

	return types.StartConfig{
		Stateless:       &stateless,
		SSHCommand:      &sshCmd,
		ShutdownTimeout: &shutdown,
		KillAfter:       &killAfter,
		HypervisorArgs:  cmdcore.HypervisorArgs(cmd, args),
	}, nil
}

func (h Handler) createCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <image>",
		Short: "Create a persisted VM from an image without starting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, conf, err := h.Init(cmd)
			if err != nil {
				return err
			}
			cc, err := createConfigFromFlags(cmd, args[0])
			if err != nil {
				return err
			}
			name, err := cmdcore.VMStore(conf).Create(ctx, cc, nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), name)
			return nil
		},
	}
	createFlags(cmd)
	return cmd
}

func (h Handler) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "run <image> [-- hypervisor-args...]",
		Short:              "Create (if needed) and start a VM, blocking until it exits",
		Args:               oneArgBeforeDash,
		DisableFlagParsing: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, conf, err := h.Init(cmd)
			if err != nil {
				return err
			}
			cc, err := createConfigFromFlags(cmd, args[0])
			if err != nil {
				return err
			}
			sc, err := startConfigFromFlags(cmd, args)
			if err != nil {
				return err
			}
			rc := types.Compose(cc, sc)
			result, err := cmdcore.Controller(conf).Run(ctx, rc)
			if err != nil {
				return err
			}
			if result.ExitCode != 0 {
				os.Exit(result.ExitCode)
			}
			return nil
		},
	}
	createFlags(cmd)
	startFlags(cmd)
	return cmd
}

func (h Handler) startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <name> [-- hypervisor-args...]",
		Short: "Start a previously created VM, blocking until it exits",
		Args:  oneArgBeforeDash,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, conf, err := h.Init(cmd)
			if err != nil {
				return err
			}
			name := args[0]
			store := cmdcore.VMStore(conf)
			snap, ok := store.UnlockedSnapshot(name)
			if !ok {
				return fmt.Errorf("vm %s not found", name)
			}
			sc, err := startConfigFromFlags(cmd, args)
			if err != nil {
				return err
			}
			rc := types.Compose(snap.Config, sc)
			rc.Name = name
			result, err := cmdcore.Controller(conf).Run(ctx, rc)
			if err != nil {
				return err
			}
			if result.ExitCode != 0 {
				os.Exit(result.ExitCode)
			}
			return nil
		},
	}
	startFlags(cmd)
	return cmd
}

func (h Handler) rmCmd() *cobra.Command {
	force := false
	cmd := &cobra.Command{
		Use:   "rm <name>",
		Short: "Remove a persisted VM's state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, conf, err := h.Init(cmd)
			if err != nil {
				return err
			}
			store := cmdcore.VMStore(conf)
			if force {
				return store.ForceRm(args[0])
			}
			return store.RmByName(ctx, args[0], nil)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "remove without locking (only once you know no process holds it)")
	return cmd
}

func (h Handler) stopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <name>",
		Short: "Gracefully stop a running VM, signalling its controlling process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, conf, err := h.Init(cmd)
			if err != nil {
				return err
			}
			instances, err := discovery.List(ctx, discovery.NewRegistry(), discovery.Filter{Name: args[0], VmstorePath: conf.VmstoreDir}, 0)
			if err != nil {
				return err
			}
			if len(instances) == 0 {
				return fmt.Errorf("no running instance named %s", args[0])
			}
			proc, err := os.FindProcess(instances[0].ControllerPID)
			if err != nil {
				return fmt.Errorf("find controller process %d: %w", instances[0].ControllerPID, err)
			}
			return proc.Signal(syscall.SIGTERM)
		},
	}
	return cmd
}

func (h Handler) psCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List running VMs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, conf, err := h.Init(cmd)
			if err != nil {
				return err
			}
			instances, err := discovery.List(ctx, discovery.NewRegistry(), discovery.Filter{VmstorePath: conf.VmstoreDir}, 0)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0) //nolint:mnd
			fmt.Fprintln(w, "NAME\tIMAGE\tSTATELESS\tSSH PORT\tPID")
			for _, inst := range instances {
				fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%d\n", inst.Name, inst.PrimaryImage, inst.Stateless, inst.SSHPort, inst.ControllerPID)
			}
			return w.Flush()
		},
	}
	return cmd
}
