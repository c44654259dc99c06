// Package image implements the "image" command group: ls, build, rm, commit.
package image

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	cmdcore "github.com/transientvm/transient/cmd/core"
	"github.com/transientvm/transient/build"
	"github.com/transientvm/transient/images"
)

// Handler carries the shared BaseHandler for every image verb.
type Handler struct {
	cmdcore.BaseHandler
}

// Commands returns every image-related cobra command, nested under "image".
func Commands(h Handler) []*cobra.Command {
	group := &cobra.Command{
		Use:   "image",
		Short: "Manage backend images",
	}
	group.AddCommand(h.lsCmd(), h.buildCmd(), h.rmCmd(), h.commitCmd())
	return []*cobra.Command{group}
}

func (h Handler) lsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List backend images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, conf, err := h.Init(cmd)
			if err != nil {
				return err
			}
			entries, err := os.ReadDir(conf.BackendDir)
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return fmt.Errorf("list backend dir: %w", err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0) //nolint:mnd
			fmt.Fprintln(w, "NAME\tSIZE")
			for _, e := range entries {
				if e.IsDir() || e.Name() == ".working" {
					continue
				}
				name, decErr := images.DecodeName(e.Name())
				if decErr != nil {
					continue
				}
				info, infoErr := e.Info()
				if infoErr != nil {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\n", name, cmdcore.FormatSize(info.Size()))
			}
			return w.Flush()
		},
	}
	return cmd
}

func (h Handler) rmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <name>",
		Short: "Delete a backend image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, conf, err := h.Init(cmd)
			if err != nil {
				return err
			}
			return cmdcore.ImageStore(conf).Delete(args[0])
		},
	}
	return cmd
}

func (h Handler) commitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit <vm-name> <new-image-name>",
		Short: "Flatten a VM's primary disk into a new backend image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, conf, err := h.Init(cmd)
			if err != nil {
				return err
			}
			vmName, imageName := args[0], args[1]
			store := cmdcore.VMStore(conf)
			handle, err := store.LockByName(ctx, vmName, nil)
			if err != nil {
				return fmt.Errorf("lock vm %s: %w", vmName, err)
			}
			defer handle.Unlock() //nolint:errcheck

			diskPaths, err := handle.DiskPaths()
			if err != nil {
				return fmt.Errorf("resolve disks for %s: %w", vmName, err)
			}
			backend, err := cmdcore.ImageStore(conf).Commit(ctx, imageName, diskPaths[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), backend.Name)
			return nil
		},
	}
	return cmd
}

func (h Handler) buildCmd() *cobra.Command {
	var (
		local      bool
		outputName string
	)
	cmd := &cobra.Command{
		Use:   "build <context-dir>",
		Short: "Build a backend image from an Imagefile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, conf, err := h.Init(cmd)
			if err != nil {
				return err
			}
			contextDir := args[0]
			raw, err := os.ReadFile(filepath.Join(contextDir, "Imagefile")) //nolint:gosec
			if err != nil {
				return fmt.Errorf("read Imagefile: %w", err)
			}
			lines, err := build.Lex(string(raw))
			if err != nil {
				return fmt.Errorf("lex Imagefile: %w", err)
			}
			prog, err := build.Parse(lines)
			if err != nil {
				return fmt.Errorf("parse Imagefile: %w", err)
			}
			if err := build.Check(prog); err != nil {
				return fmt.Errorf("check Imagefile: %w", err)
			}

			if outputName == "" {
				outputName = filepath.Base(contextDir)
			}
			result, err := build.Execute(ctx, prog, build.Config{
				HypervisorBinary:  conf.HypervisorBinary,
				NetDriver:         conf.NetDriver,
				SSHIdentityKey:    conf.SSHIdentityKey,
				MaintenanceKernel: conf.MaintenanceKernel,
				MaintenanceInitrd: conf.MaintenanceInitrd,
				RuntimeDir:        conf.RuntimeDir(),
				ContextDir:        contextDir,
				BuildDir:          conf.WorkingDir(),
				Images:            cmdcore.ImageStore(conf),
				Local:             local,
				OutputName:        outputName,
			}, nil)
			if err != nil {
				return err
			}
			if local {
				fmt.Fprintln(cmd.OutOrStdout(), result.LocalPath)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), result.Backend.Name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "leave the built disk as a local qcow2 instead of promoting it to a backend image")
	cmd.Flags().StringVar(&outputName, "name", "", "output image name (defaults to the context directory's base name)")
	return cmd
}
