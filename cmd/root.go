package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdcore "github.com/transientvm/transient/cmd/core"
	cmdgc "github.com/transientvm/transient/cmd/gc"
	cmdimage "github.com/transientvm/transient/cmd/image"
	cmdvm "github.com/transientvm/transient/cmd/vm"
	"github.com/transientvm/transient/config"
)

var (
	cfgFile string
	conf    *config.Config
)

var rootCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "transient",
		Short:        "transient - a container-like VM manager over a QEMU-compatible hypervisor",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(cmdcore.CommandContext(cmd))
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.PersistentFlags().String("data-dir", "", "data root directory")
	cmd.PersistentFlags().String("backend-dir", "", "backend image directory")
	cmd.PersistentFlags().String("vmstore-dir", "", "VM state directory")
	cmd.PersistentFlags().String("hypervisor-binary", "", "QEMU-compatible hypervisor binary")
	cmd.PersistentFlags().String("net-driver", "", "virtual NIC device model")

	_ = viper.BindPFlag("data-dir", cmd.PersistentFlags().Lookup("data-dir"))
	_ = viper.BindPFlag("backend-dir", cmd.PersistentFlags().Lookup("backend-dir"))
	_ = viper.BindPFlag("vmstore-dir", cmd.PersistentFlags().Lookup("vmstore-dir"))
	_ = viper.BindPFlag("hypervisor-binary", cmd.PersistentFlags().Lookup("hypervisor-binary"))
	_ = viper.BindPFlag("net-driver", cmd.PersistentFlags().Lookup("net-driver"))

	viper.SetEnvPrefix("TRANSIENT")
	viper.AutomaticEnv()

	confProvider := func() *config.Config { return conf }
	base := cmdcore.BaseHandler{ConfProvider: confProvider}

	cmd.AddCommand(cmdvm.Commands(cmdvm.Handler{BaseHandler: base})...)
	cmd.AddCommand(cmdimage.Commands(cmdimage.Handler{BaseHandler: base})...)
	cmd.AddCommand(cmdgc.Commands(cmdgc.Handler{BaseHandler: base})...)
	cmd.AddCommand(versionCmd)

	return cmd
}()

// Execute is the main entry point called from main.go.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}

func initConfig(ctx context.Context) error {
	var err error
	conf, err = config.LoadConfigFile(cfgFile)
	if err != nil {
		return err
	}

	if v := viper.GetString("data-dir"); v != "" {
		conf.DataDir = v
	}
	if v := viper.GetString("backend-dir"); v != "" {
		conf.BackendDir = v
	}
	if v := viper.GetString("vmstore-dir"); v != "" {
		conf.VmstoreDir = v
	}
	if v := viper.GetString("hypervisor-binary"); v != "" {
		conf.HypervisorBinary = v
	}
	if v := viper.GetString("net-driver"); v != "" {
		conf.NetDriver = v
	}

	conf.ResolveDataDir()
	if err := conf.EnsureDirs(); err != nil {
		return fmt.Errorf("ensure dirs: %w", err)
	}

	return log.SetupLog(ctx, conf.Log, "")
}
