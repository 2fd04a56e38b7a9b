package cmd

import (
	"fmt"
	"os"
	"reflect"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sevenDatabase/controltower/internal/config"
	"github.com/sevenDatabase/controltower/server"
)

func init() {
	flags := rootCmd.PersistentFlags()

	c := config.TowerConfig{}
	t := reflect.TypeOf(c)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := field.Tag.Get("mapstructure")
		desc := field.Tag.Get("description")
		def := field.Tag.Get("default")

		switch field.Type.Kind() {
		case reflect.String:
			flags.String(name, def, desc)
		case reflect.Int, reflect.Int64:
			val, _ := strconv.ParseInt(def, 10, 64)
			flags.Int64(name, val, desc)
		case reflect.Uint64:
			val, _ := strconv.ParseUint(def, 10, 64)
			flags.Uint64(name, val, desc)
		case reflect.Bool:
			val, _ := strconv.ParseBool(def)
			flags.Bool(name, val, desc)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "sevendb-tower",
	Short: "sevendb-tower - the Control Tower Topic Tailer, runnable standalone",
	Run: func(cmd *cobra.Command, args []string) {
		config.Load(cmd.Flags())
		server.Start()
	},
}

var initCmd = &cobra.Command{
	Use:   "init-config",
	Short: "write the merged configuration to controltower.yaml",
	Run: func(cmd *cobra.Command, args []string) {
		config.InitConfig(cmd.Flags())
	},
}

func init() {
	initCmd.Flags().Bool("overwrite", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
