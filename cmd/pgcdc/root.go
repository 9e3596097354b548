package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nodalflow/pgcdc/pkg/config"
)

var cfgFile string
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "pgcdc",
	Short: "pgcdc streams PostgreSQL logical replication changes to a sink",
	Long:  `pgcdc decodes pgoutput logical replication messages and streams change events to a pluggable downstream sink (debug, kafka, clickhouse, mqtt, nats).`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/pgcdc.yaml)")
	rootCmd.PersistentFlags().String("source.dsn", "", "PostgreSQL logical replication connection string")
	rootCmd.PersistentFlags().String("source.publicationName", "", "publication to stream from")
	rootCmd.PersistentFlags().String("source.slotName", "", "replication slot name")
	rootCmd.PersistentFlags().String("sink.name", "debug", "sink to publish change events to")

	viper.BindPFlag("source.dsn", rootCmd.PersistentFlags().Lookup("source.dsn"))
	viper.BindPFlag("source.publicationName", rootCmd.PersistentFlags().Lookup("source.publicationName"))
	viper.BindPFlag("source.slotName", rootCmd.PersistentFlags().Lookup("source.slotName"))
	viper.BindPFlag("sink.name", rootCmd.PersistentFlags().Lookup("sink.name"))

	rootCmd.AddCommand(runCmd)
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Println("Error loading config:", err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}
