package cmd

import (
	"fmt"
	"os"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "skitter",
	Short: "skitter runs and deploys distributed stream-processing workflows",
	Long:  `skitter starts a master or worker node and deploys operation/strategy workflows onto a running cluster.`,
}

// Execute runs the root command, exiting with the code documented for
// skitter's CLI entry points (spec §6: 0 normal, 64 invalid config, 65
// cluster join failure, 70 internal invariant violation).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(exitCodeFor(err))
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.skitter.yaml)")
	rootCmd.PersistentFlags().String("topology", "", "path to a YAML topology file to deploy on startup")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(64)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".skitter")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}
