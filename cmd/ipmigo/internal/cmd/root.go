package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/relayctl/ipmigo"
)

var (
	profilesFile string
	profileName  string
	verbose      bool

	profiles *ipmigo.ConnectionProfileFile
	logger   zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ipmigo",
	Short: "Command-line client for IPMI-managed hardware",
	Long: `ipmigo talks IPMI 2.0 (and legacy 1.5) to a BMC, either over the
network (RMCP/RMCP+) or through a local /dev/ipmiN character device, using
named connection profiles from a YAML file.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := zerolog.InfoLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			Level(level).
			With().
			Timestamp().
			Str("invocation", uuid.NewString()).
			Logger()

		path := profilesFile
		if path == "" {
			path = viper.GetString("profiles_file")
		}
		if path == "" {
			return nil // commands that don't need a profile still run
		}

		f, err := ipmigo.LoadConnectionProfiles(path)
		if err != nil {
			return fmt.Errorf("failed to load connection profiles: %w", err)
		}
		profiles = f
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	home, _ := os.UserHomeDir()
	defaultProfiles := filepath.Join(home, ".ipmigo", "profiles.yaml")

	rootCmd.PersistentFlags().StringVar(&profilesFile, "profiles", "", "connection profiles YAML file (default "+defaultProfiles+")")
	rootCmd.PersistentFlags().StringVarP(&profileName, "profile", "P", "", "connection profile name (default: the file's own default)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	viper.SetDefault("profiles_file", defaultProfiles)
	viper.BindPFlag("profiles_file", rootCmd.PersistentFlags().Lookup("profiles"))
}

// dialProfile resolves the active profile and returns a Client for it,
// passing the invocation's logger through.
func dialProfile() (*ipmigo.Client, error) {
	if profiles == nil {
		return nil, fmt.Errorf("no connection profiles loaded; pass --profiles")
	}
	p, err := profiles.Profile(profileName)
	if err != nil {
		return nil, err
	}
	return p.Dial(ipmigo.WithLogger(logger))
}
