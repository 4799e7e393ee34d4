package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	host     string
	port     int
	jsonOut  bool
	verbose  bool
	user     string
	password string

	// Version is set from main.
	Version = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   "petmood",
	Short: "Pet emotion model retraining service",
	Long: `petmood retrains the pet emotion classifier from user feedback on a
schedule, evaluates each candidate against a held-out validation set and
manages activation, backups and rollback of model artifacts.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&host, "host", "localhost", "server host")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", 8090, "server port")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&user, "user", "", "auth username")
	rootCmd.PersistentFlags().StringVar(&password, "password", "", "auth password")
}

// SetVersion sets the version reported by --version.
func SetVersion(v string) {
	Version = v
	rootCmd.Version = v
}

// GetServerURL returns the server URL based on flags.
func GetServerURL() string {
	return fmt.Sprintf("http://%s:%d", host, port)
}

// GetAuth returns the basic auth credentials from the flags, falling back
// to PETMOOD_USER and PETMOOD_PASSWORD.
func GetAuth() (string, string) {
	u, p := user, password
	if u == "" {
		u = os.Getenv("PETMOOD_USER")
	}
	if p == "" {
		p = os.Getenv("PETMOOD_PASSWORD")
	}
	return u, p
}
