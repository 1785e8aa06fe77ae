package main

import (
	"os"
	"runtime"
	"runtime/debug"

	C "github.com/sagernet/sing-relay/constant"
	"github.com/sagernet/sing-relay/log"

	"github.com/spf13/cobra"
)

var commandVersion = &cobra.Command{
	Use:   "version",
	Short: "Print current version of sing-relay",
	Run: func(cmd *cobra.Command, args []string) {
		err := printVersion()
		if err != nil {
			log.Fatal(err)
		}
	},
	Args: cobra.NoArgs,
}

var nameOnly bool

func init() {
	commandVersion.Flags().BoolVarP(&nameOnly, "name", "n", false, "print version name only")
	mainCommand.AddCommand(commandVersion)
}

func printVersion() error {
	if nameOnly {
		os.Stdout.WriteString(C.Version + "\n")
		return nil
	}
	version := "sing-relay version " + C.Version + "\n\n"
	version += "Environment: " + runtime.Version() + " " + runtime.GOOS + "/" + runtime.GOARCH + "\n"
	var revision string
	var cgoEnabled bool
	debugInfo, loaded := debug.ReadBuildInfo()
	if loaded {
		for _, setting := range debugInfo.Settings {
			switch setting.Key {
			case "vcs.revision":
				revision = setting.Value
			case "CGO_ENABLED":
				cgoEnabled = setting.Value == "1"
			}
		}
	}
	if revision != "" {
		version += "Revision: " + revision + "\n"
	}
	if cgoEnabled {
		version += "CGO: enabled\n"
	} else {
		version += "CGO: disabled\n"
	}
	os.Stdout.WriteString(version)
	return nil
}
