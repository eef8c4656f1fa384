package cli

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X".
var version = "0.3.0"

var versionJSON bool

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print as JSON")
}

type versionInfo struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Revision string `json:"revision,omitempty"`
	Go       string `json:"go"`
}

func buildVersion() versionInfo {
	info := versionInfo{Name: "querywatch", Version: version, Go: runtime.Version()}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 12 {
				info.Revision = s.Value[:12]
			}
		}
	}
	return info
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := buildVersion()
		if versionJSON {
			return printJSON(os.Stdout, info)
		}
		fmt.Printf("%s %s (%s", info.Name, info.Version, info.Go)
		if info.Revision != "" {
			fmt.Printf(", %s", info.Revision)
		}
		fmt.Println(")")
		return nil
	},
}
