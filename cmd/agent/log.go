package agent

import (
	"github.com/spf13/cobra"
)

func initLogFlags(root *cobra.Command) {
	f := root.PersistentFlags()

	f.String("log.level", defaultCfg.Log.Level, "log level (debug, info, warn, error)")
	f.String("log.format", defaultCfg.Log.Format, "console log format (json or console)")
	f.String("log.path", defaultCfg.Log.Path, "log file directory")
	f.Int("log.max_size", defaultCfg.Log.MaxSize, "max log file size in MB before rotation")
	f.Int("log.max_backup", defaultCfg.Log.MaxBackup, "max rotated log files to keep")
	f.Int("log.max_age", defaultCfg.Log.MaxAge, "max age of rotated log files in days")
	f.Bool("log.compress", defaultCfg.Log.Compress, "compress rotated log files")
}
