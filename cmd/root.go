package cmd

import (
	"context"

	"github.com/fatih/color"
	"github.com/pion/logging"
	"github.com/spf13/cobra"

	"vehiclediag/config"
	vdlog "vehiclediag/logging"
)

var rootCmd = &cobra.Command{
	Use:          "vehiclediag",
	Short:        "UDS / ISO-TP diagnostic tool",
	Long:         `Talk to vehicle ECUs over an Arduino CAN bridge, or build and decode diagnostic messages offline`,
	SilenceUsage: true,
}

// Execute runs the command line. This is called by main.main().
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagPort           = "port"
	flagBaudrate       = "baudrate"
	flagTesterID       = "tester-id"
	flagECUID          = "ecu-id"
	flagWrapToZero     = "iso-wrap"
	flagTimeout        = "timeout"
	flagPendingTimeout = "pending-timeout"
	flagPendingRetries = "pending-retries"
	flagTesterPresent  = "tester-present"
	flagVehicle        = "vehicle"
	flagLevel          = "level"
	flagSafeMode       = "safe-mode"
	flagWorkshop       = "workshop"
	flagLogLevel       = "log-level"
)

var (
	green  = color.New(color.FgGreen).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	yellow = color.New(color.FgYellow).SprintfFunc()
)

func init() {
	d := config.Default()
	pf := rootCmd.PersistentFlags()
	pf.StringP(flagPort, "p", d.Port, "com-port, * = first detected adapter")
	pf.IntP(flagBaudrate, "b", d.BaudRate, "baudrate")
	pf.Uint16(flagTesterID, d.TesterID, "tester CAN id")
	pf.Uint16(flagECUID, d.ECUID, "ECU CAN id")
	pf.Bool(flagWrapToZero, d.WrapToZero, "wrap ISO-TP sequence numbers to 0 (false wraps to 1)")
	pf.Duration(flagTimeout, d.ResponseTimeout, "response timeout")
	pf.Duration(flagPendingTimeout, d.PendingTimeout, "timeout after a response pending reply")
	pf.Int(flagPendingRetries, d.MaxPendingRetries, "max re-polls after response pending")
	pf.Duration(flagTesterPresent, d.TesterPresentInterval, "tester present interval")
	pf.StringP(flagVehicle, "v", d.Vehicle, "vehicle or manufacturer, selects key algorithm and protocol")
	pf.IntP(flagLevel, "l", d.SecurityLevel, "security access level")
	pf.Bool(flagSafeMode, d.SafeMode, "refuse every write to the ECU")
	pf.Uint16(flagWorkshop, d.WorkshopCode, "workshop code stamped on adaptation and coding writes")
	pf.String(flagLogLevel, d.LogLevel, "log level: error, warn, info, debug, trace")
}

// loadConfig reads the persistent flags over the defaults.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	pf := cmd.Flags()

	// The flags are registered in init, the getters cannot fail
	cfg.Port, _ = pf.GetString(flagPort)
	cfg.BaudRate, _ = pf.GetInt(flagBaudrate)
	cfg.TesterID, _ = pf.GetUint16(flagTesterID)
	cfg.ECUID, _ = pf.GetUint16(flagECUID)
	cfg.WrapToZero, _ = pf.GetBool(flagWrapToZero)
	cfg.ResponseTimeout, _ = pf.GetDuration(flagTimeout)
	cfg.PendingTimeout, _ = pf.GetDuration(flagPendingTimeout)
	cfg.MaxPendingRetries, _ = pf.GetInt(flagPendingRetries)
	cfg.TesterPresentInterval, _ = pf.GetDuration(flagTesterPresent)
	cfg.Vehicle, _ = pf.GetString(flagVehicle)
	cfg.SecurityLevel, _ = pf.GetInt(flagLevel)
	cfg.SafeMode, _ = pf.GetBool(flagSafeMode)
	cfg.WorkshopCode, _ = pf.GetUint16(flagWorkshop)
	cfg.LogLevel, _ = pf.GetString(flagLogLevel)
	return cfg, cfg.Validate()
}

func newLoggerFactory(cmd *cobra.Command, cfg config.Config) (logging.LoggerFactory, error) {
	return vdlog.NewLoggerFactory(cfg.LogLevel, cmd.ErrOrStderr())
}
