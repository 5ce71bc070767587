package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/logging"
	"github.com/spf13/cobra"

	"vehiclediag/config"
	"vehiclediag/drivers"
	"vehiclediag/ecus"
	"vehiclediag/isotp"
	vdlog "vehiclediag/logging"
	"vehiclediag/obd"
	"vehiclediag/uds"
	"vehiclediag/utils"
)

// disconnectTimeout bounds the return to the default session on exit
const disconnectTimeout = 2 * time.Second

var errNoAdapter = errors.New("no CAN adapter found")

func init() {
	dtcReadCmd.Flags().Uint8("mask", uds.DefaultDTCStatusMask, "DTC status mask")
	unlockCmd.Flags().Uint8("session", uds.SubfunctionExtendedDiagnosticSession, "session to enter before unlocking")
	dtcCmd.AddCommand(dtcReadCmd, dtcClearCmd)
	adaptationCmd.AddCommand(adaptationReadCmd)
	freezeFrameCmd.Flags().Uint8("frame", 0, "freeze frame number")
	rootCmd.AddCommand(portsCmd, vinCmd, identifyCmd, dtcCmd, unlockCmd, adaptationCmd, liveCmd, freezeFrameCmd, detectCmd)
}

// session is an open link to one ECU.
type session struct {
	driver    *drivers.ArduinoDriver
	transport *isotp.Transport
	client    *ecus.Client
	log       logging.LeveledLogger
	// stopKeepAlive ends the tester present loop
	stopKeepAlive context.CancelFunc
	keepAlive     chan struct{}
}

// openDriver opens the configured adapter, scanning for one when the port is AnyPort.
func openDriver(ctx context.Context, cfg config.Config, log logging.LeveledLogger) (*drivers.ArduinoDriver, error) {
	var driver *drivers.ArduinoDriver
	if cfg.Port == config.AnyPort {
		ports, err := drivers.ListPorts()
		if err != nil {
			return nil, err
		}
		found := drivers.ScanArduino(ports, cfg.BaudRate, log)
		if len(found) == 0 {
			return nil, errNoAdapter
		}
		driver = found[0]
	} else {
		driver = drivers.NewArduinoDriver(cfg.Port, cfg.BaudRate, log)
	}
	if err := driver.Open(ctx); err != nil {
		return nil, err
	}
	return driver, nil
}

func connect(cmd *cobra.Command) (*session, error) {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	factory, err := newLoggerFactory(cmd, cfg)
	if err != nil {
		return nil, err
	}
	driver, err := openDriver(ctx, cfg, factory.NewLogger(vdlog.ScopeDriver))
	if err != nil {
		return nil, err
	}

	transport := isotp.NewTransport(driver, cfg.Transport(), factory.NewLogger(vdlog.ScopeTransport))
	s := &session{
		driver:    driver,
		transport: transport,
		client:    ecus.New(transport, nil, nil, cfg, factory.NewLogger(vdlog.ScopeECU)),
		log:       factory.NewLogger(vdlog.ScopeCLI),
		keepAlive: make(chan struct{}),
	}
	var keepAliveCtx context.Context
	keepAliveCtx, s.stopKeepAlive = context.WithCancel(ctx)
	go func() {
		defer close(s.keepAlive)
		s.client.TesterPresentLoop(keepAliveCtx)
	}()
	return s, nil
}

func (s *session) close() {
	s.stopKeepAlive()
	<-s.keepAlive

	// The command context may already be canceled
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		s.log.Warnf("disconnect: %v", err)
	}
	s.transport.Close()
	s.driver.Cleanup()
}

// withSession runs f on a fresh session and closes it afterwards.
func withSession(f func(cmd *cobra.Command, args []string, s *session) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := connect(cmd)
		if err != nil {
			return err
		}
		defer s.close()
		return f(cmd, args, s)
	}
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "list serial ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := drivers.ListPorts()
		if err != nil {
			return err
		}
		adapters := map[string]bool{}
		for _, d := range drivers.ScanArduino(ports, 0, vdlog.Discard()) {
			adapters[d.PortName()] = true
		}
		for _, p := range ports {
			line := fmt.Sprintf("%s USB: %t VID: %s PID: %s", p.Name, p.IsUSB, p.VID, p.PID)
			if adapters[p.Name] {
				line = green("%s adapter", line)
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	},
}

var vinCmd = &cobra.Command{
	Use:   "vin",
	Short: "read the VIN",
	RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
		vin, err := s.client.ReadVIN(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), green(vin))
		return nil
	}),
}

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "read the identification data identifiers",
	RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
		id, err := s.client.Identify(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	}),
}

var dtcCmd = &cobra.Command{
	Use:   "dtc",
	Short: "read or clear diagnostic trouble codes",
}

var dtcReadCmd = &cobra.Command{
	Use:   "read",
	Short: "read stored DTCs",
	RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
		mask, _ := cmd.Flags().GetUint8("mask")
		dtcs, err := s.client.ReadDTCs(cmd.Context(), mask)
		if err != nil {
			return err
		}
		if len(dtcs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), green("no DTCs stored"))
			return nil
		}
		for _, dtc := range dtcs {
			line := dtc.String()
			if dtc.Confirmed() {
				line = red(line)
			} else {
				line = yellow(line)
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	}),
}

var dtcClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "clear all DTCs",
	RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
		if err := s.client.ClearDTCs(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), green("DTCs cleared"))
		return nil
	}),
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "enter a session and run security access",
	RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		sessionType, _ := cmd.Flags().GetUint8("session")
		if err := s.client.StartSession(ctx, sessionType); err != nil {
			return err
		}
		if err := s.client.Unlock(ctx, cfg.SecurityLevel); err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), red("security access failed (%d failed attempts)", s.client.Security().FailedAttempts()))
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), green("security access level %d granted", cfg.SecurityLevel))
		return nil
	}),
}

var adaptationCmd = &cobra.Command{
	Use:   "adaptation",
	Short: "manufacturer adaptation channels",
}

var adaptationReadCmd = &cobra.Command{
	Use:   "read <channel>",
	Short: "read an adaptation channel",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
		channel, err := parseNumber(args[0], 16)
		if err != nil {
			return err
		}
		value, err := s.client.ReadAdaptation(cmd.Context(), uint16(channel))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "channel %d: %s\n", channel, green(utils.BytesToHexString(value)))
		return nil
	}),
}

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "read OBD-II live data",
	RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
		readings, err := s.client.ReadLiveData(cmd.Context())
		for _, r := range readings {
			fmt.Fprintln(cmd.OutOrStdout(), r)
		}
		return err
	}),
}

var freezeFrameCmd = &cobra.Command{
	Use:   "freeze-frame",
	Short: "read an OBD-II freeze frame",
	RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
		frame, _ := cmd.Flags().GetUint8("frame")
		snapshot, err := s.client.ReadFreezeFrame(cmd.Context(), frame)
		if errors.Is(err, obd.ErrNoFreezeFrame) {
			fmt.Fprintln(cmd.OutOrStdout(), green("no freeze frame stored"))
			return nil
		}
		if snapshot != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "frame %d stored by %s\n", snapshot.Frame, red(snapshot.DTC))
			for _, r := range snapshot.Readings {
				fmt.Fprintln(cmd.OutOrStdout(), r)
			}
		}
		return err
	}),
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "find the ECUs answering on the OBD-II request ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		factory, err := newLoggerFactory(cmd, cfg)
		if err != nil {
			return err
		}
		driver, err := openDriver(ctx, cfg, factory.NewLogger(vdlog.ScopeDriver))
		if err != nil {
			return err
		}
		defer driver.Cleanup()

		transportLog := factory.NewLogger(vdlog.ScopeTransport)
		dial := func(addr ecus.Address) (ecus.Channel, func(), error) {
			tc := cfg.Transport()
			tc.TesterID, tc.ECUID = addr.RequestID, addr.ResponseID
			transport := isotp.NewTransport(driver, tc, transportLog)
			return transport, transport.Close, nil
		}
		found, err := ecus.DetectECUs(ctx, dial, ecus.Addresses, cfg, factory.NewLogger(vdlog.ScopeECU))
		for _, addr := range found {
			fmt.Fprintln(cmd.OutOrStdout(), green(addr.String()))
		}
		if err == nil && len(found) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), yellow("no ECU answered"))
		}
		return err
	},
}
