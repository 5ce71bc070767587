package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"vehiclediag/isotp"
	"vehiclediag/obd"
	"vehiclediag/protocols"
	"vehiclediag/seedkey"
	"vehiclediag/uds"
	"vehiclediag/utils"
)

func init() {
	isotpEncodeCmd.Flags().Uint16("id", 0x7E0, "CAN id of the frames")
	isotpCmd.AddCommand(isotpEncodeCmd, isotpDecodeCmd)
	udsCmd.AddCommand(udsParseCmd, udsBuildCmd)
	rootCmd.AddCommand(isotpCmd, udsCmd, keyCmd, adapterCmd, pidCmd)
}

var isotpCmd = &cobra.Command{
	Use:   "isotp",
	Short: "segment and reassemble ISO-TP messages",
}

var isotpEncodeCmd = &cobra.Command{
	Use:   "encode <payload hex>",
	Short: "print the frames of a payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := utils.HexStringToBytes(args[0])
		if err != nil {
			return err
		}
		id, _ := cmd.Flags().GetUint16("id")
		frames, err := isotp.Encode(payload, id)
		if err != nil {
			return err
		}
		for _, f := range frames {
			fmt.Fprintln(cmd.OutOrStdout(), f.CanFrame())
		}
		return nil
	},
}

var isotpDecodeCmd = &cobra.Command{
	Use:   "decode <frame hex>...",
	Short: "reassemble a payload from frames",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, ok, err := isotp.DecodeHex(args)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: first frame is neither single nor first", utils.ErrInvalidInput)
		}
		fmt.Fprintln(cmd.OutOrStdout(), utils.BytesToHexString(payload))
		return nil
	},
}

var udsCmd = &cobra.Command{
	Use:   "uds",
	Short: "build and parse UDS messages",
}

var udsParseCmd = &cobra.Command{
	Use:   "parse <response hex>",
	Short: "decode a UDS response",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := uds.ParseResponse(args[0])
		if err != nil {
			return err
		}
		printResponse(cmd, resp)
		return nil
	},
}

var udsBuildCmd = &cobra.Command{
	Use:   "build <service hex> [parameters hex]",
	Short: "build a UDS request",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := utils.HexStringToBytes(args[0])
		if err != nil {
			return err
		}
		if len(service) != 1 {
			return fmt.Errorf("%w: service id must be one byte", utils.ErrInvalidInput)
		}
		var params []byte
		if len(args) == 2 {
			if params, err = utils.HexStringToBytes(args[1]); err != nil {
				return err
			}
		}
		request := uds.BuildCommand(service[0], params...)
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", request, yellow(uds.ServiceLabel(service[0])))
		return nil
	},
}

var keyCmd = &cobra.Command{
	Use:   "key <seed hex>",
	Short: "compute the security access key for a seed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		key, err := seedkey.NewState(nil).CalculateKey(args[0], cfg.Vehicle, cfg.SecurityLevel)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, level %d)\n", green(key), seedkey.FamilyFor(cfg.Vehicle), cfg.SecurityLevel)
		return nil
	},
}

var pidCmd = &cobra.Command{
	Use:   "pid <pid> <data hex>",
	Short: "scale the data bytes of an OBD-II PID",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := parseNumber(args[0], 8)
		if err != nil {
			return err
		}
		data, err := utils.HexStringToBytes(args[1])
		if err != nil {
			return err
		}
		value, err := obd.Decode(obd.PID(pid), data)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), obd.Reading{PID: obd.PID(pid), Value: value})
		return nil
	},
}

var adapterCmd = &cobra.Command{
	Use:   "adapter <operation> [arguments]",
	Short: "print a manufacturer request",
	Long: `Print the request the vehicle's manufacturer protocol sends for an operation:
  read-adaptation <channel>
  write-adaptation <channel> <value>
  read-coding
  write-coding <coding hex>
  component-test <component> [test type]
  identification [type]`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		p, err := protocols.GetProtocol(cfg.Vehicle)
		if err != nil {
			return err
		}
		request, err := adapterRequest(p, args[0], args[1:], cfg.WorkshopCode)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", request, yellow(p.Name()))
		return nil
	},
}

func adapterRequest(p protocols.Protocol, operation string, args []string, workshopCode uint16) (string, error) {
	arg := func(i int, def uint64, bits int) (uint64, error) {
		if i >= len(args) {
			if def == noDefault {
				return 0, fmt.Errorf("%w: %s needs %d argument(s)", utils.ErrInvalidInput, operation, i+1)
			}
			return def, nil
		}
		return parseNumber(args[i], bits)
	}

	switch operation {
	case "read-adaptation":
		channel, err := arg(0, noDefault, 16)
		if err != nil {
			return "", err
		}
		return p.ReadAdaptation(uint16(channel))
	case "write-adaptation":
		channel, err := arg(0, noDefault, 16)
		if err != nil {
			return "", err
		}
		value, err := arg(1, noDefault, 16)
		if err != nil {
			return "", err
		}
		return p.WriteAdaptation(uint16(channel), uint16(value), workshopCode)
	case "read-coding":
		return p.ReadCoding()
	case "write-coding":
		if len(args) != 1 {
			return "", fmt.Errorf("%w: write-coding needs the coding", utils.ErrInvalidInput)
		}
		coding, err := utils.HexStringToBytes(args[0])
		if err != nil {
			return "", err
		}
		return p.WriteCoding(coding, workshopCode)
	case "component-test":
		component, err := arg(0, noDefault, 16)
		if err != nil {
			return "", err
		}
		testType, err := arg(1, uint64(protocols.VWDefaultComponentTest), 8)
		if err != nil {
			return "", err
		}
		return p.ComponentTest(uint16(component), byte(testType))
	case "identification":
		identType, err := arg(0, uint64(protocols.VWIdentAll), 8)
		if err != nil {
			return "", err
		}
		return p.ReadECUIdentification(byte(identType))
	default:
		return "", fmt.Errorf("%w: unknown operation %q", utils.ErrInvalidInput, operation)
	}
}

const noDefault = ^uint64(0)

// parseNumber accepts decimal or 0x prefixed hex.
func parseNumber(s string, bits int) (uint64, error) {
	n, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", utils.ErrInvalidInput, err)
	}
	return n, nil
}

func printResponse(cmd *cobra.Command, resp *uds.Response) {
	if resp.Positive {
		fmt.Fprintln(cmd.OutOrStdout(), green(resp.String()))
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), red(resp.String()))
}
