package ecus

import (
	"context"
	"fmt"

	"github.com/pion/logging"

	"vehiclediag/config"
	vdlog "vehiclediag/logging"
)

// Address is the request id of an ECU and the id it answers on.
type Address struct {
	Name       string
	RequestID  uint16
	ResponseID uint16
}

func (a Address) String() string {
	return fmt.Sprintf("%s (0x%03X/0x%03X)", a.Name, a.RequestID, a.ResponseID)
}

// Addresses are the 11-bit OBD request ids DetectECUs tries.
var Addresses = []Address{
	{"engine", 0x7E0, 0x7E8},
	{"transmission", 0x7E1, 0x7E9},
	{"abs", 0x7E2, 0x7EA},
	{"airbag", 0x7E3, 0x7EB},
	{"instrument", 0x7E4, 0x7EC},
	// Functional request, the engine ECU answers first
	{"gateway", 0x7DF, 0x7E8},
}

// Dialer opens a channel to addr. release is called once the address has been tried.
type Dialer func(addr Address) (ch Channel, release func(), err error)

// DetectECUs asks every address for its supported PIDs, one at a time, and
// returns those that answered. Silence or a refusal just means no ECU there.
func DetectECUs(ctx context.Context, dial Dialer, addrs []Address, cfg config.Config, log logging.LeveledLogger) ([]Address, error) {
	if log == nil {
		log = vdlog.Discard()
	}
	var found []Address
	for _, addr := range addrs {
		ch, release, err := dial(addr)
		if err != nil {
			return found, fmt.Errorf("open %s: %w", addr, err)
		}
		cfg.TesterID, cfg.ECUID = addr.RequestID, addr.ResponseID
		_, err = New(ch, nil, nil, cfg, log).ReadSupportedPIDs(ctx)
		release()
		if ctx.Err() != nil {
			return found, ctx.Err()
		}
		if err != nil {
			log.Debugf("no answer from %s: %v", addr, err)
			continue
		}
		log.Infof("found %s", addr)
		found = append(found, addr)
	}
	return found, nil
}
