package uds

import (
	"fmt"

	"vehiclediag/utils"
)

// DTC status bits of a ReadDTCInformation record
const (
	DTCStatusTestFailed                 byte = 0x01
	DTCStatusTestFailedThisCycle        byte = 0x02
	DTCStatusPending                    byte = 0x04
	DTCStatusConfirmed                  byte = 0x08
	DTCStatusTestNotCompletedSinceClear byte = 0x10
	DTCStatusTestFailedSinceClear       byte = 0x20
	DTCStatusTestNotCompletedThisCycle  byte = 0x40
	DTCStatusWarningIndicatorRequested  byte = 0x80
)

const dtcRecordLength = 4

// DTC is one record of a report by status mask: a 3 byte code and its status byte.
type DTC struct {
	Code        string // e.g. P0301
	FailureType byte
	Status      byte
}

// SAE controlled powertrain descriptions (P0xxx and P2xxx) keyed by the four
// digits after the system letter. P1xxx and P3xxx meanings depend on the manufacturer.
var dtcMap = map[string]string{
	"0105": "Manifold Absolute Pressure/Barometric Pressure Circuit Malfunction",
	"0110": "Intake Air Temperature Circuit Malfunction",
	"0115": "Engine Coolant Temperature Circuit Malfunction",
	"0120": "Throttle Pedal Position Sensor/Switch A Circuit Malfunction",
	"0220": "Throttle/Pedal Position Sensor/Switch B Circuit Malfunction",
	"0708": "Transmission Range Sensor Circuit High Input",
	"2120": "Throttle/Pedal Pos Sensor/Switch D Circuit",
	"2125": "Throttle/Pedal Pos Sensor/Switch E Circuit",
	"2226": "Barometric Pressure Circuit",
	"2803": "Transmission Range Sensor B Circuit High",

	// Common DTC Codes
	"0001": "Fuel Volume Regulator Control Circuit/Open",
	"0002": "Fuel Volume Regulator Control Circuit Range/Performance",
	"0003": "Fuel Volume Regulator Control Circuit Low",
	"0004": "Fuel Volume Regulator Control Circuit High",
	"0100": "Mass or Volume Air Flow Circuit Malfunction",
	"0101": "Mass or Volume Air Flow Circuit Range/Performance Problem",
	"0102": "Mass or Volume Air Flow Circuit Low Input",
	"0103": "Mass or Volume Air Flow Circuit High Input",
	"0112": "Intake Air Temperature Sensor 1 Circuit Low Input",
	"0113": "Intake Air Temperature Sensor 1 Circuit High Input",
	"0201": "Injector Circuit Malfunction - Cylinder 1",
	"0202": "Injector Circuit Malfunction - Cylinder 2",
	"0300": "Random/Multiple Cylinder Misfire Detected",
	"0301": "Cylinder 1 Misfire Detected",
	"0302": "Cylinder 2 Misfire Detected",
	"0303": "Cylinder 3 Misfire Detected",
	"0304": "Cylinder 4 Misfire Detected",
	"0401": "Exhaust Gas Recirculation (EGR) Flow Insufficient Detected",
	"0402": "Exhaust Gas Recirculation (EGR) Flow Excessive Detected",
	"0420": "Catalyst System Efficiency Below Threshold (Bank 1)",
	"0430": "Catalyst System Efficiency Below Threshold (Bank 2)",
	"0440": "Evaporative Emission Control System Malfunction",
	"0441": "Evaporative Emission Control System Incorrect Purge Flow",
	"0442": "Evaporative Emission Control System Leak Detected (small leak)",
	"0446": "Evaporative Emission Control System Vent Control Circuit Malfunction",
	"0500": "Vehicle Speed Sensor Malfunction",
	"0562": "System Voltage Low",
	"0563": "System Voltage High",
	"0600": "Serial Communication Link Malfunction",
	"0705": "Transmission Range Sensor Circuit Malfunction (PRNDL Input)",
	"0715": "Input/Turbine Speed Sensor Circuit Malfunction",
	"0720": "Output Speed Sensor Circuit Malfunction",
	"0730": "Incorrect Gear Ratio",
	"0740": "Torque Converter Clutch Circuit Malfunction",
	"0750": "Shift Solenoid A Malfunction",
	"0755": "Shift Solenoid B Malfunction",
	"0760": "Shift Solenoid C Malfunction",
	"0765": "Shift Solenoid D Malfunction",
	"0850": "Park/Neutral Position (PNP) Switch Circuit Malfunction",
}

// Label describes an SAE controlled powertrain code. Manufacturer specific
// codes and other systems return the bare code.
func (d DTC) Label() string {
	if len(d.Code) == 5 && d.Code[0] == 'P' && (d.Code[1] == '0' || d.Code[1] == '2') {
		if label, exists := dtcMap[d.Code[1:]]; exists {
			return fmt.Sprintf("%s: %s", d.Code, label)
		}
	}
	return d.Code
}

func (d DTC) Confirmed() bool { return d.Status&DTCStatusConfirmed != 0 }
func (d DTC) Pending() bool   { return d.Status&DTCStatusPending != 0 }
func (d DTC) Active() bool    { return d.Status&DTCStatusTestFailed != 0 }

func (d DTC) String() string {
	return fmt.Sprintf("%s-%02X status 0x%02X", d.Label(), d.FailureType, d.Status)
}

// FormatDTCCode renders the first two bytes of a record as a SAE J2012 code.
// The top two bits select the system letter.
func FormatDTCCode(high, low byte) string {
	systems := [4]byte{'P', 'C', 'B', 'U'}
	return fmt.Sprintf("%c%d%X%X%X", systems[high>>6], (high>>4)&0x03, high&0x0F, low>>4, low&0x0F)
}

// ParseDTCs parses the data of a positive ReadDTCInformation response for the
// record based report types: report type, availability mask, then 4 byte records.
// All zero records are padding and skipped.
func ParseDTCs(data []byte) ([]DTC, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: dtc report of %d bytes", utils.ErrInvalidInput, len(data))
	}
	records := data[2:]
	if len(records)%dtcRecordLength != 0 {
		return nil, fmt.Errorf("%w: %d record bytes is not a multiple of %d", utils.ErrInvalidInput, len(records), dtcRecordLength)
	}
	var dtcs []DTC
	for i := 0; i < len(records); i += dtcRecordLength {
		r := records[i : i+dtcRecordLength]
		if r[0] == 0 && r[1] == 0 && r[2] == 0 {
			continue
		}
		dtcs = append(dtcs, DTC{
			Code:        FormatDTCCode(r[0], r[1]),
			FailureType: r[2],
			Status:      r[3],
		})
	}
	return dtcs, nil
}
