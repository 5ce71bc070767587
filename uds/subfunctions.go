package uds

import (
	"fmt"
)

// UDS Subfunction constants for Diagnostic Session Control
const (
	SubfunctionDefaultSession                byte = 0x01
	SubfunctionProgrammingSession            byte = 0x02
	SubfunctionExtendedDiagnosticSession     byte = 0x03
	SubfunctionSafetySystemDiagnosticSession byte = 0x04
)

// UDS Subfunction constants for ECU Reset
const (
	SubfunctionHardReset                 byte = 0x01
	SubfunctionKeyOffOnReset             byte = 0x02
	SubfunctionSoftReset                 byte = 0x03
	SubfunctionEnableRapidPowerShutdown  byte = 0x04
	SubfunctionDisableRapidPowerShutdown byte = 0x05
)

// UDS Subfunction constants for Tester Present
const (
	SubfunctionZero                     byte = 0x00
	SubfunctionSuppressPositiveResponse byte = 0x80
)

// UDS Subfunction constants for Routine Control
const (
	SubfunctionStartRoutine          byte = 0x01
	SubfunctionStopRoutine           byte = 0x02
	SubfunctionRequestRoutineResults byte = 0x03
)

// UDS Subfunction constants for Communication Control
const (
	SubfunctionEnableRxAndTx        byte = 0x00
	SubfunctionEnableRxAndDisableTx byte = 0x01
	SubfunctionDisableRxAndEnableTx byte = 0x02
	SubfunctionDisableRxAndTx       byte = 0x03
)

// UDS Subfunction constants for Control DTC Setting
const (
	SubfunctionDTCSettingOn  byte = 0x01
	SubfunctionDTCSettingOff byte = 0x02
)

// UDS report types for Read DTC Information
const (
	ReportNumberOfDTCByStatusMask    byte = 0x01
	ReportDTCByStatusMask            byte = 0x02
	ReportDTCSnapshotIdentification  byte = 0x03
	ReportDTCSnapshotByDTCNumber     byte = 0x04
	ReportDTCExtendedDataByDTCNumber byte = 0x06
	ReportSupportedDTC               byte = 0x0A
	ReportFirstTestFailedDTC         byte = 0x0B
	ReportFirstConfirmedDTC          byte = 0x0C
	ReportMostRecentTestFailedDTC    byte = 0x0D
	ReportMostRecentConfirmedDTC     byte = 0x0E
)

// Map of UDS subfunctions (for specific service IDs) to their names.
var subfunctionNames = map[byte]map[byte]string{
	ServiceDiagnosticSessionControl: {
		SubfunctionDefaultSession:                "Default Session",
		SubfunctionProgrammingSession:            "Programming Session",
		SubfunctionExtendedDiagnosticSession:     "Extended Diagnostic Session",
		SubfunctionSafetySystemDiagnosticSession: "Safety System Diagnostic Session",
	},
	ServiceECUReset: {
		SubfunctionHardReset:                 "Hard Reset",
		SubfunctionKeyOffOnReset:             "Key Off On Reset",
		SubfunctionSoftReset:                 "Soft Reset",
		SubfunctionEnableRapidPowerShutdown:  "Enable Rapid Power Shutdown",
		SubfunctionDisableRapidPowerShutdown: "Disable Rapid Power Shutdown",
	},
	ServiceTesterPresent: {
		SubfunctionZero:                     "Zero Subfunction",
		SubfunctionSuppressPositiveResponse: "Suppress Positive Response",
	},
	ServiceRoutineControl: {
		SubfunctionStartRoutine:          "Start Routine",
		SubfunctionStopRoutine:           "Stop Routine",
		SubfunctionRequestRoutineResults: "Request Routine Results",
	},
	ServiceCommunicationControl: {
		SubfunctionEnableRxAndTx:        "Enable Rx and Tx",
		SubfunctionEnableRxAndDisableTx: "Enable Rx and Disable Tx",
		SubfunctionDisableRxAndEnableTx: "Disable Rx and Enable Tx",
		SubfunctionDisableRxAndTx:       "Disable Rx and Tx",
	},
	ServiceControlDTCSetting: {
		SubfunctionDTCSettingOn:  "DTC Setting On",
		SubfunctionDTCSettingOff: "DTC Setting Off",
	},
	ServiceReadDTCInformation: {
		ReportNumberOfDTCByStatusMask:    "Report Number Of DTC By Status Mask",
		ReportDTCByStatusMask:            "Report DTC By Status Mask",
		ReportDTCSnapshotIdentification:  "Report DTC Snapshot Identification",
		ReportDTCSnapshotByDTCNumber:     "Report DTC Snapshot By DTC Number",
		ReportDTCExtendedDataByDTCNumber: "Report DTC Extended Data By DTC Number",
		ReportSupportedDTC:               "Report Supported DTC",
		ReportFirstTestFailedDTC:         "Report First Test Failed DTC",
		ReportFirstConfirmedDTC:          "Report First Confirmed DTC",
		ReportMostRecentTestFailedDTC:    "Report Most Recent Test Failed DTC",
		ReportMostRecentConfirmedDTC:     "Report Most Recent Confirmed DTC",
	},
}

// SubfunctionLabel names a subfunction in the context of its service.
// Security access levels are odd for seed requests and even for keys.
func SubfunctionLabel(serviceID, subfunction byte) string {
	if serviceID == ServiceSecurityAccess && subfunction > 0 && subfunction < 0x7F {
		level := (int(subfunction) + 1) / 2
		if subfunction%2 == 1 {
			return fmt.Sprintf("Request Seed (level %d)", level)
		}
		return fmt.Sprintf("Send Key (level %d)", level)
	}
	if subMap, exists := subfunctionNames[serviceID]; exists {
		if subName, found := subMap[subfunction]; found {
			return subName
		}
	}
	return fmt.Sprintf("0x%02X", subfunction)
}
