package uds

import (
	"fmt"
)

// UDS Service ID constants
const (
	ServiceDiagnosticSessionControl       byte = 0x10
	ServiceECUReset                       byte = 0x11
	ServiceClearDiagnosticInformation     byte = 0x14
	ServiceReadDTCInformation             byte = 0x19
	ServiceReadDataByIdentifier           byte = 0x22
	ServiceReadMemoryByAddress            byte = 0x23
	ServiceReadScalingDataByIdentifier    byte = 0x24
	ServiceSecurityAccess                 byte = 0x27
	ServiceCommunicationControl           byte = 0x28
	ServiceReadDataByPeriodicIdentifier   byte = 0x2A
	ServiceDynamicallyDefineDataID        byte = 0x2C
	ServiceWriteDataByIdentifier          byte = 0x2E
	ServiceInputOutputControlByIdentifier byte = 0x2F
	ServiceRoutineControl                 byte = 0x31
	ServiceRequestDownload                byte = 0x34
	ServiceRequestUpload                  byte = 0x35
	ServiceTransferData                   byte = 0x36
	ServiceRequestTransferExit            byte = 0x37
	ServiceRequestFileTransfer            byte = 0x38
	ServiceWriteMemoryByAddress           byte = 0x3D
	ServiceTesterPresent                  byte = 0x3E
	ServiceAccessTimingParameter          byte = 0x83
	ServiceSecuredDataTransmission        byte = 0x84
	ServiceControlDTCSetting              byte = 0x85
	ServiceResponseOnEvent                byte = 0x86
	ServiceLinkControl                    byte = 0x87
)

const (
	NegativeResponseByte            byte = 0x7F
	PositiveResponseServiceIdOffset byte = 0x40
)

// Map of UDS service IDs to their names.
var serviceIDNames = map[byte]string{
	ServiceDiagnosticSessionControl:       "Diagnostic Session Control",
	ServiceECUReset:                       "ECU Reset",
	ServiceClearDiagnosticInformation:     "Clear Diagnostic Information",
	ServiceReadDTCInformation:             "Read DTC Information",
	ServiceReadDataByIdentifier:           "Read Data By Identifier",
	ServiceReadMemoryByAddress:            "Read Memory By Address",
	ServiceReadScalingDataByIdentifier:    "Read Scaling Data By Identifier",
	ServiceSecurityAccess:                 "Security Access",
	ServiceCommunicationControl:           "Communication Control",
	ServiceReadDataByPeriodicIdentifier:   "Read Data By Periodic Identifier",
	ServiceDynamicallyDefineDataID:        "Dynamically Define Data Identifier",
	ServiceWriteDataByIdentifier:          "Write Data By Identifier",
	ServiceInputOutputControlByIdentifier: "Input Output Control By Identifier",
	ServiceRoutineControl:                 "Routine Control",
	ServiceRequestDownload:                "Request Download",
	ServiceRequestUpload:                  "Request Upload",
	ServiceTransferData:                   "Transfer Data",
	ServiceRequestTransferExit:            "Request Transfer Exit",
	ServiceRequestFileTransfer:            "Request File Transfer",
	ServiceWriteMemoryByAddress:           "Write Memory By Address",
	ServiceTesterPresent:                  "Tester Present",
	ServiceAccessTimingParameter:          "Access Timing Parameter",
	ServiceSecuredDataTransmission:        "Secured Data Transmission",
	ServiceControlDTCSetting:              "Control DTC Setting",
	ServiceResponseOnEvent:                "Response On Event",
	ServiceLinkControl:                    "Link Control",
}

// ServiceLabel returns the name of a service ID, or its hex form when unknown.
func ServiceLabel(serviceID byte) string {
	// Lookup the service ID name
	if serviceName, ok := serviceIDNames[serviceID]; ok {
		return serviceName
	}
	return fmt.Sprintf("0x%02X", serviceID)
}
