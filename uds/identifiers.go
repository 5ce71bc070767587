package uds

import (
	"fmt"
)

// Standard data identifiers
const (
	DIDActiveDiagnosticSession    uint16 = 0xF186
	DIDSparePartNumber            uint16 = 0xF187
	DIDECUSoftwareNumber          uint16 = 0xF188
	DIDSystemSupplier             uint16 = 0xF18A
	DIDECUSerialNumber            uint16 = 0xF18C
	DIDVIN                        uint16 = 0xF190
	DIDECUHardwareNumber          uint16 = 0xF191
	DIDSupplierHardwareNumber     uint16 = 0xF192
	DIDSupplierSoftwareNumber     uint16 = 0xF194
	DIDSystemName                 uint16 = 0xF197
	DIDRepairShopCode             uint16 = 0xF198
	DIDProgrammingDate            uint16 = 0xF199
	DIDVehicleManufacturerECUName uint16 = 0xF19A
)

var didNames = map[uint16]string{
	DIDActiveDiagnosticSession:    "Active Diagnostic Session",
	DIDSparePartNumber:            "Spare Part Number",
	DIDECUSoftwareNumber:          "ECU Software Number",
	DIDSystemSupplier:             "System Supplier",
	DIDECUSerialNumber:            "ECU Serial Number",
	DIDVIN:                        "VIN",
	DIDECUHardwareNumber:          "ECU Hardware Number",
	DIDSupplierHardwareNumber:     "Supplier Hardware Number",
	DIDSupplierSoftwareNumber:     "Supplier Software Number",
	DIDSystemName:                 "System Name",
	DIDRepairShopCode:             "Repair Shop Code",
	DIDProgrammingDate:            "Programming Date",
	DIDVehicleManufacturerECUName: "Vehicle Manufacturer ECU Name",
}

func DIDLabel(did uint16) string {
	if name, ok := didNames[did]; ok {
		return name
	}
	return fmt.Sprintf("0x%04X", did)
}
