package uds

import (
	"errors"
	"testing"

	"vehiclediag/utils"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name            string
		hex             string
		wantPositive    bool
		wantService     byte
		wantNRC         byte
		wantDescription string
		wantData        string
	}{
		{
			name:            "negative request out of range",
			hex:             "7F2131",
			wantService:     0x21,
			wantNRC:         0x31,
			wantDescription: "Request Out Of Range",
		},
		{
			name:         "positive read data by identifier",
			hex:          "6203F190",
			wantPositive: true,
			wantService:  0x22,
			wantData:     "03F190",
		},
		{
			name:            "response pending",
			hex:             "7F2278",
			wantService:     0x22,
			wantNRC:         0x78,
			wantDescription: "Response Pending",
		},
		{
			name:            "unknown nrc",
			hex:             "7F22AB",
			wantService:     0x22,
			wantNRC:         0xAB,
			wantDescription: "Unknown NRC: 0xab",
		},
		{
			name:         "positive without data",
			hex:          "7E",
			wantPositive: true,
			wantService:  0x3E,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := ParseResponse(tt.hex)
			if err != nil {
				t.Fatal(err)
			}
			if resp.Positive != tt.wantPositive || resp.ServiceID != tt.wantService {
				t.Fatalf("got %+v", resp)
			}
			if tt.wantPositive {
				if resp.DataHex() != tt.wantData {
					t.Errorf("data %s, want %s", resp.DataHex(), tt.wantData)
				}
				if resp.Err() != nil {
					t.Errorf("positive response returned error %v", resp.Err())
				}
				return
			}
			if resp.NRC != tt.wantNRC || resp.Description != tt.wantDescription {
				t.Errorf("nrc 0x%02X %q, want 0x%02X %q", resp.NRC, resp.Description, tt.wantNRC, tt.wantDescription)
			}
			if !IsNRC(resp.Err(), tt.wantNRC) {
				t.Errorf("Err() = %v", resp.Err())
			}
		})
	}
}

func TestParseResponseErrors(t *testing.T) {
	tests := []struct {
		hex  string
		want error
	}{
		{"", utils.ErrEmptyResponse},
		{"7F2", utils.ErrMalformedHex},
		{"7f2131", utils.ErrMalformedHex},
		{"7F21", utils.ErrInvalidInput},
		{"22F190", utils.ErrInvalidInput},
	}
	for _, tt := range tests {
		if _, err := ParseResponse(tt.hex); !errors.Is(err, tt.want) {
			t.Errorf("ParseResponse(%q) err = %v, want %v", tt.hex, err, tt.want)
		}
	}
}

func TestResponsePending(t *testing.T) {
	resp, err := ParseResponseBytes([]byte{0x7F, 0x2E, 0x78})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.ResponsePending() {
		t.Error("expected response pending")
	}
	var negative *NegativeResponseError
	if !errors.As(resp.Err(), &negative) || negative.ServiceID != ServiceWriteDataByIdentifier {
		t.Errorf("Err() = %v", resp.Err())
	}
}

func TestNRCDescription(t *testing.T) {
	want := map[byte]string{
		0x10: "General Reject",
		0x11: "Service Not Supported",
		0x12: "Sub-Function Not Supported",
		0x13: "Incorrect Message Length",
		0x21: "Busy - Repeat Request",
		0x22: "Conditions Not Correct",
		0x31: "Request Out Of Range",
		0x33: "Security Access Denied",
		0x35: "Invalid Key",
		0x36: "Exceed Number Of Attempts",
		0x37: "Required Time Delay Not Expired",
		0x78: "Response Pending",
		0x05: "Unknown NRC: 0x5",
	}
	for nrc, description := range want {
		if got := NRCDescription(nrc); got != description {
			t.Errorf("NRCDescription(0x%02X) = %q, want %q", nrc, got, description)
		}
	}
}

func TestBuilders(t *testing.T) {
	must := func(s string, err error) string {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"session control", DiagnosticSessionControl(SubfunctionExtendedDiagnosticSession), "1003"},
		{"ecu reset", ECUReset(SubfunctionHardReset), "1101"},
		{"request seed level 1", must(SecurityAccessRequestSeed(1)), "2701"},
		{"request seed level 3", must(SecurityAccessRequestSeed(3)), "2705"},
		{"send key level 1", must(SecurityAccessSendKey(1, "A1B2")), "2702A1B2"},
		{"tester present", TesterPresent(false), "3E00"},
		{"tester present suppressed", TesterPresent(true), "3E80"},
		{"read did", ReadDataByIdentifier(0xF190), "22F190"},
		{"write did", WriteDataByIdentifier(0xF198, []byte{0x12, 0x34}), "2EF1981234"},
		{"read memory defaults", must(ReadMemoryByAddress(0x123456, 0x10, DefaultAddressLength, DefaultSizeLength)), "23321234560010"},
		{"read memory 4+1", must(ReadMemoryByAddress(0x8000, 0xFF, 4, 1)), "234100008000FF"},
		{"write memory", must(WriteMemoryByAddress(0x001000, []byte{0xAA, 0xBB}, DefaultAddressLength)), "3D32001000AABB"},
		{"clear all dtcs", must(ClearDTC(AllDTCGroups)), "14FFFFFF"},
		{"clear powertrain", must(ClearDTC(0x000100)), "14000100"},
		{"read dtc", ReadDTC(ReportDTCByStatusMask, DefaultDTCStatusMask), "1902FF"},
		{"io control", InputOutputControl(0x0101, []byte{0x03}, 0x01), "2F01010301"},
		{"routine control", RoutineControl(SubfunctionStartRoutine, 0xFF00, []byte{0x01}), "3101FF0001"},
		{"routine control no options", RoutineControl(SubfunctionRequestRoutineResults, 0x0203, nil), "31030203"},
		{"request download", RequestDownload(0x00080000, 0x00010000, 0x00), "3400440008000000010000"},
		{"request upload", RequestUpload(0x1000, 0x200, 0x11), "3511440000100000000200"},
		{"transfer data", TransferData(1, []byte{0xDE, 0xAD}), "3601DEAD"},
		{"transfer exit", RequestTransferExit(), "37"},
		{"dtc setting off", ControlDTCSetting(SubfunctionDTCSettingOff), "8502"},
		{"communication control", CommunicationControl(SubfunctionDisableRxAndTx, 0x01), "280301"},
		{"build command", BuildCommand(0x22), "22"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %s, want %s", tt.got, tt.want)
			}
		})
	}
}

func TestBuildersArePure(t *testing.T) {
	params := []byte{0xF1, 0x90}
	first := BuildCommand(ServiceReadDataByIdentifier, params...)
	second := BuildCommand(ServiceReadDataByIdentifier, params...)
	if first != second || first != "22F190" {
		t.Errorf("BuildCommand not stable: %s %s", first, second)
	}
	if params[0] != 0xF1 || params[1] != 0x90 {
		t.Error("BuildCommand modified its parameters")
	}

	data := []byte{1, 2, 3}
	a := WriteDataByIdentifier(0x0102, data)
	b := WriteDataByIdentifier(0x0102, data)
	if a != b {
		t.Errorf("WriteDataByIdentifier not stable: %s %s", a, b)
	}
}

func TestBuilderErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"seed level 0", errOf(SecurityAccessRequestSeed(0))},
		{"seed level 64", errOf(SecurityAccessRequestSeed(64))},
		{"key not hex", errOf(SecurityAccessSendKey(1, "XYZ1"))},
		{"address too wide", errOf(ReadMemoryByAddress(0x1000000, 1, 3, 2))},
		{"size too wide", errOf(ReadMemoryByAddress(0x10, 0x10000, 3, 2))},
		{"address length 0", errOf(ReadMemoryByAddress(0, 1, 0, 2))},
		{"write too much", errOf(WriteMemoryByAddress(0, make([]byte, 16), 3))},
		{"dtc group too wide", errOf(ClearDTC(0x1000000))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil {
				t.Fatal("expected an error")
			}
			if !errors.Is(tt.err, utils.ErrInvalidInput) && !errors.Is(tt.err, utils.ErrMalformedHex) {
				t.Errorf("unexpected error kind %v", tt.err)
			}
		})
	}
}

func errOf(_ string, err error) error { return err }

func TestLabels(t *testing.T) {
	if got := ServiceLabel(ServiceReadDataByIdentifier); got != "Read Data By Identifier" {
		t.Errorf("ServiceLabel = %q", got)
	}
	if got := ServiceLabel(0x01); got != "0x01" {
		t.Errorf("ServiceLabel unknown = %q", got)
	}
	if got := SubfunctionLabel(ServiceSecurityAccess, 0x03); got != "Request Seed (level 2)" {
		t.Errorf("SubfunctionLabel seed = %q", got)
	}
	if got := SubfunctionLabel(ServiceSecurityAccess, 0x04); got != "Send Key (level 2)" {
		t.Errorf("SubfunctionLabel key = %q", got)
	}
	if got := SubfunctionLabel(ServiceDiagnosticSessionControl, 0x03); got != "Extended Diagnostic Session" {
		t.Errorf("SubfunctionLabel session = %q", got)
	}
	if got := DIDLabel(DIDVIN); got != "VIN" {
		t.Errorf("DIDLabel = %q", got)
	}
	if got := DIDLabel(0x1234); got != "0x1234" {
		t.Errorf("DIDLabel unknown = %q", got)
	}
}
