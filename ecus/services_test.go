package ecus

import (
	"context"
	"errors"
	"testing"

	"vehiclediag/uds"
	"vehiclediag/utils"
)

func ascii(s string) string {
	return utils.BytesToHexString([]byte(s))
}

func TestIdentify(t *testing.T) {
	c, _ := newTestClient(script(map[string][]string{
		"22F190": {vinReply()},
		"22F191": {"62F191" + ascii("HW 0042")},
		"22F188": {"7F2231"},
		"22F187": {"62F187" + ascii("03L906018") + "0000"},
		"22F18A": {"7F2231"},
	}))

	id, err := c.Identify(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := Identification{VIN: testVIN, HardwareNumber: "HW 0042", PartNumber: "03L906018"}
	if *id != want {
		t.Errorf("got %+v, want %+v", *id, want)
	}
}

func TestIdentifyNeedsVIN(t *testing.T) {
	c, _ := newTestClient(script(map[string][]string{"22F190": {"7F2231"}}))
	if _, err := c.Identify(context.Background()); !uds.IsNRC(err, uds.NRCRequestOutOfRange) {
		t.Errorf("expected request out of range, got %v", err)
	}
}

func TestReadDataByIdentifierEcho(t *testing.T) {
	c, _ := newTestClient(script(map[string][]string{"22F190": {"62F191AA"}}))
	if _, err := c.ReadDataByIdentifier(context.Background(), uds.DIDVIN); !errors.Is(err, ErrUnexpectedResponse) {
		t.Errorf("expected ErrUnexpectedResponse, got %v", err)
	}
}

func TestWriteDataByIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		safeMode bool
		granted  int
		readBack string
		want     error
		sent     int
	}{
		{name: "safe mode", safeMode: true, granted: 1, want: ErrSafeMode},
		{name: "no security", want: uds.ErrSecurityRequired},
		{name: "verified", granted: 1, readBack: "62F1981234", sent: 2},
		{name: "mismatch", granted: 1, readBack: "62F1980000", want: ErrVerifyMismatch, sent: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := newFakeChannel(script(map[string][]string{
				"2EF1981234": {"6EF198"},
				"22F198":     {tt.readBack},
			}))
			cfg := testConfig()
			cfg.SafeMode = tt.safeMode
			c := New(ch, nil, nil, cfg, nil)
			if tt.granted > 0 {
				c.Codec().GrantSecurity(tt.granted)
			}

			err := c.WriteDataByIdentifier(context.Background(), uds.DIDRepairShopCode, []byte{0x12, 0x34})
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if n := len(ch.sent()); n != tt.sent {
				t.Errorf("sent %d requests, want %d", n, tt.sent)
			}
		})
	}
}

func TestReadMemory(t *testing.T) {
	c, _ := newTestClient(script(map[string][]string{"23320010000004": {"63DEADBEEF"}}))
	data, err := c.ReadMemory(context.Background(), 0x1000, 4)
	if err != nil {
		t.Fatal(err)
	}
	if utils.BytesToHexString(data) != "DEADBEEF" {
		t.Errorf("data %X", data)
	}

	if _, err := c.ReadMemory(context.Background(), 0x1000000, 4); !errors.Is(err, utils.ErrInvalidInput) {
		t.Errorf("wide address: %v", err)
	}
}

func TestWriteMemory(t *testing.T) {
	c, ch := newTestClient(script(map[string][]string{"3D32001000AABB": {"7D32001000"}}))

	if err := c.WriteMemory(context.Background(), 0x1000, []byte{0xAA, 0xBB}); !errors.Is(err, uds.ErrSecurityRequired) {
		t.Fatalf("expected ErrSecurityRequired, got %v", err)
	}
	c.Codec().GrantSecurity(1)
	if err := c.WriteMemory(context.Background(), 0x1000, []byte{0xAA, 0xBB}); err != nil {
		t.Fatal(err)
	}
	if sent := ch.sent(); len(sent) != 1 || sent[0] != "3D32001000AABB" {
		t.Errorf("sent %v", sent)
	}
}

func TestReadDTCs(t *testing.T) {
	c, _ := newTestClient(script(map[string][]string{
		"1902FF": {"5902FF0301002F4234000000000000"},
	}))
	dtcs, err := c.ReadDTCs(context.Background(), uds.DefaultDTCStatusMask)
	if err != nil {
		t.Fatal(err)
	}
	if len(dtcs) != 2 {
		t.Fatalf("got %d dtcs", len(dtcs))
	}
	if dtcs[0].Code != "P0301" || dtcs[0].Status != 0x2F {
		t.Errorf("first dtc %+v", dtcs[0])
	}
	if dtcs[1].Code != "C0234" {
		t.Errorf("second dtc %+v", dtcs[1])
	}
}

func TestClearDTCs(t *testing.T) {
	c, ch := newTestClient(script(map[string][]string{"14FFFFFF": {"54"}}))
	if err := c.ClearDTCs(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sent := ch.sent(); len(sent) != 1 {
		t.Errorf("sent %v", sent)
	}

	c, _ = newTestClient(script(map[string][]string{"14FFFFFF": {"7F1422"}}))
	if err := c.ClearDTCs(context.Background()); !uds.IsNRC(err, uds.NRCConditionsNotCorrect) {
		t.Errorf("expected conditions not correct, got %v", err)
	}
}

func TestECUReset(t *testing.T) {
	c, _ := newTestClient(script(map[string][]string{"1101": {"5101"}}))
	c.Codec().ApplySession(uds.SubfunctionExtendedDiagnosticSession)
	c.Codec().GrantSecurity(1)

	if err := c.ECUReset(context.Background(), uds.SubfunctionHardReset); err != nil {
		t.Fatal(err)
	}
	if c.Codec().CurrentSession() != uds.SubfunctionDefaultSession || c.Codec().SecurityLevel() != 0 {
		t.Error("reset did not return to the default session")
	}
}
