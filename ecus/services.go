package ecus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"vehiclediag/uds"
	"vehiclediag/utils"
)

// Identification is what Identify could read from the ECU. Only the VIN is mandatory.
type Identification struct {
	VIN            string
	HardwareNumber string
	SoftwareNumber string
	PartNumber     string
	Supplier       string
}

func (i *Identification) String() string {
	return fmt.Sprintf("VIN: %s Part: %s HW: %s SW: %s Supplier: %s", i.VIN, i.PartNumber, i.HardwareNumber, i.SoftwareNumber, i.Supplier)
}

// exchangeHex sends a builder's request and turns a negative response into an error.
func (c *Client) exchangeHex(ctx context.Context, requestHex string) (*uds.Response, error) {
	resp, err := c.ExchangeHex(ctx, requestHex)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

// StartSession switches the diagnostic session. Security granted in the previous session is dropped.
func (c *Client) StartSession(ctx context.Context, session byte) error {
	if _, err := c.exchangeHex(ctx, uds.DiagnosticSessionControl(session)); err != nil {
		return fmt.Errorf("start %s: %w", uds.SubfunctionLabel(uds.ServiceDiagnosticSessionControl, session), err)
	}
	c.log.Infof("entered %s", uds.SubfunctionLabel(uds.ServiceDiagnosticSessionControl, session))
	return nil
}

func (c *Client) ECUReset(ctx context.Context, resetType byte) error {
	if _, err := c.exchangeHex(ctx, uds.ECUReset(resetType)); err != nil {
		return fmt.Errorf("ecu reset: %w", err)
	}
	c.log.Infof("ecu reset: %s", uds.SubfunctionLabel(uds.ServiceECUReset, resetType))
	return nil
}

// ReadDataByIdentifier returns the value of did without the echoed identifier.
func (c *Client) ReadDataByIdentifier(ctx context.Context, did uint16) ([]byte, error) {
	resp, err := c.exchangeHex(ctx, uds.ReadDataByIdentifier(did))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", uds.DIDLabel(did), err)
	}
	if err := checkEcho(resp.Data, did); err != nil {
		return nil, err
	}
	return resp.Data[2:], nil
}

func (c *Client) ReadVIN(ctx context.Context) (string, error) {
	data, err := c.ReadDataByIdentifier(ctx, uds.DIDVIN)
	if err != nil {
		return "", err
	}
	return asciiField(data), nil
}

// Identify reads the identification DIDs. Optional ones the ECU rejects are left empty.
func (c *Client) Identify(ctx context.Context) (*Identification, error) {
	vin, err := c.ReadVIN(ctx)
	if err != nil {
		return nil, err
	}
	id := &Identification{VIN: vin}
	optional := []struct {
		did   uint16
		field *string
	}{
		{uds.DIDECUHardwareNumber, &id.HardwareNumber},
		{uds.DIDECUSoftwareNumber, &id.SoftwareNumber},
		{uds.DIDSparePartNumber, &id.PartNumber},
		{uds.DIDSystemSupplier, &id.Supplier},
	}
	for _, o := range optional {
		data, err := c.ReadDataByIdentifier(ctx, o.did)
		var negative *uds.NegativeResponseError
		if errors.As(err, &negative) {
			c.log.Debugf("%s not available: %s", uds.DIDLabel(o.did), negative.Description)
			continue
		}
		if err != nil {
			return nil, err
		}
		*o.field = asciiField(data)
	}
	return id, nil
}

// WriteDataByIdentifier writes data and reads it back. It needs safe mode off
// and the configured security level granted.
func (c *Client) WriteDataByIdentifier(ctx context.Context, did uint16, data []byte) error {
	if err := c.checkWrite(fmt.Sprintf("write %s", uds.DIDLabel(did))); err != nil {
		return err
	}
	resp, err := c.exchangeHex(ctx, uds.WriteDataByIdentifier(did, data))
	if err != nil {
		return fmt.Errorf("write %s: %w", uds.DIDLabel(did), err)
	}
	if err := checkEcho(resp.Data, did); err != nil {
		return err
	}

	readBack, err := c.ReadDataByIdentifier(ctx, did)
	if err != nil {
		return fmt.Errorf("verify %s: %w", uds.DIDLabel(did), err)
	}
	if !bytes.Equal(readBack, data) {
		return fmt.Errorf("%w: %s wrote %s, read %s", ErrVerifyMismatch, uds.DIDLabel(did), utils.BytesToHexString(data), utils.BytesToHexString(readBack))
	}
	c.log.Infof("wrote %s: %s", uds.DIDLabel(did), utils.BytesToHexString(data))
	return nil
}

func (c *Client) ReadMemory(ctx context.Context, address, size uint64) ([]byte, error) {
	request, err := uds.ReadMemoryByAddress(address, size, uds.DefaultAddressLength, uds.DefaultSizeLength)
	if err != nil {
		return nil, err
	}
	resp, err := c.exchangeHex(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("read memory at 0x%X: %w", address, err)
	}
	return resp.Data, nil
}

// WriteMemory has the same gates as WriteDataByIdentifier but no read back.
func (c *Client) WriteMemory(ctx context.Context, address uint64, data []byte) error {
	if err := c.checkWrite(fmt.Sprintf("write memory at 0x%X", address)); err != nil {
		return err
	}
	request, err := uds.WriteMemoryByAddress(address, data, uds.DefaultAddressLength)
	if err != nil {
		return err
	}
	if _, err := c.exchangeHex(ctx, request); err != nil {
		return fmt.Errorf("write memory at 0x%X: %w", address, err)
	}
	return nil
}

// ReadDTCs reports the stored codes matching statusMask.
func (c *Client) ReadDTCs(ctx context.Context, statusMask byte) ([]uds.DTC, error) {
	resp, err := c.exchangeHex(ctx, uds.ReadDTC(uds.ReportDTCByStatusMask, statusMask))
	if err != nil {
		return nil, fmt.Errorf("read dtcs: %w", err)
	}
	dtcs, err := uds.ParseDTCs(resp.Data)
	if err != nil {
		return nil, err
	}
	c.log.Debugf("read %d dtc(s)", len(dtcs))
	return dtcs, nil
}

func (c *Client) ClearDTCs(ctx context.Context) error {
	request, err := uds.ClearDTC(uds.AllDTCGroups)
	if err != nil {
		return err
	}
	if _, err := c.exchangeHex(ctx, request); err != nil {
		return fmt.Errorf("clear dtcs: %w", err)
	}
	c.log.Info("cleared dtcs")
	return nil
}

// checkWrite gates every operation that changes ECU state.
func (c *Client) checkWrite(what string) error {
	if c.cfg.SafeMode {
		return fmt.Errorf("%w: %s", ErrSafeMode, what)
	}
	if err := c.codec.RequireSecurity(c.cfg.SecurityLevel); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

func checkEcho(data []byte, did uint16) error {
	if len(data) < 2 || uint16(data[0])<<8|uint16(data[1]) != did {
		return fmt.Errorf("%w: response %s does not echo %s", ErrUnexpectedResponse, utils.BytesToHexString(data), uds.DIDLabel(did))
	}
	return nil
}

func asciiField(data []byte) string {
	return strings.TrimRight(string(data), "\x00 ")
}
