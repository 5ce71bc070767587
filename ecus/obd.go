package ecus

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"vehiclediag/obd"
	"vehiclediag/uds"
	"vehiclediag/utils"
)

// obdData checks the echoed PID (and frame for mode 02) and returns the value bytes.
func (c *Client) obdData(ctx context.Context, requestHex string, echo ...byte) ([]byte, error) {
	resp, err := c.exchangeHex(ctx, requestHex)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(resp.Data, echo) {
		return nil, fmt.Errorf("%w: response %s does not echo %s", ErrUnexpectedResponse, utils.BytesToHexString(resp.Data), utils.BytesToHexString(echo))
	}
	return resp.Data[len(echo):], nil
}

// ReadSupportedPIDs returns the mode 01 PIDs 0x01-0x20 the ECU implements.
func (c *Client) ReadSupportedPIDs(ctx context.Context) ([]obd.PID, error) {
	data, err := c.obdData(ctx, obd.CurrentData(obd.PIDSupported), byte(obd.PIDSupported))
	if err != nil {
		return nil, fmt.Errorf("read supported pids: %w", err)
	}
	return obd.ParseSupported(data)
}

// ReadPID reads one live value.
func (c *Client) ReadPID(ctx context.Context, pid obd.PID) (obd.Reading, error) {
	data, err := c.obdData(ctx, obd.CurrentData(pid), byte(pid))
	if err != nil {
		return obd.Reading{}, fmt.Errorf("read %s: %w", pid, err)
	}
	value, err := obd.Decode(pid, data)
	if err != nil {
		return obd.Reading{}, err
	}
	return obd.Reading{PID: pid, Value: value}, nil
}

// ReadLiveData reads obd.LivePIDs. PIDs the ECU rejects are left out.
func (c *Client) ReadLiveData(ctx context.Context) ([]obd.Reading, error) {
	var readings []obd.Reading
	for _, pid := range obd.LivePIDs {
		r, err := c.ReadPID(ctx, pid)
		if isNegative(err) {
			c.log.Debugf("skipping %s: %v", pid, err)
			continue
		}
		if err != nil {
			return readings, err
		}
		readings = append(readings, r)
	}
	return readings, nil
}

// ReadFreezeFrame reads the code that stored frame and the live PIDs it captured.
func (c *Client) ReadFreezeFrame(ctx context.Context, frame byte) (*obd.Snapshot, error) {
	data, err := c.obdData(ctx, obd.FreezeFrame(obd.PIDFreezeFrameDTC, frame), byte(obd.PIDFreezeFrameDTC), frame)
	if err != nil {
		return nil, fmt.Errorf("read freeze frame %d: %w", frame, err)
	}
	code, err := obd.ParseFreezeFrameDTC(data)
	if err != nil {
		return nil, err
	}

	snapshot := &obd.Snapshot{Frame: frame, DTC: code}
	for _, pid := range obd.LivePIDs {
		data, err := c.obdData(ctx, obd.FreezeFrame(pid, frame), byte(pid), frame)
		if isNegative(err) {
			continue
		}
		if err != nil {
			return snapshot, fmt.Errorf("read freeze frame %s: %w", pid, err)
		}
		value, err := obd.Decode(pid, data)
		if err != nil {
			return snapshot, err
		}
		snapshot.Readings = append(snapshot.Readings, obd.Reading{PID: pid, Value: value})
	}
	return snapshot, nil
}

func isNegative(err error) bool {
	var negative *uds.NegativeResponseError
	return errors.As(err, &negative)
}
