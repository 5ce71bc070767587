package ecus

import (
	"context"
	"fmt"

	"vehiclediag/seedkey"
	"vehiclediag/uds"
	"vehiclediag/utils"
)

// Unlock runs the seed/key exchange for level with the key algorithm of the
// configured vehicle. Every key sent is recorded as an attempt, including one
// that timed out; three failures lock the client out.
func (c *Client) Unlock(ctx context.Context, level int) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if until, locked := c.security.LockedUntil(); locked {
		return fmt.Errorf("%w: until %s", seedkey.ErrLockedOut, until.Format("15:04:05.000"))
	}

	seedRequest, err := uds.SecurityAccessRequestSeed(level)
	if err != nil {
		return err
	}
	resp, err := c.exchangeLocked(ctx, utils.MustHexStringToBytes(seedRequest))
	if err != nil {
		return fmt.Errorf("request seed: %w", err)
	}
	if err := resp.Err(); err != nil {
		return fmt.Errorf("request seed: %w", err)
	}
	if len(resp.Data) < 2 || int(resp.Data[0]) != 2*level-1 {
		return fmt.Errorf("%w: seed response %s", ErrUnexpectedResponse, resp.DataHex())
	}
	seed := resp.Data[1:]

	if isZero(seed) {
		// The ECU already granted this level
		c.codec.GrantSecurity(level)
		c.security.RecordAttempt(true)
		c.log.Infof("security level %d already unlocked", level)
		return nil
	}

	key, err := c.security.CalculateKey(utils.BytesToHexString(seed), c.cfg.Vehicle, level)
	if err != nil {
		return err
	}
	keyRequest, err := uds.SecurityAccessSendKey(level, key)
	if err != nil {
		return err
	}
	resp, err = c.exchangeLocked(ctx, utils.MustHexStringToBytes(keyRequest))
	if err == nil {
		err = resp.Err()
	}
	c.security.RecordAttempt(err == nil)
	if err != nil {
		if c.security.LockedOut() {
			c.log.Warnf("security access locked out after %d failed attempts", seedkey.MaxAttempts)
		} else {
			c.log.Warnf("security access level %d rejected: %v", level, err)
		}
		return fmt.Errorf("send key: %w", err)
	}

	c.log.Infof("security access level %d granted", level)
	return nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
