package uds

import (
	"errors"
	"fmt"
	"sync"
)

// ErrSecurityRequired is returned when an operation needs a higher granted security level.
var ErrSecurityRequired = errors.New("security access required")

// Codec holds the per session state the request/response codec tracks:
// the active diagnostic session and the level the last successful
// security access exchange granted. It is distinct from seedkey.State.
type Codec struct {
	lock          sync.Mutex
	session       byte
	securityLevel int
}

// NewCodec starts in the default session with no security granted.
func NewCodec() *Codec {
	return &Codec{session: SubfunctionDefaultSession}
}

func (c *Codec) CurrentSession() byte {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.session
}

func (c *Codec) SecurityLevel() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.securityLevel
}

// ApplySession records a session change. Leaving a session drops any granted security.
func (c *Codec) ApplySession(session byte) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if session != c.session {
		c.securityLevel = 0
	}
	c.session = session
}

func (c *Codec) GrantSecurity(level int) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.securityLevel = level
}

// RequireSecurity fails with ErrSecurityRequired unless at least level has been granted.
func (c *Codec) RequireSecurity(level int) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.securityLevel < level {
		return fmt.Errorf("%w: level %d needed, %d granted", ErrSecurityRequired, level, c.securityLevel)
	}
	return nil
}

// Reset returns to the default session with no security granted.
func (c *Codec) Reset() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.session = SubfunctionDefaultSession
	c.securityLevel = 0
}

// Observe updates the state from a completed exchange. Only positive
// session control, send key and ECU reset responses change anything.
func (c *Codec) Observe(request []byte, resp *Response) {
	if resp == nil || !resp.Positive || len(request) < 2 || request[0] != resp.ServiceID {
		return
	}
	sub := request[1] &^ SubfunctionSuppressPositiveResponse
	switch resp.ServiceID {
	case ServiceDiagnosticSessionControl:
		c.ApplySession(sub)
	case ServiceSecurityAccess:
		if sub%2 == 0 && sub != 0 {
			c.GrantSecurity(int(sub) / 2)
		}
	case ServiceECUReset:
		c.Reset()
	}
}
