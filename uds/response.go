package uds

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"vehiclediag/utils"
)

// NegativeResponseError is the error form of a 0x7F response.
type NegativeResponseError struct {
	ServiceID   byte
	NRC         byte
	Description string
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("negative response to %s (0x%02X): %s (0x%02X)", ServiceLabel(e.ServiceID), e.ServiceID, e.Description, e.NRC)
}

// IsNRC reports whether err carries a negative response with the given code.
func IsNRC(err error, nrc byte) bool {
	var negative *NegativeResponseError
	return errors.As(err, &negative) && negative.NRC == nrc
}

// Response is a parsed UDS response. For negative responses ServiceID is the
// rejected service and Data holds any bytes after the NRC.
type Response struct {
	ServiceID   byte
	Positive    bool
	NRC         byte
	Description string
	Data        []byte
}

// ParseResponse parses a response in canonical hex form.
func ParseResponse(hex string) (*Response, error) {
	raw, err := utils.HexStringToBytes(hex)
	if err != nil {
		return nil, err
	}
	return ParseResponseBytes(raw)
}

// ParseResponseBytes classifies raw as negative iff its first byte is 0x7F.
func ParseResponseBytes(raw []byte) (*Response, error) {
	if len(raw) == 0 {
		return nil, utils.ErrEmptyResponse
	}

	if raw[0] == NegativeResponseByte {
		if len(raw) < 3 {
			return nil, fmt.Errorf("%w: negative response of %d bytes", utils.ErrInvalidInput, len(raw))
		}
		return &Response{
			ServiceID:   raw[1],
			NRC:         raw[2],
			Description: NRCDescription(raw[2]),
			Data:        append([]byte(nil), raw[3:]...),
		}, nil
	}

	if raw[0] < PositiveResponseServiceIdOffset {
		return nil, fmt.Errorf("%w: 0x%02X is not a response service id", utils.ErrInvalidInput, raw[0])
	}
	return &Response{
		ServiceID: raw[0] - PositiveResponseServiceIdOffset,
		Positive:  true,
		Data:      append([]byte(nil), raw[1:]...),
	}, nil
}

// Err returns the NegativeResponseError for a negative response, nil otherwise.
func (r *Response) Err() error {
	if r.Positive {
		return nil
	}
	return &NegativeResponseError{ServiceID: r.ServiceID, NRC: r.NRC, Description: r.Description}
}

// ResponsePending reports whether the ECU asked for more time.
func (r *Response) ResponsePending() bool {
	return !r.Positive && r.NRC == NRCRequestCorrectlyReceivedResponsePending
}

// DataHex returns Data in canonical hex form
func (r *Response) DataHex() string {
	return utils.BytesToHexString(r.Data)
}

// ASCIIRepresentation returns the alphanumeric ASCII string representation of the response data.
func (r *Response) ASCIIRepresentation() string {
	var sb strings.Builder
	for _, b := range r.Data {
		char := rune(b)
		if char < unicode.MaxASCII && (unicode.IsLetter(char) || unicode.IsDigit(char)) { // Only keep alphanumeric characters
			sb.WriteRune(char)
		}
	}
	return sb.String()
}

func (r *Response) String() string {
	if r.Positive {
		return fmt.Sprintf("(+) Service: %s Data: %s ASCII: %s", ServiceLabel(r.ServiceID), r.DataHex(), r.ASCIIRepresentation())
	}
	return fmt.Sprintf("(-) Service: %s NRC: %s (0x%02X)", ServiceLabel(r.ServiceID), r.Description, r.NRC)
}
