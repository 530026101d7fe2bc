package provisioning

import (
	"errors"
	"net/url"
	"regexp"
)

const matchingIDLength = 10

var activationCodeRe = regexp.MustCompile(`^LPA:1\$([^$]+)\$([0-9]+)$`)

// ErrInvalidActivationCode is returned by ParseActivationCode for malformed input.
var ErrInvalidActivationCode = errors.New("invalid activation code")

// ActivationCodeDetails are the parts of an LPA activation code.
type ActivationCodeDetails struct {
	Address    string
	MatchingID string
}

// FormatActivationCode builds LPA:1$<address>$<matchingId>, where the matching
// id is the last ten ICCID digits.
func FormatActivationCode(smdpAddress, iccid string) string {
	matching := iccid
	if len(matching) > matchingIDLength {
		matching = matching[len(matching)-matchingIDLength:]
	}
	return "LPA:1$" + smdpAddress + "$" + matching
}

func ParseActivationCode(code string) (ActivationCodeDetails, error) {
	m := activationCodeRe.FindStringSubmatch(code)
	if m == nil {
		return ActivationCodeDetails{}, ErrInvalidActivationCode
	}
	return ActivationCodeDetails{Address: m[1], MatchingID: m[2]}, nil
}

func ValidateActivationCode(code string) bool {
	_, err := ParseActivationCode(code)
	return err == nil
}

// QRCodeURL appends the escaped activation code to the QR renderer base URL.
func QRCodeURL(baseURL, code string) string {
	return baseURL + url.QueryEscape(code)
}
