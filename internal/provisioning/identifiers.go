// Package provisioning builds eSIM identifiers and activation codes.
package provisioning

import (
	"crypto/rand"
	"errors"
	"io"
	"math/big"

	"esim-gateway/internal/platform/luhn"
)

const (
	ICCIDLength = 19
	IMSILength  = 15
)

// Generator produces ICCID and IMSI values from an issuer prefix and a
// MCC+MNC prefix. Rand defaults to crypto/rand.
type Generator struct {
	ICCIDPrefix string
	IMSIPrefix  string
	Rand        io.Reader
}

var errPrefixTooLong = errors.New("provisioning: identifier prefix too long")

// NewGenerator returns a Generator using crypto/rand.
func NewGenerator(iccidPrefix, imsiPrefix string) *Generator {
	return &Generator{ICCIDPrefix: iccidPrefix, IMSIPrefix: imsiPrefix, Rand: rand.Reader}
}

// ICCID returns prefix + random digits + a Luhn check digit, 19 digits total.
func (g *Generator) ICCID() (string, error) {
	n := ICCIDLength - 1 - len(g.ICCIDPrefix)
	if n < 1 {
		return "", errPrefixTooLong
	}
	body, err := g.digits(n)
	if err != nil {
		return "", err
	}
	payload := g.ICCIDPrefix + body
	check, ok := luhn.CheckDigit(payload)
	if !ok {
		return "", errors.New("provisioning: iccid prefix is not numeric")
	}
	return payload + string(check), nil
}

// IMSI returns MCC+MNC followed by random digits, 15 digits total.
func (g *Generator) IMSI() (string, error) {
	n := IMSILength - len(g.IMSIPrefix)
	if n < 1 {
		return "", errPrefixTooLong
	}
	body, err := g.digits(n)
	if err != nil {
		return "", err
	}
	return g.IMSIPrefix + body, nil
}

func (g *Generator) digits(n int) (string, error) {
	r := g.Rand
	if r == nil {
		r = rand.Reader
	}
	ten := big.NewInt(10)
	buf := make([]byte, n)
	for i := range buf {
		d, err := rand.Int(r, ten)
		if err != nil {
			return "", err
		}
		buf[i] = byte('0' + d.Int64())
	}
	return string(buf), nil
}
