// Package luhn computes and verifies Luhn (mod 10) check digits, used for ICCIDs
// and payment card numbers.
package luhn

// CheckDigit returns the Luhn check digit for digits (a string of ASCII digits
// without the check digit). ok is false if digits contains a non-digit.
func CheckDigit(digits string) (byte, bool) {
	sum := 0
	double := true
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return byte('0' + (10-sum%10)%10), true
}

// Valid reports whether number (including its trailing check digit) passes the Luhn check.
func Valid(number string) bool {
	if len(number) < 2 {
		return false
	}
	want, ok := CheckDigit(number[:len(number)-1])
	if !ok {
		return false
	}
	return number[len(number)-1] == want
}
