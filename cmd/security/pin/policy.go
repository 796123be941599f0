package pin

// Validate checks that pin is an ASCII digit string within the policy length.
// It does not trim or otherwise mutate input: " 1234" is rejected.
func (c Config) Validate(pin string) error {
	lo, hi := c.Policy.MinDigits, c.Policy.MaxDigits
	if lo < minDigits {
		lo = minDigits
	}
	if hi <= 0 || hi > maxDigits {
		hi = maxDigits
	}

	if len(pin) < lo || len(pin) > hi {
		return ErrInvalidFormat
	}
	if !allDigits(pin) {
		return ErrInvalidFormat
	}
	return nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
