package message

import "regexp"

// E.164-like: optional leading +, then 8-15 digits with no leading zero.
var addressPattern = regexp.MustCompile(`^\+?[1-9][0-9]{7,14}$`)

func IsPhoneAddress(s string) bool {
	return addressPattern.MatchString(s)
}
