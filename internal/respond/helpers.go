package respond

import (
	"encoding/json"
	"strings"
)

func jsonValid(s string) bool {
	return json.Valid([]byte(s))
}

func trimTrailingSpace(s string) string {
	return strings.TrimRight(s, " \t\n\r")
}
