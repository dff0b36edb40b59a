package at

import (
	"strconv"
	"strings"
)

// ParseContextRow parses one row of the AT+CNACT? table:
//
//	+CNACT: <id>,<state>,"<address>"
//
// The address field is returned with its surrounding quotes removed. ok is
// false when the line is not a context row or any field is malformed.
func ParseContextRow(line string) (id, state int, address string, ok bool) {
	rest, found := strings.CutPrefix(line, ContextRow)
	if !found {
		return 0, 0, "", false
	}

	fields := strings.SplitN(strings.TrimSpace(rest), ",", 3)
	if len(fields) != 3 {
		return 0, 0, "", false
	}

	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, "", false
	}
	state, err = strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, "", false
	}

	return id, state, strings.Trim(fields[2], `"`), true
}
