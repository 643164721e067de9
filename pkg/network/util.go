package network

import (
	"strconv"
	"time"
)

func timeFromUnixNano(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}

func portString(port int) string {
	return strconv.Itoa(port)
}
