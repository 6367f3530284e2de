// Package protocol implements the slider's line-oriented text protocol:
// every request is one line, every request gets exactly one reply line.
package protocol

import (
	"strconv"
	"strings"
)

// MaxRequestLen is the longest request a datagram may carry.
const MaxRequestLen = 127

// Kind identifies a parsed request.
type Kind int

const (
	Unknown Kind = iota
	QueryMode
	SetMode
	QueryAutoDistance
	SetAutoDistance
	QueryAutoInterval
	SetAutoInterval
	QueryPos
	SetPos
	Resume
	Pause
	Home
	QueryHome
	QueryEnd
	QueryFeedrate
	SetFeedrate
)

var kindNames = map[Kind]string{
	Unknown:           "Unknown",
	QueryMode:         "QueryMode",
	SetMode:           "SetMode",
	QueryAutoDistance: "QueryAutomaticMoveDistance",
	SetAutoDistance:   "SetAutomaticMoveDistance",
	QueryAutoInterval: "QueryAutomaticMoveInterval",
	SetAutoInterval:   "SetAutomaticMoveInterval",
	QueryPos:          "QueryPos",
	SetPos:            "SetPos",
	Resume:            "Resume",
	Pause:             "Pause",
	Home:              "Home",
	QueryHome:         "QueryHome",
	QueryEnd:          "QueryEnd",
	QueryFeedrate:     "QueryFeedrate",
	SetFeedrate:       "SetFeedrate",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Command is a parsed request. Value holds the numeric payload of Set
// requests, Word the raw payload of Mode=.
type Command struct {
	Kind  Kind
	Value float64
	Word  string
}

// matchers are tried in order, first match wins. Home is a prefix match
// tested before the exact ?Home query, which is harmless since the query
// starts with '?'.
var matchers = []struct {
	text   string
	prefix bool
	kind   Kind
}{
	{"?Mode", false, QueryMode},
	{"Mode=", true, SetMode},
	{"?AutomaticMoveDistance", false, QueryAutoDistance},
	{"AutomaticMoveDistance=", true, SetAutoDistance},
	{"?AutomaticMoveInterval", false, QueryAutoInterval},
	{"AutomaticMoveInterval=", true, SetAutoInterval},
	{"?Pos", false, QueryPos},
	{"Pos=", true, SetPos},
	{"Resume", true, Resume},
	{"Start", true, Resume},
	{"Pause", true, Pause},
	{"Stop", true, Pause},
	{"Home", true, Home},
	{"?Home", false, QueryHome},
	{"?End", false, QueryEnd},
	{"?Feedrate", false, QueryFeedrate},
	{"Feedrate=", true, SetFeedrate},
}

// Parse classifies one request line. Trailing whitespace, including CR
// and LF, is ignored. Matching is case sensitive.
func Parse(line string) Command {
	line = strings.TrimRight(line, " \t\r\n")
	for _, m := range matchers {
		if m.prefix {
			if !strings.HasPrefix(line, m.text) {
				continue
			}
		} else if line != m.text {
			continue
		}

		cmd := Command{Kind: m.kind}
		payload := line[len(m.text):]
		switch m.kind {
		case SetMode:
			cmd.Word = payload
		case SetAutoDistance, SetAutoInterval, SetPos, SetFeedrate:
			cmd.Value = atof(payload)
		}
		return cmd
	}
	return Command{Kind: Unknown}
}

// atof reads the longest leading decimal number of s, after optional
// leading whitespace, and returns 0 when there is none. Values that do
// not fit a float64 also read as 0.
func atof(s string) float64 {
	s = strings.TrimLeft(s, " \t")
	end := numberPrefix(s)
	if end == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0
	}
	return v
}

// numberPrefix returns the length of the longest prefix of s of the form
// [+-]digits[.digits][(e|E)[+-]digits], with at least one mantissa digit.
func numberPrefix(s string) int {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		j := i + 1
		frac := 0
		for j < len(s) && isDigit(s[j]) {
			j++
			frac++
		}
		if digits+frac > 0 {
			i = j
			digits += frac
		}
	}
	if digits == 0 {
		return 0
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		k := j
		for k < len(s) && isDigit(s[k]) {
			k++
		}
		if k > j {
			i = k
		}
	}
	return i
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
