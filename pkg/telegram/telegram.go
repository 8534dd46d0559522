// Package telegram implements the line-oriented wire protocol spoken between
// the rig and the airlock controller.
//
// A telegram is one line of the form
//
//	<KEY1:V1,KEY2:V2,...>
//
// where each value is "0" or "1". The codec is stateless; framing to and
// from the transport (newline delimiting) is the link layer's job.
package telegram

import "strings"

// Outbound sensor keys, emitted in this order.
const (
	KeyPresenceFront  = "PRESENCE_FRONT"
	KeyPresenceMiddle = "PRESENCE_MIDDLE"
	KeyPresenceBack   = "PRESENCE_BACK"
	KeyGateSafetyA    = "GATE_SAFETY_A"
	KeyGateSafetyB    = "GATE_SAFETY_B"
	KeyGateMovingA    = "GATE_MOVING_A"
	KeyGateMovingB    = "GATE_MOVING_B"
)

// Inbound keys recognized by the rig. Anything else is accepted
// syntactically and ignored.
const (
	KeyGateRequestA = "GATE_REQUEST_A"
	KeyGateRequestB = "GATE_REQUEST_B"
)

// Sensors is the boolean payload of an outbound telegram.
type Sensors struct {
	PresenceFront  bool
	PresenceMiddle bool
	PresenceBack   bool
	GateSafetyA    bool
	GateSafetyB    bool
	GateMovingA    bool
	GateMovingB    bool
}

// Pair is one key/value segment of a telegram body.
type Pair struct {
	Key   string
	Value string
}

func bit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Encode renders an outbound telegram. Key order is fixed so output is
// byte-for-byte deterministic for a given sensor set.
func Encode(s Sensors) string {
	var sb strings.Builder
	sb.Grow(128)
	sb.WriteByte('<')
	pairs := []Pair{
		{KeyPresenceFront, bit(s.PresenceFront)},
		{KeyPresenceMiddle, bit(s.PresenceMiddle)},
		{KeyPresenceBack, bit(s.PresenceBack)},
		{KeyGateSafetyA, bit(s.GateSafetyA)},
		{KeyGateSafetyB, bit(s.GateSafetyB)},
		{KeyGateMovingA, bit(s.GateMovingA)},
		{KeyGateMovingB, bit(s.GateMovingB)},
	}
	for i, p := range pairs {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(p.Key)
		sb.WriteByte(':')
		sb.WriteString(p.Value)
	}
	sb.WriteByte('>')
	return sb.String()
}

// DecodeRaw splits a telegram line into its key/value pairs. It returns
// ok=false when the outer delimiters are missing; inside the frame it never
// fails: segments without a colon are skipped, everything else is passed
// through untouched. Duplicate keys are preserved in order (last-write-wins
// is the consumer's concern).
func DecodeRaw(line string) ([]Pair, bool) {
	line = strings.TrimSpace(line)
	if len(line) < 2 || line[0] != '<' || line[len(line)-1] != '>' {
		return nil, false
	}
	body := line[1 : len(line)-1]
	if body == "" {
		return nil, true
	}

	var pairs []Pair
	for _, seg := range strings.Split(body, ",") {
		key, value, found := strings.Cut(seg, ":")
		if !found {
			continue
		}
		pairs = append(pairs, Pair{Key: key, Value: value})
	}
	return pairs, true
}

// GateRequests holds the controller requests recognized in one inbound
// telegram. HasA/HasB report whether the corresponding key was present at
// all; A/B are the decoded desired-open values.
type GateRequests struct {
	A, B       bool
	HasA, HasB bool
}

// Empty reports whether no recognized key was present.
func (r GateRequests) Empty() bool { return !r.HasA && !r.HasB }

// Decode extracts the recognized gate requests from an inbound line. The
// value "1" means the desired end state is Open; any other value means
// Sealed. Malformed lines yield ok=false; well-formed lines with no
// recognized keys yield ok=true and an empty result.
func Decode(line string) (GateRequests, bool) {
	pairs, ok := DecodeRaw(line)
	if !ok {
		return GateRequests{}, false
	}

	var req GateRequests
	for _, p := range pairs {
		switch p.Key {
		case KeyGateRequestA:
			req.A = p.Value == "1"
			req.HasA = true
		case KeyGateRequestB:
			req.B = p.Value == "1"
			req.HasB = true
		}
	}
	return req, true
}

// Frame wraps a raw operator command in telegram delimiters if they are not
// already present. Used by the raw command passthrough.
func Frame(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if !strings.HasPrefix(cmd, "<") {
		cmd = "<" + cmd
	}
	if !strings.HasSuffix(cmd, ">") {
		cmd = cmd + ">"
	}
	return cmd
}
