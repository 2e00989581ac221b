// Package relay is a small chat relay built on the socket layer: who-am-i,
// broadcast, direct messages and remote abort. Replies travel on a code the
// client never registers, so they reach it through the text fallback.
package relay

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	CodeWhoAmI    uint64 = 1
	CodeBroadcast uint64 = 2
	CodeDirect    uint64 = 3
	CodeAbort     uint64 = 4
	CodeNotice    uint64 = 10
)

var ErrBadDirect = errors.New("relay: direct payload must be <tid>:<message>")

func whoAmIText(tid int) string {
	return fmt.Sprintf("you sent a message, you are C%d", tid)
}

func broadcastText(from int, msg string) string {
	return fmt.Sprintf("C%d sends bc message `%s`", from, msg)
}

func directText(from, to int, msg string) string {
	return fmt.Sprintf("C%d sends single message `%s` to C%d", from, msg, to)
}

// EncodeDirect builds the payload of a direct message.
func EncodeDirect(to int, msg string) string {
	return strconv.Itoa(to) + ":" + msg
}

func DecodeDirect(payload string) (to int, msg string, err error) {
	head, msg, ok := strings.Cut(payload, ":")
	if !ok {
		return 0, "", fmt.Errorf("%w: %q", ErrBadDirect, payload)
	}
	to, err = strconv.Atoi(strings.TrimSpace(head))
	if err != nil || to < 0 {
		return 0, "", fmt.Errorf("%w: %q", ErrBadDirect, payload)
	}
	return to, msg, nil
}

// parseWhoAmI extracts the tid from a who-am-i reply.
func parseWhoAmI(text string) (int, bool) {
	const marker = "you are C"
	i := strings.LastIndex(text, marker)
	if i < 0 {
		return 0, false
	}
	tid, err := strconv.Atoi(text[i+len(marker):])
	if err != nil {
		return 0, false
	}
	return tid, true
}
