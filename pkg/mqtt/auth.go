package mqtt

import (
	"bytes"
	"crypto/subtle"
	"strings"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
)

// User is a broker account.
type User struct {
	Username string    `yaml:"username" json:"username"`
	Password string    `yaml:"password" json:"password"`
	ACL      []ACLRule `yaml:"acl,omitempty" json:"acl,omitempty"`
}

// ACLRule grants access to topics matching an MQTT filter.
type ACLRule struct {
	Topic  string `yaml:"topic" json:"topic"`
	Access string `yaml:"access" json:"access"` // read, write or readwrite
}

// authHook authenticates clients against a fixed user list.
type authHook struct {
	mqtt.HookBase
	users []User
}

func (h *authHook) ID() string { return "polyd-auth" }

func (h *authHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
	}, []byte{b})
}

func (h *authHook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	username := cl.Properties.Username
	for _, u := range h.users {
		userOK := subtle.ConstantTimeCompare([]byte(u.Username), username) == 1
		passOK := subtle.ConstantTimeCompare([]byte(u.Password), pk.Connect.Password) == 1
		if userOK && passOK {
			return true
		}
	}
	return false
}

func (h *authHook) OnACLCheck(cl *mqtt.Client, topic string, write bool) bool {
	if cl.Net.Inline {
		return true
	}
	username := string(cl.Properties.Username)
	for _, u := range h.users {
		if u.Username != username {
			continue
		}
		if len(u.ACL) == 0 {
			return true
		}
		// Any matching deny wins.
		matched := false
		for _, rule := range u.ACL {
			if !matchTopic(rule.Topic, topic) {
				continue
			}
			matched = true
			if !checkAccess(rule.Access, write) {
				return false
			}
		}
		return matched
	}
	return false
}

// matchTopic reports whether topic matches an MQTT filter with + and #
// wildcards.
func matchTopic(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, part := range fp {
		if part == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if part != "+" && part != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}

func checkAccess(access string, write bool) bool {
	switch strings.ToLower(access) {
	case "readwrite", "all":
		return true
	case "read", "subscribe":
		return !write
	case "write", "publish":
		return write
	default:
		return false
	}
}
