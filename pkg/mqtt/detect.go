package mqtt

// Detect reports whether initial starts with an MQTT CONNECT packet:
// packet type 1, a variable-length remaining length and the protocol
// name "MQTT" (3.1.1 and 5) or "MQIsdp" (3.1).
func Detect(initial []byte) bool {
	if len(initial) < 2 || initial[0] != 0x10 {
		return false
	}
	i := 1
	for initial[i]&0x80 != 0 {
		i++
		if i > 4 || i >= len(initial) {
			return false
		}
	}
	rest := initial[i+1:]
	return protocolName(rest, "MQTT") || protocolName(rest, "MQIsdp")
}

func protocolName(b []byte, name string) bool {
	n := len(name)
	return len(b) >= 2+n && b[0] == 0 && int(b[1]) == n && string(b[2:2+n]) == name
}
