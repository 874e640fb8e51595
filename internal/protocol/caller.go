package protocol

// Caller identifies the connection a payload came from. Handlers receive it
// separately from the domain payload.
type Caller struct {
	ID       string
	Metadata map[string]any
	IP       string
}

// SplitCaller separates the protocol-only fields of a decorated payload from
// the domain payload. raw is not modified; missing or mistyped protocol fields
// yield zero values.
func SplitCaller(raw map[string]any) (Caller, map[string]any) {
	var caller Caller
	clean := make(map[string]any, len(raw))
	for k, v := range raw {
		switch k {
		case FieldClientID:
			caller.ID, _ = v.(string)
		case FieldMetadata:
			caller.Metadata, _ = v.(map[string]any)
		case FieldIP:
			caller.IP, _ = v.(string)
		case FieldReplyID:
		default:
			clean[k] = v
		}
	}
	return caller, clean
}
