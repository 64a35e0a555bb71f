// Package core defines core types.
package core

// Labels represents key-value metadata attached to reported messages.
type Labels map[string]string

// Label naming constants following {protocol}.{field} convention.
const (
	LabelAID            = "wsmp.aid"
	LabelChannel        = "wsmp.channel"
	LabelDataRate       = "wsmp.data_rate"
	LabelTxPower        = "wsmp.tx_power"
	LabelSrcMAC         = "eth.src"
	LabelContentType    = "spdu.content_type"
	LabelSignerType     = "spdu.signer_type"
	LabelGenerationTime = "spdu.generation_time" // RFC 3339 with microseconds
	LabelLatitude       = "spdu.latitude"        // degrees
	LabelLongitude      = "spdu.longitude"       // degrees
	LabelResult         = "spdu.result"
)
