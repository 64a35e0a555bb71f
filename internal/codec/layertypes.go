package codec

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// EthernetTypeWSMP is the EtherType assigned to IEEE 1609.3 WSMP.
const EthernetTypeWSMP layers.EthernetType = 0x88DC

var (
	LayerTypeWSMP = gopacket.RegisterLayerType(
		1609,
		gopacket.LayerTypeMetadata{
			Name:    "WSMP",
			Decoder: gopacket.DecodeFunc(decodeWSMP),
		},
	)
	LayerClassWSMP gopacket.LayerClass = LayerTypeWSMP
)

func init() {
	// Lets gopacket.NewPacket walk Ethernet -> WSMP for debug dumps.
	layers.EthernetTypeMetadata[EthernetTypeWSMP] = layers.EnumMetadata{
		DecodeWith: gopacket.DecodeFunc(decodeWSMP),
		Name:       "WSMP",
		LayerType:  LayerTypeWSMP,
	}
}
