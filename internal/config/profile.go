package config

import (
	"net"

	"firestige.xyz/v2xtrx/internal/core"
	"firestige.xyz/v2xtrx/internal/filter"
)

// Profile builds the immutable transmit profile. It assumes
// ValidateAndApplyDefaults has succeeded.
func (cfg *GlobalConfig) Profile() core.TransmitProfile {
	tx := cfg.Transmit
	p := core.TransmitProfile{
		AID:          tx.AID,
		Channel:      tx.Channel,
		DataRate:     tx.DataRate,
		TxPower:      tx.TxPower,
		Priority:     tx.Priority,
		Source:       parseMAC(tx.Source),
		Destination:  parseMAC(tx.Destination),
		Interface:    cfg.Transport.Interface,
		PayloadLen:   tx.PayloadLen,
		Interval:     tx.Interval,
		InitialDelay: tx.InitialDelay,
		Signed:       tx.Signed,
		MTU:          tx.MTU,
	}
	if tx.Position.Enabled {
		p.Position = core.NewPosition(tx.Position.Latitude, tx.Position.Longitude, tx.Position.Elevation)
	}
	return p
}

// Interest builds the set of AIDs the receive path accepts.
func (cfg *GlobalConfig) Interest() *filter.InterestSet {
	return filter.NewInterestSet(cfg.Receive.Interest...)
}

// Filter builds the full receive filter: the interest set, narrowed to the
// configured channels when there are any.
func (cfg *GlobalConfig) Filter() filter.Filter {
	if len(cfg.Receive.Channels) == 0 {
		return cfg.Interest()
	}
	return filter.NewChain(cfg.Interest(), filter.NewChannelSet(cfg.Receive.Channels...))
}

func parseMAC(s string) net.HardwareAddr {
	if s == "" {
		return nil
	}
	mac, err := net.ParseMAC(s)
	if err != nil {
		return nil
	}
	return mac
}
