package models

import "time"

type QualityTier string

const (
	QualityExcellent QualityTier = "excellent"
	QualityGood      QualityTier = "good"
	QualityFair      QualityTier = "fair"
	QualityPoor      QualityTier = "poor"
)

func (q QualityTier) Valid() bool {
	switch q {
	case QualityExcellent, QualityGood, QualityFair, QualityPoor:
		return true
	}
	return false
}

type ConnectionQuality struct {
	// Latency is the round trip in milliseconds.
	Latency int `json:"latency"`
	// Bandwidth is in kbit/s.
	Bandwidth int `json:"bandwidth"`
	// PacketLoss is a percentage.
	PacketLoss  float64     `json:"packetLoss"`
	Quality     QualityTier `json:"quality"`
	LastUpdated *time.Time  `json:"lastUpdated,omitempty"`
}

type QualityPatch struct {
	Latency    *int         `json:"latency,omitempty" binding:"omitempty,min=0" validate:"omitempty,min=0"`
	Bandwidth  *int         `json:"bandwidth,omitempty" binding:"omitempty,min=0" validate:"omitempty,min=0"`
	PacketLoss *float64     `json:"packetLoss,omitempty" binding:"omitempty,min=0,max=100" validate:"omitempty,min=0,max=100"`
	Quality    *QualityTier `json:"quality,omitempty" binding:"omitempty,oneof=excellent good fair poor" validate:"omitempty,oneof=excellent good fair poor"`
}

// DeriveQuality maps latency (ms) and packet loss (%) to a tier.
func DeriveQuality(latency int, packetLoss float64) QualityTier {
	switch {
	case latency < 50 && packetLoss < 1:
		return QualityExcellent
	case latency < 150 && packetLoss < 3:
		return QualityGood
	case latency < 300 && packetLoss < 5:
		return QualityFair
	default:
		return QualityPoor
	}
}

// Apply merges the patch and re-derives the tier unless one was supplied.
func (c *ConnectionQuality) Apply(p QualityPatch, now time.Time) {
	if p.Latency != nil {
		c.Latency = *p.Latency
	}
	if p.Bandwidth != nil {
		c.Bandwidth = *p.Bandwidth
	}
	if p.PacketLoss != nil {
		c.PacketLoss = *p.PacketLoss
	}
	if p.Quality != nil {
		c.Quality = *p.Quality
	} else {
		c.Quality = DeriveQuality(c.Latency, c.PacketLoss)
	}
	c.LastUpdated = &now
}
