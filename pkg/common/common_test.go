package common

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		ms       float64
		expected string
	}{
		{"zero", 0, "00:00"},
		{"negative", -5000, "00:00"},
		{"infinite", math.Inf(1), "00:00"},
		{"not a number", math.NaN(), "00:00"},
		{"sub second", 999, "00:00"},
		{"one minute", 60000, "01:00"},
		{"minutes and seconds", 754000, "12:34"},
		{"one hour", 3600000, "01:00:00"},
		{"more than a day", 90000000, "25:00:00"},
		{"hundreds of hours", 360000000 * 3, "300:00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatDuration(tt.ms))
		})
	}
}

func TestIsSnowflake(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		expected bool
	}{
		{"valid 18 digits", "123456789012345678", true},
		{"valid 17 digits", "12345678901234567", true},
		{"valid 19 digits", "1234567890123456789", true},
		{"too short", "1234567890123456", false},
		{"too long", "123456789012345678901", false},
		{"letters", "12345678901234567a", false},
		{"empty", "", false},
		{"overflows uint64", "99999999999999999999", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsSnowflake(tt.id))
		})
	}
}

func TestIsNonEmptyAndIsURL(t *testing.T) {
	assert.True(t, IsNonEmpty("query"))
	assert.False(t, IsNonEmpty("   \t"))

	assert.True(t, IsURL("https://www.youtube.com/watch?v=dQw4w9WgXcQ"))
	assert.True(t, IsURL("http://localhost:2333"))
	assert.False(t, IsURL("never gonna give you up"))
	assert.False(t, IsURL("/relative/path"))
}

func TestVoiceRegionID(t *testing.T) {
	tests := []struct {
		endpoint string
		expected string
	}{
		{"us-east123.discord.media:443", "us-east"},
		{"rotterdam4567.discord.media:443", "rotterdam"},
		{"c-ams14-3fa5.discord.media:443", "c-ams"},
		{"japan.discord.media:443", "japan"},
		{"us-east123.discord.media", UnknownRegion},
		{"example.com:443", UnknownRegion},
		{"", UnknownRegion},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.expected, VoiceRegionID(tt.endpoint))
		})
	}
}
