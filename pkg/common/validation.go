package common

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/disgoorg/snowflake/v2"
)

// UnknownRegion is reported when a voice endpoint does not look like a Discord media server
const UnknownRegion = "unknown"

var (
	snowflakeRegex = regexp.MustCompile(`^\d{17,20}$`)

	// The region is the leading letters/hyphens of a <region><digits>.discord.media:<port> endpoint
	voiceRegionRegex = regexp.MustCompile(`^([-a-z]{2,20})[-a-z\d]*\.discord\.media:\d+$`)
)

// IsSnowflake checks if the input is a well-formed Discord id
func IsSnowflake(id string) bool {
	if !snowflakeRegex.MatchString(id) {
		return false
	}
	_, err := snowflake.Parse(id)
	return err == nil
}

// IsNonEmpty checks if the input has at least one non-whitespace character
func IsNonEmpty(s string) bool {
	return strings.TrimSpace(s) != ""
}

// IsURL checks if the input is an absolute URL
func IsURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

// VoiceRegionID extracts the region id from a voice server endpoint
func VoiceRegionID(endpoint string) string {
	match := voiceRegionRegex.FindStringSubmatch(endpoint)
	if match == nil {
		return UnknownRegion
	}
	return match[1]
}
