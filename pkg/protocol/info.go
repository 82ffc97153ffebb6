package protocol

import "encoding/json"

type Version struct {
	Semver     string  `json:"semver"`
	Major      int     `json:"major"`
	Minor      int     `json:"minor"`
	Patch      int     `json:"patch"`
	PreRelease *string `json:"preRelease"`
	Build      *string `json:"build"`
}

type Git struct {
	Branch     string `json:"branch"`
	Commit     string `json:"commit"`
	CommitTime int64  `json:"commitTime"`
}

type Plugin struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Info describes the capabilities of a node
type Info struct {
	Version        Version  `json:"version"`
	BuildTime      int64    `json:"buildTime"`
	Git            Git      `json:"git"`
	JVM            string   `json:"jvm"`
	Lavaplayer     string   `json:"lavaplayer"`
	SourceManagers []string `json:"sourceManagers"`
	Filters        []string `json:"filters"`
	Plugins        []Plugin `json:"plugins"`
}

// RoutePlannerStatus is the route planner report, both fields are null when no planner is configured
type RoutePlannerStatus struct {
	Class   *string         `json:"class"`
	Details json.RawMessage `json:"details"`
}
