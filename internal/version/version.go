package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Name is the component name reported in telemetry resources and the CLI.
const Name = "ongoingai-collector"

func String() string {
	return fmt.Sprintf("%s %s (%s, %s)", Name, Version, Commit, Date)
}
