package connector

import (
	"strings"

	"github.com/jobrover/jobrover/internal/canonical"
	"github.com/jobrover/jobrover/internal/scan"
)

// canonicalize fills the derived fields every connector must set
// before returning a job: identity key, last-seen stamp and enum
// defaults.
func canonicalize(job scan.CanonicalJob, clock scan.Clock) scan.CanonicalJob {
	job.Title = strings.TrimSpace(job.Title)
	job.Company = strings.TrimSpace(job.Company)
	job.Location = strings.TrimSpace(job.Location)
	if job.Remote == "" {
		job.Remote = remoteFromLocation(job.Location)
	}
	if job.State == "" {
		job.State = scan.JobOpen
	}
	job.LastSeenAt = clock.Now()
	job.DedupeKey = canonical.DedupeKey(job)
	return job
}

// remoteFromLocation is a coarse fallback used when the source does not
// state a work arrangement explicitly.
func remoteFromLocation(location string) scan.RemoteType {
	lower := strings.ToLower(location)
	switch {
	case strings.Contains(lower, "remote"):
		return scan.RemoteFully
	case strings.Contains(lower, "hybrid"):
		return scan.RemoteHybrid
	case lower == "":
		return scan.RemoteUnset
	default:
		return scan.RemoteOnsite
	}
}
