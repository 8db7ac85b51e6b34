package storage

import "fmt"

// replicaName formats the canonical <project>-<service>-<ordinal> name.
func replicaName(project, service string, ordinal int) string {
	return fmt.Sprintf("%s-%s-%d", project, service, ordinal)
}

// shortID truncates a UUID for display and one-off container names.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
